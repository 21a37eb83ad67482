package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"newsmesh/internal/model"
)

// ChromaConfig holds connection settings for the Chroma REST API. TTL bounds
// how long stored chunks stay searchable; zero keeps them forever.
type ChromaConfig struct {
	Host           string
	Port           int
	CollectionName string
	TTL            time.Duration
}

// Chroma wraps the Chroma v2 REST API as a VectorStore. Embeddings are always
// supplied client-side; Chroma never embeds on our behalf.
type Chroma struct {
	baseURL      string
	tenant       string
	database     string
	collectionID string
	ttl          time.Duration
	httpClient   *http.Client
	log          zerolog.Logger
}

var _ VectorStore = (*Chroma)(nil)

// queryResults mirrors Chroma's nested query response.
type queryResults struct {
	IDs       [][]string                 `json:"ids"`
	Distances [][]float32                `json:"distances"`
	Metadatas [][]map[string]interface{} `json:"metadatas"`
	Documents [][]string                 `json:"documents"`
}

// getResults mirrors Chroma's flat get response.
type getResults struct {
	IDs        []string                 `json:"ids"`
	Metadatas  []map[string]interface{} `json:"metadatas"`
	Documents  []string                 `json:"documents"`
	Embeddings [][]float32              `json:"embeddings"`
}

// NewChroma connects to Chroma and gets or creates the collection.
func NewChroma(cfg ChromaConfig, logger zerolog.Logger) (*Chroma, error) {
	c := &Chroma{
		baseURL:    fmt.Sprintf("http://%s:%d/api/v2", cfg.Host, cfg.Port),
		tenant:     "default_tenant",
		database:   "default_database",
		ttl:        cfg.TTL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logger.With().Str("component", "chroma").Logger(),
	}

	collectionID, err := c.getOrCreateCollection(cfg.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("get or create collection: %w", err)
	}
	c.collectionID = collectionID
	return c, nil
}

func (c *Chroma) getOrCreateCollection(name string) (string, error) {
	url := fmt.Sprintf("%s/tenants/%s/databases/%s/collections/%s", c.baseURL, c.tenant, c.database, name)
	resp, err := c.httpClient.Get(url)
	if err == nil && resp.StatusCode == http.StatusOK {
		defer resp.Body.Close()
		var result map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return "", err
		}
		id, ok := result["id"].(string)
		if !ok {
			return "", fmt.Errorf("collection response missing id")
		}
		c.log.Debug().Str("collection", name).Msg("using existing collection")
		return id, nil
	}
	if resp != nil {
		resp.Body.Close()
	}

	createURL := fmt.Sprintf("%s/tenants/%s/databases/%s/collections", c.baseURL, c.tenant, c.database)
	payload := map[string]interface{}{
		"name": name,
		"metadata": map[string]interface{}{
			"description": "newsmesh chunk collection",
		},
		"get_or_create": true,
	}
	body, err := c.post(createURL, payload)
	if err != nil {
		return "", err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse collection response: %w", err)
	}
	id, ok := result["id"].(string)
	if !ok {
		return "", fmt.Errorf("collection response missing id")
	}
	c.log.Info().Str("collection", name).Msg("created collection")
	return id, nil
}

func (c *Chroma) collectionURL() string {
	return fmt.Sprintf("%s/tenants/%s/databases/%s/collections/%s", c.baseURL, c.tenant, c.database, c.collectionID)
}

// AddChunks batch-inserts embedded chunks with their metadata. Chunks without
// a usable embedding are skipped; they cannot be searched anyway.
func (c *Chroma) AddChunks(_ context.Context, chunks []*model.ContentChunk) error {
	var ids []string
	var documents []string
	var embeddings [][]float32
	var metadatas []map[string]interface{}

	for _, chunk := range chunks {
		if !chunk.HasEmbedding() {
			continue
		}
		ids = append(ids, chunk.ID)
		documents = append(documents, chunk.Content)
		embeddings = append(embeddings, chunk.Embedding)
		metadatas = append(metadatas, map[string]interface{}{
			"title":       chunk.Metadata.Title,
			"url":         chunk.Metadata.URL,
			"domain":      chunk.Metadata.SourceDomain,
			"source_type": string(chunk.Metadata.SourceType),
			"tier":        int(chunk.Metadata.ReliabilityTier),
			"ticker":      chunk.Metadata.Ticker,
			"timestamp":   chunk.Metadata.Timestamp.Unix(),
			"added_at":    time.Now().Unix(),
		})
	}
	if len(ids) == 0 {
		return nil
	}

	_, err := c.post(c.collectionURL()+"/add", map[string]interface{}{
		"ids":        ids,
		"documents":  documents,
		"embeddings": embeddings,
		"metadatas":  metadatas,
	})
	if err != nil {
		return fmt.Errorf("add chunks: %w", err)
	}
	c.log.Debug().Int("chunks", len(ids)).Msg("stored chunks")
	return nil
}

// QuerySimilar returns stored chunks whose cosine similarity to the vector
// clears the threshold, excluding the given ids. Entries older than the TTL
// are pruned from the collection as they are encountered.
func (c *Chroma) QuerySimilar(_ context.Context, vector []float32, limit int, threshold float64, excludeIDs []string) ([]SimilarChunk, error) {
	body, err := c.post(c.collectionURL()+"/query", map[string]interface{}{
		"query_embeddings": [][]float32{vector},
		"n_results":        limit,
		"include":          []string{"metadatas", "distances"},
	})
	if err != nil {
		return nil, fmt.Errorf("query similar: %w", err)
	}

	var results queryResults
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("parse query response: %w", err)
	}
	if len(results.IDs) == 0 {
		return nil, nil
	}

	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	cutoff := time.Time{}
	if c.ttl > 0 {
		cutoff = time.Now().Add(-c.ttl)
	}

	var hits []SimilarChunk
	var stale []string
	for i, id := range results.IDs[0] {
		if excluded[id] {
			continue
		}

		var meta map[string]interface{}
		if len(results.Metadatas) > 0 && i < len(results.Metadatas[0]) {
			meta = results.Metadatas[0][i]
		}
		if !cutoff.IsZero() {
			if addedAt, ok := meta["added_at"].(float64); ok && time.Unix(int64(addedAt), 0).Before(cutoff) {
				stale = append(stale, id)
				continue
			}
		}

		// Chroma returns cosine distance; similarity = 1 - distance.
		var similarity float64 = 0
		if len(results.Distances) > 0 && i < len(results.Distances[0]) {
			similarity = 1.0 - float64(results.Distances[0][i])
		}
		if similarity < threshold {
			continue
		}

		hit := SimilarChunk{ID: id, Similarity: similarity}
		if title, ok := meta["title"].(string); ok {
			hit.Title = title
		}
		if url, ok := meta["url"].(string); ok {
			hit.URL = url
		}
		hits = append(hits, hit)
	}

	if len(stale) > 0 {
		if err := c.deleteIDs(stale); err != nil {
			c.log.Warn().Err(err).Int("chunks", len(stale)).Msg("failed to prune stale chunks")
		} else {
			c.log.Debug().Int("chunks", len(stale)).Msg("pruned stale chunks")
		}
	}
	return hits, nil
}

func (c *Chroma) deleteIDs(ids []string) error {
	_, err := c.post(c.collectionURL()+"/delete", map[string]interface{}{"ids": ids})
	return err
}

// RecentChunks retrieves chunks added within the window, reconstructed with
// enough metadata for cross-run duplicate checks.
func (c *Chroma) RecentChunks(_ context.Context, since time.Time, limit int) ([]*model.ContentChunk, error) {
	body, err := c.post(c.collectionURL()+"/get", map[string]interface{}{
		"where":   map[string]interface{}{"added_at": map[string]interface{}{"$gte": since.Unix()}},
		"limit":   limit,
		"include": []string{"metadatas", "documents", "embeddings"},
	})
	if err != nil {
		return nil, fmt.Errorf("recent chunks: %w", err)
	}

	var results getResults
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("parse get response: %w", err)
	}

	chunks := make([]*model.ContentChunk, 0, len(results.IDs))
	for i, id := range results.IDs {
		chunk := &model.ContentChunk{ID: id}
		if i < len(results.Documents) {
			chunk.Content = results.Documents[i]
		}
		if i < len(results.Embeddings) {
			chunk.Embedding = results.Embeddings[i]
		}
		if i < len(results.Metadatas) {
			meta := results.Metadatas[i]
			if title, ok := meta["title"].(string); ok {
				chunk.Metadata.Title = title
			}
			if url, ok := meta["url"].(string); ok {
				chunk.Metadata.URL = url
			}
			if domain, ok := meta["domain"].(string); ok {
				chunk.Metadata.SourceDomain = domain
			}
			if ts, ok := meta["timestamp"].(float64); ok {
				chunk.Metadata.Timestamp = time.Unix(int64(ts), 0)
				chunk.CreatedAt = chunk.Metadata.Timestamp
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Count returns the number of stored chunks.
func (c *Chroma) Count(_ context.Context) (int, error) {
	resp, err := c.httpClient.Get(c.collectionURL() + "/count")
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("count: %s", string(body))
	}

	var count int
	if err := json.NewDecoder(resp.Body).Decode(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Close is a no-op; the REST client holds no persistent connection state.
func (c *Chroma) Close() error { return nil }

func (c *Chroma) post(url string, payload map[string]interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
