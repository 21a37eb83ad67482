package embedding

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
)

// Provider abstracts a text->embedding generator. Implementations return one
// embedding vector per input text, in input order.
type Provider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// CohereProvider implements Provider using the Cohere Embed API (v2).
// SDK: github.com/cohere-ai/cohere-go/v2
type CohereProvider struct {
	client *cohereclient.Client
	model  string
}

// NewCohereProvider builds a Cohere-backed provider. The HTTP client forces
// HTTP/1.1 to avoid HTTP/2 protocol errors seen against the Cohere edge.
func NewCohereProvider(apiKey, model string, timeout time.Duration) (*CohereProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("cohere api key is required")
	}
	if model == "" {
		model = "embed-english-v3.0"
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
			ForceAttemptHTTP2: false,
		},
	}
	client := cohereclient.NewClient(
		cohereclient.WithToken(apiKey),
		cohereclient.WithHTTPClient(httpClient),
	)
	return &CohereProvider{client: client, model: model}, nil
}

// ModelName returns the embedding model identifier used for cache keying.
func (c *CohereProvider) ModelName() string { return c.model }

// EmbedTexts embeds a batch of texts via the V2 Embed API.
func (c *CohereProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := c.client.V2.Embed(
		ctx,
		&cohere.V2EmbedRequest{
			Texts:          texts,
			Model:          c.model,
			InputType:      cohere.EmbedInputTypeSearchDocument,
			EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("cohere embed: %w", err)
	}

	floats := resp.Embeddings.Float
	if len(floats) != len(texts) {
		return nil, fmt.Errorf("cohere embed: got %d embeddings for %d texts", len(floats), len(texts))
	}

	out := make([][]float32, len(floats))
	for i, emb := range floats {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}
