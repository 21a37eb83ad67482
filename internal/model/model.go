// Package model defines the core data types flowing through the aggregation
// pipeline. Chunks and clusters reference each other by id only; the maps that
// hold them own the data.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SourceType tags where a piece of content came from, editorially.
type SourceType string

const (
	SourceBreaking     SourceType = "breaking"
	SourceFinancial    SourceType = "financial"
	SourceGeneral      SourceType = "general"
	SourceRegulatory   SourceType = "regulatory"
	SourceSocial       SourceType = "social"
	SourceBlog         SourceType = "blog"
	SourcePressRelease SourceType = "press_release"
)

// ReliabilityTier is a 5-level ordinal source trust classification.
// Tier 1 is official/regulatory, tier 5 is unclassified.
type ReliabilityTier int

const (
	TierOfficial     ReliabilityTier = 1
	TierMajorOutlet  ReliabilityTier = 2
	TierEstablished  ReliabilityTier = 3
	TierAggregator   ReliabilityTier = 4
	TierUnclassified ReliabilityTier = 5
)

// ReliabilityScore maps a tier to the score used by ranking.
func (t ReliabilityTier) ReliabilityScore() float64 {
	switch t {
	case TierOfficial:
		return 1.0
	case TierMajorOutlet:
		return 0.85
	case TierEstablished:
		return 0.65
	case TierAggregator:
		return 0.45
	default:
		return 0.3
	}
}

// RawItem is one upstream document as delivered by a retriever. Only Title and
// URL are required; absent optional fields stay zero-valued and are treated as
// absent, never as an error.
type RawItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	RawContent  string    `json:"raw_content,omitempty"`
	Retriever   string    `json:"retriever,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Author      string    `json:"author,omitempty"`
	Ticker      string    `json:"ticker,omitempty"`
	ImageURLs   []string  `json:"image_urls,omitempty"`
}

// ChunkMetadata carries everything scoring and clustering need to know about a
// chunk besides its text and embedding.
type ChunkMetadata struct {
	Timestamp        time.Time       `json:"timestamp"`
	SourceDomain     string          `json:"source_domain"`
	URL              string          `json:"url"`
	Title            string          `json:"title"`
	Topic            string          `json:"topic,omitempty"`
	SourceType       SourceType      `json:"source_type"`
	ReliabilityTier  ReliabilityTier `json:"reliability_tier"`
	ReliabilityScore float64         `json:"source_reliability_score"`
	Retriever        string          `json:"retriever,omitempty"`
	Ticker           string          `json:"ticker,omitempty"`
	Author           string          `json:"author,omitempty"`
	Language         string          `json:"language"`
	WordCount        int             `json:"word_count"`
	ImageURLs        []string        `json:"image_urls,omitempty"`
}

// ContentChunk is a single preprocessed content item. Embedding is nil until
// the embedding stage attaches one; an unembedded chunk never joins a cluster.
// ClusterID is empty while unassigned.
type ContentChunk struct {
	ID         string        `json:"id"`
	RawContent string        `json:"raw_content"`
	Content    string        `json:"content"`
	Metadata   ChunkMetadata `json:"metadata"`
	Embedding  []float32     `json:"embedding,omitempty"`
	ClusterID  string        `json:"cluster_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// HasEmbedding reports whether a usable (non-empty, non-zero) embedding is
// attached. Zero vectors are the degraded output of a failed embedding call
// and must not participate in similarity math.
func (c *ContentChunk) HasEmbedding() bool {
	for _, v := range c.Embedding {
		if v != 0 {
			return true
		}
	}
	return false
}

// ClusterMetadata aggregates member-level facts for a cluster.
type ClusterMetadata struct {
	PrimaryTicker  string       `json:"primary_ticker,omitempty"`
	Topics         []string     `json:"topics,omitempty"`
	EarliestMember time.Time    `json:"earliest_member"`
	LatestMember   time.Time    `json:"latest_member"`
	SourceTypes    []SourceType `json:"source_types"`
	Coherence      float64      `json:"coherence"`
	MemberCount    int          `json:"member_count"`
}

// ContentCluster groups semantically related chunks. Centroid is the
// elementwise mean of member embeddings and is recomputed on every membership
// change.
type ContentCluster struct {
	ID        string          `json:"id"`
	Members   []*ContentChunk `json:"members"`
	Centroid  []float32       `json:"centroid,omitempty"`
	Metadata  ClusterMetadata `json:"metadata"`
	Summary   *ClusterSummary `json:"summary,omitempty"`
	Score     float64         `json:"score"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ClusterSummary is the generated narrative for a cluster, produced by the
// text-generation collaborator or the heuristic fallback.
type ClusterSummary struct {
	Narrative   string    `json:"narrative"`
	KeyPoints   []string  `json:"key_points,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Generator   string    `json:"generator"`
	Confidence  float64   `json:"confidence"`
	WordCount   int       `json:"word_count"`
}

// UserPreferences biases relevance scoring toward a consumer's interests.
type UserPreferences struct {
	Watchlist []string `json:"watchlist,omitempty"`
	Topics    []string `json:"topics,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	Sectors   []string `json:"sectors,omitempty"`
}

// JobCallback receives the shared aggregation result once a job's batch has
// been processed.
type JobCallback func(*AggregatorOutput)

// ProcessingJob is one submitted unit of work. It lives only inside the
// realtime processor's queues.
type ProcessingJob struct {
	ID          string           `json:"id"`
	Items       []RawItem        `json:"items"`
	Priority    int              `json:"priority"`
	CreatedAt   time.Time        `json:"created_at"`
	Preferences *UserPreferences `json:"preferences,omitempty"`
	Callback    JobCallback      `json:"-"`
}

// ProcessingStats records what happened during one aggregator run.
type ProcessingStats struct {
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	ItemsIn           int           `json:"items_in"`
	ChunksProcessed   int           `json:"chunks_processed"`
	DuplicatesRemoved int           `json:"duplicates_removed"`
	ClustersFormed    int           `json:"clusters_formed"`
	ClustersScored    int           `json:"clusters_scored"`
	Summarized        int           `json:"summarized"`
	EmptyReason       string        `json:"empty_reason,omitempty"`
	Error             string        `json:"error,omitempty"`
}

// AggregatorOutput is the unit handed to downstream consumers: ranked clusters
// plus the run statistics. It is always well-formed, even on total failure.
type AggregatorOutput struct {
	Clusters []*ContentCluster `json:"clusters"`
	Stats    ProcessingStats   `json:"stats"`
}

// Failed reports whether the run ended in a pipeline error.
func (o *AggregatorOutput) Failed() bool { return o.Stats.Error != "" }

// Empty reports whether the run short-circuited with no clusters.
func (o *AggregatorOutput) Empty() bool { return len(o.Clusters) == 0 }

// ChunkID derives a stable chunk id from the item's canonical URL and title.
func ChunkID(url, title string) string {
	hash := sha256.Sum256([]byte(url + "|" + title))
	return hex.EncodeToString(hash[:])[:16]
}

// ContentHash fingerprints cleaned content for exact-duplicate detection.
func ContentHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
