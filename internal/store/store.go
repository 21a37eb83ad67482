// Package store holds the optional persistence collaborators: a Chroma-backed
// vector store for cross-run dedup and durability, a Redis bloom filter as an
// exact-duplicate fast path, and an S3 archive sink. The core functions with
// any or all of them absent, in degraded mode.
package store

import (
	"context"
	"time"

	"newsmesh/internal/model"
)

// SimilarChunk is one vector-search hit.
type SimilarChunk struct {
	ID         string
	Similarity float64
	Title      string
	URL        string
}

// VectorStore is the persistence contract the aggregation core requires:
// batch insert, similarity search with threshold/limit/exclusions, and
// recent-chunk retrieval for cross-run dedup.
type VectorStore interface {
	AddChunks(ctx context.Context, chunks []*model.ContentChunk) error
	QuerySimilar(ctx context.Context, vector []float32, limit int, threshold float64, excludeIDs []string) ([]SimilarChunk, error)
	RecentChunks(ctx context.Context, since time.Time, limit int) ([]*model.ContentChunk, error)
	Count(ctx context.Context) (int, error)
	Close() error
}
