// Package embedding batches and caches calls to the external vectorization
// capability and provides the vector math used across the pipeline.
package embedding

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"newsmesh/internal/config"
	"newsmesh/internal/model"
)

// Manager fronts a Provider with a process-lifetime cache, sub-batch
// splitting with bounded concurrency, retry with exponential backoff, and
// zero-vector degradation on persistent failure.
type Manager struct {
	provider Provider
	cache    *cache
	cfg      config.EmbeddingConfig
	sem      *semaphore.Weighted
	log      zerolog.Logger
}

// NewManager constructs a Manager around the given provider.
func NewManager(provider Provider, cfg config.EmbeddingConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		provider: provider,
		cache:    newCache(),
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.BatchSize)),
		log:      logger.With().Str("component", "embedding").Logger(),
	}
}

// Dimension returns the configured embedding dimension.
func (m *Manager) Dimension() int { return m.cfg.Dimension }

// CacheHitRate reports the fraction of lookups served from cache.
func (m *Manager) CacheHitRate() float64 { return m.cache.hitRate() }

// Embed returns one vector per input text, in input order. Cached texts never
// reach the provider. A sub-batch whose retries are exhausted degrades to
// zero vectors for its texts; the error is logged, not returned, so one bad
// batch cannot fail the pipeline.
func (m *Manager) Embed(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missIdx []int
	for i, text := range texts {
		keys[i] = cacheKey(m.provider.ModelName(), text)
		if vec, ok := m.cache.get(keys[i]); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
	}
	m.cache.recordHit(len(texts) - len(missIdx))
	m.cache.recordMiss(len(missIdx))

	if len(missIdx) == 0 {
		return out
	}

	// Split misses into provider-sized sub-batches processed with bounded
	// concurrency. Results are correlated back by index, never by completion
	// order.
	type subBatch struct {
		indices []int
	}
	var batches []subBatch
	for start := 0; start < len(missIdx); start += m.cfg.BatchSize {
		end := start + m.cfg.BatchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batches = append(batches, subBatch{indices: missIdx[start:end]})
	}

	done := make(chan struct{}, len(batches))
	for _, batch := range batches {
		batch := batch
		if err := m.sem.Acquire(ctx, 1); err != nil {
			// Context cancelled while waiting; remaining texts stay zero.
			for _, idx := range batch.indices {
				out[idx] = make([]float32, m.cfg.Dimension)
			}
			done <- struct{}{}
			continue
		}
		go func() {
			defer m.sem.Release(1)
			defer func() { done <- struct{}{} }()

			batchTexts := make([]string, len(batch.indices))
			for i, idx := range batch.indices {
				batchTexts[i] = texts[idx]
			}

			vectors, err := m.embedWithRetry(ctx, batchTexts)
			if err != nil {
				m.log.Warn().Err(err).Int("texts", len(batchTexts)).
					Msg("embedding batch failed after retries, degrading to zero vectors")
				for _, idx := range batch.indices {
					out[idx] = make([]float32, m.cfg.Dimension)
				}
				return
			}

			for i, idx := range batch.indices {
				out[idx] = vectors[i]
				m.cache.put(keys[idx], vectors[i])
			}
		}()
	}
	for range batches {
		<-done
	}
	return out
}

// EmbedChunks attaches embeddings to each chunk in place. Chunks whose
// embedding call failed carry a zero vector and are treated as unembedded by
// the rest of the pipeline.
func (m *Manager) EmbedChunks(ctx context.Context, chunks []*model.ContentChunk) {
	if len(chunks) == 0 {
		return
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors := m.Embed(ctx, texts)
	for i, c := range chunks {
		c.Embedding = vectors[i]
	}
}

func (m *Manager) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	delay := m.cfg.RetryDelay

	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		vectors, err := m.provider.EmbedTexts(callCtx, texts)
		cancel()
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		m.log.Debug().Err(err).Int("attempt", attempt+1).Msg("embedding call failed")
	}
	return nil, lastErr
}
