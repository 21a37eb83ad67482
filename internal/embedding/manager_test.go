package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsmesh/internal/config"
	"newsmesh/internal/model"
)

// fakeProvider returns a deterministic vector per text: the text's length in
// the first component.
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	texts []string
	fail  bool
}

func (f *fakeProvider) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, texts...)
	f.mu.Unlock()

	if f.fail {
		return nil, errors.New("provider unavailable")
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1, 0, 0}
	}
	return out, nil
}

func (f *fakeProvider) ModelName() string { return "fake-model" }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testEmbeddingConfig() config.EmbeddingConfig {
	return config.EmbeddingConfig{
		Model:      "fake-model",
		Dimension:  4,
		BatchSize:  2,
		Timeout:    time.Second,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}
}

func TestEmbedCorrelatesResultsByIndex(t *testing.T) {
	provider := &fakeProvider{}
	m := NewManager(provider, testEmbeddingConfig(), zerolog.Nop())

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors := m.Embed(context.Background(), texts)

	require.Len(t, vectors, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0], "vector %d must match its input text", i)
	}
}

func TestEmbedServesRepeatsFromCache(t *testing.T) {
	provider := &fakeProvider{}
	m := NewManager(provider, testEmbeddingConfig(), zerolog.Nop())

	texts := []string{"first text", "second text"}
	first := m.Embed(context.Background(), texts)
	callsAfterFirst := provider.callCount()

	second := m.Embed(context.Background(), texts)
	assert.Equal(t, callsAfterFirst, provider.callCount(), "repeat lookups must not reach the provider")
	assert.Equal(t, first, second)
	assert.Greater(t, m.CacheHitRate(), 0.0)
}

func TestEmbedDegradesToZeroVectorsOnFailure(t *testing.T) {
	provider := &fakeProvider{fail: true}
	m := NewManager(provider, testEmbeddingConfig(), zerolog.Nop())

	vectors := m.Embed(context.Background(), []string{"one", "two", "three"})
	require.Len(t, vectors, 3)
	for i, v := range vectors {
		assert.Len(t, v, 4, "degraded vector %d keeps the configured dimension", i)
		assert.True(t, IsZero(v), "degraded vector %d must be zero", i)
	}
	// MaxRetries=1 means two attempts per sub-batch.
	assert.Greater(t, provider.callCount(), 1)
}

func TestEmbedChunksAttachesInPlace(t *testing.T) {
	provider := &fakeProvider{}
	m := NewManager(provider, testEmbeddingConfig(), zerolog.Nop())

	chunks := []*model.ContentChunk{
		{ID: "1", Content: "short"},
		{ID: "2", Content: "a somewhat longer content body"},
	}
	m.EmbedChunks(context.Background(), chunks)

	for _, c := range chunks {
		require.True(t, c.HasEmbedding())
		assert.Equal(t, float32(len(c.Content)), c.Embedding[0])
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	provider := &fakeProvider{}
	m := NewManager(provider, testEmbeddingConfig(), zerolog.Nop())

	assert.Empty(t, m.Embed(context.Background(), nil))
	assert.Equal(t, 0, provider.callCount())
}
