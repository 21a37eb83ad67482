package clustering

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsmesh/internal/config"
	"newsmesh/internal/model"
)

const testDim = 4

func testClusteringConfig() config.ClusteringConfig {
	return config.Default().Clustering
}

func embeddedChunk(id string, vec []float32) *model.ContentChunk {
	return &model.ContentChunk{
		ID:        id,
		Content:   "content for " + id,
		Embedding: vec,
		Metadata: model.ChunkMetadata{
			Title:     "title for " + id,
			Timestamp: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestDensityStrategyGroupsSimilarChunks(t *testing.T) {
	s := NewDensityStrategy(testClusteringConfig(), testDim, zerolog.Nop())
	chunks := []*model.ContentChunk{
		embeddedChunk("a1", []float32{1, 0.1, 0, 0}),
		embeddedChunk("a2", []float32{1, 0.2, 0, 0}),
		embeddedChunk("b1", []float32{0, 0, 1, 0.1}),
		embeddedChunk("b2", []float32{0, 0, 1, 0.2}),
	}

	clusters := s.Cluster(context.Background(), chunks)
	require.Len(t, clusters, 2)
	for _, cluster := range clusters {
		assert.Len(t, cluster.Members, 2)
		assert.NotEmpty(t, cluster.ID)
		assert.Len(t, cluster.Centroid, testDim)
		for _, m := range cluster.Members {
			assert.Equal(t, cluster.ID, m.ClusterID)
		}
		assert.Greater(t, cluster.Metadata.Coherence, 0.9)
	}
}

func TestDensityStrategyLeavesNoiseUnassigned(t *testing.T) {
	s := NewDensityStrategy(testClusteringConfig(), testDim, zerolog.Nop())
	outlier := embeddedChunk("noise", []float32{0, 1, 0, 0})
	chunks := []*model.ContentChunk{
		embeddedChunk("a1", []float32{1, 0, 0, 0}),
		embeddedChunk("a2", []float32{1, 0.1, 0, 0}),
		outlier,
	}

	clusters := s.Cluster(context.Background(), chunks)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Members, 2)
	assert.Empty(t, outlier.ClusterID, "noise points stay unassigned")
}

func TestDensityStrategyExcludesOversizedGroups(t *testing.T) {
	cfg := testClusteringConfig()
	cfg.MaxClusterSize = 2
	s := NewDensityStrategy(cfg, testDim, zerolog.Nop())

	chunks := []*model.ContentChunk{
		embeddedChunk("a1", []float32{1, 0, 0, 0}),
		embeddedChunk("a2", []float32{1, 0.05, 0, 0}),
		embeddedChunk("a3", []float32{1, 0.1, 0, 0}),
	}

	clusters := s.Cluster(context.Background(), chunks)
	assert.Empty(t, clusters, "groups beyond the size cap are excluded, not truncated")
}

func TestDensityStrategyIgnoresUnembeddedChunks(t *testing.T) {
	s := NewDensityStrategy(testClusteringConfig(), testDim, zerolog.Nop())
	chunks := []*model.ContentChunk{
		{ID: "plain1", Content: "no embedding"},
		{ID: "plain2", Content: "zero embedding", Embedding: []float32{0, 0, 0, 0}},
	}
	assert.Empty(t, s.Cluster(context.Background(), chunks))
}

func TestUpdateWithNewChunks(t *testing.T) {
	cfg := testClusteringConfig()
	engine := NewEngine(cfg, testDim, NewDensityStrategy(cfg, testDim, zerolog.Nop()), zerolog.Nop())

	existing := []*model.ContentCluster{
		newCluster([]*model.ContentChunk{
			embeddedChunk("a1", []float32{1, 0, 0, 0}),
			embeddedChunk("a2", []float32{1, 0.1, 0, 0}),
		}, testDim),
	}

	matching := embeddedChunk("a3", []float32{1, 0.05, 0, 0})
	stray := embeddedChunk("s1", []float32{0, 0, 0, 1})

	updated, unassigned := engine.UpdateWithNewChunks([]*model.ContentChunk{matching, stray}, existing)
	require.Len(t, updated, 1)
	assert.Len(t, updated[0].Members, 3)
	assert.Equal(t, updated[0].ID, matching.ClusterID)
	assert.Equal(t, 3, updated[0].Metadata.MemberCount, "metadata refreshed after assignment")

	require.Len(t, unassigned, 1)
	assert.Equal(t, "s1", unassigned[0].ID)
}

func TestMergeSimilar(t *testing.T) {
	cfg := testClusteringConfig()
	engine := NewEngine(cfg, testDim, NewDensityStrategy(cfg, testDim, zerolog.Nop()), zerolog.Nop())

	left := newCluster([]*model.ContentChunk{
		embeddedChunk("a1", []float32{1, 0, 0, 0}),
		embeddedChunk("a2", []float32{1, 0.1, 0, 0}),
	}, testDim)
	right := newCluster([]*model.ContentChunk{
		embeddedChunk("a3", []float32{1, 0.05, 0, 0}),
		embeddedChunk("a4", []float32{1, 0.15, 0, 0}),
	}, testDim)
	far := newCluster([]*model.ContentChunk{
		embeddedChunk("b1", []float32{0, 0, 1, 0}),
		embeddedChunk("b2", []float32{0, 0.1, 1, 0}),
	}, testDim)

	merged := engine.MergeSimilar([]*model.ContentCluster{left, right, far})
	require.Len(t, merged, 2)
	assert.Len(t, merged[0].Members, 4, "similar centroids merge into one cluster")
	for _, m := range merged[0].Members {
		assert.Equal(t, merged[0].ID, m.ClusterID)
	}
}

func TestMergeSimilarRespectsSizeCap(t *testing.T) {
	cfg := testClusteringConfig()
	cfg.MaxClusterSize = 20
	engine := NewEngine(cfg, testDim, NewDensityStrategy(cfg, testDim, zerolog.Nop()), zerolog.Nop())

	build := func(prefix string, n int) *model.ContentCluster {
		members := make([]*model.ContentChunk, n)
		for i := range members {
			members[i] = embeddedChunk(fmt.Sprintf("%s%d", prefix, i), []float32{1, 0.1, 0, 0})
		}
		return newCluster(members, testDim)
	}

	merged := engine.MergeSimilar([]*model.ContentCluster{build("a", 15), build("b", 15)})
	require.Len(t, merged, 2, "a merge breaching the size cap is skipped")
	for _, cluster := range merged {
		assert.LessOrEqual(t, len(cluster.Members), cfg.MaxClusterSize)
	}
}

func TestUpdateWithNewChunksRespectsSizeCap(t *testing.T) {
	cfg := testClusteringConfig()
	cfg.MaxClusterSize = 2
	engine := NewEngine(cfg, testDim, NewDensityStrategy(cfg, testDim, zerolog.Nop()), zerolog.Nop())

	full := newCluster([]*model.ContentChunk{
		embeddedChunk("a1", []float32{1, 0, 0, 0}),
		embeddedChunk("a2", []float32{1, 0.1, 0, 0}),
	}, testDim)

	incoming := embeddedChunk("a3", []float32{1, 0.05, 0, 0})
	updated, unassigned := engine.UpdateWithNewChunks([]*model.ContentChunk{incoming}, []*model.ContentCluster{full})
	require.Len(t, updated, 1)
	assert.Len(t, updated[0].Members, 2, "full clusters take no new members")
	require.Len(t, unassigned, 1)
	assert.Equal(t, "a3", unassigned[0].ID)
}

func TestEvaluateQuality(t *testing.T) {
	cfg := testClusteringConfig()
	engine := NewEngine(cfg, testDim, NewDensityStrategy(cfg, testDim, zerolog.Nop()), zerolog.Nop())

	clusters := []*model.ContentCluster{
		newCluster([]*model.ContentChunk{
			embeddedChunk("a1", []float32{1, 0, 0, 0}),
			embeddedChunk("a2", []float32{1, 0.1, 0, 0}),
		}, testDim),
		newCluster([]*model.ContentChunk{
			embeddedChunk("b1", []float32{0, 0, 1, 0}),
			embeddedChunk("b2", []float32{0, 0, 1, 0.1}),
		}, testDim),
	}

	metrics := engine.EvaluateQuality(clusters)
	assert.Equal(t, 2, metrics.ClusterCount)
	assert.Equal(t, 2, metrics.MinSize)
	assert.Equal(t, 2, metrics.MaxSize)
	assert.InDelta(t, 2.0, metrics.MeanSize, 1e-9)
	assert.Greater(t, metrics.MeanCoherence, 0.9)
	assert.Greater(t, metrics.Separation, 0.8, "well-separated clusters score high")
}

func TestBuildMetadata(t *testing.T) {
	early := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	late := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	a := embeddedChunk("a", []float32{1, 0, 0, 0})
	a.Metadata.Ticker = "NVDA"
	a.Metadata.Topic = "tech"
	a.Metadata.SourceType = model.SourceFinancial
	a.Metadata.Timestamp = early

	b := embeddedChunk("b", []float32{1, 0.1, 0, 0})
	b.Metadata.Ticker = "NVDA"
	b.Metadata.Topic = "markets"
	b.Metadata.SourceType = model.SourceGeneral
	b.Metadata.Timestamp = late

	c := embeddedChunk("c", []float32{1, 0.2, 0, 0})
	c.Metadata.Ticker = "AMD"
	c.Metadata.SourceType = model.SourceGeneral

	cluster := newCluster([]*model.ContentChunk{a, b, c}, testDim)
	meta := cluster.Metadata

	assert.Equal(t, "NVDA", meta.PrimaryTicker, "most frequent ticker wins")
	assert.Equal(t, []string{"markets", "tech"}, meta.Topics, "topics are sorted")
	assert.Equal(t, early, meta.EarliestMember)
	assert.Equal(t, late, meta.LatestMember)
	assert.Equal(t, 3, meta.MemberCount)
	assert.Len(t, meta.SourceTypes, 2)
}
