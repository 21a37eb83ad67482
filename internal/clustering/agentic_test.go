package clustering

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsmesh/internal/model"
)

// scriptedJudge replays canned verdicts in order, then repeats the last one.
type scriptedJudge struct {
	verdicts []string
	err      error
	calls    int
}

func (j *scriptedJudge) JudgeCluster(_ context.Context, _ string) (string, error) {
	j.calls++
	if j.err != nil {
		return "", j.err
	}
	idx := j.calls - 1
	if idx >= len(j.verdicts) {
		idx = len(j.verdicts) - 1
	}
	return j.verdicts[idx], nil
}

func TestAgenticStrategyConvergesOnCoherentVerdict(t *testing.T) {
	judge := &scriptedJudge{verdicts: []string{"coherent"}}
	s := NewAgenticStrategy(testClusteringConfig(), testDim, judge, zerolog.Nop())

	chunks := []*model.ContentChunk{
		embeddedChunk("a1", []float32{1, 0.1, 0, 0}),
		embeddedChunk("a2", []float32{1, 0.2, 0, 0}),
		embeddedChunk("b1", []float32{0, 0, 1, 0.1}),
		embeddedChunk("b2", []float32{0, 0, 1, 0.2}),
	}

	clusters := s.Cluster(context.Background(), chunks)
	require.Len(t, clusters, 2)
	assert.Equal(t, 2, judge.calls, "one verdict per cluster, single iteration")
	for _, cluster := range clusters {
		assert.Len(t, cluster.Members, 2)
	}
}

func TestAgenticStrategyDisbandsOversizedClusters(t *testing.T) {
	cfg := testClusteringConfig()
	cfg.MaxClusterSize = 2
	judge := &scriptedJudge{verdicts: []string{"coherent"}}
	s := NewAgenticStrategy(cfg, testDim, judge, zerolog.Nop())

	chunks := []*model.ContentChunk{
		embeddedChunk("a1", []float32{1, 0, 0, 0}),
		embeddedChunk("a2", []float32{1, 0.05, 0, 0}),
		embeddedChunk("a3", []float32{1, 0.1, 0, 0}),
	}

	clusters := s.Cluster(context.Background(), chunks)
	assert.Empty(t, clusters, "an oversized group that always regroups oversized ends disbanded")
	for _, c := range chunks {
		assert.Empty(t, c.ClusterID)
	}
}

func TestAgenticStrategyPeelsDiverseMembers(t *testing.T) {
	cfg := testClusteringConfig()
	cfg.GroupingThreshold = 0.6
	judge := &scriptedJudge{verdicts: []string{"diverse topics", "coherent"}}
	s := NewAgenticStrategy(cfg, testDim, judge, zerolog.Nop())

	// All three clear the 0.6 grouping threshold against the seed, but the
	// third sits far from the resulting centroid.
	chunks := []*model.ContentChunk{
		embeddedChunk("core1", []float32{1, 0, 0, 0}),
		embeddedChunk("core2", []float32{1, 0.1, 0, 0}),
		embeddedChunk("edge", []float32{0.7, 0.7, 0, 0}),
	}

	clusters := s.Cluster(context.Background(), chunks)
	require.NotEmpty(t, clusters)
	assert.GreaterOrEqual(t, judge.calls, 2, "judge consulted across iterations")
}

func TestAgenticStrategyToleratesJudgeFailure(t *testing.T) {
	judge := &scriptedJudge{err: errors.New("llm unavailable")}
	s := NewAgenticStrategy(testClusteringConfig(), testDim, judge, zerolog.Nop())

	chunks := []*model.ContentChunk{
		embeddedChunk("a1", []float32{1, 0.1, 0, 0}),
		embeddedChunk("a2", []float32{1, 0.2, 0, 0}),
	}

	clusters := s.Cluster(context.Background(), chunks)
	require.Len(t, clusters, 1, "judge failure is not a refinement signal")
	assert.Len(t, clusters[0].Members, 2)
}

func TestAgenticStrategyWithoutJudge(t *testing.T) {
	s := NewAgenticStrategy(testClusteringConfig(), testDim, nil, zerolog.Nop())

	chunks := []*model.ContentChunk{
		embeddedChunk("a1", []float32{1, 0.1, 0, 0}),
		embeddedChunk("a2", []float32{1, 0.2, 0, 0}),
	}

	clusters := s.Cluster(context.Background(), chunks)
	require.Len(t, clusters, 1)
}

func TestDescribeCluster(t *testing.T) {
	cluster := newCluster([]*model.ContentChunk{
		embeddedChunk("a1", []float32{1, 0, 0, 0}),
		embeddedChunk("a2", []float32{1, 0.1, 0, 0}),
	}, testDim)
	cluster.Metadata.PrimaryTicker = "TSLA"

	desc := DescribeCluster(cluster)
	assert.Contains(t, desc, "Cluster of 2 items")
	assert.Contains(t, desc, "TSLA")
	assert.Contains(t, desc, "title for a1")
	assert.Contains(t, desc, "content for a1")
}
