// Package clustering groups embedded chunks into semantically coherent
// clusters. Two interchangeable strategies implement the same contract: a
// density-based scan and an iterative agentic refinement loop.
package clustering

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"newsmesh/internal/config"
	"newsmesh/internal/embedding"
	"newsmesh/internal/model"
)

// Strategy is the clustering contract shared by both implementations.
type Strategy interface {
	Cluster(ctx context.Context, chunks []*model.ContentChunk) []*model.ContentCluster
}

// QualityMetrics summarizes a clustering result.
type QualityMetrics struct {
	ClusterCount  int     `json:"cluster_count"`
	MeanCoherence float64 `json:"mean_coherence"`
	Separation    float64 `json:"separation"`
	MinSize       int     `json:"min_size"`
	MaxSize       int     `json:"max_size"`
	MeanSize      float64 `json:"mean_size"`
}

// Engine wraps a Strategy with the incremental update, merge and quality
// operations that both strategies share.
type Engine struct {
	cfg      config.ClusteringConfig
	dim      int
	strategy Strategy
	log      zerolog.Logger
}

// NewEngine constructs an Engine around the given strategy.
func NewEngine(cfg config.ClusteringConfig, dimension int, strategy Strategy, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		dim:      dimension,
		strategy: strategy,
		log:      logger.With().Str("component", "clustering").Logger(),
	}
}

// Cluster delegates to the configured strategy.
func (e *Engine) Cluster(ctx context.Context, chunks []*model.ContentChunk) []*model.ContentCluster {
	return e.strategy.Cluster(ctx, chunks)
}

// UpdateWithNewChunks assigns each new chunk to the existing cluster whose
// centroid it most resembles, provided the similarity clears the threshold.
// Touched clusters get their centroid and metadata recomputed. Chunks that
// match no cluster are returned unassigned.
func (e *Engine) UpdateWithNewChunks(newChunks []*model.ContentChunk, existing []*model.ContentCluster) (updated []*model.ContentCluster, unassigned []*model.ContentChunk) {
	touched := make(map[string]bool)

	for _, chunk := range newChunks {
		if !chunk.HasEmbedding() {
			unassigned = append(unassigned, chunk)
			continue
		}

		var best *model.ContentCluster
		bestSim := e.cfg.Threshold
		for _, cluster := range existing {
			if e.cfg.MaxClusterSize > 0 && len(cluster.Members) >= e.cfg.MaxClusterSize {
				continue
			}
			sim := embedding.Cosine(chunk.Embedding, cluster.Centroid)
			if sim >= bestSim {
				bestSim = sim
				best = cluster
			}
		}
		if best == nil {
			unassigned = append(unassigned, chunk)
			continue
		}

		chunk.ClusterID = best.ID
		best.Members = append(best.Members, chunk)
		touched[best.ID] = true
	}

	for _, cluster := range existing {
		if touched[cluster.ID] {
			refreshCluster(cluster, e.dim)
		}
	}
	return existing, unassigned
}

// CreateFromUnassigned re-invokes the base strategy over leftover chunks.
func (e *Engine) CreateFromUnassigned(ctx context.Context, unassigned []*model.ContentChunk) []*model.ContentCluster {
	return e.strategy.Cluster(ctx, unassigned)
}

// MergeSimilar repeatedly merges the cluster pair with the most similar
// centroids until no pair clears the threshold.
func (e *Engine) MergeSimilar(clusters []*model.ContentCluster) []*model.ContentCluster {
	return mergeByCentroid(clusters, e.cfg.Threshold, e.cfg.MaxClusterSize, e.dim)
}

// EvaluateQuality reports silhouette-style separation, mean coherence and
// size statistics for a clustering result.
func (e *Engine) EvaluateQuality(clusters []*model.ContentCluster) QualityMetrics {
	metrics := QualityMetrics{ClusterCount: len(clusters)}
	if len(clusters) == 0 {
		return metrics
	}

	var coherenceSum float64
	var sizeSum int
	metrics.MinSize = len(clusters[0].Members)
	for _, cluster := range clusters {
		coherenceSum += cluster.Metadata.Coherence
		size := len(cluster.Members)
		sizeSum += size
		if size < metrics.MinSize {
			metrics.MinSize = size
		}
		if size > metrics.MaxSize {
			metrics.MaxSize = size
		}
	}
	metrics.MeanCoherence = coherenceSum / float64(len(clusters))
	metrics.MeanSize = float64(sizeSum) / float64(len(clusters))

	// Separation: intra-cluster coherence against the mean inter-centroid
	// similarity, in the spirit of a silhouette score. Higher is better.
	if len(clusters) > 1 {
		var interSum float64
		var pairs int
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				interSum += embedding.Cosine(clusters[i].Centroid, clusters[j].Centroid)
				pairs++
			}
		}
		metrics.Separation = metrics.MeanCoherence - interSum/float64(pairs)
	} else {
		metrics.Separation = metrics.MeanCoherence
	}
	return metrics
}

// newCluster builds a fully-populated cluster from member chunks and marks
// each member as owned by it.
func newCluster(members []*model.ContentChunk, dim int) *model.ContentCluster {
	now := time.Now()
	cluster := &model.ContentCluster{
		ID:        uuid.NewString(),
		Members:   members,
		CreatedAt: now,
		UpdatedAt: now,
	}
	refreshCluster(cluster, dim)
	for _, m := range members {
		m.ClusterID = cluster.ID
	}
	return cluster
}

// refreshCluster recomputes the centroid and metadata after any membership
// change.
func refreshCluster(cluster *model.ContentCluster, dim int) {
	cluster.UpdatedAt = time.Now()

	vectors := make([][]float32, 0, len(cluster.Members))
	for _, m := range cluster.Members {
		if m.HasEmbedding() {
			vectors = append(vectors, m.Embedding)
		}
	}
	cluster.Centroid = embedding.Centroid(vectors, dim)
	cluster.Metadata = buildMetadata(cluster.Members, coherence(vectors))
}

// coherence is the mean pairwise cosine similarity among member embeddings.
// Degenerate inputs get fixed values: 1.0 for a single vector, 0.5 when fewer
// than two embeddings are available.
func coherence(vectors [][]float32) float64 {
	if len(vectors) == 1 {
		return 1.0
	}
	if len(vectors) < 2 {
		return 0.5
	}

	var sum float64
	var pairs int
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			sum += embedding.Cosine(vectors[i], vectors[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

func buildMetadata(members []*model.ContentChunk, coherenceScore float64) model.ClusterMetadata {
	meta := model.ClusterMetadata{
		Coherence:   coherenceScore,
		MemberCount: len(members),
	}
	if len(members) == 0 {
		return meta
	}

	tickerCounts := make(map[string]int)
	topicSet := make(map[string]bool)
	typeSet := make(map[model.SourceType]bool)
	meta.EarliestMember = members[0].Metadata.Timestamp
	meta.LatestMember = members[0].Metadata.Timestamp

	for _, m := range members {
		if m.Metadata.Ticker != "" {
			tickerCounts[m.Metadata.Ticker]++
		}
		if m.Metadata.Topic != "" {
			topicSet[m.Metadata.Topic] = true
		}
		typeSet[m.Metadata.SourceType] = true

		if m.Metadata.Timestamp.Before(meta.EarliestMember) {
			meta.EarliestMember = m.Metadata.Timestamp
		}
		if m.Metadata.Timestamp.After(meta.LatestMember) {
			meta.LatestMember = m.Metadata.Timestamp
		}
	}

	bestCount := 0
	for ticker, count := range tickerCounts {
		if count > bestCount || (count == bestCount && ticker < meta.PrimaryTicker) {
			meta.PrimaryTicker = ticker
			bestCount = count
		}
	}

	for topic := range topicSet {
		meta.Topics = append(meta.Topics, topic)
	}
	sort.Strings(meta.Topics)

	for st := range typeSet {
		meta.SourceTypes = append(meta.SourceTypes, st)
	}
	sort.Slice(meta.SourceTypes, func(i, j int) bool { return meta.SourceTypes[i] < meta.SourceTypes[j] })

	return meta
}

// mergeByCentroid merges cluster pairs whose centroid similarity clears the
// threshold, repeating until no pair qualifies. Pairs whose combined
// membership would exceed maxSize are left apart.
func mergeByCentroid(clusters []*model.ContentCluster, threshold float64, maxSize, dim int) []*model.ContentCluster {
	for {
		merged := false
		for i := 0; i < len(clusters) && !merged; i++ {
			for j := i + 1; j < len(clusters); j++ {
				if maxSize > 0 && len(clusters[i].Members)+len(clusters[j].Members) > maxSize {
					continue
				}
				if embedding.Cosine(clusters[i].Centroid, clusters[j].Centroid) < threshold {
					continue
				}
				absorb(clusters[i], clusters[j], dim)
				clusters = append(clusters[:j], clusters[j+1:]...)
				merged = true
				break
			}
		}
		if !merged {
			return clusters
		}
	}
}

func absorb(dst, src *model.ContentCluster, dim int) {
	for _, m := range src.Members {
		m.ClusterID = dst.ID
	}
	dst.Members = append(dst.Members, src.Members...)
	refreshCluster(dst, dim)
}

// releaseMembers detaches every member of a disbanded cluster.
func releaseMembers(cluster *model.ContentCluster) []*model.ContentChunk {
	for _, m := range cluster.Members {
		m.ClusterID = ""
	}
	return cluster.Members
}
