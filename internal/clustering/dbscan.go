package clustering

import (
	"context"

	"github.com/rs/zerolog"

	"newsmesh/internal/config"
	"newsmesh/internal/embedding"
	"newsmesh/internal/model"
)

const noiseLabel = -1

// DensityStrategy clusters chunks with a DBSCAN scan over cosine distance
// between embeddings. Chunks labeled noise stay unassigned.
type DensityStrategy struct {
	cfg config.ClusteringConfig
	dim int
	log zerolog.Logger
}

// NewDensityStrategy constructs the density-based strategy.
func NewDensityStrategy(cfg config.ClusteringConfig, dimension int, logger zerolog.Logger) *DensityStrategy {
	return &DensityStrategy{
		cfg: cfg,
		dim: dimension,
		log: logger.With().Str("component", "clustering").Str("strategy", "density").Logger(),
	}
}

// Cluster runs DBSCAN with eps = 1 - threshold and minPts = MinClusterSize.
// Groups below MinClusterSize are discarded; groups above MaxClusterSize are
// flagged and excluded from the output rather than silently accepted.
func (s *DensityStrategy) Cluster(_ context.Context, chunks []*model.ContentChunk) []*model.ContentCluster {
	embedded := make([]*model.ContentChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.HasEmbedding() {
			embedded = append(embedded, c)
		}
	}
	if len(embedded) < s.cfg.MinClusterSize {
		return nil
	}

	eps := 1.0 - s.cfg.Threshold
	labels := dbscan(embedded, eps, s.cfg.MinClusterSize)

	groups := make(map[int][]*model.ContentChunk)
	for i, label := range labels {
		if label == noiseLabel {
			continue
		}
		groups[label] = append(groups[label], embedded[i])
	}

	var clusters []*model.ContentCluster
	for _, members := range groups {
		if len(members) < s.cfg.MinClusterSize {
			continue
		}
		if len(members) > s.cfg.MaxClusterSize {
			s.log.Warn().Int("size", len(members)).Int("max", s.cfg.MaxClusterSize).
				Msg("oversized group excluded, candidate for splitting")
			continue
		}
		clusters = append(clusters, newCluster(members, s.dim))
	}

	s.log.Debug().Int("chunks", len(embedded)).Int("clusters", len(clusters)).Msg("density clustering complete")
	return clusters
}

// dbscan labels each chunk with a cluster index or noiseLabel. Distance is
// cosine distance (1 - similarity).
func dbscan(chunks []*model.ContentChunk, eps float64, minPts int) []int {
	const unvisited = -2

	n := len(chunks)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	neighborsOf := func(idx int) []int {
		var neighbors []int
		for j := 0; j < n; j++ {
			if j == idx {
				continue
			}
			if 1.0-embedding.Cosine(chunks[idx].Embedding, chunks[j].Embedding) <= eps {
				neighbors = append(neighbors, j)
			}
		}
		return neighbors
	}

	clusterID := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}

		neighbors := neighborsOf(i)
		if len(neighbors)+1 < minPts {
			labels[i] = noiseLabel
			continue
		}

		labels[i] = clusterID
		// Expand the cluster by walking the seed set; border points absorbed
		// from noise do not grow it further.
		seeds := append([]int{}, neighbors...)
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] == noiseLabel {
				labels[j] = clusterID
				continue
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = clusterID

			jNeighbors := neighborsOf(j)
			if len(jNeighbors)+1 >= minPts {
				seeds = append(seeds, jNeighbors...)
			}
		}
		clusterID++
	}
	return labels
}
