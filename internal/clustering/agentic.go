package clustering

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"newsmesh/internal/config"
	"newsmesh/internal/embedding"
	"newsmesh/internal/model"
)

// Judge renders an external verdict on a proposed cluster from a compact
// textual description. The returned text may signal refinement with the
// phrases "too large", "too small", "diverse topics" or "refine".
type Judge interface {
	JudgeCluster(ctx context.Context, description string) (string, error)
}

// evaluation is the per-cluster outcome of the Evaluate phase.
type evaluation struct {
	needsRefinement bool
	tooLarge        bool
	tooSmall        bool
	diverseTopics   bool
}

// AgenticStrategy clusters through a bounded Propose -> Evaluate -> Refine ->
// Merge loop that consults an injected Judge.
type AgenticStrategy struct {
	cfg   config.ClusteringConfig
	dim   int
	judge Judge
	log   zerolog.Logger
}

// NewAgenticStrategy constructs the agentic strategy.
func NewAgenticStrategy(cfg config.ClusteringConfig, dimension int, judge Judge, logger zerolog.Logger) *AgenticStrategy {
	return &AgenticStrategy{
		cfg:   cfg,
		dim:   dimension,
		judge: judge,
		log:   logger.With().Str("component", "clustering").Str("strategy", "agentic").Logger(),
	}
}

// Cluster runs the refinement state machine. It terminates when no cluster is
// flagged for refinement or MaxIterations is reached; chunks still unassigned
// at termination are excluded from the output.
func (s *AgenticStrategy) Cluster(ctx context.Context, chunks []*model.ContentChunk) []*model.ContentCluster {
	unassigned := make([]*model.ContentChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.HasEmbedding() {
			unassigned = append(unassigned, c)
		}
	}

	var clusters []*model.ContentCluster
	for iteration := 0; iteration < s.cfg.MaxIterations; iteration++ {
		var proposed []*model.ContentCluster
		proposed, unassigned = s.propose(unassigned)
		clusters = append(clusters, proposed...)

		evaluations := s.evaluate(ctx, clusters)

		flagged := 0
		for _, ev := range evaluations {
			if ev.needsRefinement {
				flagged++
			}
		}
		s.log.Debug().Int("iteration", iteration+1).Int("clusters", len(clusters)).
			Int("flagged", flagged).Msg("evaluation pass complete")
		if flagged == 0 {
			break
		}

		clusters, unassigned = s.refine(clusters, evaluations, unassigned)
		clusters = mergeByCentroid(clusters, s.cfg.GroupingThreshold, s.cfg.MaxClusterSize, s.dim)
	}
	return clusters
}

// propose greedily seeds groups from unassigned chunks whose pairwise
// similarity to the seed clears the grouping threshold. Groups below
// MinClusterSize return to the unassigned pool.
func (s *AgenticStrategy) propose(unassigned []*model.ContentChunk) ([]*model.ContentCluster, []*model.ContentChunk) {
	taken := make([]bool, len(unassigned))
	var clusters []*model.ContentCluster
	var leftover []*model.ContentChunk

	for i := range unassigned {
		if taken[i] {
			continue
		}
		taken[i] = true
		group := []*model.ContentChunk{unassigned[i]}

		for j := i + 1; j < len(unassigned); j++ {
			if taken[j] {
				continue
			}
			if embedding.Cosine(unassigned[i].Embedding, unassigned[j].Embedding) >= s.cfg.GroupingThreshold {
				group = append(group, unassigned[j])
				taken[j] = true
			}
		}

		if len(group) < s.cfg.MinClusterSize {
			for _, c := range group {
				c.ClusterID = ""
			}
			leftover = append(leftover, group...)
			continue
		}
		clusters = append(clusters, newCluster(group, s.dim))
	}
	return clusters, leftover
}

// evaluate computes each cluster's coherence and consults the judge with a
// compact description. Judge failure is treated as no refinement signal so
// clustering never fails on an LLM outage.
func (s *AgenticStrategy) evaluate(ctx context.Context, clusters []*model.ContentCluster) []evaluation {
	evaluations := make([]evaluation, len(clusters))
	for i, cluster := range clusters {
		ev := evaluation{}

		if len(cluster.Members) > s.cfg.MaxClusterSize {
			ev.tooLarge = true
			ev.needsRefinement = true
		}
		if len(cluster.Members) < s.cfg.MinClusterSize {
			ev.tooSmall = true
			ev.needsRefinement = true
		}
		if cluster.Metadata.Coherence < s.cfg.CoherenceFloor {
			ev.diverseTopics = true
			ev.needsRefinement = true
		}

		if s.judge != nil {
			verdict, err := s.judge.JudgeCluster(ctx, DescribeCluster(cluster))
			if err != nil {
				s.log.Warn().Err(err).Str("cluster", cluster.ID).Msg("judge unavailable, keeping cluster as-is")
			} else {
				lower := strings.ToLower(verdict)
				if strings.Contains(lower, "too large") {
					ev.tooLarge = true
					ev.needsRefinement = true
				}
				if strings.Contains(lower, "too small") {
					ev.tooSmall = true
					ev.needsRefinement = true
				}
				if strings.Contains(lower, "diverse topics") {
					ev.diverseTopics = true
					ev.needsRefinement = true
				}
				if strings.Contains(lower, "refine") {
					ev.needsRefinement = true
				}
			}
		}
		evaluations[i] = ev
	}
	return evaluations
}

// refine applies per-cluster corrections. Oversized and undersized clusters
// are disbanded back to the unassigned pool; the next propose pass regroups
// their members. Diverse clusters have their least-central members peeled
// off. Any other flagged cluster passes through unchanged.
func (s *AgenticStrategy) refine(clusters []*model.ContentCluster, evaluations []evaluation, unassigned []*model.ContentChunk) ([]*model.ContentCluster, []*model.ContentChunk) {
	var kept []*model.ContentCluster

	for i, cluster := range clusters {
		ev := evaluations[i]
		if !ev.needsRefinement {
			kept = append(kept, cluster)
			continue
		}

		switch {
		case ev.tooLarge, ev.tooSmall:
			unassigned = append(unassigned, releaseMembers(cluster)...)
		case ev.diverseTopics:
			var core []*model.ContentChunk
			for _, m := range cluster.Members {
				if embedding.Cosine(m.Embedding, cluster.Centroid) >= s.cfg.GroupingThreshold {
					core = append(core, m)
				} else {
					m.ClusterID = ""
					unassigned = append(unassigned, m)
				}
			}
			if len(core) < s.cfg.MinClusterSize {
				for _, m := range core {
					m.ClusterID = ""
				}
				unassigned = append(unassigned, core...)
				continue
			}
			cluster.Members = core
			refreshCluster(cluster, s.dim)
			kept = append(kept, cluster)
		default:
			kept = append(kept, cluster)
		}
	}
	return kept, unassigned
}

// DescribeCluster renders the compact textual description handed to the
// judge: titles, topics, ticker and sample snippets.
func DescribeCluster(cluster *model.ContentCluster) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cluster of %d items (coherence %.2f)\n", len(cluster.Members), cluster.Metadata.Coherence)
	if cluster.Metadata.PrimaryTicker != "" {
		fmt.Fprintf(&b, "Primary ticker: %s\n", cluster.Metadata.PrimaryTicker)
	}
	if len(cluster.Metadata.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(cluster.Metadata.Topics, ", "))
	}

	b.WriteString("Titles:\n")
	for i, m := range cluster.Members {
		if i >= 10 {
			fmt.Fprintf(&b, "  ... and %d more\n", len(cluster.Members)-i)
			break
		}
		fmt.Fprintf(&b, "  - %s\n", m.Metadata.Title)
	}

	b.WriteString("Sample snippets:\n")
	for i, m := range cluster.Members {
		if i >= 3 {
			break
		}
		snippet := m.Content
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		fmt.Fprintf(&b, "  %s\n", snippet)
	}
	return b.String()
}
