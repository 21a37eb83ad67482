// Package aggregator orchestrates the full pipeline: preprocess, embed,
// deduplicate, cluster, score, summarize, persist. It never propagates a raw
// fault to its caller; every run yields a well-formed AggregatorOutput.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"newsmesh/internal/clustering"
	"newsmesh/internal/config"
	"newsmesh/internal/dedup"
	"newsmesh/internal/embedding"
	"newsmesh/internal/llm"
	"newsmesh/internal/model"
	"newsmesh/internal/preprocess"
	"newsmesh/internal/scoring"
	"newsmesh/internal/store"
)

// maxDurationHistory bounds the per-call duration history kept for
// observability.
const maxDurationHistory = 50

// summarizeConcurrency bounds parallel summarization calls.
const summarizeConcurrency = 4

// storeSearchResults is how many vector-search hits are requested per chunk
// during cross-run dedup.
const storeSearchResults = 5

// Deps wires all collaborators into the agent. Store, Bloom and Archiver are
// optional; a nil value degrades the corresponding capability.
type Deps struct {
	Preprocessor *preprocess.Preprocessor
	Embedder     *embedding.Manager
	Deduper      *dedup.Engine
	Clusterer    *clustering.Engine
	Scorer       *scoring.Scorer
	Summarizer   llm.Summarizer
	Store        store.VectorStore
	Bloom        *store.Bloom
	Archiver     *store.Archiver
}

// Agent drives the staged aggregation pipeline.
type Agent struct {
	deps Deps
	cfg  config.AggregatorConfig
	win  config.DedupConfig
	log  zerolog.Logger

	mu             sync.Mutex
	itemsProcessed int
	clustersMade   int
	durations      []time.Duration
}

// New constructs an Agent.
func New(deps Deps, cfg config.AggregatorConfig, dedupCfg config.DedupConfig, logger zerolog.Logger) *Agent {
	return &Agent{
		deps: deps,
		cfg:  cfg,
		win:  dedupCfg,
		log:  logger.With().Str("component", "aggregator").Logger(),
	}
}

// RunBatch executes the full pipeline over a batch of raw items. Any panic or
// stage failure is converted into an error output; a stage yielding zero
// items short-circuits into an empty output carrying the reason.
func (a *Agent) RunBatch(ctx context.Context, items []model.RawItem, prefs *model.UserPreferences) (output *model.AggregatorOutput) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("pipeline stage panicked")
			output = a.errorOutput(started, len(items), fmt.Sprintf("pipeline panic: %v", r))
		}
		a.record(output)
	}()

	if len(items) == 0 {
		return a.emptyOutput(started, 0, "no raw items supplied")
	}

	// Stage 1: preprocess per category group.
	chunks := a.preprocessStage(items)
	if len(chunks) == 0 {
		return a.emptyOutput(started, len(items), "no chunks survived preprocessing")
	}

	// Stage 2: embed.
	a.deps.Embedder.EmbedChunks(ctx, chunks)

	// Stage 3: dedup, cross-run first when a store is available.
	chunks, removed := a.dedupStage(ctx, chunks)
	if len(chunks) == 0 {
		return a.emptyOutput(started, len(items), "all chunks were duplicates")
	}

	// Stage 4: cluster.
	clusters := a.deps.Clusterer.Cluster(ctx, chunks)
	if len(clusters) == 0 {
		return a.emptyOutput(started, len(items), "no clusters formed")
	}

	// Stage 5: score, rank, truncate.
	ranked := a.deps.Scorer.Rank(clusters, prefs)
	if len(ranked) > a.cfg.MaxClustersOutput {
		ranked = ranked[:a.cfg.MaxClustersOutput]
	}

	// Stage 6: summarize, bounded concurrency, fallback on failure.
	summarized := a.summarizeStage(ctx, ranked)

	output = &model.AggregatorOutput{
		Clusters: ranked,
		Stats: model.ProcessingStats{
			StartedAt:         started,
			Duration:          time.Since(started),
			ItemsIn:           len(items),
			ChunksProcessed:   len(chunks),
			DuplicatesRemoved: removed,
			ClustersFormed:    len(clusters),
			ClustersScored:    len(ranked),
			Summarized:        summarized,
		},
	}

	// Stage 7: persist, best effort.
	a.persistStage(ctx, chunks, output)

	a.log.Info().
		Int("items", len(items)).
		Int("chunks", len(chunks)).
		Int("duplicates", removed).
		Int("clusters", len(ranked)).
		Dur("duration", output.Stats.Duration).
		Msg("batch run complete")
	return output
}

// RunBatchAsync runs RunBatch on its own goroutine and delivers the result on
// the returned channel.
func (a *Agent) RunBatchAsync(ctx context.Context, items []model.RawItem, prefs *model.UserPreferences) <-chan *model.AggregatorOutput {
	result := make(chan *model.AggregatorOutput, 1)
	go func() {
		result <- a.RunBatch(ctx, items, prefs)
		close(result)
	}()
	return result
}

// RunIncremental folds already-preprocessed chunks into existing clusters:
// assignment by centroid similarity, fresh clustering of the leftovers, a
// merge pass, then re-ranking.
func (a *Agent) RunIncremental(ctx context.Context, newChunks []*model.ContentChunk, existing []*model.ContentCluster, prefs *model.UserPreferences) (output *model.AggregatorOutput) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("incremental stage panicked")
			output = a.errorOutput(started, len(newChunks), fmt.Sprintf("pipeline panic: %v", r))
		}
		a.record(output)
	}()

	if len(newChunks) == 0 {
		return a.emptyOutput(started, 0, "no new chunks supplied")
	}

	for _, c := range newChunks {
		if !c.HasEmbedding() {
			a.deps.Embedder.EmbedChunks(ctx, newChunks)
			break
		}
	}

	newChunks = a.deps.Deduper.Deduplicate(newChunks)

	updated, unassigned := a.deps.Clusterer.UpdateWithNewChunks(newChunks, existing)
	if len(unassigned) > 0 {
		updated = append(updated, a.deps.Clusterer.CreateFromUnassigned(ctx, unassigned)...)
	}
	updated = a.deps.Clusterer.MergeSimilar(updated)
	if len(updated) == 0 {
		return a.emptyOutput(started, len(newChunks), "no clusters after incremental update")
	}

	ranked := a.deps.Scorer.Rank(updated, prefs)
	if len(ranked) > a.cfg.MaxClustersOutput {
		ranked = ranked[:a.cfg.MaxClustersOutput]
	}
	summarized := a.summarizeStage(ctx, ranked)

	output = &model.AggregatorOutput{
		Clusters: ranked,
		Stats: model.ProcessingStats{
			StartedAt:       started,
			Duration:        time.Since(started),
			ItemsIn:         len(newChunks),
			ChunksProcessed: len(newChunks),
			ClustersFormed:  len(updated),
			ClustersScored:  len(ranked),
			Summarized:      summarized,
		},
	}
	return output
}

// Totals reports the running counters: items processed, clusters created and
// the recent per-call durations.
func (a *Agent) Totals() (items, clusters int, durations []time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.itemsProcessed, a.clustersMade, append([]time.Duration{}, a.durations...)
}

func (a *Agent) preprocessStage(items []model.RawItem) []*model.ContentChunk {
	byCategory := make(map[string][]model.RawItem)
	var order []string
	for _, item := range items {
		if _, seen := byCategory[item.Category]; !seen {
			order = append(order, item.Category)
		}
		byCategory[item.Category] = append(byCategory[item.Category], item)
	}

	var chunks []*model.ContentChunk
	for _, category := range order {
		chunks = append(chunks, a.deps.Preprocessor.ProcessBatch(byCategory[category], category)...)
	}
	return chunks
}

func (a *Agent) dedupStage(ctx context.Context, chunks []*model.ContentChunk) ([]*model.ContentChunk, int) {
	before := len(chunks)

	// Bloom fast path: drop chunks whose identity hash was seen recently.
	if a.deps.Bloom != nil {
		var kept []*model.ContentChunk
		for _, c := range chunks {
			seen, err := a.deps.Bloom.Exists(ctx, store.IdentityHash(c.Metadata.URL, c.Metadata.Title))
			if err != nil {
				a.log.Warn().Err(err).Msg("bloom check failed, keeping chunk")
				kept = append(kept, c)
				continue
			}
			if !seen {
				kept = append(kept, c)
			}
		}
		chunks = kept
	}

	// Cross-run dedup against recently stored chunks.
	if a.deps.Store != nil && len(chunks) > 0 {
		since := time.Now().Add(-time.Duration(a.win.RecentWindowHours) * time.Hour)
		recent, err := a.deps.Store.RecentChunks(ctx, since, 1000)
		if err != nil {
			a.log.Warn().Err(err).Msg("recent-chunk retrieval failed, skipping cross-run dedup")
		} else if len(recent) > 0 {
			unique, dups := a.deps.Deduper.FindDuplicatesAgainstExisting(chunks, recent)
			if len(dups) > 0 {
				a.log.Debug().Int("cross_run_duplicates", len(dups)).Msg("dropped cross-run duplicates")
			}
			chunks = unique
		}
	}

	// Vector-search path: semantic duplicates anywhere in the store, not just
	// the recent window. The batch's own ids are excluded so a chunk never
	// matches itself once persisted.
	if a.deps.Store != nil && len(chunks) > 0 {
		batchIDs := make([]string, len(chunks))
		for i, c := range chunks {
			batchIDs[i] = c.ID
		}

		var kept []*model.ContentChunk
		for _, c := range chunks {
			if !c.HasEmbedding() {
				kept = append(kept, c)
				continue
			}
			hits, err := a.deps.Store.QuerySimilar(ctx, c.Embedding, storeSearchResults, a.win.SimilarityThreshold, batchIDs)
			if err != nil {
				a.log.Warn().Err(err).Msg("vector search failed, keeping chunk")
				kept = append(kept, c)
				continue
			}
			if len(hits) > 0 {
				a.log.Debug().Str("chunk", c.ID).Str("match", hits[0].ID).
					Float64("similarity", hits[0].Similarity).Msg("dropping stored duplicate")
				continue
			}
			kept = append(kept, c)
		}
		chunks = kept
	}

	chunks = a.deps.Deduper.Deduplicate(chunks)
	return chunks, before - len(chunks)
}

// summarizeStage attaches a summary to every cluster, degrading to the
// heuristic fallback per cluster on summarizer failure. Returns the number of
// externally generated summaries.
func (a *Agent) summarizeStage(ctx context.Context, clusters []*model.ContentCluster) int {
	if a.deps.Summarizer == nil {
		for _, cluster := range clusters {
			cluster.Summary = llm.FallbackSummary(cluster)
		}
		return 0
	}

	sem := semaphore.NewWeighted(summarizeConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	generated := 0

	for _, cluster := range clusters {
		cluster := cluster
		if err := sem.Acquire(ctx, 1); err != nil {
			cluster.Summary = llm.FallbackSummary(cluster)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			summary, err := a.deps.Summarizer.Summarize(ctx, cluster)
			if err != nil {
				a.log.Warn().Err(err).Str("cluster", cluster.ID).Msg("summarizer failed, using fallback")
				cluster.Summary = llm.FallbackSummary(cluster)
				return
			}
			cluster.Summary = summary
			mu.Lock()
			generated++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return generated
}

func (a *Agent) persistStage(ctx context.Context, chunks []*model.ContentChunk, output *model.AggregatorOutput) {
	if a.deps.Store != nil {
		if err := a.deps.Store.AddChunks(ctx, chunks); err != nil {
			a.log.Warn().Err(err).Msg("chunk persistence failed")
		}
	}
	if a.deps.Bloom != nil {
		for _, c := range chunks {
			if err := a.deps.Bloom.Add(ctx, store.IdentityHash(c.Metadata.URL, c.Metadata.Title)); err != nil {
				a.log.Warn().Err(err).Msg("bloom add failed")
				break
			}
		}
	}
	if a.deps.Archiver != nil {
		if err := a.deps.Archiver.ArchiveOutput(ctx, output); err != nil {
			a.log.Warn().Err(err).Msg("output archive failed")
		}
	}
}

func (a *Agent) emptyOutput(started time.Time, itemsIn int, reason string) *model.AggregatorOutput {
	a.log.Info().Str("reason", reason).Msg("run short-circuited")
	return &model.AggregatorOutput{
		Clusters: []*model.ContentCluster{},
		Stats: model.ProcessingStats{
			StartedAt:   started,
			Duration:    time.Since(started),
			ItemsIn:     itemsIn,
			EmptyReason: reason,
		},
	}
}

func (a *Agent) errorOutput(started time.Time, itemsIn int, message string) *model.AggregatorOutput {
	return &model.AggregatorOutput{
		Clusters: []*model.ContentCluster{},
		Stats: model.ProcessingStats{
			StartedAt: started,
			Duration:  time.Since(started),
			ItemsIn:   itemsIn,
			Error:     message,
		},
	}
}

func (a *Agent) record(output *model.AggregatorOutput) {
	if output == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.itemsProcessed += output.Stats.ItemsIn
	a.clustersMade += len(output.Clusters)
	a.durations = append(a.durations, output.Stats.Duration)
	if len(a.durations) > maxDurationHistory {
		a.durations = a.durations[len(a.durations)-maxDurationHistory:]
	}
}
