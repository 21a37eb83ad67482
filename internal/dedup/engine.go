// Package dedup removes near-duplicate chunks through a staged funnel of
// equality and similarity checks.
package dedup

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"newsmesh/internal/config"
	"newsmesh/internal/embedding"
	"newsmesh/internal/model"
	"newsmesh/internal/textutil"
)

// Engine applies five detection stages in order: exact URL, fuzzy title,
// exact content hash, semantic similarity, fuzzy content. When two chunks are
// judged duplicates exactly one survives, chosen by quality score.
type Engine struct {
	cfg config.DedupConfig
	log zerolog.Logger
}

// New constructs an Engine.
func New(cfg config.DedupConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg: cfg,
		log: logger.With().Str("component", "dedup").Logger(),
	}
}

// Deduplicate runs the full funnel and returns the surviving chunks.
// Re-running it on its own output is a no-op.
func (e *Engine) Deduplicate(chunks []*model.ContentChunk) []*model.ContentChunk {
	if len(chunks) <= 1 {
		return chunks
	}
	before := len(chunks)

	chunks = e.dedupeByURL(chunks)
	chunks = e.dedupeByTitle(chunks)
	chunks = e.dedupeByContentHash(chunks)
	chunks = e.dedupeBySemantic(chunks)
	chunks = e.dedupeByFuzzyContent(chunks)

	if removed := before - len(chunks); removed > 0 {
		e.log.Info().Int("in", before).Int("removed", removed).Msg("deduplication complete")
	}
	return chunks
}

// FindDuplicatesAgainstExisting partitions newChunks into those unseen before
// and those duplicating a member of existingChunks, reusing the same checks
// pairwise. Used for cross-batch dedup during streaming ingestion.
func (e *Engine) FindDuplicatesAgainstExisting(newChunks, existingChunks []*model.ContentChunk) (unique, duplicates []*model.ContentChunk) {
	for _, candidate := range newChunks {
		isDup := false
		for _, existing := range existingChunks {
			if e.isDuplicatePair(candidate, existing) {
				isDup = true
				break
			}
		}
		if isDup {
			duplicates = append(duplicates, candidate)
		} else {
			unique = append(unique, candidate)
		}
	}
	return unique, duplicates
}

func (e *Engine) isDuplicatePair(a, b *model.ContentChunk) bool {
	if a.Metadata.URL != "" && a.Metadata.URL == b.Metadata.URL {
		return true
	}
	if textutil.TokenSortRatio(textutil.NormalizeTitle(a.Metadata.Title), textutil.NormalizeTitle(b.Metadata.Title)) >= e.cfg.TitleRatioThreshold {
		return true
	}
	if model.ContentHash(a.Content) == model.ContentHash(b.Content) {
		return true
	}
	if a.HasEmbedding() && b.HasEmbedding() &&
		embedding.Cosine(a.Embedding, b.Embedding) >= e.cfg.SimilarityThreshold {
		return true
	}
	return textutil.Ratio(a.Content, b.Content) >= e.cfg.FuzzyRatioThreshold
}

// Stage 1: exact canonical-URL match.
func (e *Engine) dedupeByURL(chunks []*model.ContentChunk) []*model.ContentChunk {
	groups := make(map[string][]*model.ContentChunk)
	var order []string
	for _, c := range chunks {
		key := c.Metadata.URL
		if key == "" {
			key = c.ID
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}

	out := make([]*model.ContentChunk, 0, len(order))
	for _, key := range order {
		out = append(out, e.selectBest(groups[key]))
	}
	return out
}

// Stage 2: normalized-title fuzzy match grouping.
func (e *Engine) dedupeByTitle(chunks []*model.ContentChunk) []*model.ContentChunk {
	titles := make([]string, len(chunks))
	for i, c := range chunks {
		titles[i] = textutil.NormalizeTitle(c.Metadata.Title)
	}

	removed := make([]bool, len(chunks))
	var out []*model.ContentChunk
	for i := range chunks {
		if removed[i] {
			continue
		}
		group := []*model.ContentChunk{chunks[i]}
		for j := i + 1; j < len(chunks); j++ {
			if removed[j] {
				continue
			}
			if textutil.TokenSortRatio(titles[i], titles[j]) >= e.cfg.TitleRatioThreshold {
				group = append(group, chunks[j])
				removed[j] = true
			}
		}
		removed[i] = true
		out = append(out, e.selectBest(group))
	}
	return out
}

// Stage 3: exact content-hash match.
func (e *Engine) dedupeByContentHash(chunks []*model.ContentChunk) []*model.ContentChunk {
	groups := make(map[string][]*model.ContentChunk)
	var order []string
	for _, c := range chunks {
		key := model.ContentHash(c.Content)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}

	out := make([]*model.ContentChunk, 0, len(order))
	for _, key := range order {
		out = append(out, e.selectBest(groups[key]))
	}
	return out
}

// Stage 4: semantic similarity on embeddings. Chunks without a usable
// embedding skip this stage entirely. The pairwise scan marks losers as
// removed so no pair is compared twice.
func (e *Engine) dedupeBySemantic(chunks []*model.ContentChunk) []*model.ContentChunk {
	removed := make([]bool, len(chunks))
	var out []*model.ContentChunk

	for i := range chunks {
		if removed[i] {
			continue
		}
		if !chunks[i].HasEmbedding() {
			out = append(out, chunks[i])
			continue
		}

		group := []*model.ContentChunk{chunks[i]}
		for j := i + 1; j < len(chunks); j++ {
			if removed[j] || !chunks[j].HasEmbedding() {
				continue
			}
			if embedding.Cosine(chunks[i].Embedding, chunks[j].Embedding) >= e.cfg.SimilarityThreshold {
				group = append(group, chunks[j])
				removed[j] = true
			}
		}
		out = append(out, e.selectBest(group))
	}
	return out
}

// Stage 5: fuzzy content-string match on whatever remains.
func (e *Engine) dedupeByFuzzyContent(chunks []*model.ContentChunk) []*model.ContentChunk {
	removed := make([]bool, len(chunks))
	var out []*model.ContentChunk

	for i := range chunks {
		if removed[i] {
			continue
		}
		group := []*model.ContentChunk{chunks[i]}
		for j := i + 1; j < len(chunks); j++ {
			if removed[j] {
				continue
			}
			if textutil.Ratio(chunks[i].Content, chunks[j].Content) >= e.cfg.FuzzyRatioThreshold {
				group = append(group, chunks[j])
				removed[j] = true
			}
		}
		out = append(out, e.selectBest(group))
	}
	return out
}

// selectBest retains the highest-quality chunk of a duplicate group. Ties
// break toward the earlier-created chunk.
func (e *Engine) selectBest(group []*model.ContentChunk) *model.ContentChunk {
	now := time.Now()
	best := group[0]
	bestScore := QualityScore(best, now)
	for _, c := range group[1:] {
		score := QualityScore(c, now)
		if score > bestScore || (score == bestScore && c.CreatedAt.Before(best.CreatedAt)) {
			best = c
			bestScore = score
		}
	}
	return best
}

// QualityScore ranks duplicate candidates deterministically:
// reliability, content length, recency, well-sized title, author and image
// presence, in descending weight.
func QualityScore(c *model.ContentChunk, now time.Time) float64 {
	score := 0.4 * c.Metadata.ReliabilityScore

	lengthFactor := float64(len(c.Content)) / 1000.0
	if lengthFactor > 1 {
		lengthFactor = 1
	}
	score += 0.2 * lengthFactor

	ageHours := now.Sub(c.Metadata.Timestamp).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	score += 0.2 * math.Exp(-ageHours/24.0)

	if titleLen := len(c.Metadata.Title); titleLen > 10 && titleLen < 200 {
		score += 0.1
	}
	if c.Metadata.Author != "" {
		score += 0.05
	}
	if len(c.Metadata.ImageURLs) > 0 {
		score += 0.05
	}
	return score
}
