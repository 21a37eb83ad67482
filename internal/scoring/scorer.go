// Package scoring ranks clusters by a weighted blend of recency, source
// reliability and relevance, with post-weighting adjustments for breaking
// news and source diversity.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"newsmesh/internal/config"
	"newsmesh/internal/model"
	"newsmesh/internal/textutil"
)

// breakingWindow is the member age below which a cluster qualifies as
// breaking regardless of tags or keywords.
const breakingWindow = 30 * time.Minute

var breakingKeywords = []string{"breaking", "urgent", "just in", "alert", "developing story", "live updates"}

// Scorer computes final cluster scores in [0,1]. Construction fails when the
// configured weights do not sum to 1.0.
type Scorer struct {
	cfg config.ScoringConfig
	now func() time.Time
	log zerolog.Logger
}

// NewScorer validates the weights and builds a Scorer.
func NewScorer(cfg config.ScoringConfig, logger zerolog.Logger) (*Scorer, error) {
	sum := cfg.RecencyWeight + cfg.ReliabilityWeight + cfg.RelevanceWeight
	if diff := sum - 1.0; diff > 1e-9 || diff < -1e-9 {
		return nil, fmt.Errorf("scoring weights must sum to 1.0, got %.4f", sum)
	}
	return &Scorer{
		cfg: cfg,
		now: time.Now,
		log: logger.With().Str("component", "scoring").Logger(),
	}, nil
}

// Score computes the final ranking score for one cluster.
func (s *Scorer) Score(cluster *model.ContentCluster, prefs *model.UserPreferences) float64 {
	recency := s.recencyScore(cluster)
	reliability := s.reliabilityScore(cluster)
	relevance := s.relevanceScore(cluster, prefs)

	score := s.cfg.RecencyWeight*recency +
		s.cfg.ReliabilityWeight*reliability +
		s.cfg.RelevanceWeight*relevance

	if s.isBreaking(cluster) {
		score *= s.cfg.BreakingNewsBoost
	}
	score += s.diversityBonus(cluster)

	return clamp01(score)
}

// Rank scores every cluster, stores the score on the cluster, and returns the
// list sorted non-increasing by score.
func (s *Scorer) Rank(clusters []*model.ContentCluster, prefs *model.UserPreferences) []*model.ContentCluster {
	for _, cluster := range clusters {
		cluster.Score = s.Score(cluster, prefs)
	}
	sorted := append([]*model.ContentCluster{}, clusters...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	return sorted
}

// recencyScore decays exponentially with the age of the newest member,
// floored at MaxTimeDecay.
func (s *Scorer) recencyScore(cluster *model.ContentCluster) float64 {
	ageHours := s.now().Sub(cluster.Metadata.LatestMember).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	decayed := math.Exp(-ageHours / s.cfg.TimeDecayHours)
	if decayed < s.cfg.MaxTimeDecay {
		return s.cfg.MaxTimeDecay
	}
	return decayed
}

// reliabilityScore is the mean member reliability plus a small bonus per
// highly reliable member, capped at 1.0.
func (s *Scorer) reliabilityScore(cluster *model.ContentCluster) float64 {
	if len(cluster.Members) == 0 {
		return 0
	}

	var sum float64
	var strong int
	for _, m := range cluster.Members {
		sum += m.Metadata.ReliabilityScore
		if m.Metadata.ReliabilityScore >= 0.8 {
			strong++
		}
	}

	bonus := 0.02 * float64(strong)
	if bonus > 0.1 {
		bonus = 0.1
	}
	return clamp01(sum/float64(len(cluster.Members)) + bonus)
}

func (s *Scorer) relevanceScore(cluster *model.ContentCluster, prefs *model.UserPreferences) float64 {
	if prefs == nil {
		return s.baselineRelevance(cluster)
	}
	return s.preferenceRelevance(cluster, prefs)
}

// baselineRelevance applies fixed boosts with no user signal available.
func (s *Scorer) baselineRelevance(cluster *model.ContentCluster) float64 {
	score := 0.5
	hasBreakingTag := false
	hasFinancial := false
	for _, st := range cluster.Metadata.SourceTypes {
		switch st {
		case model.SourceBreaking:
			hasBreakingTag = true
		case model.SourceFinancial, model.SourceRegulatory:
			hasFinancial = true
		}
	}
	if hasBreakingTag {
		score += 0.2
	}
	if hasFinancial {
		score += 0.1
	}
	if cluster.Metadata.PrimaryTicker != "" {
		score += 0.1
	}
	return clamp01(score)
}

func (s *Scorer) preferenceRelevance(cluster *model.ContentCluster, prefs *model.UserPreferences) float64 {
	var score float64

	for _, ticker := range prefs.Watchlist {
		if strings.EqualFold(ticker, cluster.Metadata.PrimaryTicker) {
			score += 0.5
			break
		}
	}

	if len(prefs.Topics) > 0 && len(cluster.Metadata.Topics) > 0 {
		clusterTopics := make(map[string]bool, len(cluster.Metadata.Topics))
		for _, t := range cluster.Metadata.Topics {
			clusterTopics[strings.ToLower(t)] = true
		}
		matched := 0
		for _, t := range prefs.Topics {
			if clusterTopics[strings.ToLower(t)] {
				matched++
			}
		}
		score += 0.3 * float64(matched) / float64(len(prefs.Topics))
	}

	if len(prefs.Keywords) > 0 {
		// Title hits count double relative to content hits.
		var hits, possible float64
		for _, kw := range prefs.Keywords {
			lower := strings.ToLower(kw)
			possible += 3
			for _, m := range cluster.Members {
				titleHit := strings.Contains(strings.ToLower(m.Metadata.Title), lower)
				contentHit := strings.Contains(strings.ToLower(m.Content), lower)
				if titleHit {
					hits += 2
				}
				if contentHit {
					hits++
				}
				if titleHit || contentHit {
					break
				}
			}
		}
		score += 0.2 * (hits / possible)
	}

	if len(prefs.Sectors) > 0 {
		memberTerms := make(map[string]bool)
		for _, m := range cluster.Members {
			for term := range textutil.Tokens(m.Metadata.Title) {
				memberTerms[term] = true
			}
		}
		matched := 0
		for _, sector := range prefs.Sectors {
			for term := range textutil.Tokens(sector) {
				if memberTerms[term] {
					matched++
					break
				}
			}
		}
		score += 0.1 * float64(matched) / float64(len(prefs.Sectors))
	}

	return clamp01(score)
}

// isBreaking qualifies a cluster for the breaking-news boost: an explicit
// breaking tag, a breaking keyword in any member's title or early content, or
// a newest member younger than 30 minutes.
func (s *Scorer) isBreaking(cluster *model.ContentCluster) bool {
	for _, st := range cluster.Metadata.SourceTypes {
		if st == model.SourceBreaking {
			return true
		}
	}

	for _, m := range cluster.Members {
		if textutil.ContainsAny(m.Metadata.Title, breakingKeywords) {
			return true
		}
		early := m.Content
		if len(early) > 300 {
			early = early[:300]
		}
		if textutil.ContainsAny(early, breakingKeywords) {
			return true
		}
	}

	return s.now().Sub(cluster.Metadata.LatestMember) < breakingWindow
}

// diversityBonus rewards clusters drawing on multiple sources and source
// types, each component capped at half the configured bonus.
func (s *Scorer) diversityBonus(cluster *model.ContentCluster) float64 {
	domains := make(map[string]bool)
	for _, m := range cluster.Members {
		domains[m.Metadata.SourceDomain] = true
	}

	half := s.cfg.SourceDiversityBonus / 2

	sourcePart := 0.025 * float64(len(domains)-1)
	if sourcePart > half {
		sourcePart = half
	}
	if sourcePart < 0 {
		sourcePart = 0
	}

	typePart := 0.025 * float64(len(cluster.Metadata.SourceTypes)-1)
	if typePart > half {
		typePart = half
	}
	if typePart < 0 {
		typePart = 0
	}

	return sourcePart + typePart
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
