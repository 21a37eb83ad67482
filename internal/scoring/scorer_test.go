package scoring

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsmesh/internal/config"
	"newsmesh/internal/model"
)

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newTestScorer(t *testing.T, mutate func(*config.ScoringConfig)) *Scorer {
	t.Helper()
	cfg := config.Default().Scoring
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewScorer(cfg, zerolog.Nop())
	require.NoError(t, err)
	s.now = func() time.Time { return testNow }
	return s
}

func member(title string, reliability float64, ts time.Time) *model.ContentChunk {
	return &model.ContentChunk{
		Content: "body text for " + title,
		Metadata: model.ChunkMetadata{
			Title:            title,
			SourceDomain:     "example.com",
			ReliabilityScore: reliability,
			Timestamp:        ts,
		},
	}
}

func basicCluster(latest time.Time, members ...*model.ContentChunk) *model.ContentCluster {
	return &model.ContentCluster{
		ID:      "test-cluster",
		Members: members,
		Metadata: model.ClusterMetadata{
			LatestMember: latest,
			SourceTypes:  []model.SourceType{model.SourceGeneral},
			MemberCount:  len(members),
		},
	}
}

func TestNewScorerRejectsBadWeights(t *testing.T) {
	cfg := config.Default().Scoring
	cfg.RecencyWeight = 0.6
	_, err := NewScorer(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestScoreStaysInRange(t *testing.T) {
	s := newTestScorer(t, nil)
	cluster := basicCluster(testNow.Add(-time.Minute),
		member("BREAKING: major event unfolding downtown", 1.0, testNow.Add(-time.Minute)),
		member("Live updates on the developing event", 1.0, testNow.Add(-2*time.Minute)),
	)
	cluster.Metadata.SourceTypes = []model.SourceType{model.SourceBreaking}

	score := s.Score(cluster, nil)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestRecencyScore(t *testing.T) {
	s := newTestScorer(t, nil)

	fresh := basicCluster(testNow)
	assert.InDelta(t, 1.0, s.recencyScore(fresh), 1e-9)

	stale := basicCluster(testNow.Add(-1000 * time.Hour))
	assert.Equal(t, s.cfg.MaxTimeDecay, s.recencyScore(stale), "decay floors at MaxTimeDecay")

	future := basicCluster(testNow.Add(time.Hour))
	assert.InDelta(t, 1.0, s.recencyScore(future), 1e-9, "future timestamps clamp to zero age")
}

func TestReliabilityScore(t *testing.T) {
	s := newTestScorer(t, nil)
	old := testNow.Add(-2 * time.Hour)

	strong := basicCluster(old,
		member("first report", 1.0, old),
		member("second report", 0.85, old),
	)
	weak := basicCluster(old,
		member("rumor one", 0.3, old),
		member("rumor two", 0.3, old),
	)

	assert.Greater(t, s.reliabilityScore(strong), s.reliabilityScore(weak))
	// Mean 0.925 plus two strong-member bonuses of 0.02.
	assert.InDelta(t, 0.965, s.reliabilityScore(strong), 1e-9)
}

func TestBreakingNewsBoost(t *testing.T) {
	s := newTestScorer(t, nil)
	old := testNow.Add(-2 * time.Hour)

	calm := basicCluster(old,
		member("city council approves annual budget", 0.65, old),
		member("budget vote passes after long debate", 0.65, old),
	)
	breaking := basicCluster(old,
		member("BREAKING: explosion reported at refinery", 0.65, old),
		member("refinery incident prompts evacuation", 0.65, old),
	)

	assert.False(t, s.isBreaking(calm))
	assert.True(t, s.isBreaking(breaking))
	assert.Greater(t, s.Score(breaking, nil), s.Score(calm, nil))
}

func TestIsBreakingByRecency(t *testing.T) {
	s := newTestScorer(t, nil)
	cluster := basicCluster(testNow.Add(-10*time.Minute),
		member("markets drift sideways in quiet session", 0.65, testNow.Add(-10*time.Minute)),
	)
	assert.True(t, s.isBreaking(cluster), "a sub-30-minute latest member qualifies")
}

func TestPreferenceRelevance(t *testing.T) {
	s := newTestScorer(t, nil)
	old := testNow.Add(-2 * time.Hour)

	cluster := basicCluster(old,
		member("chipmaker guidance lifts semiconductor stocks", 0.85, old),
		member("analysts raise targets across the sector", 0.85, old),
	)
	cluster.Metadata.PrimaryTicker = "NVDA"
	cluster.Metadata.Topics = []string{"semiconductors"}

	matched := &model.UserPreferences{
		Watchlist: []string{"nvda"},
		Topics:    []string{"Semiconductors"},
		Keywords:  []string{"guidance"},
	}
	unmatched := &model.UserPreferences{
		Watchlist: []string{"XOM"},
		Topics:    []string{"energy"},
		Keywords:  []string{"pipeline"},
	}

	assert.Greater(t, s.relevanceScore(cluster, matched), s.relevanceScore(cluster, unmatched))
	assert.Greater(t, s.relevanceScore(cluster, matched), 0.7, "watchlist match alone contributes 0.5")
	assert.Equal(t, 0.0, s.relevanceScore(cluster, unmatched))
}

func TestDiversityBonus(t *testing.T) {
	s := newTestScorer(t, nil)
	old := testNow.Add(-2 * time.Hour)

	a := member("report from outlet one", 0.65, old)
	a.Metadata.SourceDomain = "one.com"
	b := member("report from outlet two", 0.65, old)
	b.Metadata.SourceDomain = "two.com"
	c := member("report from outlet three", 0.65, old)
	c.Metadata.SourceDomain = "three.com"

	diverse := basicCluster(old, a, b, c)
	diverse.Metadata.SourceTypes = []model.SourceType{model.SourceGeneral, model.SourceFinancial}

	// Domains part caps at half the bonus (0.05); two types add 0.025.
	assert.InDelta(t, 0.075, s.diversityBonus(diverse), 1e-9)

	single := basicCluster(old, member("lone report", 0.65, old))
	assert.Equal(t, 0.0, s.diversityBonus(single))
}

func TestRankOrdersByScoreDescending(t *testing.T) {
	s := newTestScorer(t, nil)
	old := testNow.Add(-20 * time.Hour)

	low := basicCluster(old,
		member("minor local notice published", 0.3, old),
		member("another minor local notice", 0.3, old),
	)
	high := basicCluster(testNow.Add(-time.Hour),
		member("regulator announces enforcement action", 1.0, testNow.Add(-time.Hour)),
		member("agency action rattles industry", 1.0, testNow.Add(-time.Hour)),
	)

	ranked := s.Rank([]*model.ContentCluster{low, high}, nil)
	require.Len(t, ranked, 2)
	assert.Same(t, high, ranked[0])
	assert.GreaterOrEqual(t, ranked[0].Score, ranked[1].Score)
	assert.NotZero(t, ranked[0].Score, "Rank stores scores on the clusters")
}
