package llm

import (
	"fmt"
	"strings"
	"time"

	"newsmesh/internal/model"
)

// FallbackGenerator identifies summaries produced locally after the external
// capability failed.
const FallbackGenerator = "fallback"

// fallbackConfidence is deliberately low so consumers can tell degraded
// summaries apart.
const fallbackConfidence = 0.3

// FallbackSummary builds a deterministic summary from member titles when the
// text-generation capability is unavailable.
func FallbackSummary(cluster *model.ContentCluster) *model.ClusterSummary {
	titles := make([]string, 0, len(cluster.Members))
	seen := make(map[string]bool)
	for _, m := range cluster.Members {
		title := strings.TrimSpace(m.Metadata.Title)
		if title == "" || seen[title] {
			continue
		}
		seen[title] = true
		titles = append(titles, title)
	}

	var narrative string
	switch {
	case len(titles) == 0:
		narrative = fmt.Sprintf("A group of %d related items.", len(cluster.Members))
	case len(titles) == 1:
		narrative = titles[0] + "."
	default:
		narrative = fmt.Sprintf("%d related reports including: %s.", len(cluster.Members), strings.Join(titles[:minInt(3, len(titles))], "; "))
	}

	keyPoints := titles
	if len(keyPoints) > 5 {
		keyPoints = keyPoints[:5]
	}

	return &model.ClusterSummary{
		Narrative:   narrative,
		KeyPoints:   keyPoints,
		GeneratedAt: time.Now(),
		Generator:   FallbackGenerator,
		Confidence:  fallbackConfidence,
		WordCount:   len(strings.Fields(narrative)),
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
