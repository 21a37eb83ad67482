// Package llm wraps the external text-generation capability used for cluster
// summarization and agentic cluster judging, with retry, backoff and a local
// heuristic fallback.
package llm

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/rs/zerolog"

	"newsmesh/internal/clustering"
	"newsmesh/internal/config"
	"newsmesh/internal/model"
)

// Summarizer turns a cluster into a narrative summary.
type Summarizer interface {
	Summarize(ctx context.Context, cluster *model.ContentCluster) (*model.ClusterSummary, error)
}

const summaryPrompt = `Summarize the following group of related news items in 2-4 sentences,
then list 2-5 key points, one per line, each starting with "- ".

%s`

const judgePrompt = `You are reviewing a proposed cluster of news items for coherence.
If the items clearly belong together, reply "coherent".
If they span unrelated subjects, reply "diverse topics".
If the cluster should be reworked for another reason, reply "refine" with a short explanation.

%s`

// CohereClient calls the Cohere Chat API. It implements Summarizer and
// clustering.Judge.
type CohereClient struct {
	client *cohereclient.Client
	cfg    config.LLMConfig
	log    zerolog.Logger
}

var _ Summarizer = (*CohereClient)(nil)
var _ clustering.Judge = (*CohereClient)(nil)

// NewCohereClient builds the Chat-backed client. The HTTP client forces
// HTTP/1.1 to avoid HTTP/2 protocol errors seen against the Cohere edge.
func NewCohereClient(cfg config.LLMConfig, logger zerolog.Logger) (*CohereClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cohere api key is required")
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
			ForceAttemptHTTP2: false,
		},
	}
	client := cohereclient.NewClient(
		cohereclient.WithToken(cfg.APIKey),
		cohereclient.WithHTTPClient(httpClient),
	)
	return &CohereClient{
		client: client,
		cfg:    cfg,
		log:    logger.With().Str("component", "llm").Logger(),
	}, nil
}

// Summarize generates a narrative and key points for the cluster. Errors are
// returned after the retry budget is exhausted; callers degrade to
// FallbackSummary.
func (c *CohereClient) Summarize(ctx context.Context, cluster *model.ContentCluster) (*model.ClusterSummary, error) {
	prompt := fmt.Sprintf(summaryPrompt, clustering.DescribeCluster(cluster))
	text, err := c.chatWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}

	narrative, keyPoints := parseSummary(text)
	if narrative == "" {
		return nil, fmt.Errorf("summarizer returned empty narrative")
	}

	return &model.ClusterSummary{
		Narrative:   narrative,
		KeyPoints:   keyPoints,
		GeneratedAt: time.Now(),
		Generator:   c.cfg.Model,
		Confidence:  confidenceFor(cluster),
		WordCount:   len(strings.Fields(narrative)),
	}, nil
}

// JudgeCluster renders a coherence verdict for the agentic clustering loop.
func (c *CohereClient) JudgeCluster(ctx context.Context, description string) (string, error) {
	return c.chatWithRetry(ctx, fmt.Sprintf(judgePrompt, description))
}

func (c *CohereClient) chatWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	delay := c.cfg.RetryDelay

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		resp, err := c.client.Chat(callCtx, &cohere.ChatRequest{
			Message: prompt,
			Model:   &c.cfg.Model,
		})
		cancel()
		if err == nil {
			return resp.Text, nil
		}
		lastErr = err
		c.log.Debug().Err(err).Int("attempt", attempt+1).Msg("chat call failed")
	}
	return "", fmt.Errorf("chat failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

// parseSummary splits the model output into narrative text and "- " bullets.
func parseSummary(text string) (string, []string) {
	var narrative []string
	var keyPoints []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") {
			keyPoints = append(keyPoints, strings.TrimPrefix(trimmed, "- "))
			continue
		}
		if len(keyPoints) == 0 {
			narrative = append(narrative, trimmed)
		}
	}
	return strings.Join(narrative, " "), keyPoints
}

// confidenceFor derives summary confidence from cluster coherence and size.
func confidenceFor(cluster *model.ContentCluster) float64 {
	confidence := 0.5 + 0.4*cluster.Metadata.Coherence
	if len(cluster.Members) >= 3 {
		confidence += 0.1
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
