// Package preprocess turns raw upstream items into cleaned, classified
// content chunks.
package preprocess

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"newsmesh/internal/config"
	"newsmesh/internal/model"
	"newsmesh/internal/textutil"
)

var (
	htmlTagRe = regexp.MustCompile(`(?s)<[^>]+>`)
	urlRe     = regexp.MustCompile(`https?://\S+|www\.\S+`)
	emailRe   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe   = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
	tickerRe  = regexp.MustCompile(`\$?\b[A-Z]{1,5}\b`)
)

// boilerplatePhrases are navigation/promo fragments removed line by line.
var boilerplatePhrases = []string{
	"click here",
	"read more",
	"subscribe to",
	"sign up for",
	"advertisement",
	"all rights reserved",
	"terms of service",
	"privacy policy",
	"cookie policy",
	"follow us on",
	"share this article",
}

var breakingKeywords = []string{"breaking", "urgent", "just in", "alert", "developing story", "live updates"}

var financialKeywords = []string{
	"earnings", "revenue", "profit", "ipo", "dividend", "quarterly",
	"merger", "acquisition", "stock", "shares", "guidance", "forecast",
}

var regulatoryDomains = []string{
	"sec.gov", "federalreserve.gov", "ftc.gov", "justice.gov",
	"fda.gov", "europa.eu", "treasury.gov",
}

var socialDomains = []string{"twitter.com", "x.com", "reddit.com", "facebook.com", "t.me", "threads.net"}

var blogDomains = []string{"medium.com", "substack.com", "blogspot.com", "wordpress.com"}

var pressReleaseDomains = []string{"prnewswire.com", "businesswire.com", "globenewswire.com", "newswire.ca"}

// domainTiers is the static domain -> reliability tier lookup. Unlisted
// domains fall through to tier 5.
var domainTiers = map[string]model.ReliabilityTier{
	"sec.gov":            model.TierOfficial,
	"federalreserve.gov": model.TierOfficial,
	"fda.gov":            model.TierOfficial,
	"justice.gov":        model.TierOfficial,
	"treasury.gov":       model.TierOfficial,
	"ecb.europa.eu":      model.TierOfficial,
	"reuters.com":        model.TierMajorOutlet,
	"bloomberg.com":      model.TierMajorOutlet,
	"apnews.com":         model.TierMajorOutlet,
	"wsj.com":            model.TierMajorOutlet,
	"ft.com":             model.TierMajorOutlet,
	"nytimes.com":        model.TierMajorOutlet,
	"cnbc.com":           model.TierEstablished,
	"bbc.com":            model.TierEstablished,
	"theguardian.com":    model.TierEstablished,
	"cnn.com":            model.TierEstablished,
	"marketwatch.com":    model.TierEstablished,
	"forbes.com":         model.TierEstablished,
	"news.yahoo.com":     model.TierAggregator,
	"msn.com":            model.TierAggregator,
	"news.google.com":    model.TierAggregator,
	"seekingalpha.com":   model.TierAggregator,
	"benzinga.com":       model.TierAggregator,
}

// tickerStopwords are capitalized tokens that look like tickers but never are.
var tickerStopwords = map[string]bool{
	"A": true, "I": true, "AN": true, "THE": true, "AND": true, "FOR": true,
	"CEO": true, "CFO": true, "CTO": true, "IPO": true, "USA": true,
	"US": true, "UK": true, "EU": true, "GDP": true, "AI": true, "ETF": true,
	"SEC": true, "FED": true, "NEW": true, "NOW": true, "TOP": true,
	"Q1": true, "Q2": true, "Q3": true, "Q4": true, "PM": true, "AM": true,
}

// Preprocessor cleans and classifies raw items. It never calls external
// services.
type Preprocessor struct {
	cfg config.PreprocessConfig
	log zerolog.Logger
}

// New constructs a Preprocessor.
func New(cfg config.PreprocessConfig, logger zerolog.Logger) *Preprocessor {
	return &Preprocessor{
		cfg: cfg,
		log: logger.With().Str("component", "preprocess").Logger(),
	}
}

// Process converts one raw item into content chunks. Normally one chunk is
// produced; content longer than MaxChunkSize is split into overlapping
// sentence-boundary windows. Returns nil when the cleaned content falls below
// MinContentLength.
func (p *Preprocessor) Process(item model.RawItem, sourceCategory string) []*model.ContentChunk {
	raw := item.RawContent
	if raw == "" {
		raw = item.Description
	}

	cleaned := p.clean(raw)
	if len(cleaned) < p.cfg.MinContentLength {
		p.log.Debug().Str("url", item.URL).Int("len", len(cleaned)).Msg("rejecting item below minimum content length")
		return nil
	}

	domain := textutil.Domain(item.URL)
	sourceType := classifySourceType(domain, item.Title, cleaned, sourceCategory)
	tier := classifyReliability(domain)

	ticker := item.Ticker
	if ticker == "" {
		ticker = deriveTicker(item.Title + " " + cleaned)
	}

	timestamp := item.PublishedAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	meta := model.ChunkMetadata{
		Timestamp:        timestamp,
		SourceDomain:     domain,
		URL:              textutil.NormalizeURL(item.URL),
		Title:            item.Title,
		Topic:            sourceCategory,
		SourceType:       sourceType,
		ReliabilityTier:  tier,
		ReliabilityScore: tier.ReliabilityScore(),
		Retriever:        item.Retriever,
		Ticker:           ticker,
		Author:           item.Author,
		Language:         "en",
		WordCount:        len(strings.Fields(cleaned)),
		ImageURLs:        item.ImageURLs,
	}

	now := time.Now()
	base := &model.ContentChunk{
		ID:         model.ChunkID(meta.URL, item.Title),
		RawContent: raw,
		Content:    cleaned,
		Metadata:   meta,
		CreatedAt:  now,
	}

	if len(cleaned) <= p.cfg.MaxChunkSize {
		return []*model.ContentChunk{base}
	}

	windows := splitSentenceWindows(cleaned, p.cfg.MaxChunkSize, p.cfg.ChunkOverlap)
	chunks := make([]*model.ContentChunk, 0, len(windows))
	for i, w := range windows {
		part := *base
		part.ID = model.ChunkID(meta.URL, fmt.Sprintf("%s#%d", item.Title, i))
		part.Content = w
		part.Metadata.WordCount = len(strings.Fields(w))
		chunks = append(chunks, &part)
	}
	return chunks
}

// ProcessBatch runs Process over a category-labeled batch, dropping rejects.
func (p *Preprocessor) ProcessBatch(items []model.RawItem, sourceCategory string) []*model.ContentChunk {
	var out []*model.ContentChunk
	for _, item := range items {
		out = append(out, p.Process(item, sourceCategory)...)
	}
	return out
}

func (p *Preprocessor) clean(text string) string {
	text = htmlTagRe.ReplaceAllString(text, " ")
	if !p.cfg.KeepURLs {
		text = urlRe.ReplaceAllString(text, " ")
	}
	if !p.cfg.KeepEmails {
		text = emailRe.ReplaceAllString(text, " ")
	}
	if !p.cfg.KeepPhones {
		text = phoneRe.ReplaceAllString(text, " ")
	}

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if textutil.ContainsAny(line, boilerplatePhrases) {
			continue
		}
		kept = append(kept, line)
	}
	text = strings.Join(kept, " ")

	return strings.Join(strings.Fields(text), " ")
}

func classifySourceType(domain, title, content, category string) model.SourceType {
	for _, d := range regulatoryDomains {
		if strings.HasSuffix(domain, d) {
			return model.SourceRegulatory
		}
	}
	if textutil.ContainsAny(title, breakingKeywords) {
		return model.SourceBreaking
	}
	for _, d := range socialDomains {
		if strings.HasSuffix(domain, d) {
			return model.SourceSocial
		}
	}
	for _, d := range pressReleaseDomains {
		if strings.HasSuffix(domain, d) {
			return model.SourcePressRelease
		}
	}
	for _, d := range blogDomains {
		if strings.HasSuffix(domain, d) {
			return model.SourceBlog
		}
	}

	sample := title + " " + content
	if len(sample) > 500 {
		sample = sample[:500]
	}
	if textutil.ContainsAny(sample, financialKeywords) {
		return model.SourceFinancial
	}

	switch category {
	case "breaking":
		return model.SourceBreaking
	case "financial":
		return model.SourceFinancial
	case "regulatory":
		return model.SourceRegulatory
	}
	return model.SourceGeneral
}

func classifyReliability(domain string) model.ReliabilityTier {
	if tier, ok := domainTiers[domain]; ok {
		return tier
	}
	// Subdomains inherit their parent's tier.
	for d, tier := range domainTiers {
		if strings.HasSuffix(domain, "."+d) {
			return tier
		}
	}
	return model.TierUnclassified
}

// deriveTicker finds the most likely stock symbol in the text: a $-prefixed
// token wins outright, otherwise the first short all-caps token that is not a
// known non-ticker word.
func deriveTicker(text string) string {
	var fallback string
	for _, match := range tickerRe.FindAllString(text, 20) {
		if strings.HasPrefix(match, "$") {
			symbol := match[1:]
			if !tickerStopwords[symbol] {
				return symbol
			}
			continue
		}
		if fallback == "" && len(match) >= 2 && !tickerStopwords[match] {
			fallback = match
		}
	}
	return fallback
}

// splitSentenceWindows splits text into windows of at most maxSize characters,
// breaking at sentence boundaries, with each window re-seeded by up to overlap
// trailing characters of its predecessor.
func splitSentenceWindows(text string, maxSize, overlap int) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return []string{text}
	}

	var windows []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		windows = append(windows, strings.TrimSpace(current.String()))

		carry := current.String()
		current.Reset()
		if overlap > 0 && len(carry) > overlap {
			carry = carry[len(carry)-overlap:]
			// Drop the partial sentence at the carry's start.
			if idx := strings.Index(carry, ". "); idx >= 0 && idx+2 < len(carry) {
				carry = carry[idx+2:]
			}
			current.WriteString(strings.TrimSpace(carry))
		}
	}

	for _, s := range sentences {
		if current.Len() > 0 && current.Len()+len(s)+1 > maxSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(s)

		// A single sentence longer than the window gets emitted as-is.
		if current.Len() > maxSize {
			flush()
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		windows = append(windows, strings.TrimSpace(current.String()))
	}
	return windows
}

func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
			if i+1 >= len(runes) || runes[i+1] == ' ' {
				s := strings.TrimSpace(string(runes[start : i+1]))
				if s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}
