// Package source turns external feeds into raw items for the aggregation
// pipeline.
package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"newsmesh/internal/model"
)

// Feed identifies one RSS/Atom feed and the category its items are tagged
// with.
type Feed struct {
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Category string `yaml:"category" json:"category"`
}

// FeedPresets maps friendly keys to known feeds.
var FeedPresets = map[string]Feed{
	"cna": {
		Name:     "Channel News Asia",
		URL:      "https://www.channelnewsasia.com/api/v1/rss-outbound-feed?_format=xml",
		Category: "general",
	},
	"st": {
		Name:     "Straits Times",
		URL:      "https://www.straitstimes.com/news/singapore/rss.xml",
		Category: "general",
	},
	"hn": {
		Name:     "Hacker News",
		URL:      "https://hnrss.org/newest",
		Category: "tech",
	},
	"tr": {
		Name:     "Technology Review",
		URL:      "https://www.technologyreview.com/feed/",
		Category: "tech",
	},
}

// ResolveFeed returns the preset for a friendly key, or treats the input as a
// raw URL.
func ResolveFeed(input string) Feed {
	if feed, ok := FeedPresets[input]; ok {
		return feed
	}
	return Feed{Name: input, URL: input, Category: "general"}
}

const (
	fetchWorkers    = 5
	perFeedTimeout  = 20 * time.Second
	defaultMaxItems = 50
)

// RSSFetcher pulls items from RSS/Atom feeds with a small worker pool.
type RSSFetcher struct {
	parser   *gofeed.Parser
	maxItems int
	log      zerolog.Logger
}

// NewRSSFetcher builds a fetcher capped at maxItems items per feed
// (defaultMaxItems when zero).
func NewRSSFetcher(maxItems int, logger zerolog.Logger) *RSSFetcher {
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	return &RSSFetcher{
		parser:   gofeed.NewParser(),
		maxItems: maxItems,
		log:      logger.With().Str("component", "rss").Logger(),
	}
}

// FetchAll retrieves every feed concurrently and returns the combined items.
// Individual feed failures are logged and skipped so one dead feed never
// blocks a run.
func (f *RSSFetcher) FetchAll(ctx context.Context, feeds []Feed) []model.RawItem {
	jobs := make(chan Feed)
	results := make(chan []model.RawItem)

	var wg sync.WaitGroup
	for i := 0; i < fetchWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for feed := range jobs {
				items, err := f.Fetch(ctx, feed)
				if err != nil {
					f.log.Warn().Err(err).Str("feed", feed.Name).Msg("feed fetch failed")
					continue
				}
				results <- items
			}
		}()
	}

	go func() {
		for _, feed := range feeds {
			jobs <- feed
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	var all []model.RawItem
	for items := range results {
		all = append(all, items...)
	}
	return all
}

// Fetch retrieves and converts a single feed.
func (f *RSSFetcher) Fetch(ctx context.Context, feed Feed) ([]model.RawItem, error) {
	fctx, cancel := context.WithTimeout(ctx, perFeedTimeout)
	defer cancel()

	parsed, err := f.parser.ParseURLWithContext(feed.URL, fctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.Name, err)
	}

	count := len(parsed.Items)
	if count > f.maxItems {
		count = f.maxItems
	}

	items := make([]model.RawItem, 0, count)
	for _, entry := range parsed.Items[:count] {
		if entry.Link == "" || entry.Title == "" {
			continue
		}
		items = append(items, itemFromEntry(entry, feed))
	}

	f.log.Debug().Str("feed", feed.Name).Int("items", len(items)).Msg("fetched feed")
	return items, nil
}

func itemFromEntry(entry *gofeed.Item, feed Feed) model.RawItem {
	var publishedAt time.Time
	if entry.PublishedParsed != nil {
		publishedAt = *entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		publishedAt = *entry.UpdatedParsed
	}

	author := ""
	if entry.Author != nil {
		author = entry.Author.Name
	}

	content := entry.Content
	if content == "" {
		content = entry.Description
	}

	var images []string
	if entry.Image != nil && entry.Image.URL != "" {
		images = append(images, entry.Image.URL)
	}

	return model.RawItem{
		Title:       entry.Title,
		URL:         entry.Link,
		Category:    feed.Category,
		Description: entry.Description,
		RawContent:  content,
		Retriever:   "rss:" + feed.Name,
		PublishedAt: publishedAt,
		Author:      author,
		ImageURLs:   images,
	}
}
