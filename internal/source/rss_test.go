package source

import (
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
)

func TestResolveFeed(t *testing.T) {
	preset := ResolveFeed("hn")
	assert.Equal(t, "Hacker News", preset.Name)
	assert.Equal(t, "tech", preset.Category)

	raw := ResolveFeed("https://example.com/custom.xml")
	assert.Equal(t, "https://example.com/custom.xml", raw.URL)
	assert.Equal(t, "general", raw.Category)
}

func TestItemFromEntry(t *testing.T) {
	published := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	entry := &gofeed.Item{
		Title:           "Harbor expansion approved",
		Link:            "https://example.com/harbor",
		Description:     "Council approves harbor works.",
		Content:         "Full article body about the harbor expansion project.",
		PublishedParsed: &published,
		Author:          &gofeed.Person{Name: "A. Writer"},
		Image:           &gofeed.Image{URL: "https://example.com/harbor.jpg"},
	}

	item := itemFromEntry(entry, Feed{Name: "Local Wire", Category: "general"})
	assert.Equal(t, "Harbor expansion approved", item.Title)
	assert.Equal(t, "https://example.com/harbor", item.URL)
	assert.Equal(t, "general", item.Category)
	assert.Equal(t, "Full article body about the harbor expansion project.", item.RawContent)
	assert.Equal(t, "rss:Local Wire", item.Retriever)
	assert.Equal(t, published, item.PublishedAt)
	assert.Equal(t, "A. Writer", item.Author)
	assert.Equal(t, []string{"https://example.com/harbor.jpg"}, item.ImageURLs)
}

func TestItemFromEntryFallbacks(t *testing.T) {
	updated := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)
	entry := &gofeed.Item{
		Title:         "Short note",
		Link:          "https://example.com/note",
		Description:   "Only a description is available.",
		UpdatedParsed: &updated,
	}

	item := itemFromEntry(entry, Feed{Name: "Wire", Category: "tech"})
	assert.Equal(t, "Only a description is available.", item.RawContent, "description backs an absent content body")
	assert.Equal(t, updated, item.PublishedAt, "updated time backs an absent published time")
	assert.Empty(t, item.Author)
	assert.Empty(t, item.ImageURLs)
}
