// Package feeds implements the RSS/Atom discovery source.
package feeds

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"OsintAggregator/internal/domain"
	"OsintAggregator/internal/ports"
)

const (
	defaultMaxItems = 10
	snippetLimit    = 200
)

// Source fetches items from one RSS/Atom feed.
type Source struct {
	name     string
	url      string
	maxItems int
	client   *http.Client
	parser   *gofeed.Parser
}

var _ ports.AlertSource = (*Source)(nil)

// New builds a feed source. A nil client gets a sane default; tests
// inject an httptest client.
func New(name, url string, maxItems int, client *http.Client) *Source {
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Source{
		name:     name,
		url:      url,
		maxItems: maxItems,
		client:   client,
		parser:   gofeed.NewParser(),
	}
}

func (s *Source) Name() string { return s.name }

// Fetch downloads and parses the feed, returning the newest entries
// first, capped at maxItems.
func (s *Source) Fetch(ctx context.Context) ([]domain.RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "OsintAggregator/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned %s", s.url, resp.Status)
	}

	feed, err := s.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", s.url, err)
	}

	entries := feed.Items
	if len(entries) > s.maxItems {
		entries = entries[:s.maxItems]
	}

	items := make([]domain.RawItem, 0, len(entries))
	for _, entry := range entries {
		if entry.Link == "" {
			continue
		}
		items = append(items, domain.RawItem{
			URL:         entry.Link,
			Title:       strings.TrimSpace(entry.Title),
			Snippet:     snippet(entry),
			PublishedAt: publishedAt(entry),
		})
	}
	return items, nil
}

// snippet flattens the entry description to plain text and caps it; feed
// descriptions regularly carry markup.
func snippet(entry *gofeed.Item) string {
	raw := entry.Description
	if raw == "" {
		raw = entry.Content
	}
	if raw == "" {
		return ""
	}

	text := raw
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
		text = doc.Text()
	}
	text = strings.Join(strings.Fields(text), " ")

	if len(text) > snippetLimit {
		text = text[:snippetLimit]
	}
	return text
}

func publishedAt(entry *gofeed.Item) *time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed
	}
	return entry.UpdatedParsed
}
