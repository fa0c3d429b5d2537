package scrape

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"
)

// minContentRunes is the acceptance threshold for extracted body text;
// anything shorter is boilerplate or a bot-wall interstitial.
const minContentRunes = 100

// extract pulls readable article text and the published timestamp out of
// raw page HTML.
func extract(html, pageURL string) (string, *time.Time, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", nil, fmt.Errorf("parse page url: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return "", nil, fmt.Errorf("extract content: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if utf8.RuneCountInString(text) < minContentRunes {
		return "", nil, fmt.Errorf("content too short (%d runes)", utf8.RuneCountInString(text))
	}

	return text, publishedTime(html), nil
}

// publishedTime probes the usual metadata locations for a publish date.
// A page without one is common; the pipeline falls back to the source's
// discovery metadata.
func publishedTime(html string) *time.Time {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	candidates := []string{
		doc.Find(`meta[property="article:published_time"]`).AttrOr("content", ""),
		doc.Find(`meta[itemprop="datePublished"]`).AttrOr("content", ""),
		doc.Find(`meta[name="date"]`).AttrOr("content", ""),
		doc.Find(`time[datetime]`).AttrOr("datetime", ""),
	}
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if parsed, err := dateparse.ParseAny(raw); err == nil {
			parsed = parsed.UTC()
			return &parsed
		}
	}
	return nil
}
