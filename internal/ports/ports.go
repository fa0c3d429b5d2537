package ports

import (
	"context"
	"time"

	"OsintAggregator/internal/domain"
)

// AlertSource pulls raw discovery items from one upstream provider
// (an alert digest mailbox, an RSS feed). A transient provider outage
// yields zero items, not a run failure.
type AlertSource interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.RawItem, error)
}

// Analyzer sends extracted text to the AI analysis capability. It owns
// its own rate limiting and returns a degraded result rather than an
// error when retries are exhausted.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (domain.Analysis, error)
}

// HumanChannel exposes the analyst channel for provenance reconciliation.
type HumanChannel interface {
	RecentMessages(ctx context.Context, since time.Time) ([]domain.HumanMessage, error)
}

// Notifier publishes the end-of-run digest to the analyst channel.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// ScrapeResult is what a scrape tier hands back for one URL.
type ScrapeResult struct {
	Status      domain.ScrapeStatus
	Text        string
	PublishedAt *time.Time
}

// Scraper fetches full article content through the tiered strategy chain.
// Strongest selects the heavy tier only, for healing runs.
type Scraper interface {
	Fetch(ctx context.Context, cand domain.Candidate) ScrapeResult
	FetchStrongest(ctx context.Context, cand domain.Candidate) ScrapeResult
}

// GraphStore owns all writes to articles, entities and relationships.
// Every upsert is idempotent; callers address records by identity key only.
type GraphStore interface {
	UpsertArticle(ctx context.Context, article domain.Article) error
	GetArticle(ctx context.Context, identityKey string) (*domain.Article, error)
	RecordOrigin(ctx context.Context, identityKey, origin string) error
	UpdateScrape(ctx context.Context, identityKey string, status domain.ScrapeStatus, contentHash string, publishedAt *time.Time) error
	UpdateAnalysis(ctx context.Context, identityKey, summary, category string, severity domain.Severity, provenance domain.Provenance) error
	UpsertEntity(ctx context.Context, entity domain.Entity) error
	UpsertRelationship(ctx context.Context, rel domain.Relationship) error
	ListForHealing(ctx context.Context, limit int) ([]domain.Article, error)
}

// Scheduler drives recurring collection runs in daemon mode.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
