// Package scrape fetches full article content through an ordered chain
// of strategies of increasing cost. Tier selection is a policy decision:
// the heavy browser tier never runs in a normal collection pass.
package scrape

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"OsintAggregator/internal/domain"
	"OsintAggregator/internal/ports"
)

// Strategy is one tier in the fallback chain: it returns raw page HTML
// or an error. Errors wrapped in backoff.Permanent skip the retry loop
// and hand off to the next tier immediately.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// Config bounds per-tier retry behavior.
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// EscalateInNormalRun includes the strongest tier in normal runs.
	// Off by default to bound normal-run latency and resource cost.
	EscalateInNormalRun bool
}

// Engine implements ports.Scraper over an ordered strategy list. The
// last strategy is the strongest (and most expensive) tier.
type Engine struct {
	strategies []Strategy
	cfg        Config
	logger     *slog.Logger
}

var _ ports.Scraper = (*Engine)(nil)

// NewEngine orders strategies cheapest-first.
func NewEngine(strategies []Strategy, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 2 * time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	return &Engine{strategies: strategies, cfg: cfg, logger: logger}
}

// Fetch runs the normal-mode tier selection: every tier except the
// strongest, unless escalation is configured.
func (e *Engine) Fetch(ctx context.Context, cand domain.Candidate) ports.ScrapeResult {
	tiers := e.strategies
	if len(tiers) > 1 && !e.cfg.EscalateInNormalRun {
		tiers = tiers[:len(tiers)-1]
	}
	return e.run(ctx, cand, tiers)
}

// FetchStrongest runs only the last tier. Healing re-drives degraded
// records through here; repeating the cheap tier would repeat the
// failure that degraded them.
func (e *Engine) FetchStrongest(ctx context.Context, cand domain.Candidate) ports.ScrapeResult {
	if len(e.strategies) == 0 {
		return e.fallback(cand)
	}
	return e.run(ctx, cand, e.strategies[len(e.strategies)-1:])
}

func (e *Engine) run(ctx context.Context, cand domain.Candidate, tiers []Strategy) ports.ScrapeResult {
	for _, tier := range tiers {
		html, err := e.attempt(ctx, tier, cand.URL)
		if err != nil {
			e.debug("tier exhausted", "tier", tier.Name(), "url", cand.URL, "error", err)
			continue
		}

		text, publishedAt, err := extract(html, cand.URL)
		if err != nil {
			e.debug("extraction rejected", "tier", tier.Name(), "url", cand.URL, "error", err)
			continue
		}

		e.debug("scrape succeeded", "tier", tier.Name(), "url", cand.URL, "runes", len(text))
		return ports.ScrapeResult{
			Status:      domain.StatusFull,
			Text:        text,
			PublishedAt: publishedAt,
		}
	}
	return e.fallback(cand)
}

// attempt retries one tier with exponential backoff on transient errors.
func (e *Engine) attempt(ctx context.Context, tier Strategy, pageURL string) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.InitialInterval
	policy.MaxInterval = e.cfg.MaxInterval

	var html string
	operation := func() error {
		var err error
		html, err = tier.Fetch(ctx, pageURL)
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(e.cfg.MaxAttempts-1)), ctx))
	if err != nil {
		return "", err
	}
	return html, nil
}

// fallback is the end of the chain: the discovery snippet becomes the
// body when one exists, otherwise the record is marked failed.
func (e *Engine) fallback(cand domain.Candidate) ports.ScrapeResult {
	if cand.Snippet == "" {
		return ports.ScrapeResult{Status: domain.StatusFailed}
	}

	text := cand.Snippet
	if cand.Title != "" {
		text = cand.Title + " - " + cand.Snippet
	}
	return ports.ScrapeResult{
		Status:      domain.StatusPartialSnippet,
		Text:        text,
		PublishedAt: cand.PublishedAt,
	}
}

func (e *Engine) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
