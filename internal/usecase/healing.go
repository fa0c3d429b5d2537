package usecase

import (
	"context"
	"fmt"

	"OsintAggregator/internal/domain"
)

// HealReport is what one healing run reports back.
type HealReport struct {
	Examined      int
	Recovered     int
	Reanalyzed    int
	StillDegraded int
}

// Digest renders the report for the analyst channel.
func (r HealReport) Digest() string {
	return fmt.Sprintf(
		"*Healing run complete*\nexamined: %d, recovered: %d, reanalyzed: %d, still degraded: %d",
		r.Examined, r.Recovered, r.Reanalyzed, r.StillDegraded)
}

// Heal re-drives degraded records through the strongest scrape tier.
// Items are independent: one failure never aborts the batch. Analysis
// is re-run only when the recovered content actually differs from what
// the record was analyzed on.
func (p *Pipeline) Heal(ctx context.Context) (HealReport, error) {
	if p.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.runTimeout)
		defer cancel()
	}

	var report HealReport

	articles, err := p.store.ListForHealing(ctx, p.healingSize)
	if err != nil {
		return report, fmt.Errorf("list healing candidates: %w", err)
	}
	p.logger.Info("healing batch loaded", "count", len(articles))

	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("healing run aborted", "remaining", len(articles)-report.Examined)
			return report, nil
		}
		report.Examined++
		p.healOne(ctx, article, &report)
	}

	if p.notifier != nil {
		if err := p.notifier.PublishDigest(ctx, report.Digest()); err != nil {
			p.logger.Warn("cannot publish digest", "error", err)
		}
	}
	return report, nil
}

func (p *Pipeline) healOne(ctx context.Context, article domain.Article, report *HealReport) {
	cand := domain.Candidate{
		IdentityKey:  article.IdentityKey,
		URL:          article.URL,
		Title:        article.Title,
		DiscoveredAt: article.DiscoveredAt,
	}

	res := p.scraper.FetchStrongest(ctx, cand)
	if res.Status != domain.StatusFull {
		p.logger.Debug("healing fetch still degraded", "identity_key", article.IdentityKey)
		report.StillDegraded++
		return
	}

	newHash := contentHash(res.Text)
	publishedAt := res.PublishedAt
	if publishedAt == nil {
		publishedAt = article.PublishedAt
	}
	if err := p.store.UpdateScrape(ctx, article.IdentityKey, domain.StatusFull, newHash, publishedAt); err != nil {
		p.logger.Error("cannot record healed scrape", "identity_key", article.IdentityKey, "error", err)
		report.StillDegraded++
		return
	}
	report.Recovered++

	if newHash == article.ContentHash {
		p.logger.Debug("content unchanged, skipping re-analysis", "identity_key", article.IdentityKey)
		return
	}
	if article.Provenance == domain.ProvenanceHumanVerified {
		return
	}

	analysis, err := p.analyzer.Analyze(ctx, res.Text)
	if err != nil {
		return
	}
	err = p.store.UpdateAnalysis(ctx, article.IdentityKey, analysis.Summary, analysis.Category, analysis.Severity, domain.ProvenanceAutomated)
	if err != nil {
		p.logger.Error("cannot record healed analysis", "identity_key", article.IdentityKey, "error", err)
		return
	}
	p.commitGraph(ctx, article.IdentityKey, analysis)
	report.Reanalyzed++
}
