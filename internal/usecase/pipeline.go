// Package usecase orchestrates the ingestion workflow: discovery,
// canonicalization, dedup, scraping, analysis, reconciliation and
// persistence.
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"OsintAggregator/internal/canonical"
	"OsintAggregator/internal/domain"
	"OsintAggregator/internal/ports"
	"OsintAggregator/internal/reconcile"
	"OsintAggregator/internal/source"
)

const defaultWorkers = 4

// RunReport is what one collection run reports back.
type RunReport struct {
	New              int
	Duplicate        int
	ScrapeFailed     int
	AnalysisDegraded int
	HumanVerified    int
}

// Digest renders the report for the analyst channel.
func (r RunReport) Digest() string {
	return fmt.Sprintf(
		"*Collection run complete*\nnew: %d, duplicates: %d\nscrape failed: %d, analysis degraded: %d, human verified: %d",
		r.New, r.Duplicate, r.ScrapeFailed, r.AnalysisDegraded, r.HumanVerified)
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Sources    *source.Aggregator
	Store      ports.GraphStore
	Scraper    ports.Scraper
	Analyzer   ports.Analyzer
	Reconciler *reconcile.Reconciler
	Notifier   ports.Notifier
	Logger     *slog.Logger

	Workers          int
	RunTimeout       time.Duration
	HealingBatchSize int
}

// Pipeline implements the ingestion-to-persistence workflow.
type Pipeline struct {
	sources    *source.Aggregator
	store      ports.GraphStore
	resolver   *Resolver
	scraper    ports.Scraper
	analyzer   ports.Analyzer
	reconciler *reconcile.Reconciler
	notifier   ports.Notifier
	logger     *slog.Logger

	workers     int
	runTimeout  time.Duration
	healingSize int
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pipeline{
		sources:     deps.Sources,
		store:       deps.Store,
		resolver:    NewResolver(deps.Store, logger),
		scraper:     deps.Scraper,
		analyzer:    deps.Analyzer,
		reconciler:  deps.Reconciler,
		notifier:    deps.Notifier,
		logger:      logger.With("component", "pipeline"),
		workers:     workers,
		runTimeout:  deps.RunTimeout,
		healingSize: deps.HealingBatchSize,
	}
}

// itemResult is one worker's finished item, handed to the writer.
type itemResult struct {
	cand     domain.Candidate
	scrape   ports.ScrapeResult
	analysis domain.Analysis
	analyzed bool
	human    reconcile.Decision
	skipped  bool
}

// Run executes one collection run. Network work fans out across a
// bounded worker pool; every store mutation goes through a single
// writer goroutine so upserts never race.
func (p *Pipeline) Run(ctx context.Context) (RunReport, error) {
	if p.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.runTimeout)
		defer cancel()
	}

	var report RunReport

	if p.reconciler != nil {
		if err := p.reconciler.Snapshot(ctx); err != nil {
			p.logger.Warn("human channel unavailable, skipping reconciliation this run", "error", err)
		}
	}

	fresh, err := p.gather(ctx, &report)
	if err != nil {
		return report, err
	}
	p.logger.Info("discovery resolved", "new", report.New, "duplicates", report.Duplicate)

	results := make(chan itemResult)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for res := range results {
			p.commit(ctx, res, &report)
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.workers)
	for _, cand := range fresh {
		cand := cand
		group.Go(func() error {
			results <- p.processItem(groupCtx, cand)
			return nil
		})
	}
	_ = group.Wait()
	close(results)
	<-writerDone

	if p.notifier != nil {
		if err := p.notifier.PublishDigest(ctx, report.Digest()); err != nil {
			p.logger.Warn("cannot publish digest", "error", err)
		}
	}
	return report, nil
}

// gather pulls from every source, canonicalizes and dedups. Malformed
// URLs are logged and dropped; store failures abort the run.
func (p *Pipeline) gather(ctx context.Context, report *RunReport) ([]domain.Candidate, error) {
	now := time.Now().UTC()
	seen := make(map[string]struct{})
	var fresh []domain.Candidate

	for _, discovery := range p.sources.FetchAll(ctx) {
		for _, item := range discovery.Items {
			cand, err := canonical.Candidate(item, discovery.Origin, now)
			if err != nil {
				p.logger.Warn("skipping item with unusable url",
					"origin", discovery.Origin, "url", item.URL, "error", err)
				continue
			}

			if _, dup := seen[cand.IdentityKey]; dup {
				report.Duplicate++
				if err := p.store.RecordOrigin(ctx, cand.IdentityKey, cand.Origin); err != nil {
					p.logger.Warn("cannot record origin", "identity_key", cand.IdentityKey, "error", err)
				}
				continue
			}
			seen[cand.IdentityKey] = struct{}{}

			resolution, err := p.resolver.Resolve(ctx, cand, false)
			if err != nil {
				return nil, fmt.Errorf("resolve candidate: %w", err)
			}
			switch resolution {
			case ResolutionNew:
				report.New++
				fresh = append(fresh, cand)
			default:
				report.Duplicate++
			}
		}
	}
	return fresh, nil
}

// processItem does the network-bound work for one new candidate:
// scrape, then automated analysis unless a human message already
// covers the article.
func (p *Pipeline) processItem(ctx context.Context, cand domain.Candidate) itemResult {
	if ctx.Err() != nil {
		return itemResult{cand: cand, skipped: true}
	}

	res := itemResult{cand: cand}
	if p.reconciler != nil {
		res.human = p.reconciler.Reconcile(cand)
	}

	res.scrape = p.scraper.Fetch(ctx, cand)

	if !res.human.Matched() {
		analysis, err := p.analyzer.Analyze(ctx, res.scrape.Text)
		if err != nil {
			// Only cancellation surfaces here; the item stays unscraped
			// and is resumed next run.
			return itemResult{cand: cand, skipped: true}
		}
		res.analysis = analysis
		res.analyzed = true
	}
	return res
}

// commit serializes one item's mutations into the store and folds it
// into the run counters.
func (p *Pipeline) commit(ctx context.Context, res itemResult, report *RunReport) {
	if res.skipped {
		return
	}
	key := res.cand.IdentityKey

	err := p.store.UpdateScrape(ctx, key, res.scrape.Status, contentHash(res.scrape.Text), res.scrape.PublishedAt)
	if err != nil {
		p.logger.Error("cannot record scrape result", "identity_key", key, "error", err)
		return
	}
	if res.scrape.Status == domain.StatusFailed {
		report.ScrapeFailed++
	}

	if res.human.Matched() {
		err := p.store.UpdateAnalysis(ctx, key, res.human.Summary, "", domain.SeverityUnknown, domain.ProvenanceHumanVerified)
		if err != nil {
			p.logger.Error("cannot record human summary", "identity_key", key, "error", err)
			return
		}
		report.HumanVerified++
		return
	}

	if !res.analyzed {
		return
	}
	if res.analysis.Degraded {
		report.AnalysisDegraded++
	}
	err = p.store.UpdateAnalysis(ctx, key, res.analysis.Summary, res.analysis.Category, res.analysis.Severity, domain.ProvenanceAutomated)
	if err != nil {
		p.logger.Error("cannot record analysis", "identity_key", key, "error", err)
		return
	}
	p.commitGraph(ctx, key, res.analysis)
}

// commitGraph upserts the entities and edges one analysis produced.
func (p *Pipeline) commitGraph(ctx context.Context, identityKey string, analysis domain.Analysis) {
	articleKey := domain.ArticleNodeKey(identityKey)

	for _, entity := range analysis.Entities {
		if err := p.store.UpsertEntity(ctx, entity); err != nil {
			p.logger.Warn("cannot upsert entity", "entity", entity.Name, "error", err)
			continue
		}
		rel := domain.Relationship{
			Source:     articleKey,
			Target:     entity.NodeKey(),
			Type:       domain.RelationMentions,
			Confidence: 1,
		}
		if err := p.store.UpsertRelationship(ctx, rel); err != nil {
			p.logger.Warn("cannot upsert relationship", "entity", entity.Name, "error", err)
		}
	}

	for _, relation := range analysis.Relations {
		if err := p.store.UpsertEntity(ctx, relation.Source); err != nil {
			p.logger.Warn("cannot upsert entity", "entity", relation.Source.Name, "error", err)
			continue
		}
		if err := p.store.UpsertEntity(ctx, relation.Target); err != nil {
			p.logger.Warn("cannot upsert entity", "entity", relation.Target.Name, "error", err)
			continue
		}
		rel := domain.Relationship{
			Source:     relation.Source.NodeKey(),
			Target:     relation.Target.NodeKey(),
			Type:       relation.Type,
			Confidence: relation.Confidence,
		}
		if err := p.store.UpsertRelationship(ctx, rel); err != nil {
			p.logger.Warn("cannot upsert relationship", "source", relation.Source.Name, "error", err)
		}
	}
}

func contentHash(text string) string {
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
