package usecase

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"OsintAggregator/internal/canonical"
	"OsintAggregator/internal/config"
	"OsintAggregator/internal/domain"
	"OsintAggregator/internal/ports"
	"OsintAggregator/internal/reconcile"
	"OsintAggregator/internal/source"
)

// memStore is an in-memory GraphStore with the same update guards the
// real store enforces in SQL.
type memStore struct {
	mu       sync.Mutex
	articles map[string]*domain.Article
	origins  map[string]map[string]struct{}
	entities map[string]domain.Entity
	rels     map[string]domain.Relationship
	healing  []string
}

func newMemStore() *memStore {
	return &memStore{
		articles: map[string]*domain.Article{},
		origins:  map[string]map[string]struct{}{},
		entities: map[string]domain.Entity{},
		rels:     map[string]domain.Relationship{},
	}
}

func (m *memStore) UpsertArticle(_ context.Context, article domain.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[article.IdentityKey]; !ok {
		copied := article
		m.articles[article.IdentityKey] = &copied
	}
	return nil
}

func (m *memStore) GetArticle(_ context.Context, identityKey string) (*domain.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if article, ok := m.articles[identityKey]; ok {
		copied := *article
		return &copied, nil
	}
	return nil, nil
}

func (m *memStore) RecordOrigin(_ context.Context, identityKey, origin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.origins[identityKey] == nil {
		m.origins[identityKey] = map[string]struct{}{}
	}
	m.origins[identityKey][origin] = struct{}{}
	return nil
}

func (m *memStore) UpdateScrape(_ context.Context, identityKey string, status domain.ScrapeStatus, contentHash string, publishedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	article, ok := m.articles[identityKey]
	if !ok {
		return nil
	}
	if status != domain.StatusFull && article.ScrapeStatus != domain.StatusUnscraped {
		return nil
	}
	article.ScrapeStatus = status
	article.ContentHash = contentHash
	if publishedAt != nil {
		article.PublishedAt = publishedAt
	}
	return nil
}

func (m *memStore) UpdateAnalysis(_ context.Context, identityKey, summary, category string, severity domain.Severity, provenance domain.Provenance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	article, ok := m.articles[identityKey]
	if !ok {
		return nil
	}
	if provenance != domain.ProvenanceHumanVerified && article.Provenance == domain.ProvenanceHumanVerified {
		return nil
	}
	article.Summary = summary
	article.Category = category
	article.Severity = severity
	article.Provenance = provenance
	return nil
}

func (m *memStore) UpsertEntity(_ context.Context, entity domain.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[entity.NodeKey()] = entity
	return nil
}

func (m *memStore) UpsertRelationship(_ context.Context, rel domain.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rels[rel.Source+"|"+rel.Target+"|"+string(rel.Type)] = rel
	return nil
}

func (m *memStore) ListForHealing(_ context.Context, limit int) ([]domain.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Article
	for _, key := range m.healing {
		if article, ok := m.articles[key]; ok && article.ScrapeStatus.Degraded() {
			out = append(out, *article)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeScraper struct {
	mu        sync.Mutex
	fetched   []string
	strongest []string
	result    ports.ScrapeResult
	strong    ports.ScrapeResult
}

func (f *fakeScraper) Fetch(_ context.Context, cand domain.Candidate) ports.ScrapeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, cand.IdentityKey)
	return f.result
}

func (f *fakeScraper) FetchStrongest(_ context.Context, cand domain.Candidate) ports.ScrapeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strongest = append(f.strongest, cand.IdentityKey)
	return f.strong
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	calls  int
	result domain.Analysis
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ string) (domain.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	digests []string
}

func (f *fakeNotifier) PublishDigest(_ context.Context, digest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.digests = append(f.digests, digest)
	return nil
}

type stubChannel struct {
	messages []domain.HumanMessage
}

func (s *stubChannel) RecentMessages(_ context.Context, _ time.Time) ([]domain.HumanMessage, error) {
	return s.messages, nil
}

// stubSource is wired through the registry like any real provider.
type stubSource struct {
	name  string
	items []domain.RawItem
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(_ context.Context) ([]domain.RawItem, error) {
	return s.items, nil
}

func aggregatorOf(t *testing.T, sources ...*stubSource) *source.Aggregator {
	t.Helper()

	registry := source.NewRegistry()
	var cfgs []config.SourceConfig
	byName := map[string]*stubSource{}
	for _, s := range sources {
		byName[s.name] = s
		cfgs = append(cfgs, config.SourceConfig{Name: s.name, Kind: "stub"})
	}
	registry.Register("stub", func(cfg config.SourceConfig, _ *slog.Logger) (ports.AlertSource, error) {
		return byName[cfg.Name], nil
	})

	agg, err := source.NewAggregator(registry, cfgs, slog.Default())
	if err != nil {
		t.Fatalf("build aggregator: %v", err)
	}
	return agg
}

func identityKeyOf(t *testing.T, rawURL string) string {
	t.Helper()
	norm, err := canonical.Normalize(rawURL)
	if err != nil {
		t.Fatalf("normalize %s: %v", rawURL, err)
	}
	return canonical.IdentityKey(norm)
}

const fullBody = "A long extracted article body describing the intrusion in detail."

func fullScrape() ports.ScrapeResult {
	return ports.ScrapeResult{Status: domain.StatusFull, Text: fullBody}
}

func TestRunDeduplicatesAndPersists(t *testing.T) {
	t.Parallel()

	agg := aggregatorOf(t,
		&stubSource{name: "Google Alert", items: []domain.RawItem{
			{URL: "https://x.example/a?utm_source=alert", Title: "Story A"},
			{URL: "https://x.example/b", Title: "Story B"},
		}},
		&stubSource{name: "RSS: Feed", items: []domain.RawItem{
			{URL: "https://x.example/a", Title: "Story A"},
		}},
	)

	store := newMemStore()
	scraper := &fakeScraper{result: fullScrape()}
	analyzer := &fakeAnalyzer{result: domain.Analysis{
		Summary:  "summary",
		Category: "Ransomware",
		Severity: domain.SeverityHigh,
		Entities: []domain.Entity{{Name: "LockBit", Type: domain.EntityThreatActor}},
	}}
	notifier := &fakeNotifier{}

	p := NewPipeline(PipelineDeps{
		Sources: agg, Store: store, Scraper: scraper, Analyzer: analyzer,
		Notifier: notifier, Workers: 2,
	})
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.New != 2 || report.Duplicate != 1 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if len(store.articles) != 2 {
		t.Fatalf("expected 2 article rows, got %d", len(store.articles))
	}

	keyA := identityKeyOf(t, "https://x.example/a")
	article := store.articles[keyA]
	if article == nil {
		t.Fatal("article a missing")
	}
	if article.ScrapeStatus != domain.StatusFull || article.Summary != "summary" {
		t.Fatalf("article not fully processed: %+v", article)
	}
	if len(store.origins[keyA]) != 2 {
		t.Fatalf("both origins should be recorded, got %v", store.origins[keyA])
	}

	relKey := domain.ArticleNodeKey(keyA) + "|" + domain.Entity{Name: "LockBit", Type: domain.EntityThreatActor}.NodeKey() + "|mentions"
	if _, ok := store.rels[relKey]; !ok {
		t.Fatalf("mentions edge missing, have %v", store.rels)
	}
	if len(notifier.digests) != 1 {
		t.Fatalf("digest not published: %v", notifier.digests)
	}
}

func TestRunShortCircuitsFullArticles(t *testing.T) {
	t.Parallel()

	key := identityKeyOf(t, "https://x.example/a")
	store := newMemStore()
	store.articles[key] = &domain.Article{IdentityKey: key, ScrapeStatus: domain.StatusFull, Summary: "done"}

	scraper := &fakeScraper{result: fullScrape()}
	analyzer := &fakeAnalyzer{}
	agg := aggregatorOf(t, &stubSource{name: "RSS: Feed", items: []domain.RawItem{
		{URL: "https://x.example/a?utm_medium=rss", Title: "Seen before"},
	}})

	p := NewPipeline(PipelineDeps{Sources: agg, Store: store, Scraper: scraper, Analyzer: analyzer})
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Duplicate != 1 || report.New != 0 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if len(scraper.fetched) != 0 || analyzer.calls != 0 {
		t.Fatal("full article must never be scraped or analyzed again")
	}
	if store.articles[key].Summary != "done" {
		t.Fatal("existing summary must be untouched")
	}
}

func TestRunRecordsDegradedAnalysis(t *testing.T) {
	t.Parallel()

	agg := aggregatorOf(t, &stubSource{name: "RSS: Feed", items: []domain.RawItem{
		{URL: "https://x.example/a", Title: "Story", Snippet: "snippet"},
	}})
	store := newMemStore()
	scraper := &fakeScraper{result: ports.ScrapeResult{Status: domain.StatusPartialSnippet, Text: "Story - snippet"}}
	analyzer := &fakeAnalyzer{result: domain.Analysis{Severity: domain.SeverityUnknown, Degraded: true}}

	p := NewPipeline(PipelineDeps{Sources: agg, Store: store, Scraper: scraper, Analyzer: analyzer})
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.AnalysisDegraded != 1 {
		t.Fatalf("degraded analysis not counted: %+v", report)
	}
	article := store.articles[identityKeyOf(t, "https://x.example/a")]
	if article.ScrapeStatus != domain.StatusPartialSnippet {
		t.Fatalf("scrape status lost: %+v", article)
	}
	if article.Summary != "" || article.Severity != domain.SeverityUnknown {
		t.Fatalf("degraded analysis should persist empty summary: %+v", article)
	}
}

func TestRunCountsScrapeFailures(t *testing.T) {
	t.Parallel()

	agg := aggregatorOf(t, &stubSource{name: "RSS: Feed", items: []domain.RawItem{
		{URL: "https://x.example/gone", Title: "Gone"},
	}})
	store := newMemStore()
	scraper := &fakeScraper{result: ports.ScrapeResult{Status: domain.StatusFailed}}
	analyzer := &fakeAnalyzer{result: domain.Analysis{Severity: domain.SeverityUnknown, Degraded: true}}

	p := NewPipeline(PipelineDeps{Sources: agg, Store: store, Scraper: scraper, Analyzer: analyzer})
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ScrapeFailed != 1 {
		t.Fatalf("scrape failure not counted: %+v", report)
	}
}

func TestRunHumanMatchSkipsAutomatedAnalysis(t *testing.T) {
	t.Parallel()

	agg := aggregatorOf(t, &stubSource{name: "Google Alert", items: []domain.RawItem{
		{URL: "https://news.example/breach", Title: "Breach at Hospital"},
	}})
	store := newMemStore()
	scraper := &fakeScraper{result: fullScrape()}
	analyzer := &fakeAnalyzer{result: domain.Analysis{Summary: "robot summary"}}
	channel := &stubChannel{messages: []domain.HumanMessage{{
		Text:     "Already covered this one. https://news.example/breach",
		URLs:     []string{"https://news.example/breach"},
		PostedAt: time.Now(),
	}}}

	p := NewPipeline(PipelineDeps{
		Sources: agg, Store: store, Scraper: scraper, Analyzer: analyzer,
		Reconciler: reconcile.New(channel, 72*time.Hour, nil),
	})
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.HumanVerified != 1 {
		t.Fatalf("human match not counted: %+v", report)
	}
	if analyzer.calls != 0 {
		t.Fatal("automated analysis must be skipped on a human match")
	}
	article := store.articles[identityKeyOf(t, "https://news.example/breach")]
	if article.Provenance != domain.ProvenanceHumanVerified {
		t.Fatalf("provenance not set: %+v", article)
	}
	if article.Summary != "Already covered this one." {
		t.Fatalf("human summary not stored: %q", article.Summary)
	}
	if article.ScrapeStatus != domain.StatusFull {
		t.Fatalf("scrape result lost on human match: %+v", article)
	}
}
