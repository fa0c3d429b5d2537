package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"OsintAggregator/internal/domain"
)

type fakeStore struct {
	articles []domain.Article
	entities []domain.Entity
	rels     []domain.Relationship
}

func (f *fakeStore) ListRecentArticles(_ context.Context, _ time.Time) ([]domain.Article, error) {
	return f.articles, nil
}

func (f *fakeStore) ListEntities(_ context.Context) ([]domain.Entity, error) {
	return f.entities, nil
}

func (f *fakeStore) ListRelationships(_ context.Context) ([]domain.Relationship, error) {
	return f.rels, nil
}

func testStore() *fakeStore {
	now := time.Now().UTC()
	actor := domain.Entity{Name: "LockBit", Type: domain.EntityThreatActor}
	return &fakeStore{
		articles: []domain.Article{
			{
				IdentityKey: "aaa", URL: "https://x.example/a", Title: "Critical Breach",
				Summary: "Hospital chain compromised.", Category: "Ransomware",
				Severity: domain.SeverityHigh, Provenance: domain.ProvenanceHumanVerified,
				ScrapeStatus: domain.StatusFull, DiscoveredAt: now,
			},
			{
				IdentityKey: "bbb", URL: "https://x.example/b", Title: "Minor Phishing Wave",
				Severity: domain.SeverityLow, Provenance: domain.ProvenanceAutomated,
				ScrapeStatus: domain.StatusPartialSnippet, DiscoveredAt: now,
			},
		},
		entities: []domain.Entity{actor},
		rels: []domain.Relationship{{
			Source: domain.ArticleNodeKey("aaa"), Target: actor.NodeKey(),
			Type: domain.RelationMentions, Confidence: 1,
		}},
	}
}

func TestGenerateWritesAllArtifacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := Config{
		Days:      7,
		HTMLPath:  filepath.Join(dir, "report.html"),
		JSONPath:  filepath.Join(dir, "report.json"),
		GraphPath: filepath.Join(dir, "graph.json"),
	}

	g := New(testStore(), cfg, nil)
	if err := g.Generate(context.Background()); err != nil {
		t.Fatalf("generate: %v", err)
	}

	html, err := os.ReadFile(cfg.HTMLPath)
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	page := string(html)
	if !strings.Contains(page, "Critical Breach") || !strings.Contains(page, "Minor Phishing Wave") {
		t.Fatal("articles missing from html report")
	}
	if strings.Index(page, "Critical Breach") > strings.Index(page, "Minor Phishing Wave") {
		t.Fatal("high severity must render before low")
	}

	raw, err := os.ReadFile(cfg.JSONPath)
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	var parsed struct {
		Articles []struct {
			IdentityKey string `json:"identity_key"`
			Severity    string `json:"severity"`
		} `json:"articles"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("parse json report: %v", err)
	}
	if len(parsed.Articles) != 2 || parsed.Articles[0].Severity != "high" {
		t.Fatalf("unexpected json payload: %+v", parsed.Articles)
	}
}

func TestGenerateGraphExport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	g := New(testStore(), Config{GraphPath: filepath.Join(dir, "graph.json")}, nil)
	if err := g.Generate(context.Background()); err != nil {
		t.Fatalf("generate: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "graph.json"))
	if err != nil {
		t.Fatalf("read graph: %v", err)
	}
	var graph struct {
		Nodes []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"nodes"`
		Edges []struct {
			Source string `json:"source"`
			Type   string `json:"type"`
		} `json:"edges"`
	}
	if err := json.Unmarshal(raw, &graph); err != nil {
		t.Fatalf("parse graph: %v", err)
	}

	if len(graph.Edges) != 1 || graph.Edges[0].Type != "mentions" {
		t.Fatalf("unexpected edges: %+v", graph.Edges)
	}
	types := map[string]bool{}
	for _, n := range graph.Nodes {
		types[n.Type] = true
	}
	if !types["article"] || !types["threat_actor"] {
		t.Fatalf("node types missing: %+v", graph.Nodes)
	}
}

func TestGenerateSkipsUnconfiguredArtifacts(t *testing.T) {
	t.Parallel()

	g := New(testStore(), Config{}, nil)
	if err := g.Generate(context.Background()); err != nil {
		t.Fatalf("generate with no outputs: %v", err)
	}
}

func TestHTMLEscapesArticleFields(t *testing.T) {
	t.Parallel()

	store := testStore()
	store.articles[0].Title = `<script>alert("x")</script>`
	dir := t.TempDir()
	cfg := Config{HTMLPath: filepath.Join(dir, "report.html")}

	g := New(store, cfg, nil)
	if err := g.Generate(context.Background()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	html, err := os.ReadFile(cfg.HTMLPath)
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	if strings.Contains(string(html), "<script>alert") {
		t.Fatal("article title must be escaped")
	}
}
