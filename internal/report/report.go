// Package report renders the stored intelligence into analyst-facing
// artifacts: a severity-grouped HTML briefing, a machine-readable JSON
// dump and a graph export for visualization tools.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"OsintAggregator/internal/domain"
)

// Store is the read surface the generator needs.
type Store interface {
	ListRecentArticles(ctx context.Context, since time.Time) ([]domain.Article, error)
	ListEntities(ctx context.Context) ([]domain.Entity, error)
	ListRelationships(ctx context.Context) ([]domain.Relationship, error)
}

// Config selects the window and output locations. Empty paths disable
// the corresponding artifact.
type Config struct {
	Days      int
	HTMLPath  string
	JSONPath  string
	GraphPath string
}

// Generator renders reports from the graph store.
type Generator struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

// New builds a report generator.
func New(store Store, cfg Config, logger *slog.Logger) *Generator {
	if cfg.Days <= 0 {
		cfg.Days = 7
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{store: store, cfg: cfg, logger: logger.With("component", "report")}
}

// Generate writes every configured artifact.
func (g *Generator) Generate(ctx context.Context) error {
	since := time.Now().UTC().AddDate(0, 0, -g.cfg.Days)
	articles, err := g.store.ListRecentArticles(ctx, since)
	if err != nil {
		return fmt.Errorf("load recent articles: %w", err)
	}
	g.logger.Info("rendering reports", "articles", len(articles), "window_days", g.cfg.Days)

	if g.cfg.HTMLPath != "" {
		if err := g.writeHTML(articles, since); err != nil {
			return err
		}
	}
	if g.cfg.JSONPath != "" {
		if err := g.writeJSON(articles, since); err != nil {
			return err
		}
	}
	if g.cfg.GraphPath != "" {
		if err := g.writeGraph(ctx, articles); err != nil {
			return err
		}
	}
	return nil
}

var severityOrder = []domain.Severity{
	domain.SeverityHigh,
	domain.SeverityMedium,
	domain.SeverityLow,
	domain.SeverityUnknown,
}

type section struct {
	Severity domain.Severity
	Articles []domain.Article
}

func groupBySeverity(articles []domain.Article) []section {
	buckets := map[domain.Severity][]domain.Article{}
	for _, a := range articles {
		buckets[a.Severity] = append(buckets[a.Severity], a)
	}

	var sections []section
	for _, sev := range severityOrder {
		if len(buckets[sev]) > 0 {
			sections = append(sections, section{Severity: sev, Articles: buckets[sev]})
		}
	}
	return sections
}

var htmlReport = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Threat Intelligence Briefing</title>
<style>
body { font-family: sans-serif; max-width: 60rem; margin: 2rem auto; }
h2 { border-bottom: 1px solid #ccc; padding-bottom: 0.3rem; }
.high h2 { color: #b00020; }
.medium h2 { color: #c77700; }
article { margin-bottom: 1.2rem; }
.meta { color: #666; font-size: 0.85rem; }
</style>
</head>
<body>
<h1>Threat Intelligence Briefing</h1>
<p class="meta">Window since {{.Since.Format "2006-01-02"}} &middot; {{.Total}} articles</p>
{{range .Sections}}<section class="{{.Severity}}">
<h2>{{.Severity}} severity</h2>
{{range .Articles}}<article>
<h3><a href="{{.URL}}">{{.Title}}</a></h3>
{{if .Summary}}<p>{{.Summary}}</p>{{end}}
<p class="meta">{{.Category}} &middot; {{.Provenance}} &middot; scrape: {{.ScrapeStatus}}</p>
</article>
{{end}}</section>
{{end}}</body>
</html>
`))

func (g *Generator) writeHTML(articles []domain.Article, since time.Time) error {
	data := struct {
		Since    time.Time
		Total    int
		Sections []section
	}{Since: since, Total: len(articles), Sections: groupBySeverity(articles)}

	var buf bytes.Buffer
	if err := htmlReport.Execute(&buf, data); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return writeArtifact(g.cfg.HTMLPath, buf.Bytes())
}

type jsonArticle struct {
	IdentityKey  string     `json:"identity_key"`
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	Summary      string     `json:"summary,omitempty"`
	Category     string     `json:"category,omitempty"`
	Severity     string     `json:"severity"`
	Provenance   string     `json:"provenance"`
	ScrapeStatus string     `json:"scrape_status"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	DiscoveredAt time.Time  `json:"discovered_at"`
}

func (g *Generator) writeJSON(articles []domain.Article, since time.Time) error {
	out := struct {
		GeneratedAt time.Time     `json:"generated_at"`
		Since       time.Time     `json:"since"`
		Articles    []jsonArticle `json:"articles"`
	}{GeneratedAt: time.Now().UTC(), Since: since, Articles: make([]jsonArticle, 0, len(articles))}

	for _, a := range articles {
		out.Articles = append(out.Articles, jsonArticle{
			IdentityKey:  a.IdentityKey,
			URL:          a.URL,
			Title:        a.Title,
			Summary:      a.Summary,
			Category:     a.Category,
			Severity:     string(a.Severity),
			Provenance:   string(a.Provenance),
			ScrapeStatus: string(a.ScrapeStatus),
			PublishedAt:  a.PublishedAt,
			DiscoveredAt: a.DiscoveredAt,
		})
	}

	payload, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json report: %w", err)
	}
	return writeArtifact(g.cfg.JSONPath, payload)
}

type graphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

type graphEdge struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// writeGraph exports the full entity graph. Article nodes outside the
// report window still appear when an edge references them, labeled by
// their node key.
func (g *Generator) writeGraph(ctx context.Context, articles []domain.Article) error {
	entities, err := g.store.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	rels, err := g.store.ListRelationships(ctx)
	if err != nil {
		return fmt.Errorf("load relationships: %w", err)
	}

	nodes := map[string]graphNode{}
	for _, a := range articles {
		key := domain.ArticleNodeKey(a.IdentityKey)
		nodes[key] = graphNode{ID: key, Label: a.Title, Type: "article"}
	}
	for _, e := range entities {
		nodes[e.NodeKey()] = graphNode{ID: e.NodeKey(), Label: e.Name, Type: string(e.Type)}
	}

	edges := make([]graphEdge, 0, len(rels))
	for _, r := range rels {
		for _, end := range []string{r.Source, r.Target} {
			if _, ok := nodes[end]; !ok {
				nodes[end] = graphNode{ID: end, Label: nodeLabel(end), Type: nodeType(end)}
			}
		}
		edges = append(edges, graphEdge{Source: r.Source, Target: r.Target, Type: string(r.Type), Confidence: r.Confidence})
	}

	out := struct {
		Nodes []graphNode `json:"nodes"`
		Edges []graphEdge `json:"edges"`
	}{Nodes: make([]graphNode, 0, len(nodes)), Edges: edges}
	for _, key := range sortedKeys(nodes) {
		out.Nodes = append(out.Nodes, nodes[key])
	}

	payload, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal graph export: %w", err)
	}
	return writeArtifact(g.cfg.GraphPath, payload)
}

func nodeLabel(key string) string {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[i+1:]
	}
	return key
}

func nodeType(key string) string {
	parts := strings.SplitN(key, ":", 2)
	return parts[0]
}

func sortedKeys(nodes map[string]graphNode) []string {
	keys := make([]string, 0, len(nodes))
	for k := range nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeArtifact(path string, payload []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
