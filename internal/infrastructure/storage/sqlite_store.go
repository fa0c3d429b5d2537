// Package storage persists the intelligence graph in SQLite: two keyed
// tables (articles, entities) plus one edge table with a uniqueness
// constraint on (source, target, relation_type).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"OsintAggregator/internal/domain"
	"OsintAggregator/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS articles (
    identity_key  TEXT PRIMARY KEY,
    url           TEXT NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    summary       TEXT NOT NULL DEFAULT '',
    category      TEXT NOT NULL DEFAULT '',
    severity      TEXT NOT NULL DEFAULT 'unknown',
    provenance    TEXT NOT NULL DEFAULT 'automated',
    scrape_status TEXT NOT NULL DEFAULT 'unscraped',
    content_hash  TEXT NOT NULL DEFAULT '',
    published_at  TEXT,
    discovered_at TEXT NOT NULL,
    created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
    updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE TABLE IF NOT EXISTS article_origins (
    identity_key TEXT NOT NULL REFERENCES articles(identity_key),
    origin       TEXT NOT NULL,
    UNIQUE(identity_key, origin)
);

CREATE TABLE IF NOT EXISTS entities (
    name         TEXT NOT NULL,
    type         TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    UNIQUE(name, type)
);

CREATE TABLE IF NOT EXISTS relationships (
    source        TEXT NOT NULL,
    target        TEXT NOT NULL,
    relation_type TEXT NOT NULL,
    confidence    REAL NOT NULL DEFAULT 0,
    UNIQUE(source, target, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_articles_healing
    ON articles(scrape_status, discovered_at);
`

// SQLiteStore implements ports.GraphStore on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ ports.GraphStore = (*SQLiteStore)(nil)

// Open connects to the database file, applies pragmas and migrations.
// A failure here is fatal for the run: nothing may be processed without
// a reachable store.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertArticle creates the record on first sighting and records the
// origin. Re-inserting an existing identity key only adds the origin;
// the stored record is never overwritten here.
func (s *SQLiteStore) UpsertArticle(ctx context.Context, article domain.Article) error {
	status := article.ScrapeStatus
	if status == "" {
		status = domain.StatusUnscraped
	}
	severity := article.Severity
	if severity == "" {
		severity = domain.SeverityUnknown
	}
	provenance := article.Provenance
	if provenance == "" {
		provenance = domain.ProvenanceAutomated
	}

	query, args, err := sq.Insert("articles").
		Columns("identity_key", "url", "title", "summary", "category", "severity", "provenance", "scrape_status", "content_hash", "published_at", "discovered_at").
		Values(article.IdentityKey, article.URL, article.Title, article.Summary, article.Category, severity, provenance, status, article.ContentHash, timePtr(article.PublishedAt), article.DiscoveredAt.UTC().Format(time.RFC3339)).
		Suffix("ON CONFLICT(identity_key) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build article insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert article %s: %w", article.IdentityKey, err)
	}

	for _, origin := range article.Origins {
		if err := s.RecordOrigin(ctx, article.IdentityKey, origin); err != nil {
			return err
		}
	}
	return nil
}

// GetArticle returns the stored record for an identity key, or nil when
// the key is unknown.
func (s *SQLiteStore) GetArticle(ctx context.Context, identityKey string) (*domain.Article, error) {
	query, args, err := sq.Select("identity_key", "url", "title", "summary", "category", "severity", "provenance", "scrape_status", "content_hash", "published_at", "discovered_at").
		From("articles").
		Where(sq.Eq{"identity_key": identityKey}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build article select: %w", err)
	}

	article, err := s.scanArticle(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load article %s: %w", identityKey, err)
	}

	origins, err := s.loadOrigins(ctx, identityKey)
	if err != nil {
		return nil, err
	}
	article.Origins = origins
	return article, nil
}

// RecordOrigin notes that a source re-discovered the article. Identity is
// origin-independent, so duplicates are a no-op.
func (s *SQLiteStore) RecordOrigin(ctx context.Context, identityKey, origin string) error {
	query, args, err := sq.Insert("article_origins").
		Columns("identity_key", "origin").
		Values(identityKey, origin).
		Suffix("ON CONFLICT(identity_key, origin) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build origin insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record origin %s/%s: %w", identityKey, origin, err)
	}
	return nil
}

// UpdateScrape records a scrape outcome. The statement itself guards the
// monotonic invariant: once a record reached full it never regresses, and
// a degraded status may only replace unscraped.
func (s *SQLiteStore) UpdateScrape(ctx context.Context, identityKey string, status domain.ScrapeStatus, contentHash string, publishedAt *time.Time) error {
	builder := sq.Update("articles").
		Set("scrape_status", status).
		Set("updated_at", time.Now().UTC().Format(time.RFC3339)).
		Where(sq.Eq{"identity_key": identityKey})

	if contentHash != "" {
		builder = builder.Set("content_hash", contentHash)
	}
	if publishedAt != nil {
		builder = builder.Set("published_at", publishedAt.UTC().Format(time.RFC3339))
	}
	if status != domain.StatusFull {
		builder = builder.Where(sq.Eq{"scrape_status": domain.StatusUnscraped})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build scrape update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update scrape %s: %w", identityKey, err)
	}
	return nil
}

// UpdateAnalysis records summary/severity. An automated result never
// replaces a human-verified one; the guard lives in the statement so the
// invariant holds regardless of call ordering.
func (s *SQLiteStore) UpdateAnalysis(ctx context.Context, identityKey, summary, category string, severity domain.Severity, provenance domain.Provenance) error {
	builder := sq.Update("articles").
		Set("summary", summary).
		Set("category", category).
		Set("severity", severity).
		Set("provenance", provenance).
		Set("updated_at", time.Now().UTC().Format(time.RFC3339)).
		Where(sq.Eq{"identity_key": identityKey})

	if provenance != domain.ProvenanceHumanVerified {
		builder = builder.Where(sq.NotEq{"provenance": domain.ProvenanceHumanVerified})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build analysis update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update analysis %s: %w", identityKey, err)
	}
	return nil
}

// UpsertEntity creates the entity lazily on first mention. The display
// name is enriched when a later mention carries a longer form.
func (s *SQLiteStore) UpsertEntity(ctx context.Context, entity domain.Entity) error {
	query, args, err := sq.Insert("entities").
		Columns("name", "type", "display_name").
		Values(entity.NormalizedName(), entity.Type, entity.Name).
		Suffix("ON CONFLICT(name, type) DO UPDATE SET display_name = CASE WHEN length(excluded.display_name) > length(display_name) THEN excluded.display_name ELSE display_name END").
		ToSql()
	if err != nil {
		return fmt.Errorf("build entity insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert entity %s/%s: %w", entity.Type, entity.Name, err)
	}
	return nil
}

// UpsertRelationship inserts an edge; an existing edge is a no-op.
func (s *SQLiteStore) UpsertRelationship(ctx context.Context, rel domain.Relationship) error {
	query, args, err := sq.Insert("relationships").
		Columns("source", "target", "relation_type", "confidence").
		Values(rel.Source, rel.Target, rel.Type, rel.Confidence).
		Suffix("ON CONFLICT(source, target, relation_type) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build relationship insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert relationship %s->%s: %w", rel.Source, rel.Target, err)
	}
	return nil
}

// ListForHealing returns degraded records oldest-discovered-first, capped
// at limit to bound a single healing run.
func (s *SQLiteStore) ListForHealing(ctx context.Context, limit int) ([]domain.Article, error) {
	query, args, err := sq.Select("identity_key", "url", "title", "summary", "category", "severity", "provenance", "scrape_status", "content_hash", "published_at", "discovered_at").
		From("articles").
		Where(sq.Eq{"scrape_status": []domain.ScrapeStatus{domain.StatusFailed, domain.StatusPartialSnippet}}).
		OrderBy("discovered_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build healing select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query healing candidates: %w", err)
	}
	defer rows.Close()

	var articles []domain.Article
	for rows.Next() {
		article, err := s.scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan healing candidate: %w", err)
		}
		articles = append(articles, *article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate healing candidates: %w", err)
	}
	return articles, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanArticle(row rowScanner) (*domain.Article, error) {
	var (
		article      domain.Article
		publishedAt  sql.NullString
		discoveredAt string
	)
	err := row.Scan(
		&article.IdentityKey, &article.URL, &article.Title, &article.Summary,
		&article.Category, &article.Severity, &article.Provenance,
		&article.ScrapeStatus, &article.ContentHash, &publishedAt, &discoveredAt,
	)
	if err != nil {
		return nil, err
	}

	if publishedAt.Valid {
		if parsed, err := time.Parse(time.RFC3339, publishedAt.String); err == nil {
			article.PublishedAt = &parsed
		}
	}
	if parsed, err := time.Parse(time.RFC3339, discoveredAt); err == nil {
		article.DiscoveredAt = parsed
	}
	return &article, nil
}

func (s *SQLiteStore) loadOrigins(ctx context.Context, identityKey string) ([]string, error) {
	query, args, err := sq.Select("origin").
		From("article_origins").
		Where(sq.Eq{"identity_key": identityKey}).
		OrderBy("origin ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build origins select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query origins %s: %w", identityKey, err)
	}
	defer rows.Close()

	var origins []string
	for rows.Next() {
		var origin string
		if err := rows.Scan(&origin); err != nil {
			return nil, fmt.Errorf("scan origin: %w", err)
		}
		origins = append(origins, origin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate origins: %w", err)
	}
	return origins, nil
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
