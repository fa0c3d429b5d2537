package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"OsintAggregator/internal/domain"
)

// Read-side queries used by the report generator. These are not part of
// ports.GraphStore: the pipeline never needs them.

// ListRecentArticles returns articles discovered since the threshold,
// highest severity first, newest within a severity.
func (s *SQLiteStore) ListRecentArticles(ctx context.Context, since time.Time) ([]domain.Article, error) {
	query, args, err := sq.Select("identity_key", "url", "title", "summary", "category", "severity", "provenance", "scrape_status", "content_hash", "published_at", "discovered_at").
		From("articles").
		Where(sq.GtOrEq{"discovered_at": since.UTC().Format(time.RFC3339)}).
		OrderBy(
			"CASE severity WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END",
			"discovered_at DESC",
		).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent articles: %w", err)
	}
	defer rows.Close()

	var articles []domain.Article
	for rows.Next() {
		article, err := s.scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recent article: %w", err)
		}
		articles = append(articles, *article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent articles: %w", err)
	}
	return articles, nil
}

// ListEntities returns every stored entity with its display name.
func (s *SQLiteStore) ListEntities(ctx context.Context) ([]domain.Entity, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT display_name, type FROM entities ORDER BY type, name")
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var entities []domain.Entity
	for rows.Next() {
		var e domain.Entity
		if err := rows.Scan(&e.Name, &e.Type); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}

// ListRelationships returns every stored edge.
func (s *SQLiteStore) ListRelationships(ctx context.Context) ([]domain.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source, target, relation_type, confidence FROM relationships ORDER BY source, target")
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	var rels []domain.Relationship
	for rows.Next() {
		var r domain.Relationship
		if err := rows.Scan(&r.Source, &r.Target, &r.Type, &r.Confidence); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return rels, nil
}
