package alertmail

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"OsintAggregator/internal/domain"
	"OsintAggregator/internal/ports"
)

// Source reads every .eml digest in the drop directory. Files are left
// in place; the dedup gate makes re-reading them harmless.
type Source struct {
	name   string
	dir    string
	logger *slog.Logger
}

var _ ports.AlertSource = (*Source)(nil)

// New builds a digest source over a drop directory.
func New(name, dir string, logger *slog.Logger) *Source {
	return &Source{name: name, dir: dir, logger: logger}
}

func (s *Source) Name() string { return s.name }

// Fetch parses every digest file. A single unreadable digest is logged
// and skipped; a missing directory means zero items this run.
func (s *Source) Fetch(ctx context.Context) ([]domain.RawItem, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read digest dir %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(strings.ToLower(entry.Name()), ".eml") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var items []domain.RawItem
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.warn("cannot read digest", "file", name, "error", err)
			continue
		}
		parsed, err := ParseDigest(raw)
		if err != nil {
			s.warn("cannot parse digest", "file", name, "error", err)
			continue
		}
		items = append(items, parsed...)
	}
	return items, nil
}

func (s *Source) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
