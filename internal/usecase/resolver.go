package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"OsintAggregator/internal/domain"
	"OsintAggregator/internal/ports"
)

// Resolution is the dedup gate's verdict for one candidate.
type Resolution int

const (
	// ResolutionNew means the candidate must be scraped and analyzed.
	ResolutionNew Resolution = iota
	// ResolutionDuplicate means the identity key is already covered;
	// only the origin sighting is recorded.
	ResolutionDuplicate
	// ResolutionNeedsHealing is returned in healing mode for records
	// stuck in a degraded scrape status.
	ResolutionNeedsHealing
)

// Resolver is the single chokepoint that guarantees at-most-once full
// processing per identity key.
type Resolver struct {
	store  ports.GraphStore
	logger *slog.Logger
}

// NewResolver builds the dedup gate over the graph store.
func NewResolver(store ports.GraphStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger.With("component", "resolver")}
}

// Resolve looks the candidate up by identity key. First sightings are
// persisted immediately as unscraped articles so a crash mid-run leaves
// a record, not a gap. Records still unscraped (an earlier aborted run)
// resolve as new again; anything further along is a duplicate.
func (r *Resolver) Resolve(ctx context.Context, cand domain.Candidate, healing bool) (Resolution, error) {
	existing, err := r.store.GetArticle(ctx, cand.IdentityKey)
	if err != nil {
		return ResolutionDuplicate, fmt.Errorf("lookup %s: %w", cand.IdentityKey, err)
	}

	if existing == nil {
		article := domain.Article{
			IdentityKey:  cand.IdentityKey,
			URL:          cand.URL,
			Title:        cand.Title,
			Severity:     domain.SeverityUnknown,
			Provenance:   domain.ProvenanceAutomated,
			ScrapeStatus: domain.StatusUnscraped,
			PublishedAt:  cand.PublishedAt,
			DiscoveredAt: cand.DiscoveredAt,
		}
		if err := r.store.UpsertArticle(ctx, article); err != nil {
			return ResolutionDuplicate, fmt.Errorf("insert %s: %w", cand.IdentityKey, err)
		}
		if err := r.store.RecordOrigin(ctx, cand.IdentityKey, cand.Origin); err != nil {
			return ResolutionDuplicate, fmt.Errorf("record origin %s: %w", cand.IdentityKey, err)
		}
		return ResolutionNew, nil
	}

	if err := r.store.RecordOrigin(ctx, cand.IdentityKey, cand.Origin); err != nil {
		return ResolutionDuplicate, fmt.Errorf("record origin %s: %w", cand.IdentityKey, err)
	}

	if existing.ScrapeStatus == domain.StatusUnscraped {
		r.logger.Debug("resuming unscraped record", "identity_key", cand.IdentityKey)
		return ResolutionNew, nil
	}
	if healing && existing.ScrapeStatus.Degraded() {
		return ResolutionNeedsHealing, nil
	}
	return ResolutionDuplicate, nil
}
