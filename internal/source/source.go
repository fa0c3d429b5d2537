// Package source aggregates discovery items from all configured
// providers. Each provider kind registers a factory; config decides
// which concrete sources exist.
package source

import (
	"context"
	"fmt"
	"log/slog"

	"OsintAggregator/internal/config"
	"OsintAggregator/internal/domain"
	"OsintAggregator/internal/ports"
)

// Factory builds a concrete source from its config entry.
type Factory func(cfg config.SourceConfig, logger *slog.Logger) (ports.AlertSource, error)

// Registry keeps a mapping from source kinds to their factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces a source factory.
func (r *Registry) Register(kind string, factory Factory) {
	if r.factories == nil {
		r.factories = map[string]Factory{}
	}
	r.factories[kind] = factory
}

// Resolve returns a factory by kind or an error if it is absent.
func (r *Registry) Resolve(kind string) (Factory, error) {
	if factory, ok := r.factories[kind]; ok {
		return factory, nil
	}
	return nil, fmt.Errorf("source kind %s is not registered", kind)
}

// Discovery is one source's yield for a run.
type Discovery struct {
	Origin string
	Items  []domain.RawItem
}

// Aggregator fans a run's fetch across every configured source.
type Aggregator struct {
	sources []ports.AlertSource
	logger  *slog.Logger
}

// NewAggregator instantiates every configured source through the
// registry. Unknown kinds are configuration errors and abort startup.
func NewAggregator(registry *Registry, cfgs []config.SourceConfig, logger *slog.Logger) (*Aggregator, error) {
	sources := make([]ports.AlertSource, 0, len(cfgs))
	for _, cfg := range cfgs {
		factory, err := registry.Resolve(cfg.Kind)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
		}
		src, err := factory(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
		}
		sources = append(sources, src)
	}
	return &Aggregator{sources: sources, logger: logger}, nil
}

// FetchAll collects from every source. A source's transient failure is
// logged and contributes zero items; it never fails the run.
func (a *Aggregator) FetchAll(ctx context.Context) []Discovery {
	discoveries := make([]Discovery, 0, len(a.sources))
	for _, src := range a.sources {
		items, err := src.Fetch(ctx)
		if err != nil {
			if a.logger != nil {
				a.logger.Warn("source unavailable this run", "source", src.Name(), "error", err)
			}
			continue
		}
		if a.logger != nil {
			a.logger.Debug("source yielded items", "source", src.Name(), "count", len(items))
		}
		discoveries = append(discoveries, Discovery{Origin: src.Name(), Items: items})
	}
	return discoveries
}
