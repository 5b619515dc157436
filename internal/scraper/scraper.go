package scraper

import (
	"context"
	"fmt"

	"TenderScanner/internal/domain"
)

// Scraper pulls announcements from one configured source.
type Scraper interface {
	// Scrape fetches at most limit items in document order. Per-entry
	// failures are skipped; a batch-level failure returns an error.
	Scrape(ctx context.Context, limit int) ([]domain.ScrapedItem, error)
	// TestConnection performs a lightweight fetch of the list URL and
	// reduces any outcome to a boolean. It never returns an error.
	TestConnection(ctx context.Context) bool
	Close() error
}

// Factory builds a scraper variant for a concrete source configuration.
type Factory func(source domain.Source) (Scraper, error)

// Registry keeps a mapping from scraper type tags to their factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces a factory for the given type tag.
func (r *Registry) Register(typeTag string, factory Factory) {
	if r.factories == nil {
		r.factories = map[string]Factory{}
	}
	r.factories[typeTag] = factory
}

// Build constructs the scraper variant declared by the source's type tag.
func (r *Registry) Build(source domain.Source) (Scraper, error) {
	factory, ok := r.factories[source.ScraperType]
	if !ok {
		return nil, fmt.Errorf("scraper type %q is not registered", source.ScraperType)
	}
	return factory(source)
}
