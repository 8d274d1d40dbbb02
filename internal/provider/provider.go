// Package provider implements the web search backends and the ordered
// fallback chain that tries them until one produces usable results.
//
// Each backend implements the [Provider] interface and normalizes its
// wire format into [portal.RawResult]. The [Chain] walks providers in
// priority order: unavailable providers are skipped, failing or empty
// providers are recorded and the next one is tried. Only when every
// provider is exhausted does the chain return an error — and even that
// is not user-facing: callers substitute curated educational content.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/satchelhq/satchel/internal/portal"
)

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means provider default.
	Count int

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string
}

// DefaultCount is used when Options.Count is zero.
const DefaultCount = 8

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "brave", "searxng").
	Name() string

	// Available is a cheap precondition check: do we have the
	// credentials or endpoint needed to even attempt a search?
	Available() bool

	// Search executes a query and returns normalized results.
	Search(ctx context.Context, query string, opts Options) ([]portal.RawResult, error)
}

// Attempt records the outcome of one provider try during a chain walk.
type Attempt struct {
	Provider string
	Reason   string // "skipped: not configured", "empty result set", or the error text
}

// ExhaustedError reports that every provider in the chain was skipped,
// failed, or returned nothing. Callers must treat it as "no external
// data available", not as a fatal condition.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.Reason))
	}
	return "all search providers exhausted: " + strings.Join(parts, "; ")
}

// Chain walks an ordered list of providers until one succeeds.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a chain that tries providers in the given order.
// Priority is fixed at construction; the chain itself is stateless
// with respect to individual queries.
func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		logger:    logger.With("component", "provider_chain"),
	}
}

// Providers returns the names of chain members in priority order.
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Search tries each provider in order and returns the first non-empty
// result set along with the name of the provider that produced it.
// Provider attempts are strictly sequential so priority stays
// deterministic. An *ExhaustedError is returned when nothing worked.
func (c *Chain) Search(ctx context.Context, query string, opts Options) ([]portal.RawResult, string, error) {
	if opts.Count <= 0 {
		opts.Count = DefaultCount
	}

	var attempts []Attempt
	for _, p := range c.providers {
		if !p.Available() {
			attempts = append(attempts, Attempt{Provider: p.Name(), Reason: "skipped: not configured"})
			continue
		}

		start := time.Now()
		results, err := p.Search(ctx, query, opts)
		if err != nil {
			c.logger.Warn("provider failed, trying next",
				"provider", p.Name(),
				"error", err,
				"elapsed", time.Since(start),
			)
			attempts = append(attempts, Attempt{Provider: p.Name(), Reason: err.Error()})
			continue
		}
		if len(results) == 0 {
			c.logger.Debug("provider returned no results, trying next", "provider", p.Name())
			attempts = append(attempts, Attempt{Provider: p.Name(), Reason: "empty result set"})
			continue
		}

		c.logger.Debug("provider succeeded",
			"provider", p.Name(),
			"results", len(results),
			"elapsed", time.Since(start),
		)
		return results, p.Name(), nil
	}

	return nil, "", &ExhaustedError{Attempts: attempts}
}

// normalize converts a provider hit into a RawResult, deriving the
// domain with strict URL parsing. It returns false for results that
// should be dropped (bad URL, empty title).
func normalize(title, rawURL, snippet string) (portal.RawResult, bool) {
	title = strings.TrimSpace(title)
	if title == "" {
		return portal.RawResult{}, false
	}
	domain, err := portal.DomainOf(strings.TrimSpace(rawURL))
	if err != nil {
		return portal.RawResult{}, false
	}
	return portal.RawResult{
		Title:   title,
		URL:     strings.TrimSpace(rawURL),
		Snippet: strings.TrimSpace(snippet),
		Domain:  domain,
	}, true
}
