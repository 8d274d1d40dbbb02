// Package orchestrator ties the search pipeline together: provider
// chain, safety filter, educational fallback, instant answers, content
// rating, and telemetry. It also owns the interactive concerns —
// debounced keystroke dispatch, in-flight deduplication, and staff
// chat sessions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/satchelhq/satchel/internal/answer"
	"github.com/satchelhq/satchel/internal/cache"
	"github.com/satchelhq/satchel/internal/events"
	"github.com/satchelhq/satchel/internal/fallback"
	"github.com/satchelhq/satchel/internal/portal"
	"github.com/satchelhq/satchel/internal/provider"
	"github.com/satchelhq/satchel/internal/safety"
)

// ErrInvalidRole marks a caller contract violation: an unknown role
// cannot be mapped to a safety policy, so the pipeline refuses to run.
var ErrInvalidRole = errors.New("invalid role")

// MinQueryLength is the default minimum query length; shorter input
// completes immediately with no results and no dispatch.
const MinQueryLength = 3

// DefaultResultTTL is the raw-result cache TTL.
const DefaultResultTTL = 5 * time.Minute

// Searcher is the synchronous pipeline entry point. It is safe for
// concurrent use; identical concurrent queries share one pipeline run.
type Searcher struct {
	chain       *provider.Chain
	filter      *safety.Filter
	rater       *safety.Rater
	synth       *answer.Synthesizer
	results     *cache.Cache[[]portal.Result]
	bus         *events.Bus
	logger      *slog.Logger
	minQueryLen int
	resultTTL   time.Duration
	resultCount int

	mu       sync.Mutex
	inflight map[string]*flight
}

// flight is one in-progress pipeline run that duplicate callers wait on.
type flight struct {
	done chan struct{}
	resp *portal.Response
}

// Options configures a Searcher beyond its required collaborators.
type Options struct {
	MinQueryLength int
	ResultTTL      time.Duration
	ResultCount    int
	Bus            *events.Bus // nil disables telemetry
	Rater          *safety.Rater
	Synthesizer    *answer.Synthesizer
}

// NewSearcher assembles the pipeline. chain and filter are required;
// everything in opts is optional and degrades to a pipeline without
// that stage.
func NewSearcher(chain *provider.Chain, filter *safety.Filter, resultCache *cache.Cache[[]portal.Result], logger *slog.Logger, opts Options) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	if resultCache == nil {
		resultCache = cache.New[[]portal.Result](cache.DefaultCapacity)
	}
	s := &Searcher{
		chain:       chain,
		filter:      filter,
		rater:       opts.Rater,
		synth:       opts.Synthesizer,
		results:     resultCache,
		bus:         opts.Bus,
		logger:      logger.With("component", "orchestrator"),
		minQueryLen: opts.MinQueryLength,
		resultTTL:   opts.ResultTTL,
		resultCount: opts.ResultCount,
		inflight:    make(map[string]*flight),
	}
	if s.minQueryLen <= 0 {
		s.minQueryLen = MinQueryLength
	}
	if s.resultTTL <= 0 {
		s.resultTTL = DefaultResultTTL
	}
	if s.resultCount <= 0 {
		s.resultCount = provider.DefaultCount
	}
	return s
}

// Search runs the full pipeline for one query. Provider failures,
// empty result sets, and synthesis failures are absorbed into a
// degraded-but-completed response; the only hard error is an invalid
// role.
func (s *Searcher) Search(ctx context.Context, text string, role portal.Role) (*portal.Response, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	q := portal.NewQuery(text, role)
	if len(q.Normalized) < s.minQueryLen {
		return &portal.Response{Query: q.Text, Role: role, Results: []portal.Result{}}, nil
	}

	key := q.CacheKey()

	s.mu.Lock()
	if f, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		select {
		case <-f.done:
			return f.resp, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	s.inflight[key] = f
	s.mu.Unlock()

	resp := s.run(ctx, q)

	f.resp = resp
	close(f.done)
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()

	return resp, nil
}

// run executes one pipeline pass. It never fails: every external
// failure degrades into fallback results or an absent answer.
func (s *Searcher) run(ctx context.Context, q portal.Query) *portal.Response {
	start := time.Now()
	resp := &portal.Response{Query: q.Text, Role: q.Role}

	providerName := "cache"
	results, cached := s.results.Get(q.CacheKey())
	if !cached {
		results, providerName, resp.Fallback = s.fetch(ctx, q)
		if !resp.Fallback {
			s.results.Set(q.CacheKey(), results, s.resultTTL)
		}
	}
	resp.Results = results

	if s.synth != nil {
		resp.Answer = s.synth.Synthesize(ctx, q, results)
	}
	resp.Elapsed = time.Since(start)

	s.report(ctx, q, resp, providerName)
	return resp
}

// fetch runs providers and the safety filter, substituting the
// educational fallback when nothing survives.
func (s *Searcher) fetch(ctx context.Context, q portal.Query) (results []portal.Result, providerName string, isFallback bool) {
	raw, name, err := s.chain.Search(ctx, q.Normalized, provider.Options{Count: s.resultCount})
	if err != nil {
		var exhausted *provider.ExhaustedError
		if errors.As(err, &exhausted) {
			s.logger.Warn("all providers exhausted", "query", q.Normalized, "attempts", len(exhausted.Attempts))
			s.publishAttempts(exhausted)
		} else {
			s.logger.Warn("provider chain failed", "query", q.Normalized, "error", err)
		}
		return fallback.Results(q.Normalized), "fallback", true
	}

	filtered := s.filter.Filter(ctx, raw, q.Role)
	if len(filtered) == 0 {
		s.logger.Debug("all results filtered, using fallback", "query", q.Normalized, "provider", name)
		return fallback.Results(q.Normalized), "fallback", true
	}
	return filtered, name, false
}

// report publishes telemetry for a completed run: the search record,
// the content rating, and one event per flagged result. All of it is
// best-effort and non-blocking.
func (s *Searcher) report(ctx context.Context, q portal.Query, resp *portal.Response, providerName string) {
	var rating portal.Rating
	if s.rater != nil {
		rating = s.rater.Rate(ctx, q.Normalized, resp.Results, resp.Answer)
		s.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceSafety,
			Kind:      events.KindRated,
			Data: map[string]any{
				"query":    q.Normalized,
				"role":     string(q.Role),
				"score":    rating.Score,
				"trigger":  string(rating.Trigger),
				"findings": len(rating.Findings),
			},
		})
	}

	for _, r := range resp.Results {
		if !r.Flagged {
			continue
		}
		s.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceSafety,
			Kind:      events.KindResultFlagged,
			Data: map[string]any{
				"query":  q.Normalized,
				"role":   string(q.Role),
				"url":    r.URL,
				"domain": r.Domain,
			},
		})
	}

	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSearch,
		Kind:      events.KindSearchComplete,
		Data: map[string]any{
			"query":       q.Normalized,
			"role":        string(q.Role),
			"results":     len(resp.Results),
			"fallback":    resp.Fallback,
			"answered":    resp.Answer != nil,
			"trigger":     string(rating.Trigger),
			"score":       rating.Score,
			"provider":    providerName,
			"duration_ms": resp.Elapsed.Milliseconds(),
		},
	})
}

func (s *Searcher) publishAttempts(exhausted *provider.ExhaustedError) {
	for _, a := range exhausted.Attempts {
		s.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceProvider,
			Kind:      events.KindProviderFailed,
			Data:      map[string]any{"provider": a.Provider, "reason": a.Reason},
		})
	}
}
