// Package answer synthesizes short instant answers from the top
// filtered search results via the language model. Answers are a
// derived, cache-backed convenience: every failure path yields an
// absent answer, never an error to the caller.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/satchelhq/satchel/internal/cache"
	"github.com/satchelhq/satchel/internal/llm"
	"github.com/satchelhq/satchel/internal/portal"
)

const (
	maxContextResults = 3
	maxTitleChars     = 80
	maxSnippetChars   = 200
	maxSources        = 5
	minAnswerChars    = 10

	staffMaxTokens   = 400
	studentMaxTokens = 150

	// DefaultTimeout bounds the model call. Past it the answer is
	// simply absent.
	DefaultTimeout = 30 * time.Second

	// DefaultTTL is the answer cache TTL, tunable separately from the
	// raw-result cache.
	DefaultTTL = 10 * time.Minute
)

// unableSentinel is the model's own "can't help" phrasing; an answer
// containing it is treated as no answer.
const unableSentinel = "unable to process"

// Synthesizer builds instant answers. A nil or unconfigured client
// disables synthesis entirely (Synthesize returns nil).
type Synthesizer struct {
	client  llm.Client
	cache   *cache.Cache[*portal.Answer]
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// Option adjusts a Synthesizer.
type Option func(*Synthesizer)

// WithTTL overrides the answer cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Synthesizer) { s.ttl = ttl }
}

// WithTimeout overrides the model-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.timeout = d }
}

// New creates a Synthesizer backed by the given model client and
// answer cache. client may be nil.
func New(client llm.Client, answerCache *cache.Cache[*portal.Answer], logger *slog.Logger, opts ...Option) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if answerCache == nil {
		answerCache = cache.New[*portal.Answer](cache.DefaultCapacity)
	}
	s := &Synthesizer{
		client:  client,
		cache:   answerCache,
		ttl:     DefaultTTL,
		timeout: DefaultTimeout,
		logger:  logger.With("component", "answer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize returns an instant answer for the query grounded in the
// given results, or nil when no useful answer can be produced. The
// cache is consulted first; a degenerate or failed model response is
// absorbed into a nil return.
func (s *Synthesizer) Synthesize(ctx context.Context, q portal.Query, results []portal.Result) *portal.Answer {
	if s.client == nil || len(results) == 0 {
		return nil
	}

	key := q.CacheKey()
	if cached, ok := s.cache.Get(key); ok {
		s.logger.Debug("answer cache hit", "key", key)
		return cached
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := s.buildRequest(q, results)
	resp, err := s.client.Complete(ctx, req)
	if err != nil {
		s.logger.Warn("answer synthesis failed", "query", q.Normalized, "error", err)
		return nil
	}

	text := strings.TrimSpace(resp.Text)
	if degenerate(text) {
		s.logger.Debug("degenerate answer discarded", "query", q.Normalized, "length", len(text))
		return nil
	}

	ans := &portal.Answer{
		Text:       text,
		Sources:    sources(results),
		Confidence: confidence(len(results), len(text)),
	}
	s.cache.Set(key, ans, s.ttl)
	return ans
}

// buildRequest assembles the role-specific prompt over a compact
// context drawn from the top results.
func (s *Synthesizer) buildRequest(q portal.Query, results []portal.Result) llm.Request {
	var b strings.Builder
	for i, r := range results {
		if i >= maxContextResults {
			break
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, truncate(r.Title, maxTitleChars), truncate(r.Snippet, maxSnippetChars))
	}

	var system string
	var maxTokens int
	if q.Role == portal.RoleStaff {
		system = "You are a research assistant for school staff. Using only the " +
			"numbered search results provided, write a concise but thorough answer " +
			"to the question. Note any disagreement between sources."
		maxTokens = staffMaxTokens
	} else {
		system = "You are a friendly helper for students. Using only the numbered " +
			"search results provided, answer the question in simple language, " +
			"1-2 sentences."
		maxTokens = studentMaxTokens
	}

	return llm.Request{
		System: system,
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Search results:\n\n%sQuestion: %s", b.String(), q.Text),
		}},
		MaxTokens: maxTokens,
	}
}

// degenerate reports whether model output should be discarded.
func degenerate(text string) bool {
	if len(text) < minAnswerChars {
		return true
	}
	return strings.Contains(strings.ToLower(text), unableSentinel)
}

// confidence applies the deterministic quality heuristic. It never
// consults the model's own self-report.
func confidence(resultCount, answerLen int) portal.Confidence {
	switch {
	case resultCount < 2 || answerLen < 50:
		return portal.ConfidenceLow
	case resultCount >= 3 && answerLen > 100:
		return portal.ConfidenceHigh
	default:
		return portal.ConfidenceMedium
	}
}

// sources lists up to five input result URLs in order, regardless of
// how many fed the prompt.
func sources(results []portal.Result) []string {
	n := len(results)
	if n > maxSources {
		n = maxSources
	}
	urls := make([]string, 0, n)
	for _, r := range results[:n] {
		urls = append(urls, r.URL)
	}
	return urls
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
