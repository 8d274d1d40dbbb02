package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/satchelhq/satchel/internal/cache"
	"github.com/satchelhq/satchel/internal/events"
	"github.com/satchelhq/satchel/internal/portal"
	"github.com/satchelhq/satchel/internal/provider"
	"github.com/satchelhq/satchel/internal/safety"
)

// countingProvider serves canned results and counts invocations.
type countingProvider struct {
	name    string
	results []portal.RawResult
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (p *countingProvider) Name() string    { return p.name }
func (p *countingProvider) Available() bool { return true }

func (p *countingProvider) Search(ctx context.Context, query string, opts provider.Options) ([]portal.RawResult, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.results, nil
}

func cannedRaw(n int) []portal.RawResult {
	var raw []portal.RawResult
	for i := 0; i < n; i++ {
		raw = append(raw, portal.RawResult{
			Title:   fmt.Sprintf("Result %d", i),
			URL:     fmt.Sprintf("https://example%d.edu/page", i),
			Snippet: "educational content",
			Domain:  fmt.Sprintf("example%d.edu", i),
		})
	}
	return raw
}

func newSearcher(t *testing.T, p provider.Provider, opts Options) *Searcher {
	t.Helper()
	chain := provider.NewChain(nil, p)
	filter := safety.NewFilter(nil, nil)
	return NewSearcher(chain, filter, cache.New[[]portal.Result](10), nil, opts)
}

func TestSearchInvalidRole(t *testing.T) {
	s := newSearcher(t, &countingProvider{name: "stub", results: cannedRaw(2)}, Options{})

	_, err := s.Search(context.Background(), "photosynthesis", portal.Role("superuser"))
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("err = %v, want ErrInvalidRole", err)
	}
}

func TestSearchShortQueryNoDispatch(t *testing.T) {
	p := &countingProvider{name: "stub", results: cannedRaw(2)}
	s := newSearcher(t, p, Options{})

	resp, err := s.Search(context.Background(), "ab", portal.RoleStudent)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("got %d results, want 0", len(resp.Results))
	}
	if p.calls.Load() != 0 {
		t.Errorf("provider called %d times for short query", p.calls.Load())
	}
}

func TestSearchCachedWithinTTL(t *testing.T) {
	p := &countingProvider{name: "stub", results: cannedRaw(3)}
	s := newSearcher(t, p, Options{})

	first, err := s.Search(context.Background(), "photosynthesis", portal.RoleStudent)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	second, err := s.Search(context.Background(), "Photosynthesis ", portal.RoleStudent)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if p.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1 (cache hit)", p.calls.Load())
	}
	if len(second.Results) != len(first.Results) {
		t.Errorf("cached response differs: %d vs %d results", len(second.Results), len(first.Results))
	}
	for i := range first.Results {
		if second.Results[i].ID != first.Results[i].ID {
			t.Errorf("result %d identity changed on cache hit", i)
		}
	}
}

func TestSearchCacheKeyedByRole(t *testing.T) {
	p := &countingProvider{name: "stub", results: cannedRaw(3)}
	s := newSearcher(t, p, Options{})

	s.Search(context.Background(), "photosynthesis", portal.RoleStudent)
	s.Search(context.Background(), "photosynthesis", portal.RoleStaff)

	if p.calls.Load() != 2 {
		t.Errorf("provider called %d times, want 2 (distinct roles)", p.calls.Load())
	}
}

func TestSearchFallbackOnExhaustion(t *testing.T) {
	p := &countingProvider{name: "stub", err: errors.New("upstream down")}
	s := newSearcher(t, p, Options{})

	resp, err := s.Search(context.Background(), "photosynthesis", portal.RoleStudent)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !resp.Fallback {
		t.Error("response not marked fallback")
	}
	if len(resp.Results) == 0 {
		t.Error("fallback produced no results")
	}

	// Fallback output is not cached; the next call retries providers.
	s.Search(context.Background(), "photosynthesis", portal.RoleStudent)
	if p.calls.Load() != 2 {
		t.Errorf("provider called %d times, want 2 (fallback not cached)", p.calls.Load())
	}
}

func TestSearchFallbackWhenAllFiltered(t *testing.T) {
	raw := []portal.RawResult{
		{Title: "Social", URL: "https://www.facebook.com/x", Snippet: "s", Domain: "www.facebook.com"},
		{Title: "More social", URL: "https://www.tiktok.com/y", Snippet: "s", Domain: "www.tiktok.com"},
	}
	s := newSearcher(t, &countingProvider{name: "stub", results: raw}, Options{})

	resp, err := s.Search(context.Background(), "photosynthesis", portal.RoleStudent)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !resp.Fallback {
		t.Error("fully-filtered result set should fall back")
	}
	if len(resp.Results) == 0 {
		t.Error("fallback produced no results")
	}
}

func TestSearchDeduplicatesConcurrent(t *testing.T) {
	p := &countingProvider{name: "stub", results: cannedRaw(3), delay: 50 * time.Millisecond}
	s := newSearcher(t, p, Options{})

	const callers = 8
	var wg sync.WaitGroup
	responses := make([]*portal.Response, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := s.Search(context.Background(), "photosynthesis", portal.RoleStudent)
			if err != nil {
				t.Errorf("search: %v", err)
				return
			}
			responses[i] = resp
		}(i)
	}
	wg.Wait()

	if p.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1 (single flight)", p.calls.Load())
	}
	for i := 1; i < callers; i++ {
		if responses[i] == nil || responses[0] == nil {
			t.Fatal("missing response")
		}
		if len(responses[i].Results) != len(responses[0].Results) {
			t.Errorf("caller %d got %d results, caller 0 got %d",
				i, len(responses[i].Results), len(responses[0].Results))
		}
	}
}

func TestSearchPublishesTelemetry(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)

	p := &countingProvider{name: "stub", results: cannedRaw(3)}
	s := newSearcher(t, p, Options{
		Bus:   bus,
		Rater: safety.NewRater(safety.DefaultBands, nil, nil),
	})

	if _, err := s.Search(context.Background(), "photosynthesis", portal.RoleStudent); err != nil {
		t.Fatalf("search: %v", err)
	}

	kinds := make(map[string]events.Event)
	timeout := time.After(time.Second)
	for len(kinds) < 2 {
		select {
		case e := <-ch:
			kinds[e.Kind] = e
		case <-timeout:
			t.Fatalf("only saw kinds %v", kinds)
		}
	}

	rated, ok := kinds[events.KindRated]
	if !ok {
		t.Fatal("no rating event")
	}
	if rated.Data["trigger"] != "safe" {
		t.Errorf("trigger = %v, want safe", rated.Data["trigger"])
	}

	complete, ok := kinds[events.KindSearchComplete]
	if !ok {
		t.Fatal("no search_complete event")
	}
	if complete.Data["results"] != 3 || complete.Data["fallback"] != false {
		t.Errorf("search_complete data = %v", complete.Data)
	}
}

func TestDebouncerDispatchesSettledText(t *testing.T) {
	p := &countingProvider{name: "stub", results: cannedRaw(2)}
	s := newSearcher(t, p, Options{})

	var mu sync.Mutex
	var delivered []string
	done := make(chan struct{}, 4)

	d := NewDebouncer(s, portal.RoleStudent, 30*time.Millisecond, func(q string, resp *portal.Response, err error) {
		mu.Lock()
		delivered = append(delivered, q)
		mu.Unlock()
		done <- struct{}{}
	})
	defer d.Close()

	// Rapid typing: only the final text survives the quiet period.
	d.Type("pho")
	time.Sleep(5 * time.Millisecond)
	d.Type("photo")
	time.Sleep(5 * time.Millisecond)
	d.Type("photosynthesis")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debounced dispatch never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] != "photosynthesis" {
		t.Errorf("delivered = %v, want [photosynthesis]", delivered)
	}
	if p.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1", p.calls.Load())
	}
}

func TestDebouncerShortTextCancelsPending(t *testing.T) {
	p := &countingProvider{name: "stub", results: cannedRaw(2)}
	s := newSearcher(t, p, Options{})

	d := NewDebouncer(s, portal.RoleStudent, 20*time.Millisecond, func(q string, resp *portal.Response, err error) {
		t.Errorf("unexpected dispatch for %q", q)
	})
	defer d.Close()

	d.Type("photosynthesis")
	d.Type("ab") // backspaced below the minimum; pending dispatch dies

	time.Sleep(80 * time.Millisecond)
	if p.calls.Load() != 0 {
		t.Errorf("provider called %d times, want 0", p.calls.Load())
	}
}

func TestDebouncerFlush(t *testing.T) {
	p := &countingProvider{name: "stub", results: cannedRaw(2)}
	s := newSearcher(t, p, Options{})

	done := make(chan string, 1)
	d := NewDebouncer(s, portal.RoleStudent, time.Hour, func(q string, resp *portal.Response, err error) {
		done <- q
	})
	defer d.Close()

	d.Type("photosynthesis")
	d.Flush()

	select {
	case q := <-done:
		if q != "photosynthesis" {
			t.Errorf("flushed query = %q", q)
		}
	case <-time.After(time.Second):
		t.Fatal("flush did not dispatch")
	}
}
