package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/satchelhq/satchel/internal/cache"
	"github.com/satchelhq/satchel/internal/llm"
	"github.com/satchelhq/satchel/internal/portal"
)

type fakeClient struct {
	text    string
	err     error
	calls   int
	lastReq llm.Request
}

func (f *fakeClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.text}, nil
}

func (f *fakeClient) CompleteStream(ctx context.Context, req llm.Request, fn llm.StreamFunc) (*llm.Response, error) {
	return f.Complete(ctx, req)
}

func (f *fakeClient) Ping(ctx context.Context) error { return f.err }

func someResults(n int) []portal.Result {
	all := []portal.Result{
		{Title: "Photosynthesis", URL: "https://en.wikipedia.org/wiki/Photosynthesis", Snippet: "Plants convert light into chemical energy."},
		{Title: "Photosynthesis for kids", URL: "https://www.khanacademy.org/photosynthesis", Snippet: "A friendly walkthrough of the light reactions."},
		{Title: "Chloroplasts", URL: "https://www.britannica.com/science/chloroplast", Snippet: "The organelle where photosynthesis happens."},
		{Title: "Leaf structure", URL: "https://example.edu/leaves", Snippet: "Cross sections of leaves."},
		{Title: "Light reactions", URL: "https://example.edu/light", Snippet: "Photosystems I and II."},
		{Title: "Calvin cycle", URL: "https://example.edu/calvin", Snippet: "Carbon fixation."},
	}
	return all[:n]
}

const goodAnswer = "Photosynthesis is how plants turn sunlight, water, and carbon dioxide into sugar and oxygen. It happens in the chloroplasts of leaf cells."

func newSynth(client llm.Client, opts ...Option) *Synthesizer {
	return New(client, cache.New[*portal.Answer](10), nil, opts...)
}

func TestSynthesizeCachesAnswer(t *testing.T) {
	client := &fakeClient{text: goodAnswer}
	s := newSynth(client)
	q := portal.NewQuery("photosynthesis", portal.RoleStudent)

	first := s.Synthesize(context.Background(), q, someResults(3))
	if first == nil {
		t.Fatal("expected an answer")
	}
	second := s.Synthesize(context.Background(), q, someResults(3))
	if second == nil {
		t.Fatal("expected cached answer")
	}

	if client.calls != 1 {
		t.Errorf("model called %d times, want 1", client.calls)
	}
	if second.Text != first.Text {
		t.Errorf("cached text %q differs from original %q", second.Text, first.Text)
	}
}

func TestSynthesizeCacheKeyIncludesRole(t *testing.T) {
	client := &fakeClient{text: goodAnswer}
	s := newSynth(client)

	s.Synthesize(context.Background(), portal.NewQuery("photosynthesis", portal.RoleStudent), someResults(3))
	s.Synthesize(context.Background(), portal.NewQuery("photosynthesis", portal.RoleStaff), someResults(3))

	if client.calls != 2 {
		t.Errorf("model called %d times, want 2 (distinct roles)", client.calls)
	}
}

func TestSynthesizeDegenerateOutput(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \n  "},
		{"too short", "Yes."},
		{"sentinel", "I am unable to process this request."},
		{"sentinel mixed case", "Sorry, Unable To Process that query."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{text: tc.text}
			s := newSynth(client)
			q := portal.NewQuery("photosynthesis", portal.RoleStudent)

			if got := s.Synthesize(context.Background(), q, someResults(3)); got != nil {
				t.Errorf("got answer %+v, want nil", got)
			}
			// Degenerate output is not cached; a later good response
			// should trigger a fresh call.
			client.text = goodAnswer
			if got := s.Synthesize(context.Background(), q, someResults(3)); got == nil {
				t.Error("expected answer after model recovered")
			}
			if client.calls != 2 {
				t.Errorf("model called %d times, want 2", client.calls)
			}
		})
	}
}

func TestSynthesizeModelErrorAbsorbed(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	s := newSynth(client)
	q := portal.NewQuery("photosynthesis", portal.RoleStudent)

	if got := s.Synthesize(context.Background(), q, someResults(3)); got != nil {
		t.Errorf("got answer %+v, want nil on transport error", got)
	}
}

func TestSynthesizeNoClientOrResults(t *testing.T) {
	q := portal.NewQuery("photosynthesis", portal.RoleStudent)

	s := newSynth(nil)
	if got := s.Synthesize(context.Background(), q, someResults(3)); got != nil {
		t.Error("nil client should produce nil answer")
	}

	client := &fakeClient{text: goodAnswer}
	s = newSynth(client)
	if got := s.Synthesize(context.Background(), q, nil); got != nil {
		t.Error("empty result set should produce nil answer")
	}
	if client.calls != 0 {
		t.Errorf("model called %d times, want 0", client.calls)
	}
}

func TestSynthesizeRolePrompts(t *testing.T) {
	t.Run("student", func(t *testing.T) {
		client := &fakeClient{text: goodAnswer}
		s := newSynth(client)
		s.Synthesize(context.Background(), portal.NewQuery("photosynthesis", portal.RoleStudent), someResults(3))

		if client.lastReq.MaxTokens != studentMaxTokens {
			t.Errorf("max tokens = %d, want %d", client.lastReq.MaxTokens, studentMaxTokens)
		}
		if !strings.Contains(client.lastReq.System, "1-2 sentences") {
			t.Errorf("student system prompt missing simple instruction: %q", client.lastReq.System)
		}
	})

	t.Run("staff", func(t *testing.T) {
		client := &fakeClient{text: goodAnswer}
		s := newSynth(client)
		s.Synthesize(context.Background(), portal.NewQuery("photosynthesis", portal.RoleStaff), someResults(3))

		if client.lastReq.MaxTokens != staffMaxTokens {
			t.Errorf("max tokens = %d, want %d", client.lastReq.MaxTokens, staffMaxTokens)
		}
		if !strings.Contains(client.lastReq.System, "thorough") {
			t.Errorf("staff system prompt missing detail instruction: %q", client.lastReq.System)
		}
	})
}

func TestSynthesizeContextBounded(t *testing.T) {
	long := portal.Result{
		Title:   strings.Repeat("t", 300),
		URL:     "https://example.edu/long",
		Snippet: strings.Repeat("s", 500),
	}
	client := &fakeClient{text: goodAnswer}
	s := newSynth(client)
	s.Synthesize(context.Background(), portal.NewQuery("photosynthesis", portal.RoleStudent),
		[]portal.Result{long, long, long, long, long})

	content := client.lastReq.Messages[0].Content
	if strings.Count(content, "[") != maxContextResults {
		t.Errorf("context holds %d results, want %d", strings.Count(content, "["), maxContextResults)
	}
	if strings.Contains(content, strings.Repeat("t", maxTitleChars+1)) {
		t.Error("title not truncated")
	}
	if strings.Contains(content, strings.Repeat("s", maxSnippetChars+1)) {
		t.Error("snippet not truncated")
	}
}

func TestSynthesizeSources(t *testing.T) {
	client := &fakeClient{text: goodAnswer}
	s := newSynth(client)
	got := s.Synthesize(context.Background(), portal.NewQuery("photosynthesis", portal.RoleStudent), someResults(6))

	if got == nil {
		t.Fatal("expected an answer")
	}
	if len(got.Sources) != maxSources {
		t.Fatalf("got %d sources, want %d", len(got.Sources), maxSources)
	}
	want := someResults(6)
	for i, u := range got.Sources {
		if u != want[i].URL {
			t.Errorf("source %d = %q, want %q (input order)", i, u, want[i].URL)
		}
	}
}

func TestConfidenceHeuristic(t *testing.T) {
	tests := []struct {
		results int
		length  int
		want    portal.Confidence
	}{
		{3, 150, portal.ConfidenceHigh},
		{5, 101, portal.ConfidenceHigh},
		{3, 100, portal.ConfidenceMedium},
		{2, 150, portal.ConfidenceMedium},
		{1, 150, portal.ConfidenceLow},
		{3, 49, portal.ConfidenceLow},
		{1, 20, portal.ConfidenceLow},
	}
	for _, tc := range tests {
		if got := confidence(tc.results, tc.length); got != tc.want {
			t.Errorf("confidence(%d, %d) = %q, want %q", tc.results, tc.length, got, tc.want)
		}
	}
}

func TestSynthesizeTimeoutAbsorbed(t *testing.T) {
	client := &slowClient{delay: 50 * time.Millisecond}
	s := newSynth(client, WithTimeout(5*time.Millisecond))
	q := portal.NewQuery("photosynthesis", portal.RoleStudent)

	if got := s.Synthesize(context.Background(), q, someResults(3)); got != nil {
		t.Errorf("got answer %+v, want nil on timeout", got)
	}
}

type slowClient struct{ delay time.Duration }

func (c *slowClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	select {
	case <-time.After(c.delay):
		return &llm.Response{Text: goodAnswer}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *slowClient) CompleteStream(ctx context.Context, req llm.Request, fn llm.StreamFunc) (*llm.Response, error) {
	return c.Complete(ctx, req)
}

func (c *slowClient) Ping(ctx context.Context) error { return nil }
