package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Subscription-Token"); got != "key123" {
			t.Errorf("token header = %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "photosynthesis" {
			t.Errorf("q = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[
			{"title":"Photosynthesis - Wikipedia","url":"https://en.wikipedia.org/wiki/Photosynthesis","description":"Process used by plants"},
			{"title":"Bad URL","url":"not a url","description":"dropped"},
			{"title":"Khan Academy","url":"https://www.khanacademy.org/science","description":"Lessons"}
		]}}`))
	}))
	defer srv.Close()

	b := NewBrave("key123")
	b.baseURL = srv.URL

	results, err := b.Search(context.Background(), "photosynthesis", Options{Count: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (invalid URL dropped)", len(results))
	}
	if results[0].Domain != "en.wikipedia.org" {
		t.Errorf("domain = %q", results[0].Domain)
	}
}

func TestBraveHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewBrave("key123")
	b.baseURL = srv.URL

	_, err := b.Search(context.Background(), "q", Options{})
	if err == nil {
		t.Fatal("expected error for HTTP 429")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error = %v, want status in message", err)
	}
}

func TestBraveAvailable(t *testing.T) {
	if NewBrave("").Available() {
		t.Error("Brave without key should be unavailable")
	}
	if !NewBrave("k").Available() {
		t.Error("Brave with key should be available")
	}
}

func TestGoogleSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "gkey" || q.Get("cx") != "engine1" {
			t.Errorf("credentials = %q/%q", q.Get("key"), q.Get("cx"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[
			{"title":"Algebra Basics","link":"https://www.khanacademy.org/math/algebra","snippet":"Learn algebra"},
			{"title":"Algebra - Britannica","link":"https://www.britannica.com/science/algebra","snippet":"Branch of mathematics"}
		]}`))
	}))
	defer srv.Close()

	g := NewGoogle("gkey", "engine1")
	g.baseURL = srv.URL

	results, err := g.Search(context.Background(), "algebra", Options{Count: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[1].Domain != "www.britannica.com" {
		t.Errorf("domain = %q", results[1].Domain)
	}
}

func TestGoogleAvailable(t *testing.T) {
	if NewGoogle("key", "").Available() {
		t.Error("Google without engine ID should be unavailable")
	}
	if !NewGoogle("key", "cx").Available() {
		t.Error("Google with both should be available")
	}
}

// duckPage mimics the html.duckduckgo.com result markup closely enough
// to exercise the DOM walk: result blocks, redirect links, snippets.
const duckPage = `<!DOCTYPE html><html><body>
<div class="result results_links results_links_deep web-result">
  <h2 class="result__title">
    <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fen.wikipedia.org%2Fwiki%2FVolcano&amp;rut=abc">Volcano - Wikipedia</a>
  </h2>
  <a class="result__snippet" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fen.wikipedia.org%2Fwiki%2FVolcano">A volcano is a rupture in the crust.</a>
</div>
<div class="result results_links web-result">
  <h2 class="result__title">
    <a class="result__a" href="https://www.nationalgeographic.com/volcanoes">Volcanoes 101</a>
  </h2>
  <a class="result__snippet" href="https://www.nationalgeographic.com/volcanoes">Everything about volcanoes.</a>
</div>
</body></html>`

func TestDuckDuckGoSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "volcano" {
			t.Errorf("q = %q", got)
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(duckPage))
	}))
	defer srv.Close()

	d := NewDuckDuckGo(false)
	d.baseURL = srv.URL

	results, err := d.Search(context.Background(), "volcano", Options{Count: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].URL != "https://en.wikipedia.org/wiki/Volcano" {
		t.Errorf("redirect not unwrapped: %q", results[0].URL)
	}
	if results[0].Snippet != "A volcano is a rupture in the crust." {
		t.Errorf("snippet = %q", results[0].Snippet)
	}
	if results[1].Domain != "www.nationalgeographic.com" {
		t.Errorf("domain = %q", results[1].Domain)
	}
}

func TestDuckDuckGoCountCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(duckPage))
	}))
	defer srv.Close()

	d := NewDuckDuckGo(false)
	d.baseURL = srv.URL

	results, err := d.Search(context.Background(), "volcano", Options{Count: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestDuckDuckGoDisabled(t *testing.T) {
	if NewDuckDuckGo(true).Available() {
		t.Error("disabled provider should be unavailable")
	}
	if !NewDuckDuckGo(false).Available() {
		t.Error("enabled provider should be available")
	}
}

func TestResolveDuckURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fa%20b", "https://example.com/a b"},
		{"https://duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.org", "https://example.org"},
		{"https://example.com/direct", "https://example.com/direct"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := resolveDuckURL(tt.in); got != tt.want {
			t.Errorf("resolveDuckURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSearXNGSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("format = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"title":"Result A","url":"https://a.example.com","content":"First"},
			{"title":"Result B","url":"https://b.example.com","content":"Second"},
			{"title":"Result C","url":"https://c.example.com","content":"Third"}
		]}`))
	}))
	defer srv.Close()

	s := NewSearXNG(srv.URL)
	results, err := s.Search(context.Background(), "test", Options{Count: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (count cap)", len(results))
	}
}

func TestSearXNGAvailable(t *testing.T) {
	if NewSearXNG("").Available() {
		t.Error("SearXNG without URL should be unavailable")
	}
	if !NewSearXNG("http://localhost:8888").Available() {
		t.Error("SearXNG with URL should be available")
	}
}
