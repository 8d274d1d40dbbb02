package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/satchelhq/satchel/internal/httpkit"
	"github.com/satchelhq/satchel/internal/portal"
)

// SearXNG queries a self-hosted SearXNG instance, the last rung of the
// chain. Schools that run their own metasearch box get a zero-cost,
// zero-credential backend of last resort.
type SearXNG struct {
	baseURL    string
	httpClient *http.Client
}

// NewSearXNG creates a SearXNG provider. The baseURL should be the
// root URL of the instance (e.g., "http://localhost:8888").
func NewSearXNG(baseURL string) *SearXNG {
	return &SearXNG{
		baseURL: baseURL,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

func (s *SearXNG) Name() string    { return "searxng" }
func (s *SearXNG) Available() bool { return s.baseURL != "" }

// searxngResponse is the JSON response from SearXNG's /search endpoint.
type searxngResponse struct {
	Results []searxngResult `json:"results"`
}

type searxngResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Content       string `json:"content"`
	PublishedDate string `json:"publishedDate,omitempty"`
}

func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]portal.RawResult, error) {
	params := url.Values{
		"q":      {query},
		"format": {"json"},
	}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}

	count := opts.Count
	if count == 0 {
		count = DefaultCount
	}

	reqURL := fmt.Sprintf("%s/search?%s", s.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("searxng: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("searxng: HTTP %d: %s", resp.StatusCode, body)
	}

	var sr searxngResponse
	if err := httpkit.DecodeJSON(resp.Body, &sr); err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}

	results := make([]portal.RawResult, 0, count)
	for _, r := range sr.Results {
		res, ok := normalize(r.Title, r.URL, r.Content)
		if !ok {
			continue
		}
		if r.PublishedDate != "" {
			if t, err := time.Parse(time.RFC3339, r.PublishedDate); err == nil {
				res.Published = t
			}
		}
		results = append(results, res)
		if len(results) >= count {
			break
		}
	}

	return results, nil
}
