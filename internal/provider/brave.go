package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/satchelhq/satchel/internal/httpkit"
	"github.com/satchelhq/satchel/internal/portal"
)

const braveAPIURL = "https://api.search.brave.com/res/v1/web/search"

// Brave is the primary provider, backed by the Brave Search API.
type Brave struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewBrave creates a Brave Search provider.
func NewBrave(apiKey string) *Brave {
	return &Brave{
		apiKey:  apiKey,
		baseURL: braveAPIURL,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

func (b *Brave) Name() string    { return "brave" }
func (b *Brave) Available() bool { return b.apiKey != "" }

// braveResponse is the JSON response from Brave's web search API.
type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PageAge     string `json:"page_age,omitempty"`
}

func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]portal.RawResult, error) {
	count := opts.Count
	if count == 0 {
		count = DefaultCount
	}

	params := url.Values{
		"q":     {query},
		"count": {strconv.Itoa(count)},
	}
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("brave: HTTP %d: %s", resp.StatusCode, body)
	}

	var br braveResponse
	if err := httpkit.DecodeJSON(resp.Body, &br); err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}

	results := make([]portal.RawResult, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		res, ok := normalize(r.Title, r.URL, r.Description)
		if !ok {
			continue
		}
		if r.PageAge != "" {
			if t, err := time.Parse(time.RFC3339, r.PageAge); err == nil {
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
