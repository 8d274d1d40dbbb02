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

const googleAPIURL = "https://www.googleapis.com/customsearch/v1"

// Google is the secondary provider, backed by the Google Programmable
// Search JSON API. The free quota (100 queries/day) makes it a useful
// fallback when Brave errors or returns nothing.
type Google struct {
	apiKey     string
	engineID   string
	baseURL    string
	httpClient *http.Client
}

// NewGoogle creates a Google Programmable Search provider. Both the
// API key and the search engine ID are required.
func NewGoogle(apiKey, engineID string) *Google {
	return &Google{
		apiKey:   apiKey,
		engineID: engineID,
		baseURL:  googleAPIURL,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

func (g *Google) Name() string    { return "google" }
func (g *Google) Available() bool { return g.apiKey != "" && g.engineID != "" }

// googleResponse is the JSON response from the Custom Search API.
type googleResponse struct {
	Items []googleItem `json:"items"`
}

type googleItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

func (g *Google) Search(ctx context.Context, query string, opts Options) ([]portal.RawResult, error) {
	count := opts.Count
	if count == 0 {
		count = DefaultCount
	}
	// The API caps num at 10 per request.
	if count > 10 {
		count = 10
	}

	params := url.Values{
		"key": {g.apiKey},
		"cx":  {g.engineID},
		"q":   {query},
		"num": {strconv.Itoa(count)},
	}
	if opts.Language != "" {
		params.Set("lr", "lang_"+opts.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("google: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("google: HTTP %d: %s", resp.StatusCode, body)
	}

	var gr googleResponse
	if err := httpkit.DecodeJSON(resp.Body, &gr); err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}

	results := make([]portal.RawResult, 0, len(gr.Items))
	for _, item := range gr.Items {
		if res, ok := normalize(item.Title, item.Link, item.Snippet); ok {
			results = append(results, res)
		}
		if len(results) >= count {
			break
		}
	}

	return results, nil
}
