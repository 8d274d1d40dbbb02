package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/satchelhq/satchel/internal/httpkit"
	"github.com/satchelhq/satchel/internal/portal"
)

const duckduckgoURL = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the unauthenticated HTML results endpoint. It
// needs no credentials, which makes it the third rung of the chain:
// slower and more brittle than the JSON APIs, but always available.
type DuckDuckGo struct {
	baseURL    string
	disabled   bool
	httpClient *http.Client
}

// NewDuckDuckGo creates the scraping provider.
func NewDuckDuckGo(disabled bool) *DuckDuckGo {
	return &DuckDuckGo{
		baseURL:  duckduckgoURL,
		disabled: disabled,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

func (d *DuckDuckGo) Name() string    { return "duckduckgo" }
func (d *DuckDuckGo) Available() bool { return !d.disabled }

func (d *DuckDuckGo) Search(ctx context.Context, query string, opts Options) ([]portal.RawResult, error) {
	count := opts.Count
	if count == 0 {
		count = DefaultCount
	}

	params := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: build request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("duckduckgo: HTTP %d: %s", resp.StatusCode, body)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: parse html: %w", err)
	}

	results := parseDuckResults(doc, count)
	return results, nil
}

// parseDuckResults walks the result page DOM collecting result links
// (class "result__a") and their snippets (class "result__snippet").
func parseDuckResults(doc *html.Node, count int) []portal.RawResult {
	var results []portal.RawResult

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(results) >= count {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.A && hasClass(n, "result__a") {
			title := strings.TrimSpace(textContent(n))
			link := resolveDuckURL(attr(n, "href"))
			snippet := findSnippet(n)
			if res, ok := normalize(title, link, snippet); ok {
				results = append(results, res)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return results
}

// findSnippet searches the enclosing result block for the snippet
// element belonging to a result link.
func findSnippet(link *html.Node) string {
	// Walk up to the result container, then down for the snippet.
	block := link
	for block != nil && !(block.Type == html.ElementNode && hasClass(block, "result")) {
		block = block.Parent
	}
	if block == nil {
		return ""
	}

	var snippet string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if snippet != "" {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") {
			snippet = strings.TrimSpace(textContent(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(block)
	return snippet
}

// resolveDuckURL unwraps the redirect links the HTML endpoint serves
// ("//duckduckgo.com/l/?uddg=<encoded target>"). Direct links pass
// through unchanged.
func resolveDuckURL(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") && u.Path == "/l/" {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	return href
}

// attr returns the value of the named attribute, or "".
func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// hasClass reports whether the node's class attribute contains the
// given class name.
func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// textContent returns the concatenated text of all children.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
