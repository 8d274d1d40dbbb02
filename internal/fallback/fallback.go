// Package fallback produces curated educational results when every
// search provider fails or everything gets filtered out. It is pure
// and deterministic: no I/O, no clock, never an empty answer.
package fallback

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/satchelhq/satchel/internal/portal"
)

// entry is one curated static result before relevance assignment.
type entry struct {
	title   string
	snippet string
	url     string
}

// bucket groups curated entries under a set of trigger keywords.
type bucket struct {
	category string
	keywords []string
	entries  [3]entry
}

// Relevance values are fixed per bucket position and strictly
// decreasing so downstream ordering invariants hold without resorting.
var bucketRelevance = [3]float64{0.95, 0.9, 0.85}

// buckets are checked in order; the first keyword match wins.
var buckets = []bucket{
	{
		category: portal.CategoryMath,
		keywords: []string{"math", "mathematics", "algebra", "geometry", "calculus", "fraction", "equation", "arithmetic", "trigonometry"},
		entries: [3]entry{
			{"Khan Academy Math", "Free lessons and practice covering arithmetic through calculus.", "https://www.khanacademy.org/math"},
			{"Wolfram MathWorld", "The web's most extensive mathematics reference.", "https://mathworld.wolfram.com/"},
			{"Art of Problem Solving", "Math curriculum and problem-solving community for motivated students.", "https://artofproblemsolving.com/"},
		},
	},
	{
		category: portal.CategoryScience,
		keywords: []string{"science", "biology", "chemistry", "physics", "photosynthesis", "cell", "atom", "energy", "planet", "space", "experiment"},
		entries: [3]entry{
			{"NASA Science", "Explore space, earth science, and the solar system with NASA.", "https://science.nasa.gov/"},
			{"Khan Academy Science", "Biology, chemistry, and physics lessons with practice exercises.", "https://www.khanacademy.org/science"},
			{"National Geographic Science", "Science news and explainers with outstanding photography.", "https://www.nationalgeographic.com/science"},
		},
	},
	{
		category: portal.CategoryHistory,
		keywords: []string{"history", "war", "ancient", "civilization", "president", "revolution", "empire", "social studies", "government"},
		entries: [3]entry{
			{"Smithsonian History", "Primary sources and exhibits from the Smithsonian Institution.", "https://www.si.edu/explore/history"},
			{"Encyclopedia Britannica History", "Authoritative articles on world history and civics.", "https://www.britannica.com/History-Society"},
			{"Library of Congress Digital Collections", "Historical documents, photographs, and maps.", "https://www.loc.gov/collections/"},
		},
	},
	{
		category: portal.CategoryLanguage,
		keywords: []string{"grammar", "essay", "writing", "poem", "poems", "poetry", "literature", "vocabulary", "spelling", "reading", "shakespeare"},
		entries: [3]entry{
			{"Purdue Online Writing Lab", "Writing, grammar, and citation guides from Purdue University.", "https://owl.purdue.edu/"},
			{"Poetry Foundation", "Poems, poet biographies, and literary articles.", "https://www.poetryfoundation.org/"},
			{"Merriam-Webster Dictionary", "Definitions, synonyms, and word history.", "https://www.merriam-webster.com/"},
		},
	},
	{
		category: portal.CategoryTechnology,
		keywords: []string{"computer", "coding", "programming", "robot", "technology", "internet", "software", "ai", "artificial intelligence"},
		entries: [3]entry{
			{"Code.org", "Learn computer science with free interactive courses.", "https://code.org/"},
			{"Scratch", "Create stories, games, and animations with block-based coding.", "https://scratch.mit.edu/"},
			{"Khan Academy Computing", "Programming, computer science theory, and internet safety.", "https://www.khanacademy.org/computing"},
		},
	},
}

// intentKeywords suggest the user wants to learn something even when
// no subject bucket matches.
var intentKeywords = []string{"learn", "study", "explain", "how", "what", "why", "compare", "define"}

// Results returns topic-appropriate static results for a query. The
// output always has 2 or 3 entries with strictly decreasing relevance.
func Results(query string) []portal.Result {
	q := strings.ToLower(strings.TrimSpace(query))

	for _, b := range buckets {
		for _, kw := range b.keywords {
			if matchKeyword(q, kw) {
				return fromBucket(b)
			}
		}
	}

	for _, kw := range intentKeywords {
		if matchKeyword(q, kw) {
			return intentResults(query)
		}
	}

	return genericResults(query)
}

// matchKeyword is a case-folded substring test, except that short
// keywords ("ai", "war", "how") must match a whole word so they do not
// fire inside longer words like "explain" or "software".
func matchKeyword(q, kw string) bool {
	if len(kw) > 4 {
		return strings.Contains(q, kw)
	}
	for _, field := range strings.FieldsFunc(q, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if field == kw {
			return true
		}
	}
	return false
}

// fromBucket materializes a bucket's curated entries.
func fromBucket(b bucket) []portal.Result {
	slug := strings.ReplaceAll(strings.ToLower(b.category), " ", "-")
	out := make([]portal.Result, 0, len(b.entries))
	for i, e := range b.entries {
		out = append(out, portal.Result{
			ID:        fmt.Sprintf("fallback-%s-%d", slug, i+1),
			Title:     e.title,
			URL:       e.url,
			Snippet:   e.snippet,
			Domain:    mustDomain(e.url),
			Category:  b.category,
			Relevance: bucketRelevance[i],
		})
	}
	return out
}

// intentResults builds two generic "learn about X" entries for queries
// with educational intent but no matching subject bucket.
func intentResults(query string) []portal.Result {
	q := strings.TrimSpace(query)
	escaped := url.QueryEscape(q)
	return []portal.Result{
		{
			ID:        "fallback-intent-1",
			Title:     fmt.Sprintf("Learn about %s on Khan Academy", q),
			URL:       "https://www.khanacademy.org/search?page_search_query=" + escaped,
			Snippet:   fmt.Sprintf("Search Khan Academy's free courses for lessons about %s.", q),
			Domain:    "www.khanacademy.org",
			Category:  portal.CategoryEducational,
			Relevance: 0.7,
		},
		{
			ID:        "fallback-intent-2",
			Title:     fmt.Sprintf("%s on Encyclopedia Britannica", q),
			URL:       "https://www.britannica.com/search?query=" + escaped,
			Snippet:   fmt.Sprintf("Read authoritative reference articles about %s.", q),
			Domain:    "www.britannica.com",
			Category:  portal.CategoryReference,
			Relevance: 0.65,
		},
	}
}

// genericResults is the ultimate fallback: three search-style links to
// general reference services with the query interpolated.
func genericResults(query string) []portal.Result {
	q := strings.TrimSpace(query)
	escaped := url.QueryEscape(q)
	return []portal.Result{
		{
			ID:        "fallback-generic-1",
			Title:     fmt.Sprintf("Search Wikipedia for %q", q),
			URL:       "https://en.wikipedia.org/w/index.php?search=" + escaped,
			Snippet:   "Look up this topic in the free encyclopedia.",
			Domain:    "en.wikipedia.org",
			Category:  portal.CategoryReference,
			Relevance: 0.6,
		},
		{
			ID:        "fallback-generic-2",
			Title:     fmt.Sprintf("Search Britannica for %q", q),
			URL:       "https://www.britannica.com/search?query=" + escaped,
			Snippet:   "Find reference articles reviewed by editors.",
			Domain:    "www.britannica.com",
			Category:  portal.CategoryReference,
			Relevance: 0.55,
		},
		{
			ID:        "fallback-generic-3",
			Title:     fmt.Sprintf("Search the Digital Public Library for %q", q),
			URL:       "https://dp.la/search?q=" + escaped,
			Snippet:   "Explore primary sources from libraries and museums.",
			Domain:    "dp.la",
			Category:  portal.CategoryReference,
			Relevance: 0.5,
		},
	}
}

// mustDomain extracts the hostname from a curated URL. Curated URLs
// are constants, so a parse failure is a programming error.
func mustDomain(raw string) string {
	d, err := portal.DomainOf(raw)
	if err != nil {
		panic(fmt.Sprintf("fallback: bad curated URL %q: %v", raw, err))
	}
	return d
}
