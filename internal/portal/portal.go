// Package portal defines the domain types shared across the search
// pipeline: roles, queries, results, instant answers, content ratings,
// moderation rules, and quick links. It has no dependencies on the
// components that produce or consume these values.
package portal

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Role is the access tier of a requester. It drives content-filtering
// strictness and feature gating (chat mode is staff-only).
type Role string

const (
	RoleGuest   Role = "guest"
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
)

// ParseRole validates a role string. An unknown value is a caller
// contract violation and the one error category that propagates hard
// out of the pipeline.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleGuest:
		return RoleGuest, nil
	case RoleStudent:
		return RoleStudent, nil
	case RoleStaff:
		return RoleStaff, nil
	}
	return "", fmt.Errorf("invalid role %q (valid: guest, student, staff)", s)
}

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	return r == RoleGuest || r == RoleStudent || r == RoleStaff
}

// Query is an immutable search request. Normalized is the cache-key
// form of the text (trimmed, lower-cased).
type Query struct {
	Text       string
	Normalized string
	Role       Role
	At         time.Time
}

// NewQuery builds a Query from raw input text.
func NewQuery(text string, role Role) Query {
	return Query{
		Text:       text,
		Normalized: Normalize(text),
		Role:       role,
		At:         time.Now(),
	}
}

// Normalize produces the canonical form of query text used for cache
// keys and in-flight deduplication.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// CacheKey returns the cache partition key for this query. A role-less
// query ("" role) shares a null-role partition.
func (q Query) CacheKey() string {
	return q.Normalized + ":" + string(q.Role)
}

// RawResult is one hit from a search provider, normalized to a common
// shape but not yet filtered or scored.
type RawResult struct {
	Title     string
	URL       string
	Snippet   string
	Domain    string
	Published time.Time
}

// DomainOf extracts the lower-cased hostname from a result URL. It
// returns an error for unparseable URLs and non-http(s) schemes so
// callers drop the result instead of propagating junk.
func DomainOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url has no host: %q", raw)
	}
	return host, nil
}

// Result is a filtered, categorized, relevance-scored search result.
type Result struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Snippet   string  `json:"snippet,omitempty"`
	Domain    string  `json:"domain"`
	Category  string  `json:"category"`
	Relevance float64 `json:"relevance"`
	Flagged   bool    `json:"flagged,omitempty"`
}

// Result categories assigned by the safety filter.
const (
	CategoryReference   = "Reference"
	CategoryEducational = "Educational"
	CategoryNews        = "News"
	CategoryTutorial    = "Tutorial"
	CategoryScience     = "Science"
	CategoryMath        = "Mathematics"
	CategoryHistory     = "History"
	CategoryLanguage    = "Language Arts"
	CategoryTechnology  = "Technology"
	CategoryGeneral     = "General Information"
)

// MaxResults caps the number of results a filtered set may contain.
const MaxResults = 8

// Confidence grades how well-grounded an instant answer is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Answer is a short model-synthesized response grounded in the top
// filtered results. Derived, cacheable, never authoritative.
type Answer struct {
	Text       string     `json:"text"`
	Sources    []string   `json:"sources,omitempty"`
	Confidence Confidence `json:"confidence"`
}

// Trigger is the discrete severity classification assigned to a
// query+results+answer bundle by the content rating pass.
type Trigger string

const (
	TriggerSafe         Trigger = "safe"
	TriggerQuestionable Trigger = "questionable"
	TriggerBad          Trigger = "bad"
)

// Finding records one thing the rating pass objected to.
type Finding struct {
	Source   string `json:"source"` // "query", "results", "answer"
	Reason   string `json:"reason"`
	Severity int    `json:"severity"`
}

// Rating is the outcome of the content rating pass. Score is 0-100
// where lower means more severe; Trigger is a monotone step function
// of Score over three ordered bands.
type Rating struct {
	Score     int       `json:"score"`
	Trigger   Trigger   `json:"trigger"`
	Findings  []Finding `json:"findings,omitempty"`
	Breakdown struct {
		Query   int `json:"query"`
		Results int `json:"results"`
		Answer  int `json:"answer"`
	} `json:"breakdown"`
}

// RuleType selects what part of a result a moderation rule matches.
type RuleType string

const (
	RuleDomain  RuleType = "domain"
	RuleKeyword RuleType = "keyword"
	RuleURL     RuleType = "url"
	RulePattern RuleType = "pattern"
)

// RuleAction is what happens when a moderation rule matches.
type RuleAction string

const (
	ActionAllow RuleAction = "allow"
	ActionBlock RuleAction = "block"
	ActionFlag  RuleAction = "flag"
)

// ParseRuleType validates a rule type string.
func ParseRuleType(s string) (RuleType, error) {
	switch RuleType(s) {
	case RuleDomain, RuleKeyword, RuleURL, RulePattern:
		return RuleType(s), nil
	}
	return "", fmt.Errorf("invalid rule type %q", s)
}

// ParseRuleAction validates a rule action string.
func ParseRuleAction(s string) (RuleAction, error) {
	switch RuleAction(s) {
	case ActionAllow, ActionBlock, ActionFlag:
		return RuleAction(s), nil
	}
	return "", fmt.Errorf("invalid rule action %q", s)
}

// Rule is one persisted moderation policy unit, created by staff
// through the admin surface and consulted by the safety filter on
// every evaluation.
type Rule struct {
	ID            string     `json:"id"`
	Type          RuleType   `json:"type"`
	Action        RuleAction `json:"action"`
	Value         string     `json:"value"`
	CaseSensitive bool       `json:"case_sensitive"`
	Severity      int        `json:"severity"`
	Active        bool       `json:"active"`
	Hits          int64      `json:"hits"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// QuickLink is a curated destination shown on the portal landing page.
type QuickLink struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Category  string    `json:"category,omitempty"`
	MinRole   Role      `json:"min_role"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// VisibleTo reports whether a link may be shown to the given role.
// Staff see everything; students see student and guest links; guests
// see only guest links.
func (l QuickLink) VisibleTo(r Role) bool {
	rank := map[Role]int{RoleGuest: 0, RoleStudent: 1, RoleStaff: 2}
	return rank[r] >= rank[l.MinRole]
}

// Response is the caller-facing result of one search: the filtered
// (or fallback) result set plus an optional instant answer.
type Response struct {
	Query    string        `json:"query"`
	Role     Role          `json:"role"`
	Results  []Result      `json:"results"`
	Answer   *Answer       `json:"answer,omitempty"`
	Fallback bool          `json:"fallback,omitempty"`
	Elapsed  time.Duration `json:"-"`
}
