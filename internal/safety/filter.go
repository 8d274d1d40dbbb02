// Package safety applies the role-sensitive content policy to search
// results and rates query/result/answer bundles for moderation review.
//
// Filtering is deterministic: built-in role blocklists plus persisted
// moderation rules, evaluated in-memory. The optional model-assisted
// rating pass can only tighten a rating, and its failure never fails a
// search — the deterministic rules always stand on their own.
package safety

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/satchelhq/satchel/internal/portal"
)

// RuleSource supplies persisted moderation rules and absorbs the
// hit-counter side effect. The SQLite store implements it in
// production; tests use in-memory fakes.
type RuleSource interface {
	// ActiveRules returns all rules with the active flag set.
	ActiveRules(ctx context.Context) ([]portal.Rule, error)

	// RecordHit increments a rule's hit counter. Best-effort: the
	// filter logs and continues when it fails.
	RecordHit(ctx context.Context, ruleID string) error
}

// staffBlocklist is the minimal built-in list applied to staff.
var staffBlocklist = []string{"pornhub"}

// studentBlocklist is the broader built-in list applied to guests and
// students: social media, chat platforms, and adult content tokens.
// Matching is substring containment on the lower-cased hostname.
var studentBlocklist = []string{
	"facebook", "instagram", "tiktok", "snapchat", "twitter", "x.com",
	"reddit", "discord", "twitch", "omegle", "4chan", "tumblr",
	"onlyfans", "tinder", "dating", "gambling", "casino", "porn",
	"xvideos", "xhamster",
}

// Filter evaluates the content policy over raw search results.
type Filter struct {
	rules  RuleSource
	logger *slog.Logger

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp // compiled pattern-rule cache
}

// NewFilter creates a filter. rules may be nil, in which case only the
// built-in role blocklists apply.
func NewFilter(rules RuleSource, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		rules:    rules,
		logger:   logger.With("component", "safety"),
		patterns: make(map[string]*regexp.Regexp),
	}
}

// blocklistFor returns the built-in domain blocklist for a role.
func blocklistFor(role portal.Role) []string {
	if role == portal.RoleStaff {
		return staffBlocklist
	}
	return studentBlocklist
}

// Filter applies the role policy to raw results and returns the
// surviving results, categorized and relevance-scored in their
// original provider order. Flag-action rule matches keep the result
// but mark it for review; hit counters are incremented for every
// matching persisted rule.
func (f *Filter) Filter(ctx context.Context, raw []portal.RawResult, role portal.Role) []portal.Result {
	rules := f.activeRules(ctx)
	blocklist := blocklistFor(role)

	out := make([]portal.Result, 0, portal.MaxResults)
	for _, r := range raw {
		if len(out) >= portal.MaxResults {
			break
		}

		verdict := f.evaluate(ctx, r, blocklist, rules)
		if verdict.blocked {
			f.logger.Debug("result blocked",
				"domain", r.Domain,
				"role", role,
				"reason", verdict.reason,
			)
			continue
		}

		res := portal.Result{
			ID:       uuid.NewString(),
			Title:    r.Title,
			URL:      r.URL,
			Snippet:  r.Snippet,
			Domain:   r.Domain,
			Category: Categorize(r),
			Flagged:  verdict.flagged,
		}
		res.Relevance = relevanceAt(len(out))
		out = append(out, res)
	}

	return out
}

// relevanceAt computes the rank-derived relevance for the i-th
// surviving result, clamped at zero.
func relevanceAt(i int) float64 {
	rel := 0.9 - 0.1*float64(i)
	if rel < 0 {
		rel = 0
	}
	return rel
}

// verdict is the outcome of evaluating one result against the policy.
type verdict struct {
	blocked bool
	flagged bool
	reason  string
}

// evaluate runs built-in blocklist and persisted rules over one result.
// Allow rules override any block for the same result; flag rules never
// remove a result.
func (f *Filter) evaluate(ctx context.Context, r portal.RawResult, blocklist []string, rules []portal.Rule) verdict {
	var v verdict

	for _, token := range blocklist {
		if strings.Contains(r.Domain, token) {
			v.blocked = true
			v.reason = "builtin blocklist: " + token
			break
		}
	}

	// Every matching rule records a hit; precedence is applied after
	// all matches are known so an allow overrides a block regardless
	// of stored order.
	allowed := false
	for _, rule := range rules {
		if !f.ruleMatches(rule, r) {
			continue
		}
		f.recordHit(ctx, rule)

		switch rule.Action {
		case portal.ActionAllow:
			allowed = true
		case portal.ActionBlock:
			if !v.blocked {
				v.blocked = true
				v.reason = "rule: " + rule.Value
			}
		case portal.ActionFlag:
			v.flagged = true
		}
	}

	if allowed {
		v.blocked = false
		v.reason = ""
	}
	return v
}

// ruleMatches tests one rule against one result according to its type.
func (f *Filter) ruleMatches(rule portal.Rule, r portal.RawResult) bool {
	switch rule.Type {
	case portal.RuleDomain:
		return strings.Contains(r.Domain, strings.ToLower(rule.Value))

	case portal.RuleURL:
		if rule.CaseSensitive {
			return strings.Contains(r.URL, rule.Value)
		}
		return strings.Contains(strings.ToLower(r.URL), strings.ToLower(rule.Value))

	case portal.RuleKeyword:
		text := r.Title + " " + r.Snippet
		if rule.CaseSensitive {
			return strings.Contains(text, rule.Value)
		}
		return strings.Contains(strings.ToLower(text), strings.ToLower(rule.Value))

	case portal.RulePattern:
		re := f.compiled(rule)
		if re == nil {
			return false
		}
		return re.MatchString(r.Title + " " + r.Snippet)
	}
	return false
}

// compiled returns the cached regexp for a pattern rule, compiling it
// on first use. Invalid patterns are logged once and never match.
func (f *Filter) compiled(rule portal.Rule) *regexp.Regexp {
	key := rule.Value
	if !rule.CaseSensitive {
		key = "(?i)" + key
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if re, ok := f.patterns[key]; ok {
		return re
	}
	re, err := regexp.Compile(key)
	if err != nil {
		f.logger.Warn("invalid pattern rule skipped", "rule_id", rule.ID, "pattern", rule.Value, "error", err)
		f.patterns[key] = nil
		return nil
	}
	f.patterns[key] = re
	return re
}

// activeRules loads persisted rules, degrading to built-in policy only
// when the store is unavailable.
func (f *Filter) activeRules(ctx context.Context) []portal.Rule {
	if f.rules == nil {
		return nil
	}
	rules, err := f.rules.ActiveRules(ctx)
	if err != nil {
		f.logger.Warn("rule store unavailable, using built-in policy only", "error", err)
		return nil
	}
	return rules
}

// recordHit increments a rule's hit counter, best-effort.
func (f *Filter) recordHit(ctx context.Context, rule portal.Rule) {
	if f.rules == nil || rule.ID == "" {
		return
	}
	if err := f.rules.RecordHit(ctx, rule.ID); err != nil {
		f.logger.Warn("failed to record rule hit", "rule_id", rule.ID, "error", err)
	}
}
