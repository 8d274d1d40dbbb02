package safety

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/satchelhq/satchel/internal/llm"
	"github.com/satchelhq/satchel/internal/portal"
)

// Bands holds the score thresholds that partition ratings into the
// three trigger levels. The cutoffs are policy configuration, not an
// algorithmic constant.
type Bands struct {
	SafeAbove         int
	QuestionableAbove int
}

// DefaultBands are the shipped policy cutoffs.
var DefaultBands = Bands{SafeAbove: 70, QuestionableAbove: 40}

// Trigger maps a 0-100 score onto a trigger level. It is a monotone
// step function: lower scores never produce a milder trigger.
func (b Bands) Trigger(score int) portal.Trigger {
	switch {
	case score >= b.SafeAbove:
		return portal.TriggerSafe
	case score >= b.QuestionableAbove:
		return portal.TriggerQuestionable
	default:
		return portal.TriggerBad
	}
}

// ratingWords are tokens whose presence lowers a sub-score. Severity
// is the deduction applied per occurrence source.
var ratingWords = []struct {
	token    string
	severity int
}{
	{"porn", 40}, {"xvideos", 40}, {"xhamster", 40}, {"onlyfans", 40},
	{"gambling", 25}, {"casino", 25}, {"betting", 20},
	{"suicide", 25}, {"self-harm", 25}, {"self harm", 25},
	{"weapon", 15}, {"firearm", 15}, {"gun", 10},
	{"drug", 15}, {"cocaine", 25}, {"heroin", 25}, {"vaping", 15},
	{"violence", 10}, {"gore", 20},
	{"cheat", 10}, {"essay for sale", 20},
}

// Rater produces content ratings for query/results/answer bundles.
// The deterministic keyword pass always runs; the optional model pass
// can only lower (tighten) the resulting score.
type Rater struct {
	bands  Bands
	client llm.Client // nil disables the model-assisted pass
	logger *slog.Logger
}

// NewRater creates a rater with the given policy bands. client may be
// nil to run purely deterministic ratings.
func NewRater(bands Bands, client llm.Client, logger *slog.Logger) *Rater {
	if logger == nil {
		logger = slog.Default()
	}
	if bands.SafeAbove <= bands.QuestionableAbove {
		bands = DefaultBands
	}
	return &Rater{
		bands:  bands,
		client: client,
		logger: logger.With("component", "rater"),
	}
}

// Rate scores a search interaction 0-100 (lower is worse) and assigns
// the trigger level. Deterministic for fixed inputs when the model
// pass is disabled or unavailable; adding keyword hits never raises
// the score.
func (r *Rater) Rate(ctx context.Context, query string, results []portal.Result, answer *portal.Answer) portal.Rating {
	var rating portal.Rating

	queryScore, queryFindings := scoreText("query", query, 15)
	rating.Findings = append(rating.Findings, queryFindings...)

	resultScore := 100
	if len(results) > 0 {
		perResult := 100 / len(results)
		if perResult < 10 {
			perResult = 10
		}
		for _, res := range results {
			s, findings := scoreText("results", res.Title+" "+res.Snippet+" "+res.Domain, perResult/3+1)
			if s < 100 {
				resultScore -= (100 - s)
				rating.Findings = append(rating.Findings, findings...)
			}
		}
		if resultScore < 0 {
			resultScore = 0
		}
	}

	answerScore := 100
	hasAnswer := answer != nil && answer.Text != ""
	if hasAnswer {
		var findings []portal.Finding
		answerScore, findings = scoreText("answer", answer.Text, 15)
		rating.Findings = append(rating.Findings, findings...)
	}

	rating.Breakdown.Query = queryScore
	rating.Breakdown.Results = resultScore
	rating.Breakdown.Answer = answerScore

	// Weighted combination: query 40%, results 40%, answer 20%. When
	// no answer is present its weight folds into the other two.
	var score int
	if hasAnswer {
		score = (queryScore*40 + resultScore*40 + answerScore*20) / 100
	} else {
		score = (queryScore*50 + resultScore*50) / 100
	}

	if r.client != nil {
		if model, ok := r.modelScore(ctx, query, results, answer); ok && model < score {
			rating.Findings = append(rating.Findings, portal.Finding{
				Source:   "model",
				Reason:   fmt.Sprintf("model-assisted score %d below deterministic %d", model, score),
				Severity: score - model,
			})
			score = model
		}
	}

	rating.Score = score
	rating.Trigger = r.bands.Trigger(score)
	return rating
}

// scoreText runs the keyword deductions over one text source. deduction
// scales each token's severity relative to a per-source budget.
func scoreText(source, text string, weight int) (int, []portal.Finding) {
	lower := strings.ToLower(text)
	score := 100
	var findings []portal.Finding

	for _, w := range ratingWords {
		if !strings.Contains(lower, w.token) {
			continue
		}
		deduction := w.severity * weight / 15
		if deduction < 1 {
			deduction = 1
		}
		score -= deduction
		findings = append(findings, portal.Finding{
			Source:   source,
			Reason:   "contains " + strconv.Quote(w.token),
			Severity: w.severity,
		})
	}

	if score < 0 {
		score = 0
	}
	return score, findings
}

var modelScoreRe = regexp.MustCompile(`\b(\d{1,3})\b`)

// modelScore asks the language model for a 0-100 safety score. Any
// transport error or uninterpretable output disables the pass for this
// rating — the deterministic result stands.
func (r *Rater) modelScore(ctx context.Context, query string, results []portal.Result, answer *portal.Answer) (int, bool) {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", query)
	for i, res := range results {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "Result %d: %s — %s\n", i+1, res.Title, res.Snippet)
	}
	if answer != nil && answer.Text != "" {
		fmt.Fprintf(&b, "Answer: %s\n", answer.Text)
	}

	resp, err := r.client.Complete(ctx, llm.Request{
		System: "You review school search activity. Rate how appropriate the following " +
			"search interaction is for a K-12 audience on a scale of 0 (completely " +
			"inappropriate) to 100 (completely appropriate). Respond with a single integer only.",
		Messages:  []llm.Message{{Role: "user", Content: b.String()}},
		MaxTokens: 8,
	})
	if err != nil {
		r.logger.Warn("model-assisted rating unavailable", "error", err)
		return 0, false
	}

	m := modelScoreRe.FindString(strings.TrimSpace(resp.Text))
	if m == "" {
		r.logger.Warn("model-assisted rating uninterpretable", "output", resp.Text)
		return 0, false
	}
	score, err := strconv.Atoi(m)
	if err != nil || score < 0 || score > 100 {
		return 0, false
	}
	return score, true
}
