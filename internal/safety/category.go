package safety

import (
	"strings"

	"github.com/satchelhq/satchel/internal/portal"
)

// Category heuristics. Each list is checked against the lower-cased
// domain; the chains are order-sensitive and the first match wins.
var (
	referenceDomains   = []string{"wikipedia", "britannica", "encyclopedia", "wiktionary", "merriam-webster"}
	educationalDomains = []string{".edu", "khanacademy", "coursera", "edx", "scholastic", "quizlet", "code.org", "scratch.mit"}
	newsDomains        = []string{"bbc", "cnn", "reuters", "nytimes", "npr", "apnews", "news"}
	tutorialPhrases    = []string{"how to", "tutorial", "guide", "learn", "step by step"}
)

// Categorize assigns a display category from domain and title
// heuristics: Reference, then Educational, then News, then Tutorial
// (title phrasing), else General Information.
func Categorize(r portal.RawResult) string {
	domain := strings.ToLower(r.Domain)

	for _, d := range referenceDomains {
		if strings.Contains(domain, d) {
			return portal.CategoryReference
		}
	}
	for _, d := range educationalDomains {
		if strings.Contains(domain, d) {
			return portal.CategoryEducational
		}
	}
	for _, d := range newsDomains {
		if strings.Contains(domain, d) {
			return portal.CategoryNews
		}
	}

	title := strings.ToLower(r.Title)
	for _, p := range tutorialPhrases {
		if strings.Contains(title, p) {
			return portal.CategoryTutorial
		}
	}

	return portal.CategoryGeneral
}
