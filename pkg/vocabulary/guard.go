// Package vocabulary flags phrasing that sales-facing text must not use.
// The guard is advisory: callers log violations but do not block on them.
package vocabulary

import (
	"regexp"

	"golang.org/x/text/unicode/norm"
)

// Term is one forbidden pattern and the reason reported when it matches.
type Term struct {
	Pattern *regexp.Regexp
	Reason  string
}

// DefaultTerms are the compliance terms for solar sales copy.
var DefaultTerms = []Term{
	{Pattern: regexp.MustCompile(`(?i)\bguarantee[sd]?\b`), Reason: "Cannot guarantee outcomes"},
	{Pattern: regexp.MustCompile(`(?i)\bpromise\s+savings?\b`), Reason: "Cannot promise specific savings"},
	{Pattern: regexp.MustCompile(`(?i)\blegal\s+advice\b`), Reason: "Cannot provide legal advice"},
}

// Result is the outcome of a check.
type Result struct {
	Compliant  bool     `json:"compliant"`
	Violations []string `json:"violations"`
}

// Guard holds an immutable term list and is safe for concurrent use.
type Guard struct {
	terms []Term
}

// NewGuard returns a guard over terms, or DefaultTerms when none are given.
func NewGuard(terms ...Term) *Guard {
	if len(terms) == 0 {
		terms = DefaultTerms
	}
	return &Guard{terms: append([]Term(nil), terms...)}
}

// Check reports every term that matches text, in term order. Text is NFKC
// normalised first so full-width and compatibility forms match too.
func (g *Guard) Check(text string) Result {
	normalized := norm.NFKC.String(text)
	violations := make([]string, 0)
	for _, t := range g.terms {
		if t.Pattern.MatchString(normalized) {
			violations = append(violations, t.Reason)
		}
	}
	return Result{Compliant: len(violations) == 0, Violations: violations}
}
