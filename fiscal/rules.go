package fiscal

import (
	"strings"
	"unicode/utf8"
)

// Rule rewrites the answer when its predicate holds. Predicates see the signal
// computed from the original draft and the text produced by earlier rules.
type Rule struct {
	Name  string
	When  func(sig Signal, text string) bool
	Apply func(text string) string
}

const ruleDisclaimer = "disclaimer"

// Rules is the ordered decision table applied by Evaluate.
var Rules = []Rule{
	{
		Name: "fiscal-caveat",
		When: func(sig Signal, _ string) bool {
			return sig.FiscalRelevant() && !sig.HasFiscalMarker()
		},
		Apply: func(text string) string { return text + Caveat },
	},
	{
		Name: "trim-budget-tangent",
		When: func(sig Signal, text string) bool {
			return !sig.FiscalRelevant() && strings.Contains(text, BudgetTangent)
		},
		Apply: func(text string) string {
			before, _, _ := strings.Cut(text, BudgetTangent)
			return before
		},
	},
	{
		Name: "short-answer-fallback",
		When: func(_ Signal, text string) bool {
			return utf8.RuneCountInString(text) < MinAnswerLength
		},
		Apply: func(string) string { return NotFound },
	},
	{
		Name:  ruleDisclaimer,
		When:  func(Signal, string) bool { return true },
		Apply: func(text string) string { return text + Disclaimer },
	},
}

// Decision records how a draft became the final answer.
type Decision struct {
	Signal  Signal
	Applied []string
	// Trimmed is the text after every rule except the disclaimer.
	Trimmed string
	Final   string
}

// Evaluate runs the rule table over draft. It is total over all strings.
func Evaluate(query, draft string) Decision {
	d := Decision{Signal: Classify(query, draft)}

	text := draft
	for _, rule := range Rules {
		if rule.Name == ruleDisclaimer {
			d.Trimmed = text
		}
		if !rule.When(d.Signal, text) {
			continue
		}
		text = rule.Apply(text)
		d.Applied = append(d.Applied, rule.Name)
	}

	d.Final = text
	return d
}

// Postprocess returns the final answer for draft. Each call appends the
// disclaimer once; it is not meant to be applied to its own output.
func Postprocess(query, draft string) string {
	return Evaluate(query, draft).Final
}
