// Package fiscal decides how a drafted answer is finalised: it classifies the
// question for budget relevance, checks for fiscal-year markers, and applies an
// ordered table of rewrite rules ending with the standard disclaimer.
package fiscal

import "strings"

// BudgetTerms are matched as substrings of the lowercased question.
var BudgetTerms = []string{
	"budget",
	"price",
	"cost",
	"funding",
	"expense",
	"financing",
	"appropriation",
	"enactment",
	"supplemental",
	"request",
}

// FiscalYearsLong and FiscalYearsShort are matched case-sensitively against
// both the question and the draft answer.
var (
	FiscalYearsLong = []string{
		"PRIOR",
		"FY 2022", "FY 2023", "FY 2024", "FY 2025", "FY 2026", "FY 2027", "FY 2028",
	}
	FiscalYearsShort = []string{
		"PRIOR",
		"FY-22", "FY-23", "FY-24", "FY-25", "FY-26", "FY-27", "FY-28",
	}
)

const (
	Caveat          = " The specific budget figures or fiscal year details were not identified."
	BudgetTangent   = "Regarding budget information,"
	NotFound        = "Sorry, I couldn't find relevant information based on your query."
	Disclaimer      = "\nPlease note that answers are derived from available documents and might not capture the entire context."
	MinAnswerLength = 50
)

// Signal holds the per question/answer classification flags.
type Signal struct {
	BudgetRelated   bool `json:"budget_related"`
	FiscalYearLong  bool `json:"fiscal_year_long"`
	FiscalYearShort bool `json:"fiscal_year_short"`
}

func (s Signal) HasFiscalMarker() bool {
	return s.FiscalYearLong || s.FiscalYearShort
}

// FiscalRelevant is true when the question mentions a budget term or a
// fiscal-year marker appears in the question or the draft.
func (s Signal) FiscalRelevant() bool {
	return s.BudgetRelated || s.HasFiscalMarker()
}

// Classify computes the signal for one question and draft answer.
func Classify(query, draft string) Signal {
	return Signal{
		BudgetRelated:   containsAny(strings.ToLower(query), BudgetTerms),
		FiscalYearLong:  containsAny(query, FiscalYearsLong) || containsAny(draft, FiscalYearsLong),
		FiscalYearShort: containsAny(query, FiscalYearsShort) || containsAny(draft, FiscalYearsShort),
	}
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
