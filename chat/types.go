package chat

import (
	"github.com/fabfab/fiscal-qa/fiscal"
	"github.com/fabfab/fiscal-qa/knowledge"
)

// Outcome records how a question was resolved.
type Outcome string

const (
	OutcomeAnswered        Outcome = "answered"
	OutcomeEmptyQuestion   Outcome = "empty_question"
	OutcomeRetrievalFailed Outcome = "retrieval_failed"
	OutcomeSynthesisFailed Outcome = "synthesis_failed"
	OutcomeTimeout         Outcome = "timeout"
)

// Messages shown in place of an answer when a query-time step fails.
const (
	MessageRetrievalFailed = fiscal.NotFound + fiscal.Disclaimer
	MessageSynthesisFailed = "Sorry, the answer service is unavailable right now. Please try again later."
	MessageTimeout         = "Sorry, answering your question took too long. Please try again."
	MessageEmptyQuestion   = "Please enter a question about the budget documents."
)

// Source is one retrieved chunk that grounded the answer.
type Source struct {
	DocumentID string                     `json:"document_id"`
	Title      string                     `json:"title"`
	Path       string                     `json:"path"`
	Page       int                        `json:"page,omitempty"`
	Score      float64                    `json:"score"`
	Snippet    string                     `json:"snippet"`
	Insight    *knowledge.DocumentInsight `json:"insight,omitempty"`
}

type Response struct {
	Answer  string        `json:"answer"`
	Outcome Outcome       `json:"outcome"`
	Signal  fiscal.Signal `json:"signal"`
	Rules   []string      `json:"rules,omitempty"`
	Sources []Source      `json:"sources"`
}
