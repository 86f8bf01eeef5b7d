package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/fabfab/fiscal-qa/config"
	"github.com/fabfab/fiscal-qa/llm"
	"github.com/fabfab/fiscal-qa/retrieval"
)

// ErrSynthesis wraps failures of the generative service for one question.
var ErrSynthesis = errors.New("answer synthesis failed")

// Synthesizer drafts an answer from retrieved chunks with one completion.
type Synthesizer struct {
	llm     llm.Client
	priming *template.Template
	logger  *zap.Logger
}

// NewSynthesizer parses primingTemplate, which may reference {{.Query}}. An
// empty template selects config.DefaultPrimingTemplate.
func NewSynthesizer(client llm.Client, primingTemplate string, logger *zap.Logger) (*Synthesizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(primingTemplate) == "" {
		primingTemplate = config.DefaultPrimingTemplate
	}

	tmpl, err := template.New("priming").Option("missingkey=error").Parse(primingTemplate)
	if err != nil {
		return nil, fmt.Errorf("%w: parse priming template: %w", config.ErrConfiguration, err)
	}

	return &Synthesizer{llm: client, priming: tmpl, logger: logger}, nil
}

// Prime restates query in the directive form sent to the model.
func (s *Synthesizer) Prime(query string) (string, error) {
	var buf bytes.Buffer
	if err := s.priming.Execute(&buf, struct{ Query string }{Query: query}); err != nil {
		return "", fmt.Errorf("render priming template: %w", err)
	}
	return buf.String(), nil
}

// Synthesize returns the full completion text for query grounded on retrieved.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, retrieved retrieval.Context) (string, error) {
	if s.llm == nil {
		return "", fmt.Errorf("%w: llm client is not configured", ErrSynthesis)
	}

	primed, err := s.Prime(query)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt()},
		{Role: llm.RoleUser, Content: formatUserPrompt(primed, buildContextPrompt(retrieved))},
	}

	answer, err := s.llm.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: llm generate: %w", ErrSynthesis, err)
	}

	answer = strings.TrimSpace(answer)
	s.logger.Debug("drafted answer", zap.Int("sources", len(retrieved.Matches)), zap.Int("length", len(answer)))
	return answer, nil
}

func buildContextPrompt(retrieved retrieval.Context) string {
	var sb strings.Builder
	for idx, match := range retrieved.Matches {
		sb.WriteString(fmt.Sprintf("Source %d: %s", idx+1, match.Source))
		if match.Page > 0 {
			sb.WriteString(fmt.Sprintf(" (page %d)", match.Page))
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(match.Text))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func systemPrompt() string {
	return "You answer questions about budget justification documents. Use only the supplied sources. " +
		"When the sources give amounts, state them with the fiscal year they belong to, written as in the " +
		"documents (for example FY 2024). If the sources do not answer the question, say so briefly."
}

func formatUserPrompt(question, context string) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(question)
	if strings.TrimSpace(context) != "" {
		sb.WriteString("\n\nSources:\n")
		sb.WriteString(context)
	}
	sb.WriteString("\nAnswer in plain prose. Begin with the direct answer.")
	return sb.String()
}
