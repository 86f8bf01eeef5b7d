package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fiscal-qa/chat"
	"github.com/fabfab/fiscal-qa/config"
	"github.com/fabfab/fiscal-qa/llm"
	"github.com/fabfab/fiscal-qa/retrieval"
	"github.com/fabfab/fiscal-qa/vectorstore"
)

func retrievedRadar() retrieval.Context {
	return retrieval.Context{
		Query: "What is the Silent Knight Radar program?",
		Matches: []vectorstore.Match{
			{Record: vectorstore.Record{Source: "rdte/radar.pdf", Page: 2, Text: "Silent Knight Radar tracks deep space objects."}, Score: 0.9},
			{Record: vectorstore.Record{Source: "notes.md", Text: "Unrelated notes."}, Score: 0.1},
		},
	}
}

func TestSynthesizeBuildsGroundedPrompt(t *testing.T) {
	model := &stubLLM{answer: "  A ground-based radar.  "}
	synth, err := chat.NewSynthesizer(model, "", nil)
	require.NoError(t, err)

	answer, err := synth.Synthesize(context.Background(), "What is the Silent Knight Radar program?", retrievedRadar())
	require.NoError(t, err)
	assert.Equal(t, "A ground-based radar.", answer)

	require.Len(t, model.messages, 1)
	msgs := model.messages[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "Source 1: rdte/radar.pdf (page 2)\nSilent Knight Radar tracks deep space objects.")
	assert.Contains(t, msgs[1].Content, "Source 2: notes.md\nUnrelated notes.")
	assert.Contains(t, msgs[1].Content, "FY 2024")
}

func TestSynthesizeReturnsFullCompletion(t *testing.T) {
	synth, err := chat.NewSynthesizer(&stubLLM{answer: "Multi-character answer"}, "", nil)
	require.NoError(t, err)

	answer, err := synth.Synthesize(context.Background(), "q", retrievedRadar())
	require.NoError(t, err)
	assert.Equal(t, "Multi-character answer", answer)
}

func TestPrimeUsesConfiguredTemplate(t *testing.T) {
	synth, err := chat.NewSynthesizer(&stubLLM{}, "Answer for {{.Query}} across FY 2023 to FY 2025.", nil)
	require.NoError(t, err)

	primed, err := synth.Prime("Teleport funding")
	require.NoError(t, err)
	assert.Equal(t, "Answer for Teleport funding across FY 2023 to FY 2025.", primed)

	defaultSynth, err := chat.NewSynthesizer(&stubLLM{}, "", nil)
	require.NoError(t, err)
	primed, err = defaultSynth.Prime("Teleport")
	require.NoError(t, err)
	assert.Contains(t, primed, "Details related to 'Teleport' in the budget documents.")
}

func TestNewSynthesizerRejectsBrokenTemplate(t *testing.T) {
	_, err := chat.NewSynthesizer(&stubLLM{}, "{{.Query", nil)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestSynthesizeWrapsServiceFailure(t *testing.T) {
	down := errors.New("connection refused")
	synth, err := chat.NewSynthesizer(&stubLLM{err: down}, "", nil)
	require.NoError(t, err)

	_, err = synth.Synthesize(context.Background(), "q", retrievedRadar())
	assert.ErrorIs(t, err, chat.ErrSynthesis)
	assert.ErrorIs(t, err, down)

	_, err = (&chat.Synthesizer{}).Synthesize(context.Background(), "q", retrievedRadar())
	assert.ErrorIs(t, err, chat.ErrSynthesis)
}
