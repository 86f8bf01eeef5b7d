package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fiscal-qa/chat"
	"github.com/fabfab/fiscal-qa/fiscal"
	"github.com/fabfab/fiscal-qa/ingestion"
	"github.com/fabfab/fiscal-qa/knowledge"
	"github.com/fabfab/fiscal-qa/vectorstore"
)

func TestAnswerGroundsOnRetrievedChunks(t *testing.T) {
	model := &stubLLM{answer: "The Silent Knight Radar is a ground-based radar that tracks objects in deep space."}
	svc := newService(t, serviceOptions{llm: model})

	resp, err := svc.Answer(context.Background(), "What is the Silent Knight Radar program?")
	require.NoError(t, err)

	assert.Equal(t, chat.OutcomeAnswered, resp.Outcome)
	assert.Equal(t, model.answer+fiscal.Disclaimer, resp.Answer)
	assert.Equal(t, []string{"disclaimer"}, resp.Rules)
	require.NotEmpty(t, resp.Sources)
	assert.Equal(t, "rdte/radar.txt", resp.Sources[0].Path)
	assert.Nil(t, resp.Sources[0].Insight)

	prompt := model.lastUserPrompt()
	assert.Contains(t, prompt, "Details related to 'What is the Silent Knight Radar program?'")
	assert.Contains(t, prompt, "Source 1: rdte/radar.txt")
}

func TestAnswerBudgetQuestionWithoutFiguresGetsCaveat(t *testing.T) {
	model := &stubLLM{answer: "Teleport sites provide satellite communications gateways for the force."}
	svc := newService(t, serviceOptions{llm: model})

	resp, err := svc.Answer(context.Background(), "What is the budget for Teleport?")
	require.NoError(t, err)

	assert.True(t, resp.Signal.BudgetRelated)
	assert.Equal(t, model.answer+fiscal.Caveat+fiscal.Disclaimer, resp.Answer)
	assert.Equal(t, "procurement/teleport.txt", resp.Sources[0].Path)
}

func TestAnswerEmptyQuestionSkipsPipeline(t *testing.T) {
	loader := &countingLoader{}
	svc := newService(t, serviceOptions{loader: loader})

	resp, err := svc.Answer(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeEmptyQuestion, resp.Outcome)
	assert.Equal(t, chat.MessageEmptyQuestion, resp.Answer)
	assert.EqualValues(t, 0, loader.calls.Load())
}

func TestAnswerConvertsQueryFailures(t *testing.T) {
	const question = "What is the Silent Knight Radar program?"

	cases := map[string]struct {
		opts    serviceOptions
		outcome chat.Outcome
		message string
	}{
		"retrieval": {
			opts:    serviceOptions{embedder: keywordEmbedder{failOn: question}},
			outcome: chat.OutcomeRetrievalFailed,
			message: chat.MessageRetrievalFailed,
		},
		"synthesis": {
			opts:    serviceOptions{llm: &stubLLM{err: errors.New("503 service unavailable")}},
			outcome: chat.OutcomeSynthesisFailed,
			message: chat.MessageSynthesisFailed,
		},
		"timeout": {
			opts:    serviceOptions{llm: &stubLLM{block: true}, callTimeout: 20 * time.Millisecond},
			outcome: chat.OutcomeTimeout,
			message: chat.MessageTimeout,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newService(t, tc.opts)

			resp, err := svc.Answer(context.Background(), question)
			require.NoError(t, err)
			assert.Equal(t, tc.outcome, resp.Outcome)
			assert.Equal(t, tc.message, resp.Answer)
			assert.Empty(t, resp.Sources)
		})
	}
}

func TestAnswerReturnsCallerCancellation(t *testing.T) {
	svc := newService(t, serviceOptions{})
	_, err := svc.Index(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = svc.Answer(ctx, "What is the Silent Knight Radar program?")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndexIsBuiltOnceForConcurrentCallers(t *testing.T) {
	loader := &countingLoader{delay: 20 * time.Millisecond}
	svc := newService(t, serviceOptions{loader: loader})

	_, ready, _ := svc.Status()
	assert.False(t, ready)

	const callers = 16
	indices := make([]*vectorstore.Index, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			index, err := svc.Index(context.Background())
			assert.NoError(t, err)
			indices[i] = index
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, loader.calls.Load())
	for _, index := range indices {
		assert.Same(t, indices[0], index)
	}
	assert.Equal(t, "dod3", indices[0].ID)
	assert.Equal(t, 2, indices[0].Chunks)

	status, ready, err := svc.Status()
	assert.True(t, ready)
	assert.NoError(t, err)
	assert.Same(t, indices[0], status)
}

func TestConcurrentAnswersShareOneBuild(t *testing.T) {
	loader := &countingLoader{delay: 10 * time.Millisecond}
	svc := newService(t, serviceOptions{loader: loader})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := svc.Answer(context.Background(), "What is the Silent Knight Radar program?")
			assert.NoError(t, err)
			assert.Equal(t, chat.OutcomeAnswered, resp.Outcome)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestIndexBuildFailureIsFatal(t *testing.T) {
	loader := &countingLoader{err: errors.New("data directory: no such file")}
	svc := newService(t, serviceOptions{loader: loader})

	_, err := svc.Answer(context.Background(), "What is the Silent Knight Radar program?")
	assert.ErrorIs(t, err, ingestion.ErrIndexBuild)

	_, err = svc.Index(context.Background())
	assert.ErrorIs(t, err, ingestion.ErrIndexBuild)
	assert.EqualValues(t, 1, loader.calls.Load())

	_, ready, err := svc.Status()
	assert.True(t, ready)
	assert.Error(t, err)
}

func TestIndexSurvivesFirstCallerTimeout(t *testing.T) {
	loader := &countingLoader{delay: 50 * time.Millisecond}
	svc := newService(t, serviceOptions{loader: loader})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := svc.Index(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ingestion.ErrIndexBuild)

	index, err := svc.Index(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dod3", index.ID)

	resp, err := svc.Answer(context.Background(), "What is the Silent Knight Radar program?")
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeAnswered, resp.Outcome)
	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestAnswerAttachesGraphInsights(t *testing.T) {
	graph := stubGraph{insights: map[string]knowledge.DocumentInsight{
		"radar-doc": {ChunkCount: 1, Pages: 3, Title: "Silent Knight Radar"},
	}}
	svc := newService(t, serviceOptions{graph: graph})

	resp, err := svc.Answer(context.Background(), "What is the Silent Knight Radar program?")
	require.NoError(t, err)
	require.NotEmpty(t, resp.Sources)
	require.NotNil(t, resp.Sources[0].Insight)
	assert.Equal(t, 3, resp.Sources[0].Insight.Pages)
}

func TestAnswerIgnoresGraphFailure(t *testing.T) {
	svc := newService(t, serviceOptions{graph: stubGraph{err: errors.New("neo4j unavailable")}})

	resp, err := svc.Answer(context.Background(), "What is the Silent Knight Radar program?")
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeAnswered, resp.Outcome)
	assert.NotEmpty(t, resp.Sources)
}

func TestAnswerKeepsShortSnippetsWhole(t *testing.T) {
	svc := newService(t, serviceOptions{})

	resp, err := svc.Answer(context.Background(), "What is the Silent Knight Radar program?")
	require.NoError(t, err)
	for _, src := range resp.Sources {
		assert.False(t, strings.HasSuffix(src.Snippet, "..."), "short chunks are not truncated")
	}
}
