// Package chat turns a question into a final answer: it owns the lazily built
// index, drafts answers from retrieved chunks and runs the fiscal
// post-processor over every draft.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fabfab/fiscal-qa/fiscal"
	"github.com/fabfab/fiscal-qa/ingestion"
	"github.com/fabfab/fiscal-qa/knowledge"
	"github.com/fabfab/fiscal-qa/retrieval"
	"github.com/fabfab/fiscal-qa/vectorstore"
)

// ErrTimeout marks a boundary call that ran past the configured call timeout.
var ErrTimeout = errors.New("call timed out")

const snippetLength = 300

// DocumentLoader returns the corpus to index.
type DocumentLoader func(ctx context.Context) ([]ingestion.Document, error)

type Dependencies struct {
	Loader      DocumentLoader
	Indexer     *ingestion.Indexer
	Retriever   *retrieval.Retriever
	Synthesizer *Synthesizer
	// Graph is optional; when set it annotates sources with document insights.
	Graph  knowledge.Graph
	Logger *zap.Logger
}

type Config struct {
	IndexID     string
	RetrievalK  int
	CallTimeout time.Duration
}

type Service struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger

	once     sync.Once
	built    chan struct{}
	index    *vectorstore.Index
	indexErr error
}

func NewService(deps Dependencies, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = retrieval.DefaultK
	}

	return &Service{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		built:  make(chan struct{}),
	}
}

// Index returns the process-wide index, building it on first use. Concurrent
// first callers wait for the single build and share its result. A failed
// build is not retried.
//
// The build belongs to the service, not to the caller that started it: a
// caller whose ctx ends stops waiting and gets ctx.Err(), while the build
// carries on for everyone else.
func (s *Service) Index(ctx context.Context) (*vectorstore.Index, error) {
	s.once.Do(func() {
		buildCtx := context.WithoutCancel(ctx)
		go func() {
			defer close(s.built)
			s.index, s.indexErr = s.buildIndex(buildCtx)
			if s.indexErr != nil {
				s.logger.Error("index build failed", zap.String("index", s.cfg.IndexID), zap.Error(s.indexErr))
			}
		}()
	})

	select {
	case <-s.built:
		return s.index, s.indexErr
	default:
	}
	select {
	case <-s.built:
		return s.index, s.indexErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status reports the index without triggering a build. ready is false until
// the first build has finished.
func (s *Service) Status() (index *vectorstore.Index, ready bool, err error) {
	select {
	case <-s.built:
		return s.index, true, s.indexErr
	default:
		return nil, false, nil
	}
}

func (s *Service) buildIndex(ctx context.Context) (*vectorstore.Index, error) {
	if s.deps.Loader == nil || s.deps.Indexer == nil {
		return nil, fmt.Errorf("%w: loader and indexer are required", ingestion.ErrIndexBuild)
	}

	docs, err := s.deps.Loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load documents: %w", ingestion.ErrIndexBuild, err)
	}
	return s.deps.Indexer.BuildIndex(ctx, s.cfg.IndexID, docs)
}

// Answer runs retrieval, synthesis and post-processing for one question.
// Failures of a single question are reported through Response.Outcome with a
// fixed message; only an index build failure or cancellation of ctx itself is
// returned as an error.
func (s *Service) Answer(ctx context.Context, question string) (Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Response{Answer: MessageEmptyQuestion, Outcome: OutcomeEmptyQuestion, Sources: []Source{}}, nil
	}
	if s.deps.Retriever == nil || s.deps.Synthesizer == nil {
		return Response{}, fmt.Errorf("retriever and synthesizer are required")
	}

	index, err := s.Index(ctx)
	if err != nil {
		return Response{}, err
	}

	callCtx, cancel := s.callContext(ctx)
	retrieved, err := s.deps.Retriever.Retrieve(callCtx, index, question, s.cfg.RetrievalK)
	cancel()
	if err != nil {
		return s.failed(ctx, err, OutcomeRetrievalFailed)
	}

	callCtx, cancel = s.callContext(ctx)
	draft, err := s.deps.Synthesizer.Synthesize(callCtx, question, retrieved)
	cancel()
	if err != nil {
		return s.failed(ctx, err, OutcomeSynthesisFailed)
	}

	decision := fiscal.Evaluate(question, draft)
	s.logger.Info("answered question",
		zap.Bool("fiscal_relevant", decision.Signal.FiscalRelevant()),
		zap.Strings("rules", decision.Applied),
		zap.Int("sources", len(retrieved.Matches)))

	return Response{
		Answer:  decision.Final,
		Outcome: OutcomeAnswered,
		Signal:  decision.Signal,
		Rules:   decision.Applied,
		Sources: s.sources(ctx, index, retrieved),
	}, nil
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

func (s *Service) failed(ctx context.Context, err error, outcome Outcome) (Response, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Response{}, ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
		outcome = OutcomeTimeout
	}

	s.logger.Warn("question not answered", zap.String("outcome", string(outcome)), zap.Error(err))

	message := MessageRetrievalFailed
	switch outcome {
	case OutcomeSynthesisFailed:
		message = MessageSynthesisFailed
	case OutcomeTimeout:
		message = MessageTimeout
	}
	return Response{Answer: message, Outcome: outcome, Sources: []Source{}}, nil
}

func (s *Service) sources(ctx context.Context, index *vectorstore.Index, retrieved retrieval.Context) []Source {
	insights := map[string]knowledge.DocumentInsight{}
	if s.deps.Graph != nil {
		callCtx, cancel := s.callContext(ctx)
		found, err := s.deps.Graph.DocumentInsights(callCtx, index.ID, retrieved.DocumentIDs())
		cancel()
		if err != nil {
			s.logger.Warn("graph insights unavailable", zap.Error(err))
		} else {
			insights = found
		}
	}

	sources := make([]Source, 0, len(retrieved.Matches))
	for _, match := range retrieved.Matches {
		source := Source{
			DocumentID: match.DocumentID,
			Title:      match.Title,
			Path:       match.Source,
			Page:       match.Page,
			Score:      match.Score,
			Snippet:    snippet(match.Text),
		}
		if insight, ok := insights[match.DocumentID]; ok {
			source.Insight = &insight
		}
		sources = append(sources, source)
	}
	return sources
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= snippetLength {
		return text
	}
	return string([]rune(text)[:snippetLength]) + "..."
}
