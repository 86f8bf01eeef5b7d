// Package api serves the answer pipeline over HTTP together with a small
// query page.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fabfab/fiscal-qa/chat"
	"github.com/fabfab/fiscal-qa/vectorstore"
)

const maxRequestBytes = 64 << 10

// Pipeline is the part of chat.Service the HTTP surface depends on.
type Pipeline interface {
	Answer(ctx context.Context, question string) (chat.Response, error)
	Status() (*vectorstore.Index, bool, error)
}

// Server exposes HTTP handlers for answering questions.
type Server struct {
	pipeline Pipeline
	logger   *zap.Logger
	handler  http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type answerRequest struct {
	Question string `json:"question"`
}

type indexResponse struct {
	Ready        bool       `json:"ready"`
	ID           string     `json:"id,omitempty"`
	ChunkSize    int        `json:"chunk_size,omitempty"`
	ChunkOverlap int        `json:"chunk_overlap,omitempty"`
	Dimension    int        `json:"dimension,omitempty"`
	Documents    int        `json:"documents,omitempty"`
	Chunks       int        `json:"chunks,omitempty"`
	BuiltAt      *time.Time `json:"built_at,omitempty"`
}

func New(pipeline Pipeline, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{pipeline: pipeline, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/index", s.handleIndex)
	mux.HandleFunc("/v1/answer", s.handleAnswer)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	index, ready, err := s.pipeline.Status()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("index unavailable: %w", err))
		return
	}
	if !ready || index == nil {
		s.writeJSON(w, http.StatusOK, indexResponse{Ready: false})
		return
	}

	builtAt := index.BuiltAt
	s.writeJSON(w, http.StatusOK, indexResponse{
		Ready:        true,
		ID:           index.ID,
		ChunkSize:    index.ChunkSize,
		ChunkOverlap: index.ChunkOverlap,
		Dimension:    index.Dimension,
		Documents:    index.Documents,
		Chunks:       index.Chunks,
		BuiltAt:      &builtAt,
	})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req answerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	resp, err := s.pipeline.Answer(r.Context(), req.Question)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.logger.Debug("client went away", zap.Error(err))
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("answer failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("api error", zap.Int("status", status), zap.Error(err))
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
