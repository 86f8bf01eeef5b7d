package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fiscal-qa/api"
	"github.com/fabfab/fiscal-qa/chat"
	"github.com/fabfab/fiscal-qa/fiscal"
	"github.com/fabfab/fiscal-qa/ingestion"
	"github.com/fabfab/fiscal-qa/vectorstore"
)

type stubPipeline struct {
	question string
	resp     chat.Response
	err      error
	index    *vectorstore.Index
	ready    bool
	indexErr error
}

func (s *stubPipeline) Answer(_ context.Context, question string) (chat.Response, error) {
	s.question = question
	return s.resp, s.err
}

func (s *stubPipeline) Status() (*vectorstore.Index, bool, error) {
	return s.index, s.ready, s.indexErr
}

func TestHealth(t *testing.T) {
	srv := api.New(&stubPipeline{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"ok"}`, rec.Body.String())
}

func TestAnswer(t *testing.T) {
	pipeline := &stubPipeline{resp: chat.Response{
		Answer:  "It is a radar." + fiscal.Disclaimer,
		Outcome: chat.OutcomeAnswered,
		Rules:   []string{"disclaimer"},
		Sources: []chat.Source{{DocumentID: "d1", Path: "rdte/radar.pdf", Page: 4, Score: 0.8}},
	}}
	srv := api.New(pipeline, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{"question":"What is the Silent Knight Radar program?"}`))
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "What is the Silent Knight Radar program?", pipeline.question)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, pipeline.resp.Answer, body["answer"])
	assert.Equal(t, "answered", body["outcome"])
	sources := body["sources"].([]any)
	require.Len(t, sources, 1)
	assert.Equal(t, "rdte/radar.pdf", sources[0].(map[string]any)["path"])
}

func TestAnswerRejectsBadRequests(t *testing.T) {
	srv := api.New(&stubPipeline{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/answer", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{"question":"q","limit":3}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown field")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{"question":"a"}{"question":"b"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnswerIndexFailure(t *testing.T) {
	srv := api.New(&stubPipeline{err: errors.Join(ingestion.ErrIndexBuild, errors.New("no chunks to index"))}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{"question":"q"}`)))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "index build failed")
}

func TestIndexStatus(t *testing.T) {
	srv := api.New(&stubPipeline{}, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/index", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":false}`, rec.Body.String())

	built := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	srv = api.New(&stubPipeline{ready: true, index: &vectorstore.Index{
		IndexSpec: vectorstore.IndexSpec{ID: "dod3", ChunkSize: 1000, ChunkOverlap: 100, Dimension: 1536},
		Documents: 14,
		Chunks:    9120,
		BuiltAt:   built,
	}}, nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/index", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":true,"id":"dod3","chunk_size":1000,"chunk_overlap":100,"dimension":1536,
		"documents":14,"chunks":9120,"built_at":"2024-03-01T12:00:00Z"}`, rec.Body.String())

	srv = api.New(&stubPipeline{ready: true, indexErr: ingestion.ErrIndexBuild}, nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/index", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQueryPage(t *testing.T) {
	srv := api.New(&stubPipeline{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "What is the Silent Knight Radar (SKR) Program?")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
