package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wakamiya-lab/grantbot/internal/domain"
	"github.com/wakamiya-lab/grantbot/internal/pipeline"
)

type MockAnswerer struct {
	mock.Mock
}

func (m *MockAnswerer) Answer(ctx context.Context, req pipeline.Request) (*pipeline.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Response), args.Error(1)
}

func postAsk(t *testing.T, h *AskHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Ask(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestAskHandler_Ask_Success(t *testing.T) {
	answerer := new(MockAnswerer)
	handler := NewAskHandler(answerer)

	score := 0.9
	answerer.On("Answer", mock.Anything, mock.MatchedBy(func(req pipeline.Request) bool {
		return req.Query == "補助金の上限は？" && req.Mode == pipeline.ModeDoc && !req.Debug
	})).Return(&pipeline.Response{
		Answer:  "上限は50万円です。",
		Sources: []domain.Source{{Title: "要項.pdf", Kind: domain.SourceKindDoc, Score: &score}},
	}, nil)

	rec := postAsk(t, handler, `{"query":"補助金の上限は？","mode":"doc"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, true, payload["ok"])
	assert.Equal(t, "上限は50万円です。", payload["answer"])
	require.Len(t, payload["sources"], 1)
	assert.NotContains(t, payload, "trace")
	answerer.AssertExpectations(t)
}

func TestAskHandler_Ask_ModeDefaultsToDoc(t *testing.T) {
	answerer := new(MockAnswerer)
	handler := NewAskHandler(answerer)

	answerer.On("Answer", mock.Anything, mock.MatchedBy(func(req pipeline.Request) bool {
		return req.Mode == pipeline.ModeDoc
	})).Return(&pipeline.Response{Answer: "a", Sources: []domain.Source{}}, nil)

	rec := postAsk(t, handler, `{"query":"補助金"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, pipeline.ModeDoc, payload["mode"])
	answerer.AssertExpectations(t)
}

func TestAskHandler_Ask_NormalizesModeCase(t *testing.T) {
	answerer := new(MockAnswerer)
	handler := NewAskHandler(answerer)

	answerer.On("Answer", mock.Anything, mock.MatchedBy(func(req pipeline.Request) bool {
		return req.Mode == pipeline.ModeWeb
	})).Return(&pipeline.Response{Answer: "a", Sources: []domain.Source{}}, nil)

	rec := postAsk(t, handler, `{"query":"補助金","mode":" WEB "}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	answerer.AssertExpectations(t)
}

func TestAskHandler_Ask_EmptyQuery(t *testing.T) {
	answerer := new(MockAnswerer)
	handler := NewAskHandler(answerer)

	rec := postAsk(t, handler, `{"query":"   "}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, false, payload["ok"])
	answerer.AssertNotCalled(t, "Answer", mock.Anything, mock.Anything)
}

func TestAskHandler_Ask_MalformedJSON(t *testing.T) {
	handler := NewAskHandler(new(MockAnswerer))

	rec := postAsk(t, handler, `{"query":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskHandler_Ask_InvalidModeMapsTo400(t *testing.T) {
	answerer := new(MockAnswerer)
	handler := NewAskHandler(answerer)

	answerer.On("Answer", mock.Anything, mock.Anything).Return(nil, domain.ErrInvalidMode)

	rec := postAsk(t, handler, `{"query":"補助金","mode":"banana"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskHandler_Ask_SearchUnavailableMapsTo503(t *testing.T) {
	answerer := new(MockAnswerer)
	handler := NewAskHandler(answerer)

	answerer.On("Answer", mock.Anything, mock.Anything).Return(nil, domain.ErrSearchUnavailable)

	rec := postAsk(t, handler, `{"query":"補助金","mode":"web"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAskHandler_Ask_UnknownErrorMapsTo500(t *testing.T) {
	answerer := new(MockAnswerer)
	handler := NewAskHandler(answerer)

	answerer.On("Answer", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	rec := postAsk(t, handler, `{"query":"補助金"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAskHandler_Ask_TracePassesThrough(t *testing.T) {
	answerer := new(MockAnswerer)
	handler := NewAskHandler(answerer)

	answerer.On("Answer", mock.Anything, mock.MatchedBy(func(req pipeline.Request) bool {
		return req.Debug
	})).Return(&pipeline.Response{
		Answer:  "a",
		Sources: []domain.Source{},
		Trace:   &pipeline.Trace{SchemaVersion: 1, Mode: pipeline.ModeDoc},
	}, nil)

	rec := postAsk(t, handler, `{"query":"補助金","mode":"doc","debug":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	require.Contains(t, payload, "trace")
	trace := payload["trace"].(map[string]any)
	assert.Equal(t, float64(1), trace["schema_version"])
}
