package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-groupexam/internal/model"
	"github.com/stemsi/exstem-groupexam/internal/repository"
	"github.com/stemsi/exstem-groupexam/internal/response"
	"github.com/stemsi/exstem-groupexam/internal/service"
	"github.com/stemsi/exstem-groupexam/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSessionID = uuid.MustParse("0b8f1d2e-3c4a-4e5f-9a6b-7c8d9e0f1a2b")

type MockSessionFetcher struct {
	mock.Mock
}

func (m *MockSessionFetcher) Fetch(ctx context.Context, id uuid.UUID) (*model.GroupTest, error) {
	args := m.Called(ctx, id)
	gt, _ := args.Get(0).(*model.GroupTest)
	return gt, args.Error(1)
}

type MockSubmissionService struct {
	mock.Mock
}

func (m *MockSubmissionService) Submit(ctx context.Context, id uuid.UUID, answers model.AnswerMap) (int, error) {
	args := m.Called(ctx, id, answers)
	return args.Int(0), args.Error(1)
}

type envelope struct {
	Data  model.Snapshot      `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

type handlerHarness struct {
	router    *gin.Engine
	manager   *service.GroupTestManager
	fetcher   *MockSessionFetcher
	submitter *MockSubmissionService
}

func newHandlerHarness(t *testing.T) *handlerHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	h := &handlerHarness{
		fetcher:   new(MockSessionFetcher),
		submitter: new(MockSubmissionService),
	}
	h.manager = service.NewGroupTestManager(service.Deps{
		Clock:     clock,
		Fetcher:   h.fetcher,
		Submitter: h.submitter,
		States:    repository.NewMemoryStateRepository(),
		Log:       zerolog.Nop(),
	})
	t.Cleanup(h.manager.CloseAll)

	gt := &model.GroupTest{
		ID:                testSessionID,
		ScheduledStartUTC: clock.Now().Add(-time.Minute),
		DurationMinutes:   30,
		CourseName:        "Chemistry",
		Questions: []model.Question{
			{ID: "q1", Text: "Symbol of sodium?", Options: []model.Option{
				{Label: "A", Text: "Na"}, {Label: "B", Text: "S"},
			}},
			{ID: "q2", Text: "Describe a covalent bond."},
		},
	}
	h.fetcher.On("Fetch", mock.Anything, testSessionID).Return(gt, nil)

	gth := NewGroupTestHandler(h.manager, zerolog.Nop())
	r := gin.New()
	g := r.Group("/api/v1/group-tests/:id")
	g.POST("/open", gth.Open)
	g.GET("/state", gth.State)
	g.POST("/start", gth.Start)
	g.PUT("/answers", gth.Answer)
	g.POST("/next", gth.Next)
	g.POST("/submit", gth.Submit)
	g.POST("/retry", gth.Retry)
	g.DELETE("", gth.Close)
	h.router = r
	return h
}

func (h *handlerHarness) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func path(suffix string) string {
	return fmt.Sprintf("/api/v1/group-tests/%s%s", testSessionID, suffix)
}

func TestGroupTestHandler_Lifecycle(t *testing.T) {
	h := newHandlerHarness(t)

	code, env := h.do(t, http.MethodPost, path("/open"), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.PhaseReadyToStart, env.Data.Phase)
	assert.Equal(t, 2, env.Data.TotalQuestions)

	code, env = h.do(t, http.MethodPut, path("/answers"), model.AnswerRequest{QuestionID: "q1", Value: "A"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrInvalidPhase, env.Error.Code)

	code, env = h.do(t, http.MethodPost, path("/start"), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.PhaseInProgress, env.Data.Phase)

	code, env = h.do(t, http.MethodPut, path("/answers"), model.AnswerRequest{QuestionID: "q1", Value: "A"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.AnswerMap{"q1": "A"}, env.Data.Answers)

	code, env = h.do(t, http.MethodPost, path("/next"), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Data.CurrentIndex)

	h.submitter.On("Submit", mock.Anything, testSessionID, model.AnswerMap{"q1": "A"}).Return(1, nil).Once()

	code, env = h.do(t, http.MethodPost, path("/submit"), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.PhaseEnded, env.Data.Phase)
	require.NotNil(t, env.Data.Score)
	assert.Equal(t, 1, env.Data.Score.CorrectCount)
	assert.Equal(t, 50.0, env.Data.Score.Percentage)

	code, env = h.do(t, http.MethodPost, path("/retry"), nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrNothingToRetry, env.Error.Code)

	h.submitter.AssertExpectations(t)
}

func TestGroupTestHandler_OpenIsIdempotent(t *testing.T) {
	h := newHandlerHarness(t)

	code, _ := h.do(t, http.MethodPost, path("/open"), nil)
	require.Equal(t, http.StatusOK, code)
	code, env := h.do(t, http.MethodPost, path("/open"), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.PhaseReadyToStart, env.Data.Phase)

	h.fetcher.AssertNumberOfCalls(t, "Fetch", 1)
	assert.Equal(t, 1, h.manager.Len())
}

func TestGroupTestHandler_AnswerValidation(t *testing.T) {
	h := newHandlerHarness(t)
	h.do(t, http.MethodPost, path("/open"), nil)
	h.do(t, http.MethodPost, path("/start"), nil)

	code, env := h.do(t, http.MethodPut, path("/answers"), map[string]string{"question_id": "q1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrValidation, env.Error.Code)
	assert.Contains(t, env.Error.Fields, "value")

	code, env = h.do(t, http.MethodPut, path("/answers"), model.AnswerRequest{QuestionID: "q1", Value: "Z"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, response.ErrInvalidAnswer, env.Error.Code)

	code, env = h.do(t, http.MethodPut, path("/answers"), model.AnswerRequest{QuestionID: "q9", Value: "A"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, response.ErrUnknownQuestion, env.Error.Code)
}

func TestGroupTestHandler_NotOpenAndInvalidID(t *testing.T) {
	h := newHandlerHarness(t)

	code, env := h.do(t, http.MethodGet, path("/state"), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrNotOpen, env.Error.Code)

	code, env = h.do(t, http.MethodGet, "/api/v1/group-tests/not-a-uuid/state", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrInvalidID, env.Error.Code)

	code, env = h.do(t, http.MethodDelete, path(""), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrNotOpen, env.Error.Code)
}

func TestGroupTestHandler_CloseUnmounts(t *testing.T) {
	h := newHandlerHarness(t)
	h.do(t, http.MethodPost, path("/open"), nil)

	code, _ := h.do(t, http.MethodDelete, path(""), nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, h.manager.Len())

	code, _ = h.do(t, http.MethodGet, path("/state"), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{service.ErrNotOpen, http.StatusNotFound, response.ErrNotOpen},
		{service.ErrControllerClosed, http.StatusGone, response.ErrSessionClosed},
		{service.ErrInvalidPhase, http.StatusConflict, response.ErrInvalidPhase},
		{service.ErrTimeUp, http.StatusConflict, response.ErrTimeUp},
		{service.ErrSubmissionInFlight, http.StatusConflict, response.ErrSubmissionInFlight},
		{service.ErrNothingToRetry, http.StatusConflict, response.ErrNothingToRetry},
		{service.ErrUnknownQuestion, http.StatusUnprocessableEntity, response.ErrUnknownQuestion},
		{fmt.Errorf("q1: %w", service.ErrInvalidAnswer), http.StatusUnprocessableEntity, response.ErrInvalidAnswer},
		{fmt.Errorf("save: %w", service.ErrPersistence), http.StatusServiceUnavailable, response.ErrStateUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			status, code := classify(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, code)
		})
	}
}
