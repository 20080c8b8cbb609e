package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-groupexam/internal/model"
	"github.com/stemsi/exstem-groupexam/internal/response"
	"github.com/stemsi/exstem-groupexam/internal/service"
	"github.com/stemsi/exstem-groupexam/internal/validator"
)

// GroupTestHandler exposes the participant's controls of open group tests.
type GroupTestHandler struct {
	manager *service.GroupTestManager
	log     zerolog.Logger
}

// NewGroupTestHandler creates a new GroupTestHandler.
func NewGroupTestHandler(manager *service.GroupTestManager, log zerolog.Logger) *GroupTestHandler {
	return &GroupTestHandler{
		manager: manager,
		log:     log.With().Str("component", "group_test_handler").Logger(),
	}
}

// Open godoc
// POST /api/v1/group-tests/:id/open
// Mounts the group test and derives its phase. Idempotent.
func (h *GroupTestHandler) Open(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	snap, err := h.manager.Open(c.Request.Context(), id)
	h.reply(c, snap, err)
}

// State godoc
// GET /api/v1/group-tests/:id/state
func (h *GroupTestHandler) State(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, ctrl.Snapshot())
}

// Start godoc
// POST /api/v1/group-tests/:id/start
// Starts the participant's countdown window.
func (h *GroupTestHandler) Start(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	snap, err := ctrl.StartSession(c.Request.Context())
	h.reply(c, snap, err)
}

// Answer godoc
// PUT /api/v1/group-tests/:id/answers
// Records one answer; overwrites the previous answer of the question.
func (h *GroupTestHandler) Answer(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := ctrl.Answer(c.Request.Context(), req.QuestionID, req.Value)
	h.reply(c, snap, err)
}

// Next godoc
// POST /api/v1/group-tests/:id/next
func (h *GroupTestHandler) Next(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	snap, err := ctrl.NextQuestion()
	h.reply(c, snap, err)
}

// Prev godoc
// POST /api/v1/group-tests/:id/prev
func (h *GroupTestHandler) Prev(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	snap, err := ctrl.PrevQuestion()
	h.reply(c, snap, err)
}

// Submit godoc
// POST /api/v1/group-tests/:id/submit
// Submits manually. Submission failures are reported in the snapshot error.
func (h *GroupTestHandler) Submit(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	snap, err := ctrl.SubmitNow(c.Request.Context())
	h.reply(c, snap, err)
}

// Retake godoc
// POST /api/v1/group-tests/:id/retake
func (h *GroupTestHandler) Retake(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	snap, err := ctrl.Retake(c.Request.Context())
	h.reply(c, snap, err)
}

// Retry godoc
// POST /api/v1/group-tests/:id/retry
// Retries a failed load or a failed submission.
func (h *GroupTestHandler) Retry(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	snap, err := ctrl.Retry(c.Request.Context())
	h.reply(c, snap, err)
}

// Close godoc
// DELETE /api/v1/group-tests/:id
// Unmounts the group test. Persisted progress is kept.
func (h *GroupTestHandler) Close(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.manager.Close(id); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "group test closed"})
}

func (h *GroupTestHandler) controller(c *gin.Context) (*service.GroupTestController, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}
	ctrl, err := h.manager.Get(id)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return ctrl, true
}

func (h *GroupTestHandler) reply(c *gin.Context, snap model.Snapshot, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

func (h *GroupTestHandler) fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Group test control failed")
	}
	response.Fail(c, status, code)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// classify maps control errors to an HTTP status and error code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrNotOpen):
		return http.StatusNotFound, response.ErrNotOpen
	case errors.Is(err, service.ErrControllerClosed):
		return http.StatusGone, response.ErrSessionClosed
	case errors.Is(err, service.ErrInvalidPhase):
		return http.StatusConflict, response.ErrInvalidPhase
	case errors.Is(err, service.ErrTimeUp):
		return http.StatusConflict, response.ErrTimeUp
	case errors.Is(err, service.ErrSubmissionInFlight):
		return http.StatusConflict, response.ErrSubmissionInFlight
	case errors.Is(err, service.ErrNothingToRetry):
		return http.StatusConflict, response.ErrNothingToRetry
	case errors.Is(err, service.ErrUnknownQuestion):
		return http.StatusUnprocessableEntity, response.ErrUnknownQuestion
	case errors.Is(err, service.ErrInvalidAnswer):
		return http.StatusUnprocessableEntity, response.ErrInvalidAnswer
	case errors.Is(err, service.ErrPersistence):
		return http.StatusServiceUnavailable, response.ErrStateUnavailable
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
