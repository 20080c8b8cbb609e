package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-groupexam/internal/model"
	"github.com/stemsi/exstem-groupexam/internal/service"
	"github.com/stemsi/exstem-groupexam/internal/validator"
)

// GroupTestClient fetches group test metadata and submits answers. It
// implements service.SessionFetcher and service.SubmissionService.
type GroupTestClient struct {
	*BaseClient
	log zerolog.Logger
}

// NewGroupTestClient creates a client for baseURL. token is sent as a bearer
// token when not empty.
func NewGroupTestClient(base *BaseClient, token string, log zerolog.Logger) *GroupTestClient {
	base.SetHeader(JSONHeader, JSONContentType)
	base.SetHeader("Accept", JSONContentType)
	if token != "" {
		base.SetHeader("Authorization", "Bearer "+token)
	}
	return &GroupTestClient{
		BaseClient: base,
		log:        log.With().Str("component", "group_test_client").Logger(),
	}
}

type submitRequest struct {
	Answers model.AnswerMap `json:"answers"`
}

type submitResult struct {
	CorrectCount *int `json:"correct_count"`
}

// Fetch returns the metadata of a group test. The scheduled start must be a
// timezone-qualified instant; anything else fails to decode.
func (c *GroupTestClient) Fetch(ctx context.Context, id uuid.UUID) (*model.GroupTest, error) {
	raw, err := c.Get(ctx, fmt.Sprintf("/group-tests/%s", id))
	if err != nil {
		return nil, c.classifyFetch(id, err)
	}

	gt, err := decodeData[*model.GroupTest](raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrTransient, err)
	}
	if gt == nil {
		return nil, fmt.Errorf("%w: empty group test payload", service.ErrTransient)
	}
	if err := checkGroupTest(gt); err != nil {
		c.log.Error().Err(err).Str("session_id", id.String()).Msg("Backend served invalid group test metadata")
		return nil, fmt.Errorf("%w: %w", service.ErrTransient, err)
	}
	return gt, nil
}

// Submit sends the answers for scoring and returns the correct count.
func (c *GroupTestClient) Submit(ctx context.Context, id uuid.UUID, answers model.AnswerMap) (int, error) {
	if answers == nil {
		answers = model.AnswerMap{}
	}
	body, err := json.Marshal(submitRequest{Answers: answers})
	if err != nil {
		return 0, fmt.Errorf("encode submission: %w", err)
	}

	raw, err := c.Post(ctx, fmt.Sprintf("/group-tests/%s/submissions", id), bytes.NewReader(body))
	if err != nil {
		return 0, c.classifySubmit(id, err)
	}

	res, err := decodeData[submitResult](raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", service.ErrTransient, err)
	}
	if res.CorrectCount == nil {
		return 0, fmt.Errorf("%w: missing correct_count", service.ErrTransient)
	}
	return *res.CorrectCount, nil
}

func (c *GroupTestClient) classifyFetch(id uuid.UUID, err error) error {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", service.ErrSessionNotFound, err)
	}
	c.log.Warn().Err(err).Str("session_id", id.String()).Msg("Group test fetch failed")
	return fmt.Errorf("%w: %w", service.ErrTransient, err)
}

func (c *GroupTestClient) classifySubmit(id uuid.UUID, err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusNotFound, http.StatusForbidden, http.StatusConflict, http.StatusGone, http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %w", service.ErrRejected, err)
		}
	}
	c.log.Warn().Err(err).Str("session_id", id.String()).Msg("Submission request failed")
	return fmt.Errorf("%w: %w", service.ErrTransient, err)
}

// checkGroupTest validates the metadata and that question ids are unique.
func checkGroupTest(gt *model.GroupTest) error {
	if err := validator.Struct(gt); err != nil {
		return fmt.Errorf("invalid group test: %v", validator.TranslateErrors(err))
	}
	seen := make(map[string]struct{}, len(gt.Questions))
	for _, q := range gt.Questions {
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("invalid group test: duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}
