package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-groupexam/internal/model"
)

// SessionFetcher resolves a session id to its group test metadata.
// Implementations fail with ErrSessionNotFound or ErrTransient.
type SessionFetcher interface {
	Fetch(ctx context.Context, sessionID uuid.UUID) (*model.GroupTest, error)
}

// SubmissionService scores submitted answers upstream and returns the number
// of correct answers. Implementations fail with ErrTransient (retriable) or
// ErrRejected (terminal, e.g. the session is already closed upstream).
type SubmissionService interface {
	Submit(ctx context.Context, sessionID uuid.UUID, answers model.AnswerMap) (int, error)
}
