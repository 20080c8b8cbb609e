package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-groupexam/internal/model"
)

// ErrStateNotFound is returned by Load when no state is persisted for a session.
var ErrStateNotFound = errors.New("group test state not found")

// StateRepository persists the resumable {endTimestamp, answers} record of a
// group test, one entry per session id. Save returns only once the backend has
// acknowledged the write.
type StateRepository interface {
	Save(ctx context.Context, sessionID uuid.UUID, state *model.PersistedState) error
	Load(ctx context.Context, sessionID uuid.UUID) (*model.PersistedState, error)
	Clear(ctx context.Context, sessionID uuid.UUID) error
}
