package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-groupexam/internal/model"
)

// MemoryStateRepository keeps states in process memory. It survives controller
// remounts but not an agent restart; used for development and tests.
type MemoryStateRepository struct {
	mu     sync.RWMutex
	states map[uuid.UUID]model.PersistedState
}

// NewMemoryStateRepository creates an empty MemoryStateRepository.
func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{states: make(map[uuid.UUID]model.PersistedState)}
}

// Save stores a copy of state.
func (r *MemoryStateRepository) Save(_ context.Context, sessionID uuid.UUID, state *model.PersistedState) error {
	r.mu.Lock()
	r.states[sessionID] = model.PersistedState{
		EndTimestamp: state.EndTimestamp,
		Answers:      state.Answers.Clone(),
	}
	r.mu.Unlock()
	return nil
}

// Load returns a copy of the stored state or ErrStateNotFound.
func (r *MemoryStateRepository) Load(_ context.Context, sessionID uuid.UUID) (*model.PersistedState, error) {
	r.mu.RLock()
	s, ok := r.states[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrStateNotFound
	}
	return &model.PersistedState{EndTimestamp: s.EndTimestamp, Answers: s.Answers.Clone()}, nil
}

// Clear deletes the stored state. Clearing an absent entry is not an error.
func (r *MemoryStateRepository) Clear(_ context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	delete(r.states, sessionID)
	r.mu.Unlock()
	return nil
}
