package service

import (
	"sync"

	"github.com/google/uuid"
)

// CoordinatorRegistry keeps the submission coordinator of each session id
// beyond the lifetime of a controller. A controller mounted while an earlier
// one still has a submission in flight gets that same coordinator, so the
// guard stays claimed and the pending result can be adopted.
type CoordinatorRegistry struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*SubmissionCoordinator
}

func NewCoordinatorRegistry() *CoordinatorRegistry {
	return &CoordinatorRegistry{byID: make(map[uuid.UUID]*SubmissionCoordinator)}
}

// Acquire returns the coordinator of id if a submission is in flight on it,
// otherwise a fresh one built by newFn.
func (r *CoordinatorRegistry) Acquire(id uuid.UUID, newFn func() *SubmissionCoordinator) *SubmissionCoordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[id]; ok && c.InFlight() {
		return c
	}
	c := newFn()
	r.byID[id] = c
	return c
}

// Len returns the number of tracked sessions.
func (r *CoordinatorRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
