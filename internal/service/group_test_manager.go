package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-groupexam/internal/model"
)

// GroupTestManager keeps one controller per open group test.
type GroupTestManager struct {
	deps Deps
	log  zerolog.Logger

	mu          sync.Mutex
	controllers map[uuid.UUID]*GroupTestController
	hooks       []func(*GroupTestController)
}

// NewGroupTestManager creates a manager whose controllers share deps.
func NewGroupTestManager(deps Deps) *GroupTestManager {
	if deps.Coordinators == nil {
		deps.Coordinators = NewCoordinatorRegistry()
	}
	return &GroupTestManager{
		deps:        deps,
		log:         deps.Log.With().Str("component", "group_test_manager").Logger(),
		controllers: make(map[uuid.UUID]*GroupTestController),
	}
}

// OnOpen registers a hook run for every new controller before its first
// load, so subscribers see the initial snapshot.
func (m *GroupTestManager) OnOpen(fn func(*GroupTestController)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Open mounts the group test and loads it. Opening an already open test
// returns its current snapshot.
func (m *GroupTestManager) Open(ctx context.Context, id uuid.UUID) (model.Snapshot, error) {
	m.mu.Lock()
	if c, ok := m.controllers[id]; ok {
		m.mu.Unlock()
		return c.Snapshot(), nil
	}
	c := NewGroupTestController(id, m.deps)
	m.controllers[id] = c
	hooks := append([]func(*GroupTestController){}, m.hooks...)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(c)
	}
	m.log.Info().Str("session_id", id.String()).Msg("Group test opened")
	return c.Load(ctx)
}

// Get returns the controller of an open group test.
func (m *GroupTestManager) Get(id uuid.UUID) (*GroupTestController, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.controllers[id]
	if !ok {
		return nil, ErrNotOpen
	}
	return c, nil
}

// Close unmounts a group test.
func (m *GroupTestManager) Close(id uuid.UUID) error {
	m.mu.Lock()
	c, ok := m.controllers[id]
	delete(m.controllers, id)
	m.mu.Unlock()

	if !ok {
		return ErrNotOpen
	}
	c.Close()
	m.log.Info().Str("session_id", id.String()).Msg("Group test closed")
	return nil
}

// CloseAll unmounts every open group test.
func (m *GroupTestManager) CloseAll() {
	m.mu.Lock()
	controllers := m.controllers
	m.controllers = make(map[uuid.UUID]*GroupTestController)
	m.mu.Unlock()

	for _, c := range controllers {
		c.Close()
	}
	m.log.Info().Int("count", len(controllers)).Msg("All group tests closed")
}

// Len returns the number of open group tests.
func (m *GroupTestManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.controllers)
}
