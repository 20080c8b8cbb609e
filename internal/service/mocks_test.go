package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-groupexam/internal/model"
	"github.com/stemsi/exstem-groupexam/internal/repository"
	"github.com/stretchr/testify/mock"
)

var (
	t0        = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	sessionID = uuid.MustParse("4d3c7a62-8b1e-4f0a-9c55-2e8f6d1b7a90")
)

// MockSessionFetcher is a mock implementation of SessionFetcher.
type MockSessionFetcher struct {
	mock.Mock
}

func (m *MockSessionFetcher) Fetch(ctx context.Context, id uuid.UUID) (*model.GroupTest, error) {
	args := m.Called(ctx, id)
	gt, _ := args.Get(0).(*model.GroupTest)
	return gt, args.Error(1)
}

// MockSubmissionService is a mock implementation of SubmissionService.
type MockSubmissionService struct {
	mock.Mock
}

func (m *MockSubmissionService) Submit(ctx context.Context, id uuid.UUID, answers model.AnswerMap) (int, error) {
	args := m.Called(ctx, id, answers)
	return args.Int(0), args.Error(1)
}

// flakyStates fails writes on demand.
type flakyStates struct {
	*repository.MemoryStateRepository
	failSave  atomic.Bool
	failLoad  atomic.Bool
	failClear atomic.Bool
}

var errStoreDown = errors.New("store down")

func newFlakyStates() *flakyStates {
	return &flakyStates{MemoryStateRepository: repository.NewMemoryStateRepository()}
}

func (f *flakyStates) Save(ctx context.Context, id uuid.UUID, s *model.PersistedState) error {
	if f.failSave.Load() {
		return errStoreDown
	}
	return f.MemoryStateRepository.Save(ctx, id, s)
}

func (f *flakyStates) Load(ctx context.Context, id uuid.UUID) (*model.PersistedState, error) {
	if f.failLoad.Load() {
		return nil, errStoreDown
	}
	return f.MemoryStateRepository.Load(ctx, id)
}

func (f *flakyStates) Clear(ctx context.Context, id uuid.UUID) error {
	if f.failClear.Load() {
		return errStoreDown
	}
	return f.MemoryStateRepository.Clear(ctx, id)
}

func newGroupTest(start time.Time) *model.GroupTest {
	return &model.GroupTest{
		ID:                sessionID,
		ScheduledStartUTC: start,
		DurationMinutes:   30,
		CourseName:        "Physics",
		CreatedBy:         "guru@exstem.test",
		Questions: []model.Question{
			{ID: "q1", Text: "Unit of force?", Options: []model.Option{
				{Label: "A", Text: "Newton"}, {Label: "B", Text: "Joule"},
				{Label: "C", Text: "Watt"}, {Label: "D", Text: "Pascal"},
			}},
			{ID: "q2", Text: "g on earth?", Options: []model.Option{
				{Label: "A", Text: "9.8"}, {Label: "B", Text: "3.7"},
			}},
			{ID: "q3", Text: "Explain inertia."},
		},
	}
}
