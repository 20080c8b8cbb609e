package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-groupexam/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockEventSink struct {
	mock.Mock
}

func (m *MockEventSink) InsertBatch(ctx context.Context, events []model.GroupTestEvent) (int64, error) {
	args := m.Called(ctx, events)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEventSink) Insert(ctx context.Context, e model.GroupTestEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func testEvent(name string) model.GroupTestEvent {
	return model.GroupTestEvent{
		SessionID:  uuid.MustParse("4d3c7a62-8b1e-4f0a-9c55-2e8f6d1b7a90"),
		Event:      name,
		Phase:      model.PhaseInProgress,
		OccurredAt: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

func TestEventWorker_FlushUsesBatchInsert(t *testing.T) {
	sink := new(MockEventSink)
	batch := []model.GroupTestEvent{testEvent(model.EventPhase), testEvent(model.EventAnswer)}
	sink.On("InsertBatch", mock.Anything, batch).Return(int64(2), nil).Once()

	w := NewEventWorker(sink, nil, zerolog.Nop())
	w.flushSafe(context.Background(), batch)

	sink.AssertExpectations(t)
	sink.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestEventWorker_FallsBackToSingleInserts(t *testing.T) {
	sink := new(MockEventSink)
	batch := []model.GroupTestEvent{testEvent(model.EventPhase), testEvent(model.EventSubmitted)}
	sink.On("InsertBatch", mock.Anything, batch).Return(int64(0), errors.New("copy failed")).Once()
	sink.On("Insert", mock.Anything, batch[0]).Return(nil).Once()
	sink.On("Insert", mock.Anything, batch[1]).Return(nil).Once()

	w := NewEventWorker(sink, nil, zerolog.Nop())
	w.flushSafe(context.Background(), batch)

	sink.AssertExpectations(t)
}

func TestEventWorker_Decode(t *testing.T) {
	w := NewEventWorker(new(MockEventSink), nil, zerolog.Nop())

	ev, ok := w.decode(`{"session_id":"4d3c7a62-8b1e-4f0a-9c55-2e8f6d1b7a90","event":"submitted","phase":"ENDED","answered_count":3,"occurred_at":"2026-03-02T08:30:00Z"}`)
	assert.True(t, ok)
	assert.Equal(t, model.EventSubmitted, ev.Event)
	assert.Equal(t, model.PhaseEnded, ev.Phase)
	assert.Equal(t, 3, ev.AnsweredCount)

	_, ok = w.decode(`{not json`)
	assert.False(t, ok)

	_, ok = w.decode(`{"event":"phase"}`)
	assert.False(t, ok)
}
