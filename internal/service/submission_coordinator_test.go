package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-groupexam/internal/model"
	"github.com/stemsi/exstem-groupexam/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func seedState(t *testing.T, states repository.StateRepository) {
	t.Helper()
	require.NoError(t, states.Save(context.Background(), sessionID, &model.PersistedState{
		EndTimestamp: t0,
		Answers:      model.AnswerMap{"q1": "A"},
	}))
}

func TestSubmissionCoordinator_SuccessClearsStateAndHoldsGuard(t *testing.T) {
	states := repository.NewMemoryStateRepository()
	seedState(t, states)
	svc := new(MockSubmissionService)
	svc.On("Submit", mock.Anything, sessionID, model.AnswerMap{"q1": "A"}).Return(2, nil).Once()

	coord := NewSubmissionCoordinator(svc, states, time.Second, zerolog.Nop())
	score, err := coord.Submit(context.Background(), sessionID, model.AnswerMap{"q1": "A"}, 4)
	require.NoError(t, err)
	assert.Equal(t, model.Score{CorrectCount: 2, TotalQuestions: 4, Percentage: 50}, *score)

	_, err = states.Load(context.Background(), sessionID)
	assert.ErrorIs(t, err, repository.ErrStateNotFound)

	_, err = coord.Submit(context.Background(), sessionID, model.AnswerMap{"q1": "A"}, 4)
	assert.ErrorIs(t, err, ErrSubmissionInFlight)
	svc.AssertNumberOfCalls(t, "Submit", 1)
}

func TestSubmissionCoordinator_TransientFailureReleasesGuard(t *testing.T) {
	states := repository.NewMemoryStateRepository()
	seedState(t, states)
	svc := new(MockSubmissionService)
	svc.On("Submit", mock.Anything, sessionID, mock.Anything).Return(0, fmt.Errorf("dial tcp: connection refused")).Once()
	svc.On("Submit", mock.Anything, sessionID, mock.Anything).Return(1, nil).Once()

	coord := NewSubmissionCoordinator(svc, states, time.Second, zerolog.Nop())

	_, err := coord.Submit(context.Background(), sessionID, model.AnswerMap{"q1": "A"}, 2)
	assert.ErrorIs(t, err, ErrTransient)
	assert.False(t, coord.Busy())

	persisted, err := states.Load(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, model.AnswerMap{"q1": "A"}, persisted.Answers)

	score, err := coord.Submit(context.Background(), sessionID, model.AnswerMap{"q1": "A"}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, score.CorrectCount)
}

func TestSubmissionCoordinator_SendLeavesReleaseToOwner(t *testing.T) {
	svc := new(MockSubmissionService)
	svc.On("Submit", mock.Anything, sessionID, mock.Anything).Return(0, ErrTransient).Once()

	coord := NewSubmissionCoordinator(svc, repository.NewMemoryStateRepository(), time.Second, zerolog.Nop())
	require.True(t, coord.TryBegin())
	assert.True(t, coord.InFlight())

	_, err := coord.send(context.Background(), sessionID, model.AnswerMap{}, 1)
	assert.ErrorIs(t, err, ErrTransient)
	assert.False(t, coord.InFlight())
	assert.True(t, coord.Busy())
	assert.False(t, coord.TryBegin())

	coord.Release()
	assert.True(t, coord.TryBegin())
}

func TestCoordinatorRegistry_SharesOnlyInFlightCoordinators(t *testing.T) {
	svc := new(MockSubmissionService)
	release := make(chan struct{})
	svc.On("Submit", mock.Anything, sessionID, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(1, nil).Once()

	newFn := func() *SubmissionCoordinator {
		return NewSubmissionCoordinator(svc, repository.NewMemoryStateRepository(), time.Second, zerolog.Nop())
	}
	reg := NewCoordinatorRegistry()

	first := reg.Acquire(sessionID, newFn)
	assert.NotSame(t, first, reg.Acquire(sessionID, newFn), "idle coordinators are replaced")

	busy := reg.Acquire(sessionID, newFn)
	require.True(t, busy.TryBegin())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = busy.send(context.Background(), sessionID, model.AnswerMap{}, 1)
	}()

	assert.Same(t, busy, reg.Acquire(sessionID, newFn))

	close(release)
	<-done
	assert.NotSame(t, busy, reg.Acquire(sessionID, newFn))
	assert.Equal(t, 1, reg.Len())
}

func TestSubmissionCoordinator_RejectedClearsStateAndHoldsGuard(t *testing.T) {
	states := repository.NewMemoryStateRepository()
	seedState(t, states)
	svc := new(MockSubmissionService)
	svc.On("Submit", mock.Anything, sessionID, mock.Anything).Return(0, ErrRejected).Once()

	coord := NewSubmissionCoordinator(svc, states, time.Second, zerolog.Nop())
	_, err := coord.Submit(context.Background(), sessionID, model.AnswerMap{"q1": "A"}, 2)
	assert.ErrorIs(t, err, ErrRejected)
	assert.True(t, coord.Busy())

	_, err = states.Load(context.Background(), sessionID)
	assert.ErrorIs(t, err, repository.ErrStateNotFound)
}

func TestSubmissionCoordinator_ConcurrentSubmitsReachServiceOnce(t *testing.T) {
	states := repository.NewMemoryStateRepository()
	svc := new(MockSubmissionService)
	svc.On("Submit", mock.Anything, sessionID, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(10 * time.Millisecond) }).
		Return(1, nil)

	coord := NewSubmissionCoordinator(svc, states, time.Second, zerolog.Nop())

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = coord.Submit(context.Background(), sessionID, model.AnswerMap{}, 1)
		}()
	}
	wg.Wait()
	svc.AssertNumberOfCalls(t, "Submit", 1)
}

func TestSubmissionCoordinator_CallerCancellationDoesNotAbortSubmission(t *testing.T) {
	states := repository.NewMemoryStateRepository()
	svc := new(MockSubmissionService)
	svc.On("Submit", mock.Anything, sessionID, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			assert.NoError(t, ctx.Err())
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
		}).
		Return(1, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coord := NewSubmissionCoordinator(svc, states, time.Second, zerolog.Nop())
	_, err := coord.Submit(ctx, sessionID, model.AnswerMap{}, 1)
	require.NoError(t, err)
}

func TestSubmissionCoordinator_ClampsOutOfRangeCount(t *testing.T) {
	svc := new(MockSubmissionService)
	svc.On("Submit", mock.Anything, sessionID, mock.Anything).Return(9, nil).Once()

	coord := NewSubmissionCoordinator(svc, repository.NewMemoryStateRepository(), 0, zerolog.Nop())
	score, err := coord.Submit(context.Background(), sessionID, model.AnswerMap{}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, score.CorrectCount)
	assert.Equal(t, 100.0, score.Percentage)
}

func TestAnswerLedger_MirrorsEveryChange(t *testing.T) {
	ctx := context.Background()
	states := newFlakyStates()
	ledger := NewAnswerLedger(sessionID, states)

	end := t0.Add(30 * time.Minute)
	require.NoError(t, ledger.Begin(ctx, end))

	persisted, err := states.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, end.Equal(persisted.EndTimestamp))
	assert.Empty(t, persisted.Answers)

	require.NoError(t, ledger.Set(ctx, "q1", "A"))
	require.NoError(t, ledger.Set(ctx, "q1", "B"))
	require.NoError(t, ledger.Set(ctx, "q2", "A"))

	persisted, err = states.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, model.AnswerMap{"q1": "B", "q2": "A"}, persisted.Answers)
	assert.Equal(t, 2, ledger.Len())
}

func TestAnswerLedger_KeepsAnswerWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	states := newFlakyStates()
	ledger := NewAnswerLedger(sessionID, states)
	require.NoError(t, ledger.Begin(ctx, t0.Add(time.Minute)))

	states.failSave.Store(true)
	assert.ErrorIs(t, ledger.Set(ctx, "q1", "C"), errStoreDown)
	assert.Equal(t, model.AnswerMap{"q1": "C"}, ledger.Answers())

	states.failSave.Store(false)
	require.NoError(t, ledger.Set(ctx, "q2", "A"))
	persisted, err := states.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, model.AnswerMap{"q1": "C", "q2": "A"}, persisted.Answers)
}
