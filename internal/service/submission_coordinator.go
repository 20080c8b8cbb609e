package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-groupexam/internal/model"
	"github.com/stemsi/exstem-groupexam/internal/repository"
)

// DefaultSubmitTimeout bounds a single submission call when none is configured.
const DefaultSubmitTimeout = 30 * time.Second

// SubmissionCoordinator turns an answer map into exactly one accepted
// submission per attempt. The guard is claimed synchronously before any
// network call, so concurrent triggers (countdown expiry and a manual submit)
// cannot both reach the submission service.
type SubmissionCoordinator struct {
	service SubmissionService
	states  repository.StateRepository
	timeout time.Duration
	log     zerolog.Logger

	// guard is held while a submission is in flight and stays held once one
	// was accepted or rejected. After a transient failure the owner of the
	// attempt releases it with Release.
	guard atomic.Bool

	mu     sync.Mutex
	flight *flight // last submission started through TryBegin
}

// flight is one submission call. done is closed once score and err are set.
type flight struct {
	done  chan struct{}
	score *model.Score
	err   error
}

// NewSubmissionCoordinator creates a coordinator for one attempt.
func NewSubmissionCoordinator(svc SubmissionService, states repository.StateRepository, timeout time.Duration, log zerolog.Logger) *SubmissionCoordinator {
	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}
	return &SubmissionCoordinator{
		service: svc,
		states:  states,
		timeout: timeout,
		log:     log.With().Str("component", "submission_coordinator").Logger(),
	}
}

// Submit claims the guard and submits answers. A second call while the first
// is in flight, or after it succeeded, returns ErrSubmissionInFlight without
// touching the network. A transient failure releases the guard.
func (c *SubmissionCoordinator) Submit(ctx context.Context, sessionID uuid.UUID, answers model.AnswerMap, totalQuestions int) (*model.Score, error) {
	if !c.TryBegin() {
		return nil, ErrSubmissionInFlight
	}
	score, err := c.send(ctx, sessionID, answers, totalQuestions)
	if errors.Is(err, ErrTransient) {
		c.Release()
	}
	return score, err
}

// TryBegin claims the guard. It reports false when a submission is already in
// flight or completed.
func (c *SubmissionCoordinator) TryBegin() bool {
	if !c.guard.CompareAndSwap(false, true) {
		return false
	}
	c.mu.Lock()
	c.flight = &flight{done: make(chan struct{})}
	c.mu.Unlock()
	return true
}

// Release frees the guard after a transient failure so the attempt can be
// submitted again.
func (c *SubmissionCoordinator) Release() {
	c.guard.Store(false)
}

// InFlight reports whether a submission call has started and not returned.
func (c *SubmissionCoordinator) InFlight() bool {
	return c.pending() != nil
}

func (c *SubmissionCoordinator) pending() *flight {
	c.mu.Lock()
	f := c.flight
	c.mu.Unlock()
	if f == nil {
		return nil
	}
	select {
	case <-f.done:
		return nil
	default:
		return f
	}
}

// wait blocks until f returns and reports its outcome.
func (f *flight) wait() (*model.Score, error) {
	<-f.done
	return f.score, f.err
}

// Busy reports whether the guard is held.
func (c *SubmissionCoordinator) Busy() bool {
	return c.guard.Load()
}

// send performs the submission for a caller that already holds the guard.
// The call is detached from ctx cancellation: an unmounted controller must
// not abort a submission whose answers are already persisted. The outcome is
// also recorded on the flight so a remounted controller can adopt it.
func (c *SubmissionCoordinator) send(ctx context.Context, sessionID uuid.UUID, answers model.AnswerMap, totalQuestions int) (*model.Score, error) {
	c.mu.Lock()
	f := c.flight
	c.mu.Unlock()

	score, err := c.call(ctx, sessionID, answers, totalQuestions)
	if f != nil {
		f.score, f.err = score, err
		close(f.done)
	}
	return score, err
}

func (c *SubmissionCoordinator) call(ctx context.Context, sessionID uuid.UUID, answers model.AnswerMap, totalQuestions int) (*model.Score, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	log := c.log.With().Str("session_id", sessionID.String()).Int("answered", len(answers)).Logger()

	correct, err := c.service.Submit(callCtx, sessionID, answers)
	switch {
	case err == nil:
		if correct < 0 || correct > totalQuestions {
			log.Warn().Int("correct", correct).Int("total", totalQuestions).Msg("Upstream returned out-of-range correct count, clamping")
			correct = min(max(correct, 0), totalQuestions)
		}
		score := model.NewScore(correct, totalQuestions)
		c.clearState(callCtx, sessionID, log)
		log.Info().Int("correct", score.CorrectCount).Float64("percentage", score.Percentage).Msg("Submission accepted")
		return &score, nil

	case errors.Is(err, ErrRejected):
		// Resubmitting cannot succeed, so the preserved answers are dropped.
		c.clearState(callCtx, sessionID, log)
		log.Warn().Err(err).Msg("Submission rejected")
		return nil, err

	default:
		log.Warn().Err(err).Msg("Submission failed, state kept for retry")
		if !errors.Is(err, ErrTransient) {
			err = fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return nil, err
	}
}

func (c *SubmissionCoordinator) clearState(ctx context.Context, sessionID uuid.UUID, log zerolog.Logger) {
	if err := c.states.Clear(ctx, sessionID); err != nil {
		// A leftover entry resubmits on the next load and is rejected upstream.
		log.Error().Err(err).Msg("Failed to clear persisted state after submission")
	}
}
