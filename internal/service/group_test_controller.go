package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-groupexam/internal/countdown"
	"github.com/stemsi/exstem-groupexam/internal/model"
	"github.com/stemsi/exstem-groupexam/internal/repository"
)

// Deps are the collaborators shared by every controller of a manager.
type Deps struct {
	Clock     clockwork.Clock
	Fetcher   SessionFetcher
	Submitter SubmissionService
	States    repository.StateRepository

	// SubmitTimeout bounds one submission call; DefaultSubmitTimeout when zero.
	SubmitTimeout time.Duration
	// CredentialsExpiry is when the upstream token expires; zero if unknown.
	CredentialsExpiry time.Time
	// Coordinators shares submission guards across remounts of a session.
	// Without it every controller owns its guards.
	Coordinators *CoordinatorRegistry

	Log zerolog.Logger
}

// SnapshotListener receives every snapshot a controller publishes. It is
// called with the controller locked: it must not block or call back into the
// controller.
type SnapshotListener func(model.Snapshot)

// GroupTestController is the phase state machine of one group test. It owns
// the countdown, the answer ledger and the submission coordinator of the
// current attempt, and exposes the participant's controls.
//
// All state is guarded by mu. The lock is never held across a call to the
// fetcher or the submission service; state store writes are local and happen
// under the lock so answers are mirrored in order.
type GroupTestController struct {
	deps      Deps
	log       zerolog.Logger
	countdown *countdown.Countdown

	// background carries non-critical work (metadata refresh) and is
	// cancelled on Close.
	background context.Context
	cancel     context.CancelFunc

	mu          sync.Mutex
	sessionID   uuid.UUID
	meta        *model.GroupTest
	phase       model.Phase
	target      time.Time
	ledger      *AnswerLedger
	coordinator *SubmissionCoordinator
	current     int
	score       *model.Score
	lastErr     *model.SessionError
	epoch       uint64
	lastTick    time.Time
	closed      bool
	listeners   map[int]SnapshotListener
	nextID      int
}

// NewGroupTestController creates a controller for sessionID. Call Load to
// derive the initial phase.
func NewGroupTestController(sessionID uuid.UUID, deps Deps) *GroupTestController {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &GroupTestController{
		deps:       deps,
		countdown:  countdown.New(deps.Clock),
		background: ctx,
		cancel:     cancel,
		phase:      model.PhaseLoading,
		listeners:  make(map[int]SnapshotListener),
	}
	c.resetSessionLocked(sessionID)
	return c
}

// SessionID returns the id of the current attempt.
func (c *GroupTestController) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Load fetches the metadata, reads any persisted state and derives the
// initial phase. Fetch failures are not returned as errors: they move the
// controller to LOAD_FAILED and are reported in the snapshot.
func (c *GroupTestController) Load(ctx context.Context) (model.Snapshot, error) {
	return c.load(ctx, model.EventLoaded)
}

type loadFailure struct {
	kind model.ErrorKind
	err  error
}

func (c *GroupTestController) load(ctx context.Context, event string) (model.Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Snapshot{}, ErrControllerClosed
	}
	c.countdown.Stop()
	c.epoch++
	epoch := c.epoch
	requested := c.sessionID
	c.mu.Unlock()

	gt, persisted, failure := c.fetch(ctx, requested)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Snapshot{}, ErrControllerClosed
	}
	if c.epoch != epoch {
		// A newer load or a control superseded this one.
		snap := c.snapshotLocked(model.EventState)
		c.mu.Unlock()
		return snap, nil
	}
	if failure != nil {
		snap := c.failLoadLocked(failure)
		c.mu.Unlock()
		return snap, nil
	}

	if gt.ID != uuid.Nil && gt.ID != c.sessionID {
		c.log.Info().Str("new_session_id", gt.ID.String()).Msg("Upstream assigned a new session id")
		c.resetSessionLocked(gt.ID)
	}
	inFlight := c.coordinator.pending()
	if inFlight == nil {
		// Drops a guard left held by a submission that settled on an
		// earlier mount.
		c.coordinator = c.acquireCoordinatorLocked(c.sessionID)
		inFlight = c.coordinator.pending()
	}
	c.meta = gt
	c.lastErr = nil
	c.current = min(c.current, max(len(gt.Questions)-1, 0))

	d := DerivePhase(c.deps.Clock.Now(), gt, persisted)
	c.applyLocked(d)
	snap := c.publishLocked(event)

	if inFlight != nil {
		// An earlier mount of this session is still submitting. Its result
		// settles this attempt; nothing is sent again.
		c.countdown.Stop()
		c.epoch++
		job := submitJob{
			coordinator: c.coordinator,
			sessionID:   c.sessionID,
			total:       len(gt.Questions),
			flight:      inFlight,
		}
		c.log.Info().Msg("Submission still in flight from an earlier mount, waiting for its result")
		c.mu.Unlock()
		return c.finishSubmit(ctx, job)
	}

	if !d.SubmitImmediately {
		c.mu.Unlock()
		return snap, nil
	}

	c.log.Info().Time("end_timestamp", d.Target).Msg("Persisted attempt already expired, submitting preserved answers")
	job, ok := c.beginSubmitLocked()
	c.mu.Unlock()
	if !ok {
		return snap, nil
	}
	return c.finishSubmit(ctx, job)
}

// fetch resolves metadata and persisted state without holding the lock.
func (c *GroupTestController) fetch(ctx context.Context, requested uuid.UUID) (*model.GroupTest, *model.PersistedState, *loadFailure) {
	gt, err := c.deps.Fetcher.Fetch(ctx, requested)
	if err != nil {
		return nil, nil, &loadFailure{kind: model.ErrorMetadataFetch, err: err}
	}

	id := gt.ID
	if id == uuid.Nil {
		id = requested
	}
	persisted, err := c.deps.States.Load(ctx, id)
	switch {
	case errors.Is(err, repository.ErrStateNotFound):
		persisted = nil
	case err != nil:
		// Deriving without the persisted state could restart a running attempt.
		return nil, nil, &loadFailure{kind: model.ErrorStateStore, err: err}
	}
	return gt, persisted, nil
}

func (c *GroupTestController) failLoadLocked(f *loadFailure) model.Snapshot {
	c.countdown.Stop()
	c.phase = model.PhaseLoadFailed
	c.target = time.Time{}

	msg := "could not load group test, retry to try again"
	switch {
	case errors.Is(f.err, ErrSessionNotFound):
		msg = "group test not found"
	case f.kind == model.ErrorStateStore:
		msg = "saved progress is unavailable, retry to try again"
	}
	c.lastErr = &model.SessionError{Kind: f.kind, Message: msg, Retriable: true}

	c.log.Warn().Err(f.err).Str("kind", string(f.kind)).Msg("Group test load failed")
	return c.publishLocked(model.EventError)
}

// applyLocked enters the derived phase and starts its countdown.
func (c *GroupTestController) applyLocked(d Derivation) {
	prev := c.phase
	c.phase = d.Phase
	c.target = time.Time{}

	switch d.Phase {
	case model.PhaseScheduled:
		c.startCountdownLocked(d.Target, c.onScheduledElapsed)
	case model.PhaseReadyToStart:
		c.startCountdownLocked(d.Target, c.onWindowClosed)
	case model.PhaseInProgress:
		c.ledger.Restore(d.Target, d.Answers)
		if d.SubmitImmediately {
			c.countdown.Stop()
			c.target = d.Target
		} else {
			c.startCountdownLocked(d.Target, c.onTimeUp)
		}
	default:
		c.countdown.Stop()
	}

	c.log.Info().
		Str("from", string(prev)).
		Str("to", string(d.Phase)).
		Bool("resumed", d.Resumed).
		Dur("remaining", d.Remaining).
		Msg("Phase derived")
}

// startCountdownLocked runs the countdown toward target. Callbacks of an
// earlier run see a stale epoch and are dropped.
func (c *GroupTestController) startCountdownLocked(target time.Time, onExpire func(epoch uint64)) {
	c.epoch++
	epoch := c.epoch
	c.target = target
	c.lastTick = time.Time{}
	c.countdown.Start(target,
		func(remaining int) { c.onTick(epoch, remaining) },
		func() { onExpire(epoch) },
	)
}

func (c *GroupTestController) onTick(epoch uint64, remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.epoch != epoch {
		return
	}

	now := c.deps.Clock.Now()
	if !c.lastTick.IsZero() && now.Before(c.lastTick) {
		c.log.Warn().
			Time("last_tick", c.lastTick).
			Time("now", now).
			Msg("Clock moved backwards, remaining time recomputed from the target")
	}
	c.lastTick = now

	c.log.Trace().Int("remaining", remaining).Str("phase", string(c.phase)).Msg("Tick")
	c.publishLocked(model.EventTick)
}

// onScheduledElapsed refreshes the metadata once the scheduled start is
// reached; questions may only be served from that instant on.
func (c *GroupTestController) onScheduledElapsed(epoch uint64) {
	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.log.Info().Msg("Scheduled start reached, refreshing metadata")
	c.mu.Unlock()

	if _, err := c.load(c.background, model.EventPhase); err != nil && !errors.Is(err, ErrControllerClosed) {
		c.log.Error().Err(err).Msg("Metadata refresh failed")
	}
}

// onWindowClosed ends a test whose window closed before the participant
// started. There is nothing to submit.
func (c *GroupTestController) onWindowClosed(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.epoch != epoch {
		return
	}
	c.phase = model.PhaseEnded
	c.target = time.Time{}
	c.log.Info().Msg("Window closed before start, group test ended")
	c.publishLocked(model.EventPhase)
}

// onTimeUp submits automatically when the attempt's countdown expires.
func (c *GroupTestController) onTimeUp(epoch uint64) {
	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.log.Info().Msg("Time is up, submitting automatically")
	job, ok := c.beginSubmitLocked()
	c.mu.Unlock()
	if !ok {
		// A manual submit won the race.
		return
	}
	if _, err := c.finishSubmit(c.background, job); err != nil && !errors.Is(err, ErrControllerClosed) {
		c.log.Error().Err(err).Msg("Automatic submission failed")
	}
}

// StartSession begins the participant's countdown window. The end time is
// persisted before the countdown starts.
func (c *GroupTestController) StartSession(ctx context.Context) (model.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return model.Snapshot{}, ErrControllerClosed
	}
	if c.phase != model.PhaseReadyToStart {
		return c.snapshotLocked(model.EventState), ErrInvalidPhase
	}

	now := c.deps.Clock.Now()
	if !now.Before(c.meta.WindowEnd()) {
		// The window-closed callback has not run yet.
		c.countdown.Stop()
		c.epoch++
		c.phase = model.PhaseEnded
		c.target = time.Time{}
		return c.publishLocked(model.EventPhase), ErrInvalidPhase
	}

	end := now.Add(c.meta.Duration())
	if err := c.ledger.Begin(ctx, end); err != nil {
		c.log.Error().Err(err).Msg("Failed to persist attempt start")
		return c.snapshotLocked(model.EventState), fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	c.phase = model.PhaseInProgress
	c.current = 0
	c.lastErr = nil
	c.startCountdownLocked(end, c.onTimeUp)

	c.log.Info().Time("end_timestamp", end).Msg("Group test started")
	if exp := c.deps.CredentialsExpiry; !exp.IsZero() && exp.Before(end) {
		c.log.Warn().
			Time("token_expires_at", exp).
			Time("end_timestamp", end).
			Msg("Backend token expires before the attempt ends, submission may be rejected")
	}
	return c.publishLocked(model.EventPhase), nil
}

// Answer records the answer to a question. Option answers must name one of
// the question's labels; free-text answers are trimmed and must not be empty.
// When the state store is unavailable the answer is kept in memory and
// ErrPersistence is returned with the updated snapshot.
func (c *GroupTestController) Answer(ctx context.Context, questionID, value string) (model.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return model.Snapshot{}, ErrControllerClosed
	}
	if c.phase != model.PhaseInProgress {
		return c.snapshotLocked(model.EventState), ErrInvalidPhase
	}
	if c.coordinator.Busy() {
		return c.snapshotLocked(model.EventState), ErrSubmissionInFlight
	}
	if !c.deps.Clock.Now().Before(c.target) {
		return c.snapshotLocked(model.EventState), ErrTimeUp
	}

	q, ok := c.meta.QuestionByID(questionID)
	if !ok {
		return c.snapshotLocked(model.EventState), ErrUnknownQuestion
	}
	if q.IsFreeText() {
		value = strings.TrimSpace(value)
		if value == "" {
			return c.snapshotLocked(model.EventState), ErrInvalidAnswer
		}
	} else if !q.HasOption(value) {
		return c.snapshotLocked(model.EventState), ErrInvalidAnswer
	}

	err := c.ledger.Set(ctx, questionID, value)
	snap := c.publishLocked(model.EventAnswer)
	if err != nil {
		c.log.Error().Err(err).Str("question_id", questionID).Msg("Failed to persist answer, kept in memory")
		return snap, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return snap, nil
}

// NextQuestion moves to the next question, staying on the last one.
func (c *GroupTestController) NextQuestion() (model.Snapshot, error) {
	return c.navigate(1)
}

// PrevQuestion moves to the previous question, staying on the first one.
func (c *GroupTestController) PrevQuestion() (model.Snapshot, error) {
	return c.navigate(-1)
}

func (c *GroupTestController) navigate(delta int) (model.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return model.Snapshot{}, ErrControllerClosed
	}
	if c.phase != model.PhaseInProgress {
		return c.snapshotLocked(model.EventState), ErrInvalidPhase
	}
	last := max(len(c.meta.Questions)-1, 0)
	c.current = min(max(c.current+delta, 0), last)
	return c.publishLocked(model.EventNavigate), nil
}

// SubmitNow submits the current answers. It returns ErrSubmissionInFlight
// when the countdown expiry or an earlier call already claimed the
// submission. Submission failures are reported in the snapshot.
func (c *GroupTestController) SubmitNow(ctx context.Context) (model.Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Snapshot{}, ErrControllerClosed
	}
	if c.phase != model.PhaseInProgress {
		snap := c.snapshotLocked(model.EventState)
		c.mu.Unlock()
		return snap, ErrInvalidPhase
	}
	job, ok := c.beginSubmitLocked()
	if !ok {
		snap := c.snapshotLocked(model.EventState)
		c.mu.Unlock()
		return snap, ErrSubmissionInFlight
	}
	c.log.Info().Msg("Manual submission requested")
	c.mu.Unlock()

	return c.finishSubmit(ctx, job)
}

type submitJob struct {
	coordinator *SubmissionCoordinator
	sessionID   uuid.UUID
	answers     model.AnswerMap
	total       int

	// flight is set when the job adopts a submission started elsewhere.
	flight *flight
}

// beginSubmitLocked claims the submission guard. The countdown is stopped so
// its expiry cannot race a manual submit; the guard makes a race harmless
// anyway.
func (c *GroupTestController) beginSubmitLocked() (submitJob, bool) {
	if !c.coordinator.TryBegin() {
		return submitJob{}, false
	}
	c.countdown.Stop()
	c.epoch++

	job := submitJob{
		coordinator: c.coordinator,
		sessionID:   c.sessionID,
		answers:     c.ledger.Answers(),
		total:       len(c.meta.Questions),
	}
	c.publishLocked(model.EventPhase)
	return job, true
}

// finishSubmit waits for the job's submission and applies the outcome. The
// guard is only released here, under the lock, by the controller that still
// owns the coordinator; a closed or reset controller leaves it to whoever
// mounts the session next.
func (c *GroupTestController) finishSubmit(ctx context.Context, job submitJob) (model.Snapshot, error) {
	var (
		score *model.Score
		err   error
	)
	if job.flight != nil {
		score, err = job.flight.wait()
	} else {
		score, err = job.coordinator.send(ctx, job.sessionID, job.answers, job.total)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return model.Snapshot{}, ErrControllerClosed
	}
	if c.coordinator != job.coordinator {
		return c.snapshotLocked(model.EventState), nil
	}

	switch {
	case err == nil:
		c.phase = model.PhaseEnded
		c.target = time.Time{}
		c.score = score
		c.lastErr = nil
		c.ledger.Reset()
		c.log.Info().Int("correct", score.CorrectCount).Int("total", score.TotalQuestions).Msg("Group test submitted")
		return c.publishLocked(model.EventSubmitted), nil

	case errors.Is(err, ErrRejected):
		c.phase = model.PhaseEnded
		c.target = time.Time{}
		c.ledger.Reset()
		c.lastErr = &model.SessionError{
			Kind:    model.ErrorSubmissionRejected,
			Message: "session closed",
		}
		return c.publishLocked(model.EventError), nil

	default:
		job.coordinator.Release()
		c.lastErr = &model.SessionError{
			Kind:      model.ErrorSubmissionTransient,
			Message:   "submission failed, retry to submit again",
			Retriable: true,
		}
		// A manual submit that failed before time ran out resumes the
		// countdown so expiry still submits automatically.
		if c.deps.Clock.Now().Before(c.target) {
			c.startCountdownLocked(c.target, c.onTimeUp)
		}
		return c.publishLocked(model.EventError), nil
	}
}

// Retry clears a retriable error: it reloads after a load failure and
// resubmits after a transient submission failure.
func (c *GroupTestController) Retry(ctx context.Context) (model.Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Snapshot{}, ErrControllerClosed
	}

	switch {
	case c.phase == model.PhaseLoadFailed:
		c.mu.Unlock()
		c.log.Info().Msg("Retrying load")
		return c.load(ctx, model.EventLoaded)

	case c.phase == model.PhaseInProgress && c.lastErr != nil && c.lastErr.Kind == model.ErrorSubmissionTransient:
		job, ok := c.beginSubmitLocked()
		if !ok {
			snap := c.snapshotLocked(model.EventState)
			c.mu.Unlock()
			return snap, ErrSubmissionInFlight
		}
		c.mu.Unlock()
		c.log.Info().Msg("Retrying submission")
		return c.finishSubmit(ctx, job)

	default:
		snap := c.snapshotLocked(model.EventState)
		c.mu.Unlock()
		return snap, ErrNothingToRetry
	}
}

// Retake discards an ended attempt and derives the phase again from freshly
// fetched metadata, as if there had been no prior attempt.
func (c *GroupTestController) Retake(ctx context.Context) (model.Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Snapshot{}, ErrControllerClosed
	}
	if c.phase != model.PhaseEnded {
		snap := c.snapshotLocked(model.EventState)
		c.mu.Unlock()
		return snap, ErrInvalidPhase
	}
	if err := c.deps.States.Clear(ctx, c.sessionID); err != nil {
		snap := c.snapshotLocked(model.EventState)
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("Failed to clear state for retake")
		return snap, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	c.resetSessionLocked(c.sessionID)
	c.phase = model.PhaseLoading
	c.log.Info().Msg("Retaking group test")
	c.mu.Unlock()

	return c.load(ctx, model.EventLoaded)
}

// Close stops the countdown, tells listeners with a final closed snapshot and
// drops them. A submission in flight is allowed to finish; its result is then
// discarded here but the store is already up to date.
func (c *GroupTestController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.countdown.Stop()
	c.epoch++
	c.cancel()
	c.publishLocked(model.EventClosed)
	clear(c.listeners)
	c.log.Info().Msg("Group test controller closed")
}

// Snapshot returns the current observable state.
func (c *GroupTestController) Snapshot() model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(model.EventState)
}

// Subscribe registers a listener and returns a function that removes it.
func (c *GroupTestController) Subscribe(fn SnapshotListener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// resetSessionLocked starts a fresh attempt for id: new ledger, new
// submission guard, no score or error.
func (c *GroupTestController) resetSessionLocked(id uuid.UUID) {
	c.sessionID = id
	c.log = c.deps.Log.With().
		Str("component", "group_test_controller").
		Str("session_id", id.String()).
		Logger()
	c.ledger = NewAnswerLedger(id, c.deps.States)
	c.coordinator = c.acquireCoordinatorLocked(id)
	c.score = nil
	c.lastErr = nil
	c.current = 0
}

func (c *GroupTestController) acquireCoordinatorLocked(id uuid.UUID) *SubmissionCoordinator {
	newFn := func() *SubmissionCoordinator {
		return NewSubmissionCoordinator(c.deps.Submitter, c.deps.States, c.deps.SubmitTimeout, c.deps.Log)
	}
	if c.deps.Coordinators == nil {
		return newFn()
	}
	return c.deps.Coordinators.Acquire(id, newFn)
}

func (c *GroupTestController) publishLocked(event string) model.Snapshot {
	snap := c.snapshotLocked(event)
	for _, fn := range c.listeners {
		fn(snap)
	}
	return snap
}

func (c *GroupTestController) snapshotLocked(event string) model.Snapshot {
	snap := model.Snapshot{
		SessionID:  c.sessionID,
		Event:      event,
		Phase:      c.phase,
		Answers:    c.ledger.Answers(),
		Submitting: c.phase == model.PhaseInProgress && c.coordinator.Busy(),
	}

	if c.phase.HasCountdown() && !c.target.IsZero() {
		target := c.target
		snap.CountdownTarget = &target
		snap.RemainingSeconds = countdown.Remaining(target, c.deps.Clock.Now())
	}

	if c.meta != nil {
		start := c.meta.ScheduledStartUTC
		snap.ScheduledStart = &start
		snap.CourseName = c.meta.CourseName
		snap.TotalQuestions = len(c.meta.Questions)
		snap.CurrentIndex = c.current
		if c.phase == model.PhaseInProgress && c.current < len(c.meta.Questions) {
			q := c.meta.Questions[c.current]
			snap.CurrentQuestion = &q
		}
	}

	if c.score != nil {
		score := *c.score
		snap.Score = &score
	}
	if c.lastErr != nil {
		e := *c.lastErr
		snap.Error = &e
	}
	return snap
}
