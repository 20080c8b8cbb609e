package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-groupexam/internal/model"
	"github.com/stemsi/exstem-groupexam/internal/repository"
)

// AnswerLedger owns the answers of one attempt and mirrors them, together with
// the attempt's end time, into the state repository on every change.
// It is not safe for concurrent use; the controller serializes access.
type AnswerLedger struct {
	sessionID    uuid.UUID
	states       repository.StateRepository
	answers      model.AnswerMap
	endTimestamp time.Time
}

// NewAnswerLedger creates an empty ledger for a session.
func NewAnswerLedger(sessionID uuid.UUID, states repository.StateRepository) *AnswerLedger {
	return &AnswerLedger{
		sessionID: sessionID,
		states:    states,
		answers:   model.AnswerMap{},
	}
}

// Begin records the attempt's end time and writes the initial state. It must
// succeed before the countdown starts so the attempt is always resumable.
func (l *AnswerLedger) Begin(ctx context.Context, endTimestamp time.Time) error {
	l.endTimestamp = endTimestamp
	l.answers = model.AnswerMap{}
	return l.mirror(ctx)
}

// Restore adopts state recovered from the repository without writing it back.
func (l *AnswerLedger) Restore(endTimestamp time.Time, answers model.AnswerMap) {
	l.endTimestamp = endTimestamp
	l.answers = answers.Clone()
}

// Set records an answer, overwriting any previous one for the question. The
// answer is kept in memory even when mirroring fails; the next successful
// write carries it along.
func (l *AnswerLedger) Set(ctx context.Context, questionID, value string) error {
	l.answers[questionID] = value
	return l.mirror(ctx)
}

// Answers returns a copy of the current answers.
func (l *AnswerLedger) Answers() model.AnswerMap {
	return l.answers.Clone()
}

// Len returns the number of answered questions.
func (l *AnswerLedger) Len() int {
	return len(l.answers)
}

// EndTimestamp returns the attempt's end time, zero before Begin or Restore.
func (l *AnswerLedger) EndTimestamp() time.Time {
	return l.endTimestamp
}

// Reset discards the answers in memory. The repository entry is left alone.
func (l *AnswerLedger) Reset() {
	l.answers = model.AnswerMap{}
	l.endTimestamp = time.Time{}
}

func (l *AnswerLedger) mirror(ctx context.Context) error {
	return l.states.Save(ctx, l.sessionID, &model.PersistedState{
		EndTimestamp: l.endTimestamp,
		Answers:      l.answers.Clone(),
	})
}
