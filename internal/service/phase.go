package service

import (
	"time"

	"github.com/stemsi/exstem-groupexam/internal/model"
)

// Derivation is the result of DerivePhase.
type Derivation struct {
	Phase model.Phase
	// Remaining is the time left on the phase countdown; zero for ENDED.
	Remaining time.Duration
	// Target is the instant the phase countdown runs toward.
	Target time.Time
	// Answers restored from persisted state; empty when nothing was resumed.
	Answers model.AnswerMap
	// Resumed is set when persisted state decided the phase.
	Resumed bool
	// SubmitImmediately is set when persisted state outlived its end time:
	// the preserved answers must be submitted without re-entering the countdown.
	SubmitImmediately bool
}

// DerivePhase computes the phase of a group test from the current instant,
// its metadata and the persisted state, if any. It is a pure function: the
// same inputs always yield the same result, so the phase can be re-derived
// from scratch whenever the agent restarts.
//
// Persisted state with an end time in the future always wins, because it
// records when the participant actually started. Otherwise the scheduled
// window decides: before the start the test is scheduled, inside the window
// it is ready to start (the countdown window only begins with the
// participant's start action), after the window it has ended.
func DerivePhase(now time.Time, gt *model.GroupTest, persisted *model.PersistedState) Derivation {
	if persisted != nil {
		answers := persisted.Answers.Clone()
		if persisted.EndTimestamp.After(now) {
			return Derivation{
				Phase:     model.PhaseInProgress,
				Remaining: persisted.EndTimestamp.Sub(now),
				Target:    persisted.EndTimestamp,
				Answers:   answers,
				Resumed:   true,
			}
		}
		return Derivation{
			Phase:             model.PhaseInProgress,
			Target:            persisted.EndTimestamp,
			Answers:           answers,
			Resumed:           true,
			SubmitImmediately: true,
		}
	}

	start := gt.ScheduledStartUTC
	end := gt.WindowEnd()

	switch {
	case now.Before(start):
		return Derivation{
			Phase:     model.PhaseScheduled,
			Remaining: start.Sub(now),
			Target:    start,
			Answers:   model.AnswerMap{},
		}
	case now.Before(end):
		return Derivation{
			Phase:     model.PhaseReadyToStart,
			Remaining: end.Sub(now),
			Target:    end,
			Answers:   model.AnswerMap{},
		}
	default:
		return Derivation{
			Phase:   model.PhaseEnded,
			Answers: model.AnswerMap{},
		}
	}
}
