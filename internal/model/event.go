package model

import (
	"time"

	"github.com/google/uuid"
)

// GroupTestEvent is a monitor/audit record of a notable group test change.
type GroupTestEvent struct {
	SessionID        uuid.UUID `json:"session_id"`
	Event            string    `json:"event"`
	Phase            Phase     `json:"phase"`
	RemainingSeconds int       `json:"remaining_seconds"`
	AnsweredCount    int       `json:"answered_count"`
	Detail           string    `json:"detail,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// NewGroupTestEvent derives an event from a snapshot.
func NewGroupTestEvent(s Snapshot, at time.Time) GroupTestEvent {
	ev := GroupTestEvent{
		SessionID:        s.SessionID,
		Event:            s.Event,
		Phase:            s.Phase,
		RemainingSeconds: s.RemainingSeconds,
		AnsweredCount:    len(s.Answers),
		OccurredAt:       at.UTC(),
	}
	if s.Error != nil {
		ev.Detail = string(s.Error.Kind)
	}
	return ev
}
