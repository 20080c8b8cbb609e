package model

import (
	"time"

	"github.com/google/uuid"
)

// ErrorKind classifies failures surfaced to the presentation layer.
type ErrorKind string

const (
	ErrorMetadataFetch       ErrorKind = "METADATA_FETCH_FAILURE"
	ErrorSubmissionTransient ErrorKind = "SUBMISSION_TRANSIENT_FAILURE"
	ErrorSubmissionRejected  ErrorKind = "SUBMISSION_REJECTED"
	ErrorStateStore          ErrorKind = "STATE_STORE_FAILURE"
)

// SessionError is the last failure of a group test, kept until it is cleared
// by a successful retry.
type SessionError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retriable bool      `json:"retriable"`
}

// Event names carried by snapshots pushed to listeners.
const (
	EventLoaded    = "loaded"
	EventState     = "state"
	EventTick      = "tick"
	EventPhase     = "phase"
	EventAnswer    = "answer"
	EventNavigate  = "navigate"
	EventSubmitted = "submitted"
	EventError     = "error"
	EventClosed    = "closed"
)

// Snapshot is the observable state of a group test rendered by the UI.
type Snapshot struct {
	SessionID        uuid.UUID     `json:"session_id"`
	Event            string        `json:"event"`
	Phase            Phase         `json:"phase"`
	RemainingSeconds int           `json:"remaining_seconds"`
	ScheduledStart   *time.Time    `json:"scheduled_start,omitempty"`
	CountdownTarget  *time.Time    `json:"countdown_target,omitempty"`
	CourseName       string        `json:"course_name,omitempty"`
	TotalQuestions   int           `json:"total_questions"`
	CurrentIndex     int           `json:"current_index"`
	CurrentQuestion  *Question     `json:"current_question,omitempty"`
	Answers          AnswerMap     `json:"answers"`
	Submitting       bool          `json:"submitting"`
	Score            *Score        `json:"score,omitempty"`
	Error            *SessionError `json:"error,omitempty"`
}
