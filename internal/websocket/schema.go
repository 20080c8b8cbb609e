package websocket

import "github.com/stemsi/exstem-groupexam/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStart  Action = "start"
	ActionAnswer Action = "answer"
	ActionNext   Action = "next"
	ActionPrev   Action = "prev"
	ActionSubmit Action = "submit"
	ActionRetry  Action = "retry"
	ActionRetake Action = "retake"
	ActionPing   Action = "ping"
)

// RequestPayload carries every client action; fields unused by an action
// are left empty.
type RequestPayload struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id,omitempty"`
	Value      string `json:"value,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSnapshot Event = "snapshot"
	EventError    Event = "error"
	EventPong     Event = "pong"
)

// SnapshotResponse pushes the group test state. Trigger names what caused it
// (tick, phase, answer, ...).
type SnapshotResponse struct {
	Event    Event          `json:"event"`
	Trigger  string         `json:"trigger"`
	Snapshot model.Snapshot `json:"snapshot"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

// NewSnapshotResponse wraps a snapshot for the wire.
func NewSnapshotResponse(s model.Snapshot) SnapshotResponse {
	return SnapshotResponse{Event: EventSnapshot, Trigger: s.Event, Snapshot: s}
}
