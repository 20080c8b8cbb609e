package model

import (
	"time"

	"github.com/google/uuid"
)

// GroupTest is the scheduled, time-boxed assessment session as served by the
// upstream backend. It is immutable once fetched.
type GroupTest struct {
	ID                uuid.UUID  `json:"id" validate:"required"`
	ScheduledStartUTC time.Time  `json:"scheduled_start_utc" validate:"required"`
	DurationMinutes   int        `json:"duration_minutes" validate:"required,min=1"`
	Questions         []Question `json:"questions" validate:"dive"`
	CreatedBy         string     `json:"created_by"`
	CourseName        string     `json:"course_name"`
}

// Duration returns the countdown window length.
func (g *GroupTest) Duration() time.Duration {
	return time.Duration(g.DurationMinutes) * time.Minute
}

// WindowEnd returns the instant the scheduled window closes.
func (g *GroupTest) WindowEnd() time.Time {
	return g.ScheduledStartUTC.Add(g.Duration())
}

// QuestionByID looks up a question by its id.
func (g *GroupTest) QuestionByID(id string) (*Question, bool) {
	for i := range g.Questions {
		if g.Questions[i].ID == id {
			return &g.Questions[i], true
		}
	}
	return nil, false
}

// Question is a single group test question. A question without options is
// answered with free text.
type Question struct {
	ID      string   `json:"id" validate:"required"`
	Text    string   `json:"text"`
	Options []Option `json:"options,omitempty" validate:"max=4,dive"`
}

// Option is one labeled choice of a multiple choice question.
type Option struct {
	Label string `json:"label" validate:"required,max=10"`
	Text  string `json:"text"`
}

// IsFreeText reports whether the question expects a free-text answer.
func (q *Question) IsFreeText() bool {
	return len(q.Options) == 0
}

// HasOption reports whether label is one of the question's option labels.
func (q *Question) HasOption(label string) bool {
	for _, o := range q.Options {
		if o.Label == label {
			return true
		}
	}
	return false
}
