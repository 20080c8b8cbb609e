package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupTest_WindowAndLookup(t *testing.T) {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	gt := GroupTest{
		ScheduledStartUTC: start,
		DurationMinutes:   30,
		Questions: []Question{
			{ID: "q1", Options: []Option{{Label: "A"}, {Label: "B"}}},
			{ID: "q2"},
		},
	}

	assert.Equal(t, 30*time.Minute, gt.Duration())
	assert.Equal(t, start.Add(30*time.Minute), gt.WindowEnd())

	q, ok := gt.QuestionByID("q1")
	require.True(t, ok)
	assert.True(t, q.HasOption("B"))
	assert.False(t, q.HasOption("C"))
	assert.False(t, q.IsFreeText())

	q, ok = gt.QuestionByID("q2")
	require.True(t, ok)
	assert.True(t, q.IsFreeText())

	_, ok = gt.QuestionByID("q9")
	assert.False(t, ok)
}

func TestSnapshot_CarriesCurrentQuestion(t *testing.T) {
	q := Question{ID: "q1", Text: "Unit of force?"}
	s := Snapshot{Phase: PhaseInProgress, CurrentQuestion: &q}
	assert.Equal(t, "q1", s.CurrentQuestion.ID)
	assert.True(t, s.Phase.HasCountdown())
}
