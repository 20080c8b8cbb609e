package model

import "math"

// Score is the terminal result of a submitted group test.
type Score struct {
	CorrectCount   int     `json:"correct_count"`
	TotalQuestions int     `json:"total_questions"`
	Percentage     float64 `json:"percentage"`
}

// NewScore builds a Score, rounding the percentage to two decimals.
func NewScore(correct, total int) Score {
	var pct float64
	if total > 0 {
		pct = math.Round(float64(correct)/float64(total)*10000) / 100
	}
	return Score{
		CorrectCount:   correct,
		TotalQuestions: total,
		Percentage:     pct,
	}
}
