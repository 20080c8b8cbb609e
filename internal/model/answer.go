package model

import "time"

// AnswerMap maps a question id to the chosen option label or free text.
type AnswerMap map[string]string

// Clone returns an independent copy. A nil map clones to an empty map.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PersistedState is the minimal record needed to resume a group test after
// the agent restarts. The JSON layout is shared by every store backend.
type PersistedState struct {
	EndTimestamp time.Time `json:"endTimestamp"`
	Answers      AnswerMap `json:"answers"`
}

// AnswerRequest is the payload for answering a single question.
type AnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,max=64"`
	Value      string `json:"value" binding:"required,max=4000"`
}
