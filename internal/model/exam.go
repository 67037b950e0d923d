package model

import (
	"time"

	"github.com/google/uuid"
)

// StartExamRequest asks the remote authority for a new session.
type StartExamRequest struct {
	Count       int `json:"count" binding:"required,min=1,max=500"`
	DurationSec int `json:"durationSec" binding:"required,min=1,max=86400"`
}

// StartExamResponse is the remote authority's answer to a start request.
type StartExamResponse struct {
	ExamID      string     `json:"examId"`
	DurationSec int        `json:"durationSec"`
	Questions   []Question `json:"questions"`
}

// AnswerRequest upserts the answer of one question.
type AnswerRequest struct {
	Selected []string `json:"selected" binding:"max=50,unique,dive,min=1,max=64"`
}

// ListExamsQuery pages through exam history.
type ListExamsQuery struct {
	Limit  int `form:"limit" binding:"min=0"`
	Offset int `form:"offset" binding:"min=0"`
}

// Explanation is a per-option explanation shown during review.
type Explanation struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// ReviewItem is the graded record of one question.
type ReviewItem struct {
	QuestionID   string                 `json:"questionId"`
	QuestionText string                 `json:"questionText"`
	Selected     []string               `json:"selected"`
	Correct      []string               `json:"correct"`
	Explanations map[string]Explanation `json:"explanations,omitempty"`
	WasCorrect   bool                   `json:"wasCorrect"`
}

// FinishResult is returned when a session is finished.
type FinishResult struct {
	ScorePercent float64      `json:"scorePercent"`
	Correct      int          `json:"correct"`
	Wrong        int          `json:"wrong"`
	Passed       *bool        `json:"passed"`
	Items        []ReviewItem `json:"items"`
}

// ExamDetail is the read-only record of a session, used for review.
type ExamDetail struct {
	ExamID       string       `json:"examId"`
	StartedAt    time.Time    `json:"startedAt"`
	FinishedAt   *time.Time   `json:"finishedAt,omitempty"`
	DurationSec  int          `json:"durationSec"`
	ScorePercent *float64     `json:"scorePercent,omitempty"`
	Passed       *bool        `json:"passed,omitempty"`
	Correct      int          `json:"correct"`
	Wrong        int          `json:"wrong"`
	Items        []ReviewItem `json:"items"`
}

// ExamSummary is one row of the exam history.
type ExamSummary struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	DurationSec   int        `json:"durationSec"`
	ScorePercent  *float64   `json:"scorePercent,omitempty"`
	QuestionCount int        `json:"questionCount"`
	Passed        *bool      `json:"passed,omitempty"`
}

// ExamList is a page of exam history.
type ExamList struct {
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
	Items  []ExamSummary `json:"items"`
}

// ExamStatus enumerates server-side exam states.
type ExamStatus string

const (
	ExamStatusInProgress ExamStatus = "IN_PROGRESS"
	ExamStatusFinished   ExamStatus = "FINISHED"
)

// Exam is the server-side record of a session.
type Exam struct {
	ID           uuid.UUID  `json:"id"`
	UserID       string     `json:"user_id"`
	QuestionIDs  []string   `json:"question_ids"`
	DurationSec  int        `json:"duration_sec"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       ExamStatus `json:"status"`
	ScorePercent *float64   `json:"score_percent,omitempty"`
	Correct      int        `json:"correct"`
	Wrong        int        `json:"wrong"`
	Passed       *bool      `json:"passed,omitempty"`
}
