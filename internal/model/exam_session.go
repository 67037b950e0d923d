package model

import "time"

// Selections maps question id → option id → selected flag.
type Selections map[string]map[string]bool

// ExamSession is one timed attempt at a fixed set of questions, as held by the taker.
type ExamSession struct {
	ExamID       string       `json:"examId"`
	Questions    []Question   `json:"questions"`
	StartedAt    time.Time    `json:"startedAt"`
	DurationSec  int          `json:"durationSec"`
	CurrentIndex int          `json:"currentIdx"`
	Selections   Selections   `json:"selectionsByQid"`
	SavedMarks   map[int]bool `json:"savedByIdx"`

	// Finishing is set once a finish call has been issued. Such a session
	// never accepts edits again.
	Finishing bool `json:"finishing,omitempty"`
}
