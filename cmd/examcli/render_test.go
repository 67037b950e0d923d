package main

import (
	"bytes"
	"testing"

	"github.com/stemsi/exstem-session/internal/engine"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
)

func inProgressView() engine.View {
	return engine.View{
		Phase:        engine.PhaseInProgress,
		ExamID:       "exam-1",
		Total:        12,
		CurrentIndex: 3,
		Question: &model.Question{
			ID:          "q4",
			Text:        "Pick the primes",
			MultiSelect: true,
			Options:     []model.Option{{ID: "A", Text: "2"}, {ID: "B", Text: "4"}, {ID: "C", Text: "5"}},
		},
		Selected:     []string{"A", "C"},
		Saved:        true,
		SavedMarks:   map[int]bool{2: true, 3: true},
		Answered:     []bool{false, true, true, true, false, false, false, false, false, false, false, false},
		AnswerCount:  3,
		Window:       []int{1, 2, 3, 4, 5},
		RemainingSec: 1799,
		Clock:        "00:29:59",
		ProgressPct:  33,
		Persistent:   true,
	}
}

func TestRenderInProgress(t *testing.T) {
	var out bytes.Buffer
	render(&out, inProgressView())

	s := out.String()
	assert.Contains(t, s, "Exam exam-1   00:29:59   answered 3/12   33%")
	assert.Contains(t, s, "2 3* [4*] 5 6")
	assert.Contains(t, s, "Q4. Pick the primes")
	assert.Contains(t, s, "(select all that apply)")
	assert.Contains(t, s, "[x] A) 2")
	assert.Contains(t, s, "[ ] B) 4")
	assert.Contains(t, s, "[x] C) 5")
	assert.Contains(t, s, "saved")
	assert.NotContains(t, s, "not being saved")
}

func TestRenderStatusAndLostPersistence(t *testing.T) {
	v := inProgressView()
	v.Persistent = false
	v.Status = engine.Status{Kind: engine.StatusSubmitFailed, Message: "Failed to save answer", QuestionID: "q4"}

	var out bytes.Buffer
	render(&out, v)
	assert.Contains(t, out.String(), "progress is not being saved")
	assert.Contains(t, out.String(), "! Failed to save answer (question q4)")
}

func TestRenderFinished(t *testing.T) {
	passed := true
	v := engine.View{
		Phase:  engine.PhaseFinished,
		ExamID: "exam-1",
		Result: &model.FinishResult{ScorePercent: 75, Correct: 3, Wrong: 1, Passed: &passed},
	}

	var out bytes.Buffer
	render(&out, v)
	assert.Contains(t, out.String(), "Exam exam-1 finished.")
	assert.Contains(t, out.String(), "Score 75.00%   correct 3   wrong 1   PASSED")
}

func TestRenderMap(t *testing.T) {
	var out bytes.Buffer
	renderMap(&out, inProgressView())

	s := out.String()
	assert.Contains(t, s, "  1.   2o   3*   4<")
	assert.Contains(t, s, "\n 11.  12.")
}
