package engine

import (
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// newSession builds the aggregate for a freshly started exam. startedAt is
// kept at millisecond precision, the resolution snapshots store.
func newSession(res *model.StartExamResponse, durationSec int, now time.Time) *model.ExamSession {
	if res.DurationSec > 0 {
		durationSec = res.DurationSec
	}
	return &model.ExamSession{
		ExamID:      res.ExamID,
		Questions:   res.Questions,
		StartedAt:   time.UnixMilli(now.UnixMilli()),
		DurationSec: durationSec,
		Selections:  model.Selections{},
		SavedMarks:  map[int]bool{},
	}
}

func questionIndex(s *model.ExamSession, qid string) int {
	for i := range s.Questions {
		if s.Questions[i].ID == qid {
			return i
		}
	}
	return -1
}

func currentQuestion(s *model.ExamSession) *model.Question {
	if s == nil || len(s.Questions) == 0 {
		return nil
	}
	return &s.Questions[Clamp(s.CurrentIndex, len(s.Questions))]
}

// toggleOption flips opt on question idx. A single-select question drops
// every other option first, so at most one stays selected. Unselected
// options are removed rather than stored as false.
func toggleOption(s *model.ExamSession, idx int, opt string) {
	q := &s.Questions[idx]
	cur := s.Selections[q.ID]
	on := !cur[opt]

	next := make(map[string]bool, len(cur)+1)
	if q.MultiSelect {
		for k, v := range cur {
			if v && k != opt {
				next[k] = true
			}
		}
	}
	if on {
		next[opt] = true
	}

	if len(next) == 0 {
		delete(s.Selections, q.ID)
	} else {
		s.Selections[q.ID] = next
	}
}

// selectedOptionIDs lists the selected options of question idx in option
// order.
func selectedOptionIDs(s *model.ExamSession, idx int) []string {
	q := &s.Questions[idx]
	sel := s.Selections[q.ID]
	out := make([]string, 0, len(sel))
	for _, o := range q.Options {
		if sel[o.ID] {
			out = append(out, o.ID)
		}
	}
	return out
}

func isAnswered(s *model.ExamSession, idx int) bool {
	if idx < 0 || idx >= len(s.Questions) {
		return false
	}
	for _, v := range s.Selections[s.Questions[idx].ID] {
		if v {
			return true
		}
	}
	return false
}

func answeredCount(s *model.ExamSession) int {
	n := 0
	for i := range s.Questions {
		if isAnswered(s, i) {
			n++
		}
	}
	return n
}
