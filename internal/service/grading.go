package service

import (
	"math"
	"slices"

	"github.com/stemsi/exstem-session/internal/model"
)

// Grade scores answers against the bank rows of an exam. A question counts
// as correct only when the selected set equals the correct set exactly;
// unanswered questions count as wrong.
func Grade(bank []model.BankQuestion, answers map[string][]string, passPercent float64) *model.FinishResult {
	res := &model.FinishResult{Items: make([]model.ReviewItem, 0, len(bank))}

	for _, q := range bank {
		item := reviewItem(q, answers[q.ID], true)
		if item.WasCorrect {
			res.Correct++
		} else {
			res.Wrong++
		}
		res.Items = append(res.Items, item)
	}

	if total := len(bank); total > 0 {
		res.ScorePercent = math.Round(float64(res.Correct)/float64(total)*10000) / 100
	}
	passed := res.ScorePercent >= passPercent
	res.Passed = &passed
	return res
}

// reviewItem builds the record of one question. The answer key is only
// revealed once the exam is finished.
func reviewItem(q model.BankQuestion, selected []string, reveal bool) model.ReviewItem {
	if selected == nil {
		selected = []string{}
	}
	item := model.ReviewItem{
		QuestionID:   q.ID,
		QuestionText: q.Text,
		Selected:     selected,
		Correct:      []string{},
	}
	if reveal {
		item.Correct = q.CorrectOptionIDs
		item.Explanations = q.Explanations
		item.WasCorrect = sameSet(selected, q.CorrectOptionIDs)
	}
	return item
}

func sameSet(a, b []string) bool {
	x := slices.Compact(slices.Sorted(slices.Values(a)))
	y := slices.Compact(slices.Sorted(slices.Values(b)))
	return slices.Equal(x, y)
}
