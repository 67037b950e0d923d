package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-session/internal/model"
)

func makeBank(n int) []model.BankQuestion {
	bank := make([]model.BankQuestion, n)
	for i := range bank {
		id := fmt.Sprintf("b%d", i+1)
		q := model.BankQuestion{
			Question: model.Question{
				ID:   id,
				Text: "Question " + id,
				Options: []model.Option{
					{ID: "A", Text: "alpha"},
					{ID: "B", Text: "beta"},
					{ID: "C", Text: "gamma"},
				},
			},
			CorrectOptionIDs: []string{"A"},
			Explanations:     map[string]model.Explanation{"A": {Text: "because"}},
		}
		if i == 1 {
			q.MultiSelect = true
			q.CorrectOptionIDs = []string{"A", "C"}
		}
		bank[i] = q
	}
	return bank
}

type fakeExamStore struct {
	mu    sync.Mutex
	exams map[uuid.UUID]*model.Exam
	order []uuid.UUID
}

func newFakeExamStore() *fakeExamStore {
	return &fakeExamStore{exams: make(map[uuid.UUID]*model.Exam)}
}

func (f *fakeExamStore) Create(_ context.Context, e *model.Exam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.Status = model.ExamStatusInProgress
	e.StartedAt = time.Date(2026, 3, 1, 9, 0, len(f.order), 0, time.UTC)
	cp := *e
	f.exams[e.ID] = &cp
	f.order = append(f.order, e.ID)
	return nil
}

func (f *fakeExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExamStore) Finish(_ context.Context, id uuid.UUID, res *model.FinishResult) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.exams[id]
	if !ok || e.Status != model.ExamStatusInProgress {
		return false, nil
	}
	now := e.StartedAt.Add(time.Minute)
	score := res.ScorePercent
	e.Status = model.ExamStatusFinished
	e.FinishedAt = &now
	e.ScorePercent = &score
	e.Correct = res.Correct
	e.Wrong = res.Wrong
	e.Passed = res.Passed
	return true, nil
}

func (f *fakeExamStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]model.Exam, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []model.Exam
	for i := len(f.order) - 1; i >= 0; i-- {
		if e := f.exams[f.order[i]]; e.UserID == userID {
			all = append(all, *e)
		}
	}
	if offset >= len(all) {
		return nil, len(all), nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], len(all), nil
}

type fakeQuestionStore struct {
	bank []model.BankQuestion
}

func (f *fakeQuestionStore) Random(_ context.Context, n int) ([]model.BankQuestion, error) {
	return append([]model.BankQuestion(nil), f.bank[:min(n, len(f.bank))]...), nil
}

func (f *fakeQuestionStore) GetByIDs(_ context.Context, ids []string) ([]model.BankQuestion, error) {
	var out []model.BankQuestion
	for _, id := range ids {
		for _, q := range f.bank {
			if q.ID == id {
				out = append(out, q)
			}
		}
	}
	return out, nil
}

type fakeAnswerStore struct {
	mu      sync.Mutex
	answers map[uuid.UUID]map[string][]string
	upserts int
	// onList runs at the start of ListByExam, outside the lock.
	onList func()
}

func newFakeAnswerStore() *fakeAnswerStore {
	return &fakeAnswerStore{answers: make(map[uuid.UUID]map[string][]string)}
}

func (f *fakeAnswerStore) Upsert(_ context.Context, examID uuid.UUID, qid string, selected []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answers[examID] == nil {
		f.answers[examID] = make(map[string][]string)
	}
	f.answers[examID][qid] = selected
	f.upserts++
	return nil
}

func (f *fakeAnswerStore) ListByExam(_ context.Context, examID uuid.UUID) (map[string][]string, error) {
	f.mu.Lock()
	hook := f.onList
	f.onList = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]string)
	for k, v := range f.answers[examID] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeAnswerStore) questionIDs(examID uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for k := range f.answers[examID] {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}
