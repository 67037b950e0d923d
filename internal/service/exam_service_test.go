package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceHarness struct {
	svc     *ExamService
	mr      *miniredis.Miniredis
	exams   *fakeExamStore
	answers *fakeAnswerStore
}

func newServiceHarness(t *testing.T, bankSize int) *serviceHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	h := &serviceHarness{
		mr:      mr,
		exams:   newFakeExamStore(),
		answers: newFakeAnswerStore(),
	}
	h.svc = NewExamService(h.exams, &fakeQuestionStore{bank: makeBank(bankSize)}, h.answers, rdb, 70, zerolog.Nop())
	return h
}

func (h *serviceHarness) start(t *testing.T, user string, count int) uuid.UUID {
	t.Helper()
	res, err := h.svc.Start(context.Background(), user, count, 1800)
	require.NoError(t, err)
	id, err := uuid.Parse(res.ExamID)
	require.NoError(t, err)
	return id
}

func TestStartDrawsQuestionsAndCachesExam(t *testing.T) {
	h := newServiceHarness(t, 5)

	res, err := h.svc.Start(context.Background(), "u1", 3, 1800)
	require.NoError(t, err)
	assert.Equal(t, 1800, res.DurationSec)
	require.Len(t, res.Questions, 3)
	assert.Equal(t, "b1", res.Questions[0].ID)

	raw, err := json.Marshal(res.Questions)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "correctOptionIds")

	assert.True(t, h.mr.Exists(config.CacheKey.ExamPayloadKey(res.ExamID)))
}

func TestStartShortBankReturnsWhatExists(t *testing.T) {
	h := newServiceHarness(t, 2)

	res, err := h.svc.Start(context.Background(), "u1", 10, 60)
	require.NoError(t, err)
	assert.Len(t, res.Questions, 2)
}

func TestStartEmptyBank(t *testing.T) {
	h := newServiceHarness(t, 0)

	_, err := h.svc.Start(context.Background(), "u1", 10, 60)
	assert.ErrorIs(t, err, ErrNotEnoughQuestions)
}

func TestSaveAnswerQueuesJobAndKeepsLatest(t *testing.T) {
	h := newServiceHarness(t, 3)
	id := h.start(t, "u1", 3)
	ctx := context.Background()

	require.NoError(t, h.svc.SaveAnswer(ctx, "u1", id, "b1", []string{"A"}))
	require.NoError(t, h.svc.SaveAnswer(ctx, "u1", id, "b1", []string{"B"}))

	got := h.mr.HGet(config.CacheKey.ExamAnswersKey(id.String()), "b1")
	assert.JSONEq(t, `["B"]`, got)

	queued, err := h.mr.List(config.WorkerKey.PersistAnswersQueue)
	require.NoError(t, err)
	require.Len(t, queued, 2)

	var job AnswerJob
	require.NoError(t, json.Unmarshal([]byte(queued[1]), &job))
	assert.Equal(t, AnswerJob{ExamID: id.String(), QuestionID: "b1", Selected: []string{"B"}}, job)
}

func TestSaveAnswerEmptySelectionClears(t *testing.T) {
	h := newServiceHarness(t, 3)
	id := h.start(t, "u1", 3)

	require.NoError(t, h.svc.SaveAnswer(context.Background(), "u1", id, "b2", nil))
	assert.JSONEq(t, `[]`, h.mr.HGet(config.CacheKey.ExamAnswersKey(id.String()), "b2"))
}

func TestSaveAnswerValidation(t *testing.T) {
	h := newServiceHarness(t, 3)
	id := h.start(t, "u1", 3)
	ctx := context.Background()

	tests := []struct {
		name     string
		user     string
		qid      string
		selected []string
		want     error
	}{
		{"unknown question", "u1", "zz", []string{"A"}, ErrUnknownQuestion},
		{"unknown option", "u1", "b1", []string{"Z"}, ErrUnknownOption},
		{"two options on single select", "u1", "b1", []string{"A", "B"}, ErrTooManyOptions},
		{"someone else's exam", "u2", "b1", []string{"A"}, ErrExamNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.svc.SaveAnswer(ctx, tt.user, id, tt.qid, tt.selected)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	require.NoError(t, h.svc.SaveAnswer(ctx, "u1", id, "b2", []string{"A", "C"}))
}

func TestSaveAnswerRebuildsCacheFromDatabase(t *testing.T) {
	h := newServiceHarness(t, 3)
	id := h.start(t, "u1", 3)
	key := config.CacheKey.ExamPayloadKey(id.String())
	h.mr.Del(key)

	require.NoError(t, h.svc.SaveAnswer(context.Background(), "u1", id, "b3", []string{"C"}))
	assert.True(t, h.mr.Exists(key))
}

func TestSaveAnswerUnknownExam(t *testing.T) {
	h := newServiceHarness(t, 3)

	err := h.svc.SaveAnswer(context.Background(), "u1", uuid.New(), "b1", []string{"A"})
	assert.ErrorIs(t, err, ErrExamNotFound)
}

func TestFinishGradesAndLocksExam(t *testing.T) {
	h := newServiceHarness(t, 4)
	id := h.start(t, "u1", 4)
	ctx := context.Background()

	require.NoError(t, h.svc.SaveAnswer(ctx, "u1", id, "b1", []string{"A"}))
	require.NoError(t, h.svc.SaveAnswer(ctx, "u1", id, "b2", []string{"C", "A"}))
	require.NoError(t, h.svc.SaveAnswer(ctx, "u1", id, "b3", []string{"B"}))

	res, err := h.svc.Finish(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Correct)
	assert.Equal(t, 2, res.Wrong)
	assert.Equal(t, 50.0, res.ScorePercent)
	require.NotNil(t, res.Passed)
	assert.False(t, *res.Passed)
	require.Len(t, res.Items, 4)
	assert.Equal(t, []string{}, res.Items[3].Selected)

	// Cached answers were flushed before grading.
	assert.Equal(t, []string{"b1", "b2", "b3"}, h.answers.questionIDs(id))

	err = h.svc.SaveAnswer(ctx, "u1", id, "b4", []string{"A"})
	assert.ErrorIs(t, err, ErrExamFinished)

	again, err := h.svc.Finish(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, res.ScorePercent, again.ScorePercent)
	assert.Equal(t, res.Correct, again.Correct)
}

func TestAnswerDuringFinishIsRejected(t *testing.T) {
	h := newServiceHarness(t, 3)
	id := h.start(t, "u1", 3)
	ctx := context.Background()
	require.NoError(t, h.svc.SaveAnswer(ctx, "u1", id, "b1", []string{"A"}))

	var lateErr error
	h.answers.mu.Lock()
	h.answers.onList = func() {
		lateErr = h.svc.SaveAnswer(ctx, "u1", id, "b3", []string{"A"})
	}
	h.answers.mu.Unlock()

	res, err := h.svc.Finish(ctx, "u1", id)
	require.NoError(t, err)
	assert.ErrorIs(t, lateErr, ErrExamFinished)
	assert.Equal(t, 1, res.Correct)

	assert.Empty(t, h.mr.HGet(config.CacheKey.ExamAnswersKey(id.String()), "b3"))
	detail, err := h.svc.Get(ctx, "u1", id)
	require.NoError(t, err)
	require.Len(t, detail.Items, 3)
	assert.Equal(t, []string{}, detail.Items[2].Selected)
	assert.Equal(t, 1, detail.Correct)
}

func TestFinishSomeoneElsesExam(t *testing.T) {
	h := newServiceHarness(t, 2)
	id := h.start(t, "u1", 2)

	_, err := h.svc.Finish(context.Background(), "u2", id)
	assert.ErrorIs(t, err, ErrExamNotFound)
}

func TestGetHidesAnswerKeyUntilFinished(t *testing.T) {
	h := newServiceHarness(t, 2)
	id := h.start(t, "u1", 2)
	ctx := context.Background()
	require.NoError(t, h.svc.SaveAnswer(ctx, "u1", id, "b1", []string{"A"}))

	before, err := h.svc.Get(ctx, "u1", id)
	require.NoError(t, err)
	require.Len(t, before.Items, 2)
	assert.Equal(t, []string{"A"}, before.Items[0].Selected)
	assert.Empty(t, before.Items[0].Correct)
	assert.Nil(t, before.Items[0].Explanations)
	assert.Nil(t, before.FinishedAt)

	_, err = h.svc.Finish(ctx, "u1", id)
	require.NoError(t, err)

	after, err := h.svc.Get(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, after.Items[0].Correct)
	assert.True(t, after.Items[0].WasCorrect)
	assert.NotNil(t, after.FinishedAt)
	require.NotNil(t, after.ScorePercent)
	assert.Equal(t, 50.0, *after.ScorePercent)
}

func TestListNewestFirstAndClampsLimit(t *testing.T) {
	h := newServiceHarness(t, 2)
	first := h.start(t, "u1", 2)
	second := h.start(t, "u1", 2)
	h.start(t, "u2", 2)

	list, err := h.svc.List(context.Background(), "u1", 0, -5)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 20, list.Limit)
	assert.Equal(t, 0, list.Offset)
	require.Len(t, list.Items, 2)
	assert.Equal(t, second.String(), list.Items[0].ID)
	assert.Equal(t, first.String(), list.Items[1].ID)
	assert.Equal(t, 2, list.Items[0].QuestionCount)

	list, err = h.svc.List(context.Background(), "u1", 1000, 1)
	require.NoError(t, err)
	assert.Equal(t, 100, list.Limit)
	require.Len(t, list.Items, 1)
	assert.Equal(t, first.String(), list.Items[0].ID)
}
