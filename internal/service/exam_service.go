package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// ExamStore is the exam table, implemented by repository.ExamRepository.
type ExamStore interface {
	Create(ctx context.Context, e *model.Exam) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	Finish(ctx context.Context, id uuid.UUID, res *model.FinishResult) (bool, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Exam, int, error)
}

// QuestionStore is the question bank, implemented by repository.QuestionRepository.
type QuestionStore interface {
	Random(ctx context.Context, n int) ([]model.BankQuestion, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.BankQuestion, error)
}

// AnswerStore is the answer table, implemented by repository.AnswerRepository.
type AnswerStore interface {
	Upsert(ctx context.Context, examID uuid.UUID, questionID string, selected []string) error
	ListByExam(ctx context.Context, examID uuid.UUID) (map[string][]string, error)
}

// AnswerJob is one queued answer waiting to be written to PostgreSQL.
type AnswerJob struct {
	ExamID     string   `json:"exam_id"`
	QuestionID string   `json:"question_id"`
	Selected   []string `json:"selected"`
}

// cachedExam is the Redis copy of what answer validation needs.
type cachedExam struct {
	UserID    string               `json:"user_id"`
	Questions []model.BankQuestion `json:"questions"`
}

func (c *cachedExam) question(qid string) *model.BankQuestion {
	for i := range c.Questions {
		if c.Questions[i].ID == qid {
			return &c.Questions[i]
		}
	}
	return nil
}

// Cached exam data outlives the exam by this much so late review stays fast.
const cacheGrace = 24 * time.Hour

// ExamService runs exam sessions: drawing questions, recording answers,
// grading and history. Answers take the Redis fast lane and reach
// PostgreSQL through the autosave queue.
type ExamService struct {
	exams       ExamStore
	questions   QuestionStore
	answers     AnswerStore
	rdb         redis.Cmdable
	passPercent float64
	log         zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	exams ExamStore,
	questions QuestionStore,
	answers AnswerStore,
	rdb redis.Cmdable,
	passPercent float64,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		exams:       exams,
		questions:   questions,
		answers:     answers,
		rdb:         rdb,
		passPercent: passPercent,
		log:         log.With().Str("component", "exam_service").Logger(),
	}
}

// Start draws up to count random questions and opens an exam for userID.
func (s *ExamService) Start(ctx context.Context, userID string, count, durationSec int) (*model.StartExamResponse, error) {
	bank, err := s.questions.Random(ctx, count)
	if err != nil {
		return nil, fmt.Errorf("draw questions: %w", err)
	}
	if len(bank) == 0 {
		return nil, ErrNotEnoughQuestions
	}

	ids := make([]string, len(bank))
	public := make([]model.Question, len(bank))
	for i, q := range bank {
		ids[i] = q.ID
		public[i] = q.Question
	}

	exam := &model.Exam{
		ID:          uuid.New(),
		UserID:      userID,
		QuestionIDs: ids,
		DurationSec: durationSec,
	}
	if err := s.exams.Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}

	ttl := time.Duration(durationSec)*time.Second + cacheGrace
	if err := s.cacheExam(ctx, exam.ID, &cachedExam{UserID: userID, Questions: bank}, ttl); err != nil {
		// Answer validation falls back to PostgreSQL.
		s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Failed to cache exam")
	}

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Str("user_id", userID).
		Int("questions", len(bank)).
		Int("duration_sec", durationSec).
		Msg("Exam started")

	return &model.StartExamResponse{
		ExamID:      exam.ID.String(),
		DurationSec: durationSec,
		Questions:   public,
	}, nil
}

// saveAnswerScript records an answer unless the exam was closed. Running
// the check and the writes as one script means Finish, which closes the exam
// before reading answers, sees every answer that was accepted.
//
// KEYS: finished flag, answers hash, persist queue.
// ARGV: question id, encoded selection, job, hash TTL in seconds.
var saveAnswerScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("EXPIRE", KEYS[2], ARGV[4])
redis.call("RPUSH", KEYS[3], ARGV[3])
return 1
`)

// SaveAnswer upserts the answer of one question. The latest call for a
// question wins.
func (s *ExamService) SaveAnswer(ctx context.Context, userID string, examID uuid.UUID, questionID string, selected []string) error {
	ce, err := s.loadExam(ctx, examID, userID)
	if err != nil {
		return err
	}
	if err := validateSelection(ce.question(questionID), selected); err != nil {
		return err
	}
	if selected == nil {
		selected = []string{}
	}

	raw, err := json.Marshal(selected)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	job, err := json.Marshal(AnswerJob{ExamID: examID.String(), QuestionID: questionID, Selected: selected})
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	keys := []string{
		config.CacheKey.ExamFinishedKey(examID.String()),
		config.CacheKey.ExamAnswersKey(examID.String()),
		config.WorkerKey.PersistAnswersQueue,
	}
	saved, err := saveAnswerScript.Run(ctx, s.rdb, keys, questionID, raw, job, int(cacheGrace.Seconds())).Int()
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	if saved == 0 {
		return ErrExamFinished
	}
	return nil
}

func validateSelection(q *model.BankQuestion, selected []string) error {
	if q == nil {
		return ErrUnknownQuestion
	}
	for _, opt := range selected {
		if !q.HasOption(opt) {
			return ErrUnknownOption
		}
	}
	if !q.MultiSelect && len(selected) > 1 {
		return ErrTooManyOptions
	}
	return nil
}

// Finish grades the exam and marks it finished. Finishing a finished exam
// returns the stored grade.
func (s *ExamService) Finish(ctx context.Context, userID string, examID uuid.UUID) (*model.FinishResult, error) {
	exam, err := s.getOwned(ctx, examID, userID)
	if err != nil {
		return nil, err
	}

	// Close the exam to answers before reading them. A failure below leaves
	// it closed; finishing again still grades it.
	if err := s.rdb.Set(ctx, config.CacheKey.ExamFinishedKey(examID.String()), 1, cacheGrace).Err(); err != nil {
		return nil, fmt.Errorf("close exam: %w", err)
	}

	bank, answers, pending, err := s.collect(ctx, exam)
	if err != nil {
		return nil, err
	}

	if exam.Status == model.ExamStatusFinished {
		return storedResult(exam, bank, answers), nil
	}

	// The queue may still hold some of these; writing them now makes the
	// table complete before the grade is recorded.
	for qid, sel := range pending {
		if err := s.answers.Upsert(ctx, examID, qid, sel); err != nil {
			return nil, fmt.Errorf("flush answer %s: %w", qid, err)
		}
	}

	res := Grade(bank, answers, s.passPercent)
	updated, err := s.exams.Finish(ctx, examID, res)
	if err != nil {
		return nil, fmt.Errorf("record grade: %w", err)
	}
	if !updated {
		// Lost a race with a concurrent finish; report what was stored.
		exam, err = s.getOwned(ctx, examID, userID)
		if err != nil {
			return nil, err
		}
		return storedResult(exam, bank, answers), nil
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Float64("score", res.ScorePercent).
		Int("correct", res.Correct).
		Int("wrong", res.Wrong).
		Msg("Exam finished")
	return res, nil
}

// Get returns the record of one exam. Correct answers are withheld until the
// exam is finished.
func (s *ExamService) Get(ctx context.Context, userID string, examID uuid.UUID) (*model.ExamDetail, error) {
	exam, err := s.getOwned(ctx, examID, userID)
	if err != nil {
		return nil, err
	}
	bank, answers, _, err := s.collect(ctx, exam)
	if err != nil {
		return nil, err
	}

	finished := exam.Status == model.ExamStatusFinished
	items := make([]model.ReviewItem, 0, len(bank))
	for _, q := range bank {
		items = append(items, reviewItem(q, answers[q.ID], finished))
	}

	return &model.ExamDetail{
		ExamID:       exam.ID.String(),
		StartedAt:    exam.StartedAt,
		FinishedAt:   exam.FinishedAt,
		DurationSec:  exam.DurationSec,
		ScorePercent: exam.ScorePercent,
		Passed:       exam.Passed,
		Correct:      exam.Correct,
		Wrong:        exam.Wrong,
		Items:        items,
	}, nil
}

// List returns a page of the user's exams, newest first.
func (s *ExamService) List(ctx context.Context, userID string, limit, offset int) (*model.ExamList, error) {
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	exams, total, err := s.exams.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}

	items := make([]model.ExamSummary, 0, len(exams))
	for _, e := range exams {
		items = append(items, model.ExamSummary{
			ID:            e.ID.String(),
			StartedAt:     e.StartedAt,
			FinishedAt:    e.FinishedAt,
			DurationSec:   e.DurationSec,
			ScorePercent:  e.ScorePercent,
			QuestionCount: len(e.QuestionIDs),
			Passed:        e.Passed,
		})
	}
	return &model.ExamList{Total: total, Limit: limit, Offset: offset, Items: items}, nil
}

func (s *ExamService) getOwned(ctx context.Context, examID uuid.UUID, userID string) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.UserID != userID {
		return nil, ErrExamNotFound
	}
	return exam, nil
}

// collect loads the bank rows of an exam and its answers. Answers still in
// Redis override the table and are also returned as pending.
func (s *ExamService) collect(ctx context.Context, exam *model.Exam) ([]model.BankQuestion, map[string][]string, map[string][]string, error) {
	bank, err := s.questions.GetByIDs(ctx, exam.QuestionIDs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load questions: %w", err)
	}

	answers, err := s.answers.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load answers: %w", err)
	}
	if answers == nil {
		answers = make(map[string][]string)
	}

	cached, err := s.rdb.HGetAll(ctx, config.CacheKey.ExamAnswersKey(exam.ID.String())).Result()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load cached answers: %w", err)
	}
	pending := make(map[string][]string, len(cached))
	for qid, raw := range cached {
		var sel []string
		if err := json.Unmarshal([]byte(raw), &sel); err != nil {
			s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Str("question_id", qid).Msg("Skipping unreadable cached answer")
			continue
		}
		answers[qid] = sel
		pending[qid] = sel
	}
	return bank, answers, pending, nil
}

// loadExam reads the cached exam, falling back to PostgreSQL on a miss and
// re-caching the result.
func (s *ExamService) loadExam(ctx context.Context, examID uuid.UUID, userID string) (*cachedExam, error) {
	key := config.CacheKey.ExamPayloadKey(examID.String())

	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var ce cachedExam
		if err := json.Unmarshal(raw, &ce); err != nil {
			return nil, fmt.Errorf("decode cached exam: %w", err)
		}
		if ce.UserID != userID {
			return nil, ErrExamNotFound
		}
		return &ce, nil
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("get cached exam: %w", err)
	}

	exam, err := s.getOwned(ctx, examID, userID)
	if err != nil {
		return nil, err
	}
	if exam.Status == model.ExamStatusFinished {
		_ = s.rdb.Set(ctx, config.CacheKey.ExamFinishedKey(examID.String()), 1, cacheGrace).Err()
		return nil, ErrExamFinished
	}
	bank, err := s.questions.GetByIDs(ctx, exam.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	ce := &cachedExam{UserID: exam.UserID, Questions: bank}
	if err := s.cacheExam(ctx, examID, ce, cacheGrace); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to re-cache exam")
	}
	return ce, nil
}

func (s *ExamService) cacheExam(ctx context.Context, examID uuid.UUID, ce *cachedExam, ttl time.Duration) error {
	raw, err := json.Marshal(ce)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, config.CacheKey.ExamPayloadKey(examID.String()), raw, ttl).Err()
}

func storedResult(exam *model.Exam, bank []model.BankQuestion, answers map[string][]string) *model.FinishResult {
	res := &model.FinishResult{
		Correct: exam.Correct,
		Wrong:   exam.Wrong,
		Passed:  exam.Passed,
		Items:   make([]model.ReviewItem, 0, len(bank)),
	}
	if exam.ScorePercent != nil {
		res.ScorePercent = *exam.ScorePercent
	}
	for _, q := range bank {
		res.Items = append(res.Items, reviewItem(q, answers[q.ID], true))
	}
	return res
}
