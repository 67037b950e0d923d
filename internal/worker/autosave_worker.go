package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/service"
)

// AnswerUpserter writes one answer row. repository.AnswerRepository satisfies it.
type AnswerUpserter interface {
	Upsert(ctx context.Context, examID uuid.UUID, questionID string, selected []string) error
}

// AutosaveWorker consumes the answer queue and UPSERTs answers to PostgreSQL.
type AutosaveWorker struct {
	answers    AnswerUpserter
	rdb        redis.Cmdable
	queue      string
	pollWait   time.Duration
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(answers AnswerUpserter, rdb redis.Cmdable, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		answers:    answers,
		rdb:        rdb,
		queue:      config.WorkerKey.PersistAnswersQueue,
		pollWait:   time.Second,
		retryDelay: 5 * time.Second,
		log:        log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start begins the worker loop and returns once ctx is cancelled and the
// queue is drained. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or the poll wait passes.
	result, err := w.rdb.BLPop(ctx, w.pollWait, w.queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	job, err := decodeJob(result[1])
	if err != nil {
		w.log.Error().Err(err).Str("payload", result[1]).Msg("Dropping malformed job")
		return
	}

	if err := w.persist(ctx, job); err != nil {
		w.log.Error().Err(err).
			Str("exam_id", job.ExamID).
			Str("question_id", job.QuestionID).
			Dur("retry_in", w.retryDelay).
			Msg("Persist error, retrying")
		// Back to the head so a later answer for the same question
		// cannot be written first.
		w.rdb.LPush(context.Background(), w.queue, result[1])
		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
	}
}

func decodeJob(raw string) (*service.AnswerJob, error) {
	var job service.AnswerJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, err
	}
	if job.QuestionID == "" {
		return nil, fmt.Errorf("job has no question id")
	}
	return &job, nil
}

func (w *AutosaveWorker) persist(ctx context.Context, job *service.AnswerJob) error {
	examID, err := uuid.Parse(job.ExamID)
	if err != nil {
		return fmt.Errorf("parse exam id: %w", err)
	}
	selected := job.Selected
	if selected == nil {
		selected = []string{}
	}
	return w.answers.Upsert(ctx, examID, job.QuestionID, selected)
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, w.queue).Result()
		if err != nil {
			break
		}

		job, err := decodeJob(raw)
		if err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.persist(ctx, job); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.LPush(ctx, w.queue, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
