package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, user_id, question_ids, duration_sec, started_at, finished_at,
	status, score_percent, correct, wrong, passed`

// Create inserts a new IN_PROGRESS exam and fills in its start time.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (id, user_id, question_ids, duration_sec, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING started_at`,
		e.ID, e.UserID, e.QuestionIDs, e.DurationSec, model.ExamStatusInProgress,
	).Scan(&e.StartedAt)
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.UserID, &e.QuestionIDs, &e.DurationSec, &e.StartedAt, &e.FinishedAt,
		&e.Status, &e.ScorePercent, &e.Correct, &e.Wrong, &e.Passed)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Finish records the grade of an IN_PROGRESS exam. It reports false when the
// exam was already finished, in which case nothing is written.
func (r *ExamRepository) Finish(ctx context.Context, id uuid.UUID, res *model.FinishResult) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams
		 SET status = $1, finished_at = $2, score_percent = $3, correct = $4, wrong = $5, passed = $6
		 WHERE id = $7 AND status = $8`,
		model.ExamStatusFinished, time.Now(), res.ScorePercent, res.Correct, res.Wrong, res.Passed,
		id, model.ExamStatusInProgress,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListByUser retrieves a user's exams, newest first, with the total count.
func (r *ExamRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Exam, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exams WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams
		 WHERE user_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2 OFFSET $3`, userID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.UserID, &e.QuestionIDs, &e.DurationSec, &e.StartedAt, &e.FinishedAt,
			&e.Status, &e.ScorePercent, &e.Correct, &e.Wrong, &e.Passed); err != nil {
			return nil, 0, err
		}
		exams = append(exams, e)
	}
	return exams, total, rows.Err()
}
