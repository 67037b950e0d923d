package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnswerRepository stores one answer row per (exam, question).
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Upsert creates or overwrites the answer of one question.
func (r *AnswerRepository) Upsert(ctx context.Context, examID uuid.UUID, questionID string, selected []string) error {
	if selected == nil {
		selected = []string{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_answers (exam_id, question_id, selected)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_id, question_id) DO UPDATE
		 SET selected = EXCLUDED.selected, updated_at = NOW()`,
		examID, questionID, selected,
	)
	return err
}

// ListByExam returns question id → selected options.
func (r *AnswerRepository) ListByExam(ctx context.Context, examID uuid.UUID) (map[string][]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, selected FROM exam_answers WHERE exam_id = $1`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var qid string
		var selected []string
		if err := rows.Scan(&qid, &selected); err != nil {
			return nil, err
		}
		out[qid] = selected
	}
	return out, rows.Err()
}
