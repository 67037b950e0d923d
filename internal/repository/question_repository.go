package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// QuestionRepository reads the question bank.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

const bankColumns = `id, question_text, multi_select, options, correct_option_ids, explanations, tag`

// Random draws up to n distinct questions in random order.
func (r *QuestionRepository) Random(ctx context.Context, n int) ([]model.BankQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bankColumns+` FROM bank_questions ORDER BY random() LIMIT $1`, n,
	)
	if err != nil {
		return nil, err
	}
	return scanBank(rows)
}

// GetByIDs returns the questions with the given ids, in the order of ids.
// Unknown ids are skipped.
func (r *QuestionRepository) GetByIDs(ctx context.Context, ids []string) ([]model.BankQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bankColumns+` FROM bank_questions WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, err
	}
	found, err := scanBank(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.BankQuestion, len(found))
	for _, q := range found {
		byID[q.ID] = q
	}
	ordered := make([]model.BankQuestion, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			ordered = append(ordered, q)
		}
	}
	return ordered, nil
}

func scanBank(rows pgx.Rows) ([]model.BankQuestion, error) {
	defer rows.Close()

	var out []model.BankQuestion
	for rows.Next() {
		var q model.BankQuestion
		if err := rows.Scan(&q.ID, &q.Text, &q.MultiSelect, &q.Options,
			&q.CorrectOptionIDs, &q.Explanations, &q.Tag); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
