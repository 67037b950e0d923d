// Package remote talks to the exam authority: the service that allocates
// sessions, records answers and grades finished exams.
package remote

import (
	"context"
	"fmt"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
)

// Authority is the remote record of truth for exam sessions.
type Authority interface {
	Start(ctx context.Context, count, durationSec int) (*model.StartExamResponse, error)
	// SubmitAnswer is an upsert keyed by (examID, questionID).
	SubmitAnswer(ctx context.Context, examID, questionID string, selected []string) error
	Finish(ctx context.Context, examID string) (*model.FinishResult, error)
	GetSession(ctx context.Context, examID string) (*model.ExamDetail, error)
	ListExams(ctx context.Context, limit, offset int) (*model.ExamList, error)
}

// AnswerSubmitter is the part of Authority that can be served by a
// dedicated transport.
type AnswerSubmitter interface {
	SubmitAnswer(ctx context.Context, examID, questionID string, selected []string) error
}

// APIError is a non-2xx answer from the authority.
type APIError struct {
	Status  int
	Code    response.ErrCode
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("authority returned %d", e.Status)
	}
	return fmt.Sprintf("authority returned %d %s: %s", e.Status, e.Code, e.Message)
}

type answerRouted struct {
	Authority
	answers AnswerSubmitter
}

func (a answerRouted) SubmitAnswer(ctx context.Context, examID, questionID string, selected []string) error {
	return a.answers.SubmitAnswer(ctx, examID, questionID, selected)
}

// WithAnswerTransport returns base with answer submissions sent through answers.
func WithAnswerTransport(base Authority, answers AnswerSubmitter) Authority {
	return answerRouted{Authority: base, answers: answers}
}
