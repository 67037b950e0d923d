package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// ExamService is the part of service.ExamService the handlers use.
type ExamService interface {
	Start(ctx context.Context, userID string, count, durationSec int) (*model.StartExamResponse, error)
	SaveAnswer(ctx context.Context, userID string, examID uuid.UUID, questionID string, selected []string) error
	Finish(ctx context.Context, userID string, examID uuid.UUID) (*model.FinishResult, error)
	Get(ctx context.Context, userID string, examID uuid.UUID) (*model.ExamDetail, error)
	List(ctx context.Context, userID string, limit, offset int) (*model.ExamList, error)
}

// ExamHandler handles exam session endpoints.
type ExamHandler struct {
	exams ExamService
	log   zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(exams ExamService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		exams: exams,
		log:   log.With().Str("component", "exam_handler").Logger(),
	}
}

// StartExam godoc
// POST /api/v1/exams
// Draws questions and opens a new timed exam.
func (h *ExamHandler) StartExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.exams.Start(c.Request.Context(), claims.UserID, req.Count, req.DurationSec)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusCreated, res)
}

// SaveAnswer godoc
// POST /api/v1/exams/:exam_id/answer?questionId=...
// Upserts the answer of one question.
func (h *ExamHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	questionID := c.Query("questionId")
	if questionID == "" {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"questionId": "questionId is a required query parameter"})
		return
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.exams.SaveAnswer(c.Request.Context(), claims.UserID, examID, questionID, req.Selected); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// FinishExam godoc
// POST /api/v1/exams/:exam_id/finish
// Grades the exam. Finishing twice returns the stored grade.
func (h *ExamHandler) FinishExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	res, err := h.exams.Finish(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// GetExam godoc
// GET /api/v1/exams/:exam_id
// Returns one exam with its per-question record.
func (h *ExamHandler) GetExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	detail, err := h.exams.Get(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, detail)
}

// ListExams godoc
// GET /api/v1/exams?limit=&offset=
// Lists the caller's exams, newest first.
func (h *ExamHandler) ListExams(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var q model.ListExamsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	list, err := h.exams.List(c.Request.Context(), claims.UserID, q.Limit, q.Offset)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, list)
}

// fail maps a service error onto the response envelope.
func (h *ExamHandler) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}

func statusFor(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrExamFinished):
		return http.StatusConflict, response.ErrExamFinished
	case errors.Is(err, service.ErrNotEnoughQuestions):
		return http.StatusConflict, response.ErrNotEnoughQuestions
	case errors.Is(err, service.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion
	case errors.Is(err, service.ErrUnknownOption):
		return http.StatusBadRequest, response.ErrUnknownOption
	case errors.Is(err, service.ErrTooManyOptions):
		return http.StatusBadRequest, response.ErrTooManyOptions
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
