package service

import "errors"

// Domain errors. Handlers map them to response codes.
var (
	ErrExamNotFound       = errors.New("exam not found")
	ErrExamFinished       = errors.New("exam already finished")
	ErrNotEnoughQuestions = errors.New("question bank is empty")
	ErrUnknownQuestion    = errors.New("question is not part of this exam")
	ErrUnknownOption      = errors.New("option is not part of this question")
	ErrTooManyOptions     = errors.New("single-select question accepts one option")
)
