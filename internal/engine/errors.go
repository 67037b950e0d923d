package engine

import "errors"

var (
	// ErrStartFailed: the authority rejected or never answered a start
	// request. Prior session state is untouched.
	ErrStartFailed = errors.New("failed to start exam")
	// ErrSubmitFailed: one answer could not be saved. Never fatal.
	ErrSubmitFailed = errors.New("failed to save answer")
	// ErrFinishFailed: the finish call failed. The session stays Finishing
	// and finishing may be retried.
	ErrFinishFailed = errors.New("failed to finish exam")
	// ErrRemoteUnavailable: a read-only display call failed.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	ErrNoSession        = errors.New("no active session")
	ErrSessionFinishing = errors.New("session is finishing")
	ErrSessionFinished  = errors.New("session is finished")
	ErrUnknownQuestion  = errors.New("unknown question")
	ErrUnknownOption    = errors.New("unknown option")
	ErrEngineStopped    = errors.New("engine stopped")
	ErrAlreadyRunning   = errors.New("engine already running")
)
