// Package engine is the taker-side exam session engine. It owns the active
// session, derives the countdown from the wall clock, keeps a local snapshot
// for crash recovery and syncs answers with the remote authority without
// blocking navigation.
//
// All state lives on a single event loop started with Run. Public operations
// enqueue onto that loop; network calls run on their own goroutines and
// report back as later events, so no two mutations ever interleave.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/remote"
	"github.com/stemsi/exstem-session/internal/snapshot"
)

// Engine drives one exam session at a time.
type Engine struct {
	authority remote.Authority
	snapshots snapshot.Store
	log       zerolog.Logger
	clock     Clock
	retry     RetryPolicy
	metrics   *metrics.Engine
	intn      func(n int) int

	events  chan func()
	stopped chan struct{}
	running atomic.Bool

	// Loop-owned state. Never touched outside the loop goroutine.
	runCtx     context.Context
	phase      Phase
	session    *model.ExamSession
	revs       revisions
	countdown  countdown
	remaining  int
	status     Status
	result     *model.FinishResult
	persistent bool
	startSeq   uint64
	finishing  bool
	attempt    int
	retryTimer *time.Timer
	retryC     <-chan time.Time

	viewMu sync.RWMutex
	view   View

	subsMu  sync.Mutex
	subs    map[uint64]chan View
	nextSub uint64
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTicker replaces the countdown ticker factory.
func WithTicker(f TickerFactory) Option {
	return func(e *Engine) { e.countdown.newTicker = f }
}

func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.countdown.interval = d
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) {
		if p.Attempts < 1 {
			p.Attempts = 1
		}
		e.retry = p
	}
}

func WithMetrics(m *metrics.Engine) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRand replaces the source used by Random; intn returns a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(e *Engine) { e.intn = intn }
}

// New builds an engine. Nothing happens until Run is called.
func New(authority remote.Authority, snapshots snapshot.Store, opts ...Option) *Engine {
	e := &Engine{
		authority:  authority,
		snapshots:  snapshots,
		log:        log.Logger,
		clock:      systemClock{},
		retry:      DefaultRetryPolicy,
		intn:       rand.IntN,
		events:     make(chan func(), 64),
		stopped:    make(chan struct{}),
		phase:      PhaseNoSession,
		revs:       revisions{},
		countdown:  countdown{newTicker: newTimeTicker, interval: time.Second},
		persistent: snapshots != nil,
		subs:       make(map[uint64]chan View),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().Str("component", "exam_engine").Logger()
	e.view = e.buildView()
	return e
}

// Run processes events until ctx is cancelled. It stops the countdown,
// cancels in-flight network calls and closes subscriber channels on exit.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	defer func() {
		e.countdown.stop()
		e.stopRetry()
		cancel()
		close(e.stopped)
		e.closeSubscribers()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-e.events:
			fn()
		case <-e.countdown.ch():
			e.tick()
			e.publish()
		case <-e.retryC:
			e.retryC = nil
			e.retryTimer = nil
			e.log.Info().Int("attempt", e.attempt+1).Msg("Retrying finish")
			e.beginFinish(nil)
			e.publish()
		}
	}
}

// post enqueues fn from a network goroutine. It gives up once the loop is
// gone.
func (e *Engine) post(fn func()) {
	select {
	case e.events <- func() { fn(); e.publish() }:
	case <-e.stopped:
	}
}

// do runs fn on the loop and waits for its result and the view it produced.
func (e *Engine) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	ev := func() {
		err := fn()
		e.publish()
		errc <- err
	}

	select {
	case e.events <- ev:
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await waits for an asynchronous completion started by an event.
func await[T any](ctx context.Context, e *Engine, ch <-chan T) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-e.stopped:
		return zero, ErrEngineStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// requireInProgress gates every mutation of selections and position.
func (e *Engine) requireInProgress() error {
	switch e.phase {
	case PhaseInProgress:
		return nil
	case PhaseFinishing:
		return ErrSessionFinishing
	case PhaseFinished:
		return ErrSessionFinished
	default:
		return ErrNoSession
	}
}

// ─── Session lifecycle ──────────────────────────────────────────────

// Restore rehydrates the session left in the snapshot slot, if any. A
// missing or unreadable snapshot simply leaves the engine without a
// session. It does nothing while a session is already loaded.
func (e *Engine) Restore(ctx context.Context) error {
	return e.do(ctx, func() error {
		if e.phase != PhaseNoSession || e.snapshots == nil {
			return nil
		}

		s, err := e.snapshots.Load(ctx)
		switch {
		case errors.Is(err, snapshot.ErrRecoveryCorrupt):
			e.log.Warn().Err(err).Msg("Discarding unreadable snapshot")
			if err := e.snapshots.Clear(ctx); err != nil {
				e.log.Warn().Err(err).Msg("Failed to clear unreadable snapshot")
			}
			return nil
		case err != nil:
			e.snapshotUnavailable(err)
			return nil
		case s == nil:
			return nil
		}

		e.activate(s)
		e.log.Info().
			Str("exam_id", s.ExamID).
			Int("questions", len(s.Questions)).
			Int("remaining_sec", e.remaining).
			Msg("Session restored")
		return nil
	})
}

// Start asks the authority for a new session and, once it answers, replaces
// whatever session was loaded. The loop keeps serving other operations while
// the request is in flight. On failure the previous state is left as is.
func (e *Engine) Start(ctx context.Context, count, durationSec int) error {
	done := make(chan error, 1)
	err := e.do(ctx, func() error {
		e.startSeq++
		seq := e.startSeq
		go func() {
			res, err := e.authority.Start(ctx, count, durationSec)
			e.post(func() { done <- e.completeStart(seq, durationSec, res, err) })
		}()
		return nil
	})
	if err != nil {
		return err
	}

	err, waitErr := await(ctx, e, done)
	if waitErr != nil {
		return waitErr
	}
	return err
}

func (e *Engine) completeStart(seq uint64, durationSec int, res *model.StartExamResponse, err error) error {
	if seq != e.startSeq {
		return fmt.Errorf("%w: superseded by a newer start", ErrStartFailed)
	}
	if err == nil && (res == nil || res.ExamID == "") {
		err = errors.New("empty start response")
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStartFailed, err)
		e.status = Status{Kind: StatusStartFailed, Message: "Failed to start exam", Err: err}
		e.log.Error().Err(err).Msg("Failed to start exam")
		return err
	}

	s := newSession(res, durationSec, e.clock.Now())
	e.activate(s)
	e.log.Info().
		Str("exam_id", s.ExamID).
		Int("questions", len(s.Questions)).
		Int("duration_sec", s.DurationSec).
		Msg("Session started")
	return nil
}

// activate installs s as the active session and starts its countdown. An
// expired session goes straight to finishing, and so does one whose finish
// was already issued before a restart.
func (e *Engine) activate(s *model.ExamSession) {
	e.countdown.stop()
	e.stopRetry()

	if s.Selections == nil {
		s.Selections = model.Selections{}
	}
	if s.SavedMarks == nil {
		s.SavedMarks = map[int]bool{}
	}
	s.CurrentIndex = Clamp(s.CurrentIndex, len(s.Questions))

	e.session = s
	e.phase = PhaseInProgress
	e.revs = revisions{}
	e.status = Status{}
	e.result = nil
	e.finishing = false
	e.attempt = 0
	e.persist()

	if s.Finishing {
		e.remaining = Remaining(s.StartedAt, s.DurationSec, e.clock.Now())
		e.log.Info().Str("exam_id", s.ExamID).Msg("Resuming interrupted finish")
		e.beginFinish(nil)
		return
	}
	e.tick()
	if e.phase == PhaseInProgress {
		e.countdown.start()
	}
}

// tick recomputes the remaining time from the start anchor and finishes the
// session once it reaches zero.
func (e *Engine) tick() {
	if e.phase != PhaseInProgress || e.session == nil {
		return
	}
	e.remaining = Remaining(e.session.StartedAt, e.session.DurationSec, e.clock.Now())
	if e.remaining > 0 {
		return
	}
	e.log.Info().Str("exam_id", e.session.ExamID).Msg("Time is up, finishing")
	e.beginFinish(nil)
}

// Finish ends the session on the authority. It waits for this attempt's
// outcome; automatic retries configured by the retry policy continue in the
// background. Calling it again after a failure retries right away.
func (e *Engine) Finish(ctx context.Context) (*model.FinishResult, error) {
	type outcome struct {
		res *model.FinishResult
		err error
	}
	done := make(chan outcome, 1)

	err := e.do(ctx, func() error {
		switch e.phase {
		case PhaseNoSession:
			return ErrNoSession
		case PhaseFinished:
			return ErrSessionFinished
		case PhaseFinishing:
			if e.finishing {
				return ErrSessionFinishing
			}
			e.attempt = 0
		}
		e.beginFinish(func(res *model.FinishResult, err error) { done <- outcome{res, err} })
		return nil
	})
	if err != nil {
		return nil, err
	}

	out, waitErr := await(ctx, e, done)
	if waitErr != nil {
		return nil, waitErr
	}
	return out.res, out.err
}

// beginFinish stops the countdown before the call is issued so no later tick
// can finish a second time. The session never returns to InProgress.
func (e *Engine) beginFinish(notify func(*model.FinishResult, error)) {
	e.countdown.stop()
	e.stopRetry()

	e.phase = PhaseFinishing
	e.finishing = true
	e.attempt++
	e.status = Status{}
	if !e.session.Finishing {
		e.session.Finishing = true
		e.persist()
	}

	examID := e.session.ExamID
	ctx := e.runCtx
	go func() {
		res, err := e.authority.Finish(ctx, examID)
		e.post(func() {
			res, err := e.completeFinish(examID, res, err)
			if notify != nil {
				notify(res, err)
			}
		})
	}()
}

func (e *Engine) completeFinish(examID string, res *model.FinishResult, err error) (*model.FinishResult, error) {
	if e.session == nil || e.session.ExamID != examID || e.phase != PhaseFinishing {
		e.log.Debug().Str("exam_id", examID).Msg("Discarding finish result for inactive session")
		return nil, fmt.Errorf("%w: session no longer active", ErrFinishFailed)
	}
	e.finishing = false

	if err != nil {
		e.metrics.Finish(metrics.ResultFailed)
		err = fmt.Errorf("%w: %w", ErrFinishFailed, err)
		e.status = Status{Kind: StatusFinishFailed, Message: "Failed to finish exam", Err: err}
		l := e.log.Error().Err(err).Str("exam_id", examID).Int("attempt", e.attempt)
		if e.retry.retries(e.attempt) {
			d := e.retry.delay(e.attempt)
			e.retryTimer = time.NewTimer(d)
			e.retryC = e.retryTimer.C
			l = l.Dur("retry_in", d)
		}
		l.Msg("Failed to finish exam")
		return nil, err
	}

	e.metrics.Finish(metrics.ResultOK)
	e.phase = PhaseFinished
	e.result = res
	e.status = Status{}
	e.clearSnapshot()
	e.log.Info().Str("exam_id", examID).Msg("Session finished")
	return res, nil
}

func (e *Engine) stopRetry() {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.retryTimer = nil
	e.retryC = nil
}

// Abandon drops the session without finishing it on the authority. In-flight
// completions for it are discarded when they arrive.
func (e *Engine) Abandon(ctx context.Context) error {
	return e.do(ctx, func() error {
		if e.session == nil {
			return ErrNoSession
		}
		e.countdown.stop()
		e.stopRetry()
		e.log.Info().Str("exam_id", e.session.ExamID).Msg("Session abandoned")

		e.clearSnapshot()
		e.session = nil
		e.phase = PhaseNoSession
		e.revs = revisions{}
		e.remaining = 0
		e.status = Status{}
		e.result = nil
		e.finishing = false
		e.attempt = 0
		return nil
	})
}

// ─── Answers ────────────────────────────────────────────────────────

// Select toggles optID on question qid. For a single-select question every
// other option is cleared first. The question's saved mark is dropped until
// the new answer is submitted.
func (e *Engine) Select(ctx context.Context, qid, optID string) error {
	return e.do(ctx, func() error {
		if err := e.requireInProgress(); err != nil {
			return err
		}
		idx := questionIndex(e.session, qid)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownQuestion, qid)
		}
		return e.toggle(idx, optID)
	})
}

// Toggle is Select on the current question. It is a no-op on an empty exam.
func (e *Engine) Toggle(ctx context.Context, optID string) error {
	return e.do(ctx, func() error {
		if err := e.requireInProgress(); err != nil {
			return err
		}
		if len(e.session.Questions) == 0 {
			return nil
		}
		return e.toggle(e.session.CurrentIndex, optID)
	})
}

func (e *Engine) toggle(idx int, optID string) error {
	q := &e.session.Questions[idx]
	if !q.HasOption(optID) {
		return fmt.Errorf("%w: %s on %s", ErrUnknownOption, optID, q.ID)
	}
	toggleOption(e.session, idx, optID)
	e.answerChanged(idx)
	return nil
}

// ResetCurrent clears every selection of the current question.
func (e *Engine) ResetCurrent(ctx context.Context) error {
	return e.do(ctx, func() error {
		if err := e.requireInProgress(); err != nil {
			return err
		}
		q := currentQuestion(e.session)
		if q == nil {
			return nil
		}
		delete(e.session.Selections, q.ID)
		e.answerChanged(e.session.CurrentIndex)
		return nil
	})
}

func (e *Engine) answerChanged(idx int) {
	e.revs.bump(e.session.Questions[idx].ID)
	delete(e.session.SavedMarks, idx)
	e.persist()
}

// Submit sends the current question's answer to the authority and returns
// without waiting. The outcome shows up in the view: a saved mark on
// success, a failure status otherwise. Nothing is retried automatically.
func (e *Engine) Submit(ctx context.Context) error {
	return e.do(ctx, func() error {
		if err := e.requireInProgress(); err != nil {
			return err
		}
		q := currentQuestion(e.session)
		if q == nil {
			return nil
		}

		idx := e.session.CurrentIndex
		sub := submission{
			examID:   e.session.ExamID,
			qid:      q.ID,
			idx:      idx,
			rev:      e.revs.bump(q.ID),
			selected: selectedOptionIDs(e.session, idx),
		}
		if e.status.Kind == StatusSubmitFailed {
			e.status = Status{}
		}

		runCtx := e.runCtx
		go func() {
			err := e.authority.SubmitAnswer(runCtx, sub.examID, sub.qid, sub.selected)
			e.post(func() { e.completeSubmit(sub, err) })
		}()
		return nil
	})
}

func (e *Engine) completeSubmit(sub submission, err error) {
	l := e.log.With().Str("exam_id", sub.examID).Str("question_id", sub.qid).Logger()

	if e.session == nil || e.session.ExamID != sub.examID || e.phase == PhaseFinished {
		e.metrics.Submission(metrics.ResultStale)
		l.Debug().Msg("Discarding answer result for inactive session")
		return
	}
	if !e.revs.current(sub.qid, sub.rev) {
		e.metrics.Submission(metrics.ResultStale)
		l.Debug().Msg("Discarding superseded answer result")
		return
	}

	if err != nil {
		e.metrics.Submission(metrics.ResultFailed)
		e.status = Status{
			Kind:       StatusSubmitFailed,
			Message:    "Failed to save answer",
			QuestionID: sub.qid,
			Err:        fmt.Errorf("%w: %w", ErrSubmitFailed, err),
		}
		l.Warn().Err(err).Msg("Failed to save answer")
		return
	}

	e.metrics.Submission(metrics.ResultOK)
	e.session.SavedMarks[sub.idx] = true
	e.persist()
}

// ─── Navigation ─────────────────────────────────────────────────────

// GoTo moves to question i, clamped into range.
func (e *Engine) GoTo(ctx context.Context, i int) error {
	return e.do(ctx, func() error { return e.goTo(func(int, int) int { return i }) })
}

func (e *Engine) Next(ctx context.Context) error {
	return e.do(ctx, func() error { return e.goTo(func(cur, _ int) int { return cur + 1 }) })
}

func (e *Engine) Prev(ctx context.Context) error {
	return e.do(ctx, func() error { return e.goTo(func(cur, _ int) int { return cur - 1 }) })
}

// Jump moves to the 1-based question number in input. Input that is not a
// number is ignored.
func (e *Engine) Jump(ctx context.Context, input string) error {
	return e.do(ctx, func() error {
		if err := e.requireInProgress(); err != nil {
			return err
		}
		idx, ok := ParseJump(input, len(e.session.Questions))
		if !ok {
			return nil
		}
		return e.goTo(func(int, int) int { return idx })
	})
}

// Random moves to a random question other than the current one. It needs at
// least two questions.
func (e *Engine) Random(ctx context.Context) error {
	return e.do(ctx, func() error {
		return e.goTo(func(cur, n int) int {
			if n < 2 {
				return cur
			}
			i := e.intn(n - 1)
			if i >= cur {
				i++
			}
			return i
		})
	})
}

func (e *Engine) goTo(target func(cur, n int) int) error {
	if err := e.requireInProgress(); err != nil {
		return err
	}
	n := len(e.session.Questions)
	if n == 0 {
		return nil
	}
	next := Clamp(target(e.session.CurrentIndex, n), n)
	if next == e.session.CurrentIndex {
		return nil
	}
	e.session.CurrentIndex = next
	e.persist()
	return nil
}

// ─── Read-only display calls ────────────────────────────────────────

// Review fetches the graded record of an exam. Failures never touch the
// session.
func (e *Engine) Review(ctx context.Context, examID string) (*model.ExamDetail, error) {
	d, err := e.authority.GetSession(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	return d, nil
}

// History lists past exams, newest first.
func (e *Engine) History(ctx context.Context, limit, offset int) (*model.ExamList, error) {
	l, err := e.authority.ListExams(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	return l, nil
}

// ─── Snapshot slot ──────────────────────────────────────────────────

// persist writes the active session to the slot. The first failure turns
// persistence off for the rest of the engine's life; the session carries on
// in memory.
func (e *Engine) persist() {
	if !e.persistent || e.session == nil {
		return
	}
	if err := e.snapshots.Save(e.runCtx, e.session); err != nil {
		e.metrics.SnapshotSave(metrics.ResultFailed)
		e.snapshotUnavailable(err)
		return
	}
	e.metrics.SnapshotSave(metrics.ResultOK)
}

func (e *Engine) snapshotUnavailable(err error) {
	if !e.persistent {
		return
	}
	e.persistent = false
	e.log.Warn().Err(err).Msg("Snapshot storage unavailable, continuing in memory")
}

// clearSnapshot empties the slot. It is attempted even after persistence was
// turned off so an older snapshot cannot resurrect a finished exam.
func (e *Engine) clearSnapshot() {
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.Clear(e.runCtx); err != nil {
		e.log.Warn().Err(err).Msg("Failed to clear snapshot")
	}
}
