package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/snapshot"
	"github.com/stretchr/testify/require"
)

var errNetwork = errors.New("network unreachable")

// makeQuestions builds n questions with options A-D. q2 is multi-select.
func makeQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:          fmt.Sprintf("q%d", i+1),
			Text:        fmt.Sprintf("Question %d", i+1),
			MultiSelect: i == 1,
			Options: []model.Option{
				{ID: "A", Text: "first"},
				{ID: "B", Text: "second"},
				{ID: "C", Text: "third"},
				{ID: "D", Text: "fourth"},
			},
		}
	}
	return qs
}

// cloneSession deep-copies the loop-owned session so assertions never race
// the engine. Questions are shared.
func cloneSession(s *model.ExamSession) *model.ExamSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Selections = make(model.Selections, len(s.Selections))
	for qid, opts := range s.Selections {
		cp.Selections[qid] = maps.Clone(opts)
	}
	cp.SavedMarks = maps.Clone(s.SavedMarks)
	return &cp
}

type submitCall struct {
	examID, qid string
	selected    []string
}

// fakeAuthority is a scriptable remote. Gates hold calls in flight until
// the test closes them.
type fakeAuthority struct {
	mu          sync.Mutex
	startCalls  int
	startErr    error
	submitErr   error
	submitGate  chan struct{}
	submits     []submitCall
	finishCalls int
	finishErrs  []error
	finishGate  chan struct{}
	reviewErr   error
}

func (a *fakeAuthority) Start(_ context.Context, count, durationSec int) (*model.StartExamResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startCalls++
	if a.startErr != nil {
		return nil, a.startErr
	}
	return &model.StartExamResponse{
		ExamID:      fmt.Sprintf("exam-%d", a.startCalls),
		DurationSec: durationSec,
		Questions:   makeQuestions(count),
	}, nil
}

func (a *fakeAuthority) SubmitAnswer(ctx context.Context, examID, qid string, selected []string) error {
	a.mu.Lock()
	gate := a.submitGate
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.submits = append(a.submits, submitCall{examID, qid, selected})
	return a.submitErr
}

func (a *fakeAuthority) Finish(ctx context.Context, examID string) (*model.FinishResult, error) {
	a.mu.Lock()
	a.finishCalls++
	gate := a.finishGate
	var err error
	if len(a.finishErrs) > 0 {
		err, a.finishErrs = a.finishErrs[0], a.finishErrs[1:]
	}
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &model.FinishResult{ScorePercent: 50, Correct: 1, Wrong: 1}, nil
}

func (a *fakeAuthority) GetSession(_ context.Context, examID string) (*model.ExamDetail, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reviewErr != nil {
		return nil, a.reviewErr
	}
	return &model.ExamDetail{ExamID: examID}, nil
}

func (a *fakeAuthority) ListExams(_ context.Context, limit, offset int) (*model.ExamList, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reviewErr != nil {
		return nil, a.reviewErr
	}
	return &model.ExamList{Limit: limit, Offset: offset}, nil
}

func (a *fakeAuthority) set(fn func(a *fakeAuthority)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a)
}

func (a *fakeAuthority) submitCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.submits)
}

func (a *fakeAuthority) lastSubmit() submitCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submits[len(a.submits)-1]
}

func (a *fakeAuthority) finishCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finishCalls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type manualTicker struct {
	c       chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *manualTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type tickerFactory struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (f *tickerFactory) newTicker(time.Duration) Ticker {
	t := &manualTicker{c: make(chan time.Time)}
	f.mu.Lock()
	f.tickers = append(f.tickers, t)
	f.mu.Unlock()
	return t
}

func (f *tickerFactory) latest() *manualTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tickers) == 0 {
		return nil
	}
	return f.tickers[len(f.tickers)-1]
}

func (f *tickerFactory) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tickers {
		if !t.isStopped() {
			n++
		}
	}
	return n
}

// failingStore refuses every write.
type failingStore struct {
	mu     sync.Mutex
	clears int
}

func (s *failingStore) Save(context.Context, *model.ExamSession) error {
	return errors.New("disk full")
}

func (s *failingStore) Load(context.Context) (*model.ExamSession, error) { return nil, nil }

func (s *failingStore) Clear(context.Context) error {
	s.mu.Lock()
	s.clears++
	s.mu.Unlock()
	return nil
}

func (s *failingStore) clearCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

type harness struct {
	t       *testing.T
	eng     *Engine
	auth    *fakeAuthority
	store   snapshot.Store
	clock   *fakeClock
	tickers *tickerFactory

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, auth *fakeAuthority, store snapshot.Store, clock *fakeClock, opts ...Option) *harness {
	t.Helper()
	if auth == nil {
		auth = &fakeAuthority{}
	}
	if store == nil {
		store = snapshot.NewMemoryStore()
	}
	if clock == nil {
		clock = &fakeClock{now: epoch}
	}
	h := &harness{
		t:       t,
		auth:    auth,
		store:   store,
		clock:   clock,
		tickers: &tickerFactory{},
		done:    make(chan struct{}),
	}
	base := []Option{WithClock(clock), WithTicker(h.tickers.newTicker), WithLogger(zerolog.Nop())}
	h.eng = New(auth, store, append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.eng.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		<-h.done
	})
}

func (h *harness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	h.t.Cleanup(cancel)
	return ctx
}

func (h *harness) start(count, durationSec int) {
	h.t.Helper()
	require.NoError(h.t, h.eng.Start(h.ctx(), count, durationSec))
}

// fire delivers one tick. It reports false when no live ticker took it.
func (h *harness) fire() bool {
	tk := h.tickers.latest()
	if tk == nil {
		return false
	}
	select {
	case tk.c <- time.Time{}:
		h.sync()
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

// sync waits until every event queued so far has been handled.
func (h *harness) sync() {
	h.t.Helper()
	require.NoError(h.t, h.eng.do(h.ctx(), func() error { return nil }))
}

func (h *harness) session() *model.ExamSession {
	h.t.Helper()
	var s *model.ExamSession
	require.NoError(h.t, h.eng.do(h.ctx(), func() error {
		s = cloneSession(h.eng.session)
		return nil
	}))
	return s
}

func (h *harness) eventually(cond func() bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
