package engine

import (
	"maps"

	"github.com/stemsi/exstem-session/internal/model"
)

// Phase is the session-level state.
type Phase string

const (
	PhaseNoSession  Phase = "no_session"
	PhaseInProgress Phase = "in_progress"
	PhaseFinishing  Phase = "finishing"
	PhaseFinished   Phase = "finished"
)

// StatusKind classifies the transient user-visible status line.
type StatusKind string

const (
	StatusNone         StatusKind = ""
	StatusStartFailed  StatusKind = "start_failed"
	StatusSubmitFailed StatusKind = "submit_failed"
	StatusFinishFailed StatusKind = "finish_failed"
)

// Status is the last network failure, shown until the next attempt. Err
// wraps the matching sentinel (ErrStartFailed, ErrSubmitFailed or
// ErrFinishFailed) around the cause.
type Status struct {
	Kind       StatusKind
	Message    string
	QuestionID string
	Err        error
}

// View is an immutable snapshot of everything the display layer renders.
type View struct {
	Phase        Phase
	ExamID       string
	Total        int
	CurrentIndex int
	Question     *model.Question
	Selected     []string
	Saved        bool
	SavedMarks   map[int]bool
	Answered     []bool
	AnswerCount  int
	Window       []int
	RemainingSec int
	Clock        string
	ProgressPct  int
	Status       Status
	Result       *model.FinishResult
	// Persistent is false once the snapshot slot has failed a write.
	Persistent bool
}

// buildView projects the loop-owned state. Called only from the loop.
func (e *Engine) buildView() View {
	v := View{
		Phase:        e.phase,
		RemainingSec: e.remaining,
		Clock:        FormatClock(e.remaining),
		Status:       e.status,
		Result:       e.result,
		Persistent:   e.persistent,
		Window:       []int{},
		SavedMarks:   map[int]bool{},
	}
	s := e.session
	if s == nil {
		return v
	}

	n := len(s.Questions)
	v.ExamID = s.ExamID
	v.Total = n
	v.CurrentIndex = s.CurrentIndex
	v.Window = VisibleWindow(s.CurrentIndex, n)
	v.ProgressPct = ProgressPct(s.CurrentIndex, n)
	v.SavedMarks = maps.Clone(s.SavedMarks)
	v.Answered = make([]bool, n)
	for i := range n {
		v.Answered[i] = isAnswered(s, i)
	}
	v.AnswerCount = answeredCount(s)
	if q := currentQuestion(s); q != nil {
		v.Question = q
		v.Selected = selectedOptionIDs(s, s.CurrentIndex)
		v.Saved = s.SavedMarks[s.CurrentIndex]
	}
	return v
}

// publish stores the current view and offers it to every subscriber. A slow
// subscriber only ever holds the latest view.
func (e *Engine) publish() {
	v := e.buildView()

	e.viewMu.Lock()
	e.view = v
	e.viewMu.Unlock()

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// View returns the latest published view. Safe from any goroutine.
func (e *Engine) View() View {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	return e.view
}

// Subscribe returns a channel that receives the view after every change,
// and a func that cancels the subscription. The channel is closed on
// cancel or when the engine stops.
func (e *Engine) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)

	e.subsMu.Lock()
	if e.subs == nil {
		e.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- e.View()
	e.subsMu.Unlock()

	return ch, func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

func (e *Engine) closeSubscribers() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	e.subs = nil
}
