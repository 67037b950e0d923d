package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// ErrStreamClosed is returned for saves that were in flight when the
// answer stream dropped.
var ErrStreamClosed = errors.New("answer stream closed")

// WSAnswers submits answers over the authority's per-exam WebSocket stream.
// One connection is kept per exam and redialed lazily after a drop.
type WSAnswers struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	log     zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	examID  string
	pending map[string]chan ws.ResponseEnvelope

	writeMu sync.Mutex
}

// NewWSAnswers builds a transport for baseURL (e.g. ws://host/ws/v1).
func NewWSAnswers(baseURL, token string, log zerolog.Logger) *WSAnswers {
	return &WSAnswers{
		baseURL: baseURL,
		token:   token,
		dialer:  websocket.DefaultDialer,
		log:     log.With().Str("component", "ws_answers").Logger(),
		pending: make(map[string]chan ws.ResponseEnvelope),
	}
}

func (w *WSAnswers) SubmitAnswer(ctx context.Context, examID, questionID string, selected []string) error {
	if selected == nil {
		selected = []string{}
	}

	conn, err := w.connFor(ctx, examID)
	if err != nil {
		return err
	}

	ref := uuid.NewString()
	ch := make(chan ws.ResponseEnvelope, 1)
	w.mu.Lock()
	w.pending[ref] = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, ref)
		w.mu.Unlock()
	}()

	w.writeMu.Lock()
	err = ws.WriteTyped(conn, ws.AutosaveRequest{
		Action:   ws.ActionAutosave,
		Ref:      ref,
		QID:      questionID,
		Selected: selected,
	})
	w.writeMu.Unlock()
	if err != nil {
		w.drop(conn)
		return fmt.Errorf("write autosave: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrStreamClosed
		}
		if resp.Event == ws.EventError {
			return fmt.Errorf("autosave rejected: %s", resp.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops the current connection, failing anything in flight.
func (w *WSAnswers) Close() {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		w.drop(conn)
	}
}

func (w *WSAnswers) connFor(ctx context.Context, examID string) (*websocket.Conn, error) {
	w.mu.Lock()
	if w.conn != nil && w.examID == examID {
		conn := w.conn
		w.mu.Unlock()
		return conn, nil
	}
	old := w.conn
	w.mu.Unlock()
	if old != nil {
		w.drop(old)
	}

	u := w.baseURL + "/exams/" + url.PathEscape(examID) + "/stream?token=" + url.QueryEscape(w.token)
	conn, _, err := w.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial answer stream: %w", err)
	}

	w.mu.Lock()
	if w.conn != nil && w.examID == examID {
		// Lost a race with another dial for the same exam; keep theirs.
		existing := w.conn
		w.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	replaced := w.conn
	w.conn = conn
	w.examID = examID
	w.mu.Unlock()
	if replaced != nil {
		replaced.Close()
	}

	w.log.Debug().Str("exam_id", examID).Msg("Answer stream connected")
	go w.readLoop(conn)
	return conn, nil
}

func (w *WSAnswers) readLoop(conn *websocket.Conn) {
	for {
		var env ws.ResponseEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.log.Warn().Err(err).Msg("Answer stream closed unexpectedly")
			}
			w.drop(conn)
			return
		}
		if env.Ref == "" {
			continue
		}

		w.mu.Lock()
		ch, ok := w.pending[env.Ref]
		delete(w.pending, env.Ref)
		w.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}

// drop closes conn and, if it is still the current connection, fails every
// pending save.
func (w *WSAnswers) drop(conn *websocket.Conn) {
	w.mu.Lock()
	if w.conn == conn {
		w.conn = nil
		w.examID = ""
		for ref, ch := range w.pending {
			close(ch)
			delete(w.pending, ref)
		}
	}
	w.mu.Unlock()
	conn.Close()
}
