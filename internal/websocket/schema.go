package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest upserts the answer of one question. Ref is chosen by the
// client and echoed back on the matching ack so several saves can be in
// flight on one connection.
type AutosaveRequest struct {
	Action   Action   `json:"action"`
	Ref      string   `json:"ref"`
	QID      string   `json:"q_id"`
	Selected []string `json:"selected"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSuccess Event = "success"
	EventPong    Event = "pong"
)

type AutosaveResponse struct {
	Event  Event  `json:"event"`
	Ref    string `json:"ref"`
	Status string `json:"status"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Ref   string `json:"ref,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

// ResponseEnvelope is the client-side view of any server event.
type ResponseEnvelope struct {
	Event  Event  `json:"event"`
	Ref    string `json:"ref,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}
