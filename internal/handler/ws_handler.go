package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// FrameLimiter budgets frames per user. middleware.RateLimiter satisfies it.
type FrameLimiter interface {
	Allow(key string) bool
}

// WSHandler handles WebSocket answer streaming.
type WSHandler struct {
	exams    ExamService
	limiter  FrameLimiter
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. limiter may be nil.
func NewWSHandler(exams ExamService, limiter FrameLimiter, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		exams:    exams,
		limiter:  limiter,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/exams/:exam_id/stream
// Upgrades to WebSocket for answer autosave. Every autosave is acked with
// the ref the client chose.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
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

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("user_id", claims.UserID).
		Str("exam_id", examID.String()).
		Logger()
	wsLog.Info().Msg("Client connected")

	ctx := c.Request.Context()
	for {
		var msg ws.AutosaveRequest
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionPing:
			err = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		case ws.ActionAutosave:
			err = h.handleAutosave(ctx, conn, claims.UserID, examID, &msg)
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			err = ws.WriteError(conn, msg.Ref, "unknown action: "+string(msg.Action))
		}
		if err != nil {
			wsLog.Warn().Err(err).Msg("Write failed")
			return
		}
	}
}

// handleAutosave saves one answer and acks it. Rejections are reported on the
// stream; only write failures end the connection.
func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, userID string, examID uuid.UUID, msg *ws.AutosaveRequest) error {
	if msg.QID == "" {
		return ws.WriteError(conn, msg.Ref, "q_id is required")
	}
	if h.limiter != nil && !h.limiter.Allow("user:"+userID) {
		return ws.WriteError(conn, msg.Ref, response.GetMessage(response.ErrRateLimitExceeded))
	}

	if err := h.exams.SaveAnswer(ctx, userID, examID, msg.QID, msg.Selected); err != nil {
		status, code := statusFor(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Autosave failed")
			return ws.WriteError(conn, msg.Ref, "save failed")
		}
		return ws.WriteError(conn, msg.Ref, response.GetMessage(code))
	}

	return ws.WriteTyped(conn, ws.AutosaveResponse{
		Event:  ws.EventSuccess,
		Ref:    msg.Ref,
		Status: "saved",
	})
}
