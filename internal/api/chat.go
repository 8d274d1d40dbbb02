package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satchelhq/satchel/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The identity proxy terminates origins before us.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// chatInbound is one client submit.
type chatInbound struct {
	Text string `json:"text"`
}

// chatOutbound is a server frame: streamed tokens, the final turn, or
// an error.
type chatOutbound struct {
	Type      string `json:"type"` // "token", "turn", "error"
	Text      string `json:"text,omitempty"`
	HTML      string `json:"html,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// handleChat upgrades to a WebSocket and runs one staff chat session
// for the lifetime of the connection. Each inbound message is an
// explicit submit; there is no debounce in chat mode.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "chat not configured")
		return
	}

	role, err := roleFor(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.chat.Open(role)
	if err != nil {
		if errors.Is(err, orchestrator.ErrChatForbidden) {
			s.errorResponse(w, http.StatusForbidden, err.Error())
			return
		}
		s.errorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer s.chat.Close(session.ID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.writeFrame(conn, chatOutbound{Type: "turn", SessionID: session.ID})

	for {
		var in chatInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("chat connection closed", "session_id", session.ID, "error", err)
			}
			return
		}
		if in.Text == "" {
			continue
		}

		reply, err := session.Send(r.Context(), in.Text, func(token string) {
			s.writeFrame(conn, chatOutbound{Type: "token", Text: token})
		})
		if err != nil {
			s.logger.Warn("chat turn failed", "session_id", session.ID, "error", err)
			s.writeFrame(conn, chatOutbound{Type: "error", Text: "model unavailable, try again"})
			continue
		}

		s.writeFrame(conn, chatOutbound{
			Type:      "turn",
			Text:      reply,
			HTML:      renderAnswer(reply),
			SessionID: session.ID,
		})
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, frame chatOutbound) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(frame); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
	}
}
