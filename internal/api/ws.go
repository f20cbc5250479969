package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slyngg/adpilot/internal/agent"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from the operator dashboard on another
	// origin; identity still comes from the user header or default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleChatWS serves the same turn protocol over a WebSocket: the
// client sends one ChatRequest frame per turn and receives the turn's
// event sequence as JSON frames. A dropped connection cancels the turn
// at its next checkpoint, exactly like an SSE disconnect.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	user := s.user(r)

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		if strings.TrimSpace(req.Message) == "" {
			if err := conn.WriteJSON(agent.Event{Type: agent.EventError, Message: "message is required"}); err != nil {
				return
			}
			continue
		}

		// A dead peer surfaces as a write failure; the emitter error
		// makes the driver wind the turn down at its next checkpoint,
		// the same way an SSE disconnect does.
		emitter := agent.EmitterFunc(func(e agent.Event) error {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			return conn.WriteJSON(e)
		})
		runErr := s.driver.Run(r.Context(), agent.Request{
			ConversationID: req.ConversationID,
			Message:        req.Message,
			User:           user,
		}, emitter)
		if runErr != nil {
			s.logger.Debug("websocket turn ended with error", "error", runErr)
		}
	}
}
