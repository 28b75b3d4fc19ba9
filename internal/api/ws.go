package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// The zero CheckOrigin rejects cross-origin upgrades.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocket message types to client.
const (
	wsMsgStatus  = "status"
	wsMsgDecided = "decided"
)

const wsWriteWait = 5 * time.Second

// wsMessage is the envelope for WebSocket messages.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type wsStatus struct {
	Decided bool `json:"decided"`
}

type wsDecided struct {
	Approved bool `json:"approved"`
}

// handleWebSocket tells a tab whether the session is still open and pushes
// one event when the decision lands, so stale tabs can close themselves.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	broker := s.session.Decision
	if !s.sendWSMessage(conn, wsMsgStatus, wsStatus{Decided: broker.Settled()}) {
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug().Err(err).Msg("websocket read")
				}
				return
			}
		}
	}()

	select {
	case <-broker.Done():
		d, _ := broker.Peek()
		s.sendWSMessage(conn, wsMsgDecided, wsDecided{Approved: d.Approved})
		s.closeWS(conn, websocket.CloseNormalClosure, "decided")
	case <-s.quit:
		s.closeWS(conn, websocket.CloseGoingAway, "server stopping")
	case <-gone:
	}
}

func (s *Server) sendWSMessage(conn *websocket.Conn, msgType string, data any) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		s.log.Error().Err(err).Msg("ws marshal")
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(wsMessage{Type: msgType, Data: raw}); err != nil {
		s.log.Debug().Err(err).Msg("ws write")
		return false
	}
	return true
}

func (s *Server) closeWS(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil {
		s.log.Debug().Err(err).Msg("ws close")
	}
}
