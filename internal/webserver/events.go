package webserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"demo-chatter/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// eventSession streams state snapshots to one WebSocket client. The send
// buffer holds at most one snapshot, always the newest.
type eventSession struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	ws   *WebServer
}

func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("failed to upgrade websocket connection", "error", err)
		return
	}
	ws.logger.Info("websocket connected", "remote_addr", conn.RemoteAddr().String())

	session := &eventSession{
		conn: conn,
		send: make(chan []byte, 1),
		done: make(chan struct{}),
		ws:   ws,
	}

	unsubscribe := ws.store.Watch(session.enqueue)

	go session.writePump()
	go session.readPump(unsubscribe)
}

// enqueue runs under the store's commit lock, so calls never overlap. A slow
// client skips intermediate snapshots but always ends on the latest one.
func (s *eventSession) enqueue(st store.State) {
	data, err := json.Marshal(st)
	if err != nil {
		s.ws.logger.Error("failed to encode state", "error", err)
		return
	}
	for {
		select {
		case s.send <- data:
			return
		case <-s.done:
			return
		default:
		}
		select {
		case <-s.send:
			s.ws.logger.Debug("websocket client behind, replacing queued state", "remote_addr", s.conn.RemoteAddr())
		default:
		}
	}
}

// readPump only watches for the client going away; inbound messages are ignored.
func (s *eventSession) readPump(unsubscribe store.Unsubscriber) {
	defer func() {
		unsubscribe()
		close(s.done)
		s.conn.Close()
		s.ws.logger.Info("websocket closed", "remote_addr", s.conn.RemoteAddr())
	}()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.ws.logger.Error("websocket read error", "remote_addr", s.conn.RemoteAddr(), "error", err)
			}
			return
		}
	}
}

func (s *eventSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.ws.logger.Error("websocket write error", "remote_addr", s.conn.RemoteAddr(), "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		case <-s.ws.appCtx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
