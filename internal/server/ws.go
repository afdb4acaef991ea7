package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/maigret-api/internal/models"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 512
)

// handleWatch streams a session's events over a WebSocket. The current
// snapshot is sent first; the stream ends after a terminal event.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Supervisor.Session(id); err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "session_id", id, "error", err)
		return
	}

	sub := s.deps.Notifier.Subscribe(id)
	logger := s.logger.With("session_id", id)
	logger.Debug("observer connected", "remote", r.RemoteAddr)

	inbound := make(chan struct{})
	defer func() {
		s.deps.Notifier.Unsubscribe(sub)
		_ = conn.Close()
		<-inbound
		logger.Debug("observer disconnected")
	}()
	go s.readLoop(conn, inbound)

	// Read after subscribing so no update falls between snapshot and stream.
	sess, err := s.deps.Supervisor.Session(id)
	if err != nil {
		return
	}
	last := models.EventFor(sess)
	if err := writeEvent(conn, last); err != nil || last.Terminal() {
		closeNormal(conn, "search finished")
		return
	}

	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				// Replaced, dropped as slow, or closed after a terminal event
				// we did not see. The store has the final word.
				if sess, err := s.deps.Supervisor.Session(id); err == nil && sess.Status.Terminal() {
					_ = writeEvent(conn, models.EventFor(sess))
				}
				closeNormal(conn, "stream closed")
				return
			}
			if !ev.Terminal() && ev.Data.Progress < last.Data.Progress {
				continue
			}
			last = ev
			if err := writeEvent(conn, ev); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
			if ev.Terminal() {
				closeNormal(conn, "search finished")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-inbound:
			return
		case <-s.quit:
			closeNormal(conn, "server shutting down")
			return
		}
	}
}

// readLoop drains client messages, which are only keep-alives, and closes
// done when the connection goes away.
func (s *Server) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxInboundSize)
	idle := 3 * s.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))
	}
}

func writeEvent(conn *websocket.Conn, ev models.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func closeNormal(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
