package statusapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/procstatus/internal/logging"
)

// handleStream upgrades to a WebSocket and pushes every poll cycle as a JSON
// array of readings. The latest known readings are sent first so a new
// subscriber does not wait a full interval for data.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("polling is not running"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Debug("stream upgrade failed", logging.KeyError, err)
		return
	}
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	remote := conn.RemoteAddr().String()
	log.Info("stream subscriber connected", "remote", remote)
	defer log.Info("stream subscriber disconnected", "remote", remote)

	cycles, unsubscribe := s.poller.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go s.readPump(conn, done)

	if latest := s.poller.All(); len(latest) > 0 {
		if err := writeFrame(conn, Readings(latest)); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case cycle, ok := <-cycles:
			if !ok {
				return
			}
			if err := writeFrame(conn, Readings(cycle)); err != nil {
				log.Debug("stream write failed", "remote", remote, logging.KeyError, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so control messages are processed and
// closes done when the peer goes away.
func (s *Server) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("stream read error", logging.KeyError, err)
			}
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.streams[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.streams, conn)
	s.mu.Unlock()
	conn.Close()
}
