package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/procstatus/internal/httputil"
	"github.com/breeze-rmm/procstatus/internal/logging"
	"github.com/breeze-rmm/procstatus/pkg/api"
)

var log = logging.L("websocket")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 512 * 1024
)

// Config holds stream subscriber configuration.
type Config struct {
	// StreamURL is the ws:// or wss:// URL of a status server's /v1/stream.
	StreamURL string
	// Backoff governs reconnects; MaxRetries is ignored, the subscriber
	// retries until stopped.
	Backoff httputil.RetryPolicy
}

// DefaultBackoff is the reconnect policy used when Config.Backoff is zero.
func DefaultBackoff() httputil.RetryPolicy {
	return httputil.RetryPolicy{
		InitialDelay:  1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// CycleHandler receives the readings of one poll cycle.
type CycleHandler func([]api.Reading)

// Subscriber follows a status server's stream, reconnecting as needed.
type Subscriber struct {
	config    Config
	handler   CycleHandler
	conn      *websocket.Conn
	connMu    sync.Mutex
	done      chan struct{}
	stopOnce  sync.Once
	isRunning bool
	runningMu sync.Mutex
}

// New creates a subscriber. handler runs on the read goroutine.
func New(cfg Config, handler CycleHandler) *Subscriber {
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Subscriber{
		config:  cfg,
		handler: handler,
		done:    make(chan struct{}),
	}
}

// Start connects and delivers cycles until Stop. It blocks.
func (s *Subscriber) Start() {
	s.runningMu.Lock()
	if s.isRunning {
		s.runningMu.Unlock()
		return
	}
	s.isRunning = true
	s.runningMu.Unlock()

	s.reconnectLoop()
}

// Stop closes the connection and ends Start.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)

		s.connMu.Lock()
		if s.conn != nil {
			s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()

		log.Info("subscriber stopped")
	})
}

func (s *Subscriber) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscriber) connect() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(s.config.StreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	s.connMu.Lock()
	if s.stopped() {
		s.connMu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("subscriber is stopped")
	}
	s.conn = conn
	s.connMu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	log.Info("connected", "url", s.config.StreamURL)
	return conn, nil
}

func (s *Subscriber) reconnectLoop() {
	backoff := s.config.Backoff.InitialDelay

	for !s.stopped() {
		conn, err := s.connect()
		if err != nil {
			if s.stopped() {
				return
			}
			sleep := httputil.Jitter(backoff, s.config.Backoff.JitterFrac)
			log.Warn("connection failed", logging.KeyError, err, "retryIn", sleep)
			select {
			case <-s.done:
				return
			case <-time.After(sleep):
			}
			backoff = s.config.Backoff.Next(backoff)
			continue
		}

		backoff = s.config.Backoff.InitialDelay
		s.readPump(conn)

		s.connMu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.connMu.Unlock()
		conn.Close()
	}
}

// readPump decodes frames until the connection fails. Server pings are
// answered by the default ping handler.
func (s *Subscriber) readPump(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", logging.KeyError, err)
			}
			return
		}

		var cycle []api.Reading
		if err := json.Unmarshal(message, &cycle); err != nil {
			log.Warn("failed to parse stream frame", logging.KeyError, err)
			continue
		}
		s.handler(cycle)
	}
}
