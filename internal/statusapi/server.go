// Package statusapi serves port signals, reports, health and a live stream of
// poll cycles over HTTP for remote polling hosts.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/procstatus/internal/health"
	"github.com/breeze-rmm/procstatus/internal/logging"
	"github.com/breeze-rmm/procstatus/internal/poller"
	"github.com/breeze-rmm/procstatus/internal/procscan"
	"github.com/breeze-rmm/procstatus/internal/procstatus"
	"github.com/breeze-rmm/procstatus/pkg/api"
)

var log = logging.L("statusapi")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Ports is the read side of a procstatus.Driver.
type Ports interface {
	Port(name string) (*procstatus.Port, bool)
	Ports() []*procstatus.Port
}

// Server is the HTTP front of a driver. The poller and monitor are optional:
// without a poller /v1/stream answers 503, without a monitor /v1/health
// reports unknown.
type Server struct {
	ports   Ports
	poller  *poller.Poller
	monitor *health.Monitor

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu      sync.Mutex
	streams map[*websocket.Conn]struct{}
	closing bool
}

// New creates a server that will listen on addr.
func New(addr string, ports Ports, p *poller.Poller, m *health.Monitor) *Server {
	s := &Server{
		ports:   ports,
		poller:  p,
		monitor: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		streams: make(map[*websocket.Conn]struct{}),
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/ports", s.handlePorts)
	mux.HandleFunc("GET /v1/ports/{port}/signals/{signal}", s.handleSignal)
	mux.HandleFunc("GET /v1/ports/{port}/report", s.handleReport)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	return mux
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	log.Info("status server listening", "addr", ln.Addr().String())
	if err := s.httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes open streams and waits for
// in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for conn := range s.streams {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait),
		)
		conn.Close()
	}
	s.mu.Unlock()

	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports := s.ports.Ports()
	out := make([]api.PortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, PortInfo(p.Info()))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	port, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sig, err := procstatus.ParseSignal(r.PathValue("signal"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	mask := procstatus.AllBits
	if raw := r.URL.Query().Get("mask"); raw != "" {
		m, err := strconv.ParseUint(raw, 0, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("mask must be a 32-bit unsigned integer"))
			return
		}
		mask = uint32(m)
	}

	v, err := port.Read(sig, mask)
	if err != nil {
		writeError(w, readErrorStatus(err), err)
		return
	}

	out := api.SignalValue{Port: port.Name(), Signal: sig.String(), Value: v.String()}
	if sig == procstatus.SignalStatus {
		out.Mask = mask
	}
	writeJSON(w, http.StatusOK, out)
}

func readErrorStatus(err error) int {
	var sae *procscan.ScanAccessError
	switch {
	case errors.Is(err, procstatus.ErrPortDisabled):
		return http.StatusConflict
	case errors.Is(err, procstatus.ErrUnknownSignal):
		return http.StatusNotFound
	case errors.As(err, &sae):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	port, ok := s.lookup(w, r)
	if !ok {
		return
	}
	details := 1
	if raw := r.URL.Query().Get("details"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("details must be an integer"))
			return
		}
		details = d
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	port.Report(w, details)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := api.Health{Status: string(health.Unknown), Ports: map[string]string{}}
	if s.monitor != nil {
		sum := s.monitor.Summary()
		out.Status = string(sum.Status)
		for name, st := range sum.Ports {
			out.Ports[name] = string(st)
		}
		for _, c := range s.monitor.All() {
			out.Checks = append(out.Checks, api.Check{
				Name:      c.Name,
				Status:    string(c.Status),
				Message:   c.Message,
				UpdatedAt: c.UpdatedAt,
				Since:     c.Since,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*procstatus.Port, bool) {
	name := r.PathValue("port")
	port, ok := s.ports.Port(name)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown port "+strconv.Quote(name)))
		return nil, false
	}
	return port, true
}

// PortInfo converts a port description to its wire form.
func PortInfo(info procstatus.Info) api.PortInfo {
	return api.PortInfo{
		Port:          info.Port,
		Process:       info.Process,
		ArgumentIndex: info.ArgumentIndex,
		Pattern:       info.Pattern,
		Initialised:   info.Initialised,
		Error:         info.Error,
	}
}

// Readings converts poll results to their wire form.
func Readings(in []poller.Reading) []api.Reading {
	out := make([]api.Reading, len(in))
	for i, r := range in {
		out[i] = api.Reading{
			Port: r.Port,
			Snapshot: api.Snapshot{
				Status: r.Snapshot.Status,
				Count:  r.Snapshot.Count,
				PID:    r.Snapshot.PID,
			},
			Error: r.Error,
			At:    r.At,
			Cycle: r.Cycle,
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("failed to write response", logging.KeyError, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, api.ErrorBody{Error: err.Error()})
}
