// Package ipc implements the unix-socket control channel: one JSON request
// per connection, full-buffer response.
package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/screentimed/internal/domain"
	"github.com/eliteGoblin/screentimed/internal/logbuf"
)

const socketFileName = "screentimed.sock"

// connDeadline bounds a single request/response exchange.
const connDeadline = 2 * time.Second

// SocketPath returns the control socket location for a data directory.
func SocketPath(dataDir string) string {
	return filepath.Join(dataDir, socketFileName)
}

// Request is the control channel message shape.
type Request struct {
	Cmd          string `json:"cmd"`
	Lines        int    `json:"lines,omitempty"`
	MorningEnd   string `json:"morning_end,omitempty"`
	EveningStart string `json:"evening_start,omitempty"`
	Minutes      int    `json:"minutes,omitempty"`
}

// Response is the control channel reply shape. Fields beyond Status are
// command-specific.
type Response struct {
	Status       string                       `json:"status"`
	Message      string                       `json:"message,omitempty"`
	Lines        int                          `json:"lines,omitempty"`
	Total        int                          `json:"total,omitempty"`
	Logs         []string                     `json:"logs,omitempty"`
	Stats        *domain.Stats                `json:"stats,omitempty"`
	Modification *domain.RestTimeModification `json:"modification,omitempty"`
	NewLimit     int                          `json:"new_limit,omitempty"`
}

// Controller is the daemon surface the control channel may touch: flag
// signaling only, never direct state mutation.
type Controller interface {
	RequestReload()
	RequestShutdown()
}

// UsageQuerier is the tracker surface served over the control channel.
type UsageQuerier interface {
	Stats() domain.Stats
	ModifyRestTime(newMorningEnd, newEveningStart string) (*domain.RestTimeModification, error)
	SetTemporaryAdjustment(minutes int) int
}

// Server listens on the control socket and dispatches commands.
type Server struct {
	path       string
	ring       *logbuf.Ring
	controller Controller
	usage      UsageQuerier
	logger     *zap.Logger

	listener net.Listener
}

// NewServer creates a control server for the given data directory.
func NewServer(dataDir string, ring *logbuf.Ring, controller Controller, usage UsageQuerier, logger *zap.Logger) *Server {
	return &Server{
		path:       SocketPath(dataDir),
		ring:       ring,
		controller: controller,
		usage:      usage,
		logger:     logger,
	}
}

// Start binds the socket and serves connections in the background.
func (s *Server) Start() error {
	// A stale socket from a crashed daemon blocks the bind.
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on control socket: %w", err)
	}
	s.listener = listener
	s.logger.Info("control socket listening", zap.String("path", s.path))

	go s.serve()
	return nil
}

// Stop closes the listener and removes the socket file.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	_ = os.Remove(s.path)
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("control socket accept failed", zap.Error(err))
			continue
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connDeadline))

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		s.respond(conn, Response{Status: "error", Message: "malformed request"})
		return
	}
	data := bytes.TrimSpace(buf[:n])

	// Accept a bare command name as well as the JSON request shape.
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		req = Request{Cmd: string(data)}
	}
	req.Cmd = strings.ToLower(req.Cmd)

	s.logger.Debug("control command received", zap.String("cmd", req.Cmd))
	s.respond(conn, s.dispatch(req))
}

func (s *Server) respond(conn net.Conn, resp Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warn("control response write failed", zap.Error(err))
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "logs", "get_logs":
		logs := s.ring.Last(req.Lines)
		return Response{
			Status: "ok",
			Lines:  len(logs),
			Total:  s.ring.Len(),
			Logs:   logs,
		}

	case "reload", "reload_config":
		s.controller.RequestReload()
		return Response{Status: "ok", Message: "configuration reload scheduled"}

	case "terminate", "stop", "shutdown":
		s.controller.RequestShutdown()
		return Response{Status: "ok", Message: "shutting down"}

	case "stats", "get_stats":
		stats := s.usage.Stats()
		return Response{Status: "ok", Stats: &stats}

	case "modify_rest_time":
		mod, err := s.usage.ModifyRestTime(req.MorningEnd, req.EveningStart)
		if err != nil {
			return Response{Status: "error", Message: err.Error()}
		}
		return Response{
			Status:       "ok",
			Message:      fmt.Sprintf("daily limit adjusted to %ds", mod.AdjustedLimit),
			Modification: mod,
		}

	case "set_bonus_time":
		newLimit := s.usage.SetTemporaryAdjustment(req.Minutes)
		return Response{Status: "ok", NewLimit: newLimit}

	default:
		return Response{Status: "error", Message: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}
