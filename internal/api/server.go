package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"captioner/internal/connection"
	"captioner/internal/logging"
	"captioner/internal/node"
	"captioner/internal/task"
)

const maxBodyBytes = 1 << 20

// Connection is the slice of connection.Manager the API drives.
type Connection interface {
	Connect(ctx context.Context, address string) error
	Disconnect()
	Status() connection.Status
}

// Node is the slice of node.Service the API drives.
type Node interface {
	Status() node.Status
	StartSubtitize(req task.Request) int64
	StopSubtitize(id int64) node.StopResult
}

// Server is the local control surface.
type Server struct {
	bind           string
	conn           Connection
	node           Node
	metrics        http.Handler
	connectTimeout time.Duration
	validate       *validator.Validate
	logger         *slog.Logger

	handler  http.Handler
	listener net.Listener
	server   *http.Server
}

// Options configure a Server.
type Options struct {
	Bind           string
	Metrics        http.Handler
	ConnectTimeout time.Duration
}

// NewServer builds the router. Metrics may be nil.
func NewServer(conn Connection, n Node, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		bind:           strings.TrimSpace(opts.Bind),
		conn:           conn,
		node:           n,
		metrics:        opts.Metrics,
		connectTimeout: opts.ConnectTimeout,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		logger:         logging.NewComponentLogger(logger, "api-server"),
	}
	if s.connectTimeout <= 0 {
		s.connectTimeout = 30 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.allowMethods(s.handleHealth, http.MethodGet))
	mux.HandleFunc("/set-master", s.allowMethods(s.handleSetMaster, http.MethodGet))
	mux.HandleFunc("/disconnect-master", s.allowMethods(s.handleDisconnect, http.MethodGet, http.MethodPost))
	mux.HandleFunc("/status", s.allowMethods(s.handleStatus, http.MethodGet))
	mux.HandleFunc("/api/rpc/start-subtitize", s.allowMethods(s.handleStart, http.MethodPost))
	mux.HandleFunc("/api/rpc/stop-subtitize", s.allowMethods(s.handleStop, http.MethodPost))
	mux.HandleFunc("/api/rpc/get-status", s.allowMethods(s.handleGetStatus, http.MethodGet))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	s.handler = withRequestID(s.logger, mux)
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the bind address and serves until ctx is done or Stop.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.connectTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Success: true, Status: "healthy"})
}

func (s *Server) handleSetMaster(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("url"))
	if address == "" {
		s.writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.connectTimeout)
	defer cancel()
	if err := s.conn.Connect(ctx, address); err != nil {
		logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "connect to coordinator failed", "coordinator_connect_failed",
			logging.String("master_url", address),
			logging.Error(err),
			logging.String(logging.FieldImpact, "node stays disconnected"),
		)
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("connect to master failed: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, SetMasterResponse{
		Success:   true,
		Message:   "connected to master: " + address,
		MasterURL: address,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.conn.Disconnect()
	s.writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "disconnected from master"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	conn := s.conn.Status()
	worker := s.node.Status()
	s.writeJSON(w, http.StatusOK, StatusResponse{
		Success:     true,
		IsConnected: conn.Connected,
		MasterURL:   conn.Address,
		Connection:  string(conn.State),
		Reconnects:  conn.Reconnects,
		Status:      worker.Status,
		CurrentTask: worker.CurrentTask,
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.node.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "missing required fields: video_path, raw_subtitle_path")
		return
	}
	id := s.node.StartSubtitize(task.Request{
		VideoPath:              req.VideoPath,
		RawSubtitlePath:        req.RawSubtitlePath,
		TranslatedSubtitlePath: req.TranslatedSubtitlePath,
		Language:               req.Language,
	})
	s.writeJSON(w, http.StatusOK, StartResponse{Success: id > 0, TaskID: id, Message: startMessage(id)})
}

func startMessage(id int64) string {
	switch {
	case id > 0:
		return fmt.Sprintf("task started: task_id=%d", id)
	case id == task.CodeAlreadyRunning:
		return "a task is already running"
	case id == task.CodeInvalidArgs:
		return "invalid arguments"
	default:
		return "failed to launch executor"
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "missing parameter: task_id")
		return
	}
	s.writeJSON(w, http.StatusOK, s.node.StopSubtitize(*req.TaskID))
}

// decodeBody reads a JSON object, answering 400 for a missing or malformed
// body.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(strings.TrimSpace(string(body))) == 0 || strings.TrimSpace(string(body)) == "null" {
		s.writeError(w, http.StatusBadRequest, "missing request body")
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Success: false, Error: message})
}
