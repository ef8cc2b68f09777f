package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mdtaxnav/navigator/bus"
	"github.com/mdtaxnav/navigator/health"
	"github.com/mdtaxnav/navigator/logging"
	"github.com/mdtaxnav/navigator/queue"
	"github.com/mdtaxnav/navigator/search"
	"github.com/mdtaxnav/navigator/store"
	"github.com/mdtaxnav/navigator/telemetry"
)

// ErrInvalidConfig is returned when required fields are missing.
var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
)

// Config wires the admin API server.
type Config struct {
	// Addr is the listen address. Default: ":8080".
	Addr string

	// Store is the relational store (required).
	Store *store.DB

	// Queue is the submission queue (required).
	Queue queue.Manager

	// Search serves the full-text search endpoint. Optional; without
	// it the search endpoint answers 404.
	Search *search.Index

	// Metrics serves the stats endpoint. Optional.
	Metrics *telemetry.Metrics

	// Tracker serves gateway health reports. Optional.
	Tracker *health.Tracker

	// Bus feeds the SSE event stream and carries accepted events for
	// new submissions. Optional.
	Bus bus.MessageBus

	// Webhook is mounted at POST /webhooks/twilio. Optional.
	Webhook http.Handler

	// Logger for request handling. Defaults to a nop logger.
	Logger *logging.Logger

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.Join(ErrInvalidConfig, errors.New("store is required"))
	}
	if c.Queue == nil {
		return errors.Join(ErrInvalidConfig, errors.New("queue is required"))
	}
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

// Server is the admin HTTP API.
type Server struct {
	cfg     Config
	logger  *logging.Logger
	stream  *EventStream
	indexer *searchIndexer
	http    *http.Server
}

// NewServer creates the admin API server.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.WithComponent("api"),
	}
	if cfg.Bus != nil {
		s.stream = NewEventStream(cfg.Bus, s.logger)
		if cfg.Search != nil {
			s.indexer = newSearchIndexer(cfg.Queue, cfg.Store, cfg.Search, cfg.Bus, cfg.Logger)
		}
	}

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the routed handler, for tests and custom servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /api/households", s.handleCreateHousehold)
	mux.HandleFunc("GET /api/households", s.handleListHouseholds)
	mux.HandleFunc("GET /api/households/{id}", s.handleGetHousehold)
	mux.HandleFunc("PUT /api/households/{id}", s.handleUpdateHousehold)
	mux.HandleFunc("DELETE /api/households/{id}", s.handleDeleteHousehold)
	mux.HandleFunc("POST /api/households/{id}/members", s.handleAddMember)
	mux.HandleFunc("GET /api/households/{id}/members", s.handleListMembers)
	mux.HandleFunc("GET /api/households/{id}/returns", s.handleListReturns)

	mux.HandleFunc("POST /api/returns", s.handleCreateReturn)
	mux.HandleFunc("GET /api/returns/{id}", s.handleGetReturn)
	mux.HandleFunc("PUT /api/returns/{id}", s.handleUpdateReturn)
	mux.HandleFunc("DELETE /api/returns/{id}", s.handleDeleteReturn)

	mux.HandleFunc("POST /api/submissions", s.handleSubmit)
	mux.HandleFunc("GET /api/submissions", s.handleListSubmissions)
	mux.HandleFunc("GET /api/submissions/{id}", s.handleGetSubmission)
	mux.HandleFunc("POST /api/submissions/{id}/requeue", s.handleRequeue)
	mux.HandleFunc("GET /api/deadletters", s.handleListDeadLetters)
	mux.HandleFunc("GET /api/queue/stats", s.handleQueueStats)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/gateways", s.handleGatewayHealth)
	mux.HandleFunc("GET /api/search", s.handleSearch)

	if s.stream != nil {
		mux.HandleFunc("GET /api/events", s.stream.HandleSSE)
	}
	if s.cfg.Webhook != nil {
		mux.Handle("POST /webhooks/twilio", s.cfg.Webhook)
	}

	return mux
}

// Start begins serving and starts the SSE fan-out and the search
// index follower. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start(ctx context.Context) error {
	if s.stream != nil {
		if err := s.stream.Start(); err != nil {
			return err
		}
	}
	if s.indexer != nil {
		if err := s.indexer.Start(); err != nil {
			return err
		}
	}

	s.logger.Info("admin API listening", zap.String("addr", s.cfg.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.http.Shutdown(ctx)
	if s.indexer != nil {
		s.indexer.Stop()
	}
	if s.stream != nil {
		s.stream.Stop()
	}
	return err
}

// handleHealthz is the liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
