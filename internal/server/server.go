// Package server exposes the engine over HTTP: a REST control surface,
// the websocket live feed, and Prometheus scraping.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"loadcast/internal/engine"
	"loadcast/internal/metrics"
	"loadcast/internal/plan"
	"loadcast/internal/storage"
	"loadcast/internal/telemetry"
)

type Config struct {
	Addr   string
	Engine *engine.Engine
	Logger *zap.Logger

	// Registry enables /metrics when set.
	Registry *prometheus.Registry
	// DefaultPlan backs start_test actions that carry no plan.
	DefaultPlan *plan.TestPlan
}

type Server struct {
	cfg      Config
	logger   *zap.Logger
	engine   *engine.Engine
	upgrader websocket.Upgrader
	router   *mux.Router
	http     *http.Server
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		engine: cfg.Engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if cfg.Registry != nil {
		r.Handle("/metrics", telemetry.Handler(cfg.Registry)).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.handleStartRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/current", s.handleStopRun).Methods(http.MethodDelete)
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.router = r
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	engine.Status
	Snapshot metrics.Snapshot `json:"snapshot"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{
		Status:   s.engine.Status(),
		Snapshot: s.engine.Snapshot(),
	})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var p plan.TestPlan
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid plan payload: "+err.Error())
		return
	}

	run, err := s.engine.Start(&p)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, engine.ErrRunActive):
			status = http.StatusConflict
		case isConfigError(err):
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"run_id":     run.ID,
		"started_at": run.StartedAt,
	})
}

func (s *Server) handleStopRun(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Stop(); err != nil {
		if errors.Is(err, engine.ErrNoRun) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	records, err := s.engine.History()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []storage.RunRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.engine.HistoryRecord(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func isConfigError(err error) bool {
	var verr *plan.ValidationError
	var aerr *plan.AuthError
	return errors.As(err, &verr) || errors.As(err, &aerr)
}
