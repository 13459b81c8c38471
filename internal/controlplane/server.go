// Package controlplane is the operator API of the release pipeline: trigger
// runs, read run history and deployments, inspect the pipeline topology.
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
	"github.com/booksapi/release-pipeline/internal/pipeline"
)

// Runner executes pipeline runs.
type Runner interface {
	Run(ctx context.Context, runID string) (*pipeline.RunResult, error)
	Spec() domain.PipelineSpec
}

// Deployments lists deployments of the deploy stage.
type Deployments interface {
	Get(id string) (domain.Deployment, bool)
	List() []domain.Deployment
}

// Config wires the server.
type Config struct {
	Runner      Runner
	Runs        ports.RunStore
	Deployments Deployments
	// BaseContext parents triggered runs. Cancelling it aborts them.
	BaseContext context.Context
	Logger      *slog.Logger
}

// Server routes:
//
//	GET  /api/stats
//	GET  /api/pipeline
//	POST /api/runs              start a run (202, 409 while one is active)
//	GET  /api/runs/{id}
//	GET  /api/runs/{id}/result  final variables and artifacts
//	POST /api/runs/{id}/abort   cancel the active run (202, 404 otherwise)
//	GET  /api/deployments
//	GET  /api/deployments/{id}
type Server struct {
	router    *chi.Mux
	startTime time.Time
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	active  string
	abort   context.CancelFunc
	results map[string]*pipeline.RunResult
	wg      sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:    chi.NewRouter(),
		startTime: time.Now(),
		cfg:       cfg,
		logger:    logger,
		results:   make(map[string]*pipeline.RunResult),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/stats", s.handleStats)
	s.router.Get("/api/pipeline", s.handlePipeline)
	s.router.Post("/api/runs", s.handleStartRun)
	s.router.Get("/api/runs/{id}", s.handleGetRun)
	s.router.Get("/api/runs/{id}/result", s.handleGetResult)
	s.router.Post("/api/runs/{id}/abort", s.handleAbortRun)
	s.router.Get("/api/deployments", s.handleListDeployments)
	s.router.Get("/api/deployments/{id}", s.handleGetDeployment)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StartRun begins a run in the background and returns its id. It fails while
// another run is active.
func (s *Server) StartRun() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != "" {
		return "", errRunActive
	}
	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(s.cfg.BaseContext)
	s.active = runID
	s.abort = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		res, err := s.cfg.Runner.Run(ctx, runID)
		if err != nil {
			s.logger.Warn("run ended with error", slog.String("run_id", runID), slog.String("error", err.Error()))
		}

		s.mu.Lock()
		s.active = ""
		s.abort = nil
		if res != nil {
			s.results[runID] = res
		}
		s.mu.Unlock()
	}()
	return runID, nil
}

// AbortRun cancels the active run. The executor stops it at the next stage
// boundary or inside the action that is waiting. It returns ErrNotFound when
// runID is not the active run.
func (s *Server) AbortRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if runID == "" || runID != s.active {
		return domain.ErrNotFound
	}
	s.logger.Info("aborting run", slog.String("run_id", runID))
	s.abort()
	return nil
}

// Wait blocks until every started run has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

var errRunActive = errors.New("a run is already in progress")

type StatsResponse struct {
	Uptime       string      `json:"uptime"`
	GoVersion    string      `json:"go_version"`
	NumGoroutine int         `json:"num_goroutine"`
	ActiveRun    string      `json:"active_run,omitempty"`
	Memory       MemoryStats `json:"memory"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, StatsResponse{
		Uptime:       time.Since(s.startTime).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		ActiveRun:    active,
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	})
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Runner.Spec())
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	runID, err := s.StartRun()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.Header().Set("Location", "/api/runs/"+runID)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.cfg.Runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAbortRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if err := s.AbortRun(runID); err != nil {
		writeError(w, http.StatusNotFound, "no active run with that id")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "aborting"})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	res, ok := s.results[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "no finished run with that id")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Deployments.List())
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	dep, ok := s.cfg.Deployments.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "deployment not found")
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
