package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cwbudde/manifoldopt/internal/bench"
	"github.com/cwbudde/manifoldopt/internal/opt"
	"github.com/cwbudde/manifoldopt/internal/runner"
	"github.com/cwbudde/manifoldopt/internal/store"
)

// Defaults applied to run requests that leave a field empty.
const (
	defaultSolver        = "trust-regions"
	defaultSize          = 5
	defaultMaxIterations = 1000
	defaultMinGradNorm   = 1e-6
	defaultMaxTime       = time.Minute
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      *store.FSStore
	metrics    *Metrics
	addr       string
	server     *http.Server

	// CheckpointInterval is how often running jobs are saved; zero disables
	// intermediate saves.
	CheckpointInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new HTTP server. runStore may be nil, in which case
// runs live only in memory and cannot be warm-started.
func NewServer(addr string, runStore *store.FSStore) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		jobManager:         NewJobManager(),
		store:              runStore,
		metrics:            NewMetrics(),
		addr:               addr,
		CheckpointInterval: 10 * time.Second,
		ctx:                ctx,
		cancel:             cancel,
	}
}

// Handler returns the routed HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunsWithID)
	mux.HandleFunc("/api/v1/problems", s.handleProblems)
	mux.HandleFunc("/api/v1/solvers", s.handleSolvers)
	mux.Handle("/metrics", s.metrics.Handler())

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels all running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "running_jobs", len(s.jobManager.GetRunningJobs()))
	s.cancel()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleRuns handles /api/v1/runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRunsWithID handles /api/v1/runs/:id/*
func (s *Server) handleRunsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}

	switch sub {
	case "", "status":
		s.handleGetRunStatus(w, r, jobID)
	case "stream":
		s.handleJobStream(w, r, jobID)
	case "trace":
		s.handleGetTrace(w, r, jobID)
	case "cancel":
		s.handleCancelRun(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateRun handles POST /api/v1/runs
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var config JobConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.validateConfig(&config); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(config)

	go func() {
		if err := runJob(s.ctx, s.jobManager, s.store, s.metrics, s.CheckpointInterval, job.ID); err != nil {
			slog.Warn("Run ended with error", "job_id", job.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusCreated, job)
}

// validateConfig fills defaults into a run request and rejects requests that
// could never start.
func (s *Server) validateConfig(config *JobConfig) error {
	if config.Problem == "" {
		return errors.New("problem is required")
	}
	if !slices.Contains(bench.Names(), config.Problem) {
		return fmt.Errorf("unknown problem %q (available: %v)", config.Problem, bench.Names())
	}
	if config.Solver == "" {
		config.Solver = defaultSolver
	}
	if config.Size <= 0 {
		config.Size = defaultSize
	}
	// Nelder-Mead sizes an unset budget from the problem dimension.
	if config.MaxIterations <= 0 && config.Solver != "nelder-mead" {
		config.MaxIterations = defaultMaxIterations
	}
	if config.MinGradNorm <= 0 {
		config.MinGradNorm = defaultMinGradNorm
	}
	if config.MaxTime <= 0 {
		config.MaxTime = defaultMaxTime
	}
	if config.MaxCostEvals < 0 {
		return errors.New("maxCostEvals must not be negative")
	}
	if config.WarmStart != "" && s.store == nil {
		return errors.New("warm start needs a server with a run store")
	}

	if _, err := opt.New(config.Solver, runner.SolverConfig(*config), config.Params); err != nil {
		return err
	}
	if _, err := bench.Build(bench.Spec{
		Name:    config.Problem,
		Size:    config.Size,
		Seed:    config.ProblemSeed,
		Backend: config.Backend,
	}); err != nil {
		return err
	}
	return nil
}

// handleGetRunStatus handles GET /api/v1/runs/:id/status
func (s *Server) handleGetRunStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"id":         job.ID,
		"state":      job.State,
		"config":     job.Config,
		"cost":       job.Cost,
		"optimum":    job.Optimum,
		"x":          job.X,
		"iterations": job.Iterations,
		"costEvals":  job.CostEvals,
		"stop":       job.Stop,
		"stopReason": job.StopReason,
		"elapsed":    job.Elapsed().Seconds(),
		"startTime":  job.StartTime,
		"endTime":    job.EndTime,
		"error":      job.Error,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleGetTrace handles GET /api/v1/runs/:id/trace and returns the stored
// per-iteration trace as a JSON array.
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request, jobID string) {
	if s.store == nil {
		http.Error(w, "Server has no run store", http.StatusNotFound)
		return
	}

	reader, err := store.NewTraceReader(s.store.BaseDir(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Trace not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []store.TraceEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleCancelRun handles POST /api/v1/runs/:id/cancel
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err := s.jobManager.CancelJob(jobID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type problemInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handleProblems handles GET /api/v1/problems
func (s *Server) handleProblems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	names := bench.Names()
	problems := make([]problemInfo, 0, len(names))
	for _, name := range names {
		problems = append(problems, problemInfo{Name: name, Description: bench.Describe(name)})
	}
	writeJSON(w, http.StatusOK, problems)
}

// handleSolvers handles GET /api/v1/solvers
func (s *Server) handleSolvers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, opt.Names())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
