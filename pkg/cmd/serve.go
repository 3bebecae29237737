package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"GpuTelemetry/pkg/config"
	"GpuTelemetry/pkg/exporting"
	"GpuTelemetry/pkg/logging"
	"GpuTelemetry/pkg/metrics"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// profileSession holds state for an active profiling session.
type profileSession struct {
	id            string
	initialRecord exporting.Record
	startTime     time.Time
}

// server serialises collection: handlers share one manager, and the
// sysfs vendors compute engine utilisation from the previous read.
type server struct {
	ctx     *CmdContext
	metrics *metrics.Metrics

	collectMu sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*profileSession
}

func newServer(ctx *CmdContext) *server {
	s := &server{
		ctx:      ctx,
		metrics:  metrics.NewMetrics(),
		sessions: make(map[string]*profileSession),
	}
	ctx.Manager.Observe = s.metrics.Observe
	return s
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/static", s.handleStatic)
	mux.HandleFunc("/gpus", s.handleGpus)
	mux.HandleFunc("/processes", s.handleProcesses)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/info", s.handleInfo)
	mux.Handle("/metrics", s.metricsHandler())

	mux.HandleFunc("/profile/start", s.handleProfileStart)
	mux.HandleFunc("/profile/stop", s.handleProfileStop)
	mux.HandleFunc("/profile/delta", s.handleProfileDelta)
	mux.HandleFunc("/profile/status", s.handleProfileStatus)
	mux.HandleFunc("/profile/snapshot", s.handleProfileSnapshot)
	return mux
}

// Serve runs the HTTP API until interrupted. With --config, threshold
// changes in the file apply without a restart.
func Serve(args []string) {
	ctx, _, cleanup := InitCmd("serve", args, nil)
	defer cleanup()
	log := logging.WithComponent("serve")

	srv := newServer(ctx)
	runCtx, stop := SignalContext(0)
	defer stop()

	if path := ctx.Config.ConfigFile; path != "" {
		go func() {
			err := config.Watch(runCtx, path, func(c *config.Config) {
				if err := ctx.Checker.SetThresholds(c.Thresholds); err != nil {
					log.WithError(err).Warn("thresholds not reloaded")
					return
				}
				log.Info("health thresholds reloaded")
			})
			if err != nil {
				log.WithError(err).Warn("config watch stopped")
			}
		}()
	}

	addr := fmt.Sprintf(":%d", ctx.Config.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	log.Infof("HTTP server listening on %s", addr)
	log.Info("Endpoints:")
	log.Info("  GET  /snapshot         - Current flattened record")
	log.Info("  GET  /static           - Static metrics")
	log.Info("  GET  /gpus             - Device snapshots")
	log.Info("  GET  /processes        - Process table (sort, gpu_only, limit)")
	log.Info("  GET  /health           - Health report")
	log.Info("  GET  /healthz          - Liveness")
	log.Info("  GET  /metrics          - Prometheus metrics")
	log.Info("  POST /profile/start    - Start profiling session (returns session_id)")
	log.Info("  POST /profile/stop     - Stop session and return delta (requires session_id)")
	log.Info("  GET  /profile/delta    - Get current delta without stopping (requires session_id)")
	log.Info("  GET  /profile/status   - Get session status")
	log.Info("  POST /profile/snapshot - One-shot: wait duration_ms, return delta")

	go func() {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	log.Info("Server stopped")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.WithComponent("serve").WithError(err).Debug("response not written")
	}
}

func (s *server) collect(ctx context.Context) exporting.Record {
	s.collectMu.Lock()
	defer s.collectMu.Unlock()
	return CollectSnapshot(ctx, s.ctx.Manager, s.ctx.FlattenMode())
}

// metricsHandler collects a fresh tick before each scrape.
func (s *server) metricsHandler() http.Handler {
	h := promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.collectMu.Lock()
		s.ctx.Manager.Collect(r.Context())
		s.collectMu.Unlock()
		h.ServeHTTP(w, r)
	})
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collect(r.Context()))
}

func (s *server) handleStatic(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctx.Manager.GetStaticRecord())
}

func (s *server) handleGpus(w http.ResponseWriter, r *http.Request) {
	s.collectMu.Lock()
	infos, err := s.ctx.Gpus.SnapshotAll(r.Context())
	s.collectMu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sortBy := q.Get("sort")
	if sortBy == "" {
		sortBy = "cpu"
	}
	gpuOnly := s.ctx.Config.GpuProcessesOnly
	if v := q.Get("gpu_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "Invalid gpu_only", http.StatusBadRequest)
			return
		}
		gpuOnly = b
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if _, ok := sortKeys[sortBy]; !ok {
		http.Error(w, "Invalid sort", http.StatusBadRequest)
		return
	}

	s.collectMu.Lock()
	procs, err := listProcesses(s.ctx.Monitor, sortBy, gpuOnly, limit)
	s.collectMu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, procs)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.collectMu.Lock()
	h, err := s.ctx.Checker.Check(r.Context())
	s.collectMu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	active := len(s.sessions)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collectors":      s.ctx.Manager.CollectorNames(),
		"gpus":            s.ctx.Gpus.Len(),
		"concurrent":      s.ctx.Config.Concurrent,
		"expandAll":       s.ctx.Config.ExpandAll,
		"active_sessions": active,
	})
}

func (s *server) handleProfileStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := &profileSession{
		id:            uuid.NewString(),
		initialRecord: s.collect(r.Context()),
		startTime:     time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sess.id,
		"started_at": sess.startTime.UnixMilli(),
		"message":    "Profiling session started. Call /profile/stop with session_id to get delta.",
	})
}

// session looks up the session_id query parameter, writing the error
// response itself when there is none. stop removes the session.
func (s *server) session(w http.ResponseWriter, r *http.Request, stop bool) (*profileSession, bool) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	if stop {
		delete(s.sessions, id)
	}
	return sess, true
}

func (s *server) handleProfileStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.session(w, r, true)
	if !ok {
		return
	}

	final := s.collect(r.Context())
	elapsed := time.Since(sess.startTime)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":  sess.id,
		"duration_ms": elapsed.Milliseconds(),
		"delta":       exporting.DeltaRecord(sess.initialRecord, final, elapsed.Milliseconds()),
	})
}

func (s *server) handleProfileDelta(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r, false)
	if !ok {
		return
	}

	current := s.collect(r.Context())
	elapsed := time.Since(sess.startTime)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":  sess.id,
		"duration_ms": elapsed.Milliseconds(),
		"active":      true,
		"delta":       exporting.DeltaRecord(sess.initialRecord, current, elapsed.Milliseconds()),
	})
}

func (s *server) handleProfileStatus(w http.ResponseWriter, r *http.Request) {
	describe := func(sess *profileSession) map[string]interface{} {
		return map[string]interface{}{
			"session_id":  sess.id,
			"active":      true,
			"started_at":  sess.startTime.UnixMilli(),
			"duration_ms": time.Since(sess.startTime).Milliseconds(),
		}
	}

	if r.URL.Query().Get("session_id") != "" {
		sess, ok := s.session(w, r, false)
		if ok {
			writeJSON(w, http.StatusOK, describe(sess))
		}
		return
	}

	s.mu.RLock()
	sessions := make([]map[string]interface{}, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, describe(sess))
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *server) handleProfileSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	duration := s.ctx.Config.Interval
	if v := r.URL.Query().Get("duration_ms"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			http.Error(w, "Invalid duration_ms", http.StatusBadRequest)
			return
		}
		duration = time.Duration(ms) * time.Millisecond
	}

	initial := s.collect(r.Context())
	start := time.Now()
	select {
	case <-time.After(duration):
	case <-r.Context().Done():
		return
	}
	final := s.collect(r.Context())
	elapsed := time.Since(start)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"duration_ms": elapsed.Milliseconds(),
		"delta":       exporting.DeltaRecord(initial, final, elapsed.Milliseconds()),
	})
}
