package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/khanhnv2901/poc-cli/internal/api/middleware"
	"github.com/khanhnv2901/poc-cli/internal/application/orchestrator"
	"github.com/khanhnv2901/poc-cli/internal/domain/execution"
	"github.com/khanhnv2901/poc-cli/internal/domain/poc"
	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

type HealthService interface {
	Check(ctx context.Context) error
	Ready(ctx context.Context) error
}

type JobService interface {
	StartJob(ctx context.Context, req JobRequest) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	CancelJob(ctx context.Context, id string) (*Job, error)
	Subscribe() (chan Job, func())
}

// ReportSummary is the list view of a stored report.
type ReportSummary struct {
	ID         string            `json:"id"`
	Mode       string            `json:"mode"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Cancelled  bool              `json:"cancelled"`
	Summary    execution.Summary `json:"summary"`
}

// ModuleView describes a loaded module.
type ModuleView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Source       string   `json:"source,omitempty"`
	Capabilities string   `json:"capabilities"`
	Info         poc.Info `json:"info"`
}

// ModuleListing is the response of the modules endpoint.
type ModuleListing struct {
	Modules  []ModuleView   `json:"modules"`
	Unloaded []poc.Unloaded `json:"unloaded"`
}

type Config struct {
	Jobs        JobService
	Reports     execution.Repository
	Modules     orchestrator.ModuleSource
	PocRoot     string // Module directory; /modules queries resolve inside it
	Health      HealthService
	Metrics     http.Handler
	AuthToken   string
	JobLimit    int
	Logger      *zap.Logger
	CORSOrigins []string // Allowed CORS origins (empty = allow all)
	RateLimit   int      // Requests per second per IP (0 = disabled)
	RateBurst   int      // Burst size for rate limiter
}

type Server struct {
	cfg      Config
	mux      *http.ServeMux
	limiters *rateLimiterMap
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		limiters: newRateLimiterMap(),
	}
	srv.routes()
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// RequestID -> Logging -> RateLimit -> CORS -> Auth -> Handler
	handler := middleware.RequestID(s.withLogging(s.withRateLimit(s.withCORS(s.mux))))
	handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	for _, prefix := range []string{"/api/v1", "/api"} {
		s.mux.Handle(prefix+"/health", s.withAuth(http.HandlerFunc(s.handleHealth)))
		s.mux.Handle(prefix+"/ready", s.withAuth(http.HandlerFunc(s.handleReady)))
		s.mux.Handle(prefix+"/jobs", s.withAuth(http.HandlerFunc(s.handleJobs)))
		s.mux.Handle(prefix+"/jobs/", s.withAuth(http.HandlerFunc(s.handleJobByID)))
		s.mux.Handle(prefix+"/jobs-stream", s.withAuth(http.HandlerFunc(s.handleJobStream)))
		s.mux.Handle(prefix+"/reports", s.withAuth(http.HandlerFunc(s.handleReports)))
		s.mux.Handle(prefix+"/reports/", s.withAuth(http.HandlerFunc(s.handleReportByID)))
		s.mux.Handle(prefix+"/modules", s.withAuth(http.HandlerFunc(s.handleModules)))
	}
	// Prometheus scrapers do not send the auth token.
	if s.cfg.Metrics != nil {
		s.mux.Handle("/metrics", s.cfg.Metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	if s.cfg.Health != nil {
		if err := s.cfg.Health.Check(r.Context()); err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	if s.cfg.Health != nil {
		if err := s.cfg.Health.Ready(r.Context()); err != nil {
			s.writeError(w, r, http.StatusServiceUnavailable, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("job service not available"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		limit := s.cfg.JobLimit
		if limit <= 0 {
			limit = 25
		}
		limit = queryLimit(r, limit)
		jobs, err := s.cfg.Jobs.ListJobs(r.Context(), limit)
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, 1048576) // 1MB limit
		var req JobRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		job, err := s.cfg.Jobs.StartJob(r.Context(), req)
		if err != nil {
			s.writeError(w, r, startJobStatus(err), err)
			return
		}
		w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
		writeJSON(w, http.StatusAccepted, job)
	default:
		s.methodNotAllowed(w, r)
	}
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("job service not available"))
		return
	}
	id := resourceID(r.URL.Path, "jobs")
	if id == "" {
		s.writeError(w, r, http.StatusNotFound, errors.New("job ID required"))
		return
	}

	var (
		job *Job
		err error
	)
	switch r.Method {
	case http.MethodGet:
		job, err = s.cfg.Jobs.GetJob(r.Context(), id)
	case http.MethodDelete:
		job, err = s.cfg.Jobs.CancelJob(r.Context(), id)
	default:
		s.methodNotAllowed(w, r)
		return
	}
	if err != nil || job == nil {
		s.writeError(w, r, http.StatusNotFound, ErrJobNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("job service not available"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	updates, unsubscribe := s.cfg.Jobs.Subscribe()
	defer unsubscribe()
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case job, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(job)
			if err != nil {
				s.requestLogger(r).Error("failed to marshal job", zap.Error(err))
				continue
			}
			if !s.writeStreamChunk(w, []byte("event: job\ndata: ")) {
				return
			}
			if !s.writeStreamChunk(w, payload) {
				return
			}
			if !s.writeStreamChunk(w, []byte("\n\n")) {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Reports == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("report store not available"))
		return
	}
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	reports, err := s.cfg.Reports.FindAll(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	limit := queryLimit(r, len(reports))
	if limit < len(reports) {
		reports = reports[:limit]
	}
	items := make([]ReportSummary, 0, len(reports))
	for _, rep := range reports {
		items = append(items, ReportSummary{
			ID:         rep.ID,
			Mode:       rep.Mode.String(),
			StartedAt:  rep.StartedAt,
			FinishedAt: rep.FinishedAt,
			Cancelled:  rep.Cancelled,
			Summary:    rep.Summary,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleReportByID(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Reports == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("report store not available"))
		return
	}
	id := resourceID(r.URL.Path, "reports")
	if id == "" {
		s.writeError(w, r, http.StatusNotFound, errors.New("report ID required"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		report, err := s.cfg.Reports.FindByID(r.Context(), id)
		if err != nil {
			s.writeError(w, r, reportStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	case http.MethodDelete:
		if err := s.cfg.Reports.Delete(r.Context(), id); err != nil {
			s.writeError(w, r, reportStatus(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.methodNotAllowed(w, r)
	}
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Modules == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("module source not available"))
		return
	}
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	q := r.URL.Query()
	recursive, _ := strconv.ParseBool(q.Get("recursive"))
	pocPath, err := scopePocPath(s.cfg.PocRoot, q.Get("poc"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	res, err := s.cfg.Modules.Load(pocPath, recursive)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	listing := ModuleListing{
		Modules:  make([]ModuleView, 0, len(res.Modules)),
		Unloaded: res.Unloaded,
	}
	if listing.Unloaded == nil {
		listing.Unloaded = []poc.Unloaded{}
	}
	for _, m := range res.Modules {
		listing.Modules = append(listing.Modules, ModuleView{
			ID:           m.ID,
			Name:         m.Name,
			Source:       m.Source,
			Capabilities: m.Capabilities.String(),
			Info:         m.Info,
		})
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		limiter := s.limiters.getLimiter(ip, s.cfg.RateLimit, s.cfg.RateBurst)
		if !limiter.Allow() {
			s.requestLogger(r).Warn("rate_limit_exceeded", zap.String("client_ip", ip))
			s.writeError(w, r, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop and strips the port.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		addr = strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowOrigin := "*"
		if len(s.cfg.CORSOrigins) > 0 {
			allowOrigin = ""
			if origin := r.Header.Get("Origin"); slices.Contains(s.cfg.CORSOrigins, origin) {
				allowOrigin = origin
			}
		}

		if allowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Auth-Token, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		if s.cfg.Logger != nil {
			s.cfg.Logger.Info("http_request",
				zap.String("request_id", middleware.GetRequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("status", lrw.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.Int64("bytes", lrw.bytesWritten),
			)
		}
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.cfg.AuthToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			s.writeError(w, r, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingResponseWriter captures status code and bytes written
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesWritten += int64(n)
	return n, err
}

// Flush keeps the job stream working behind the logging wrapper.
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := err.Error()

	// 5xx details stay in the server log.
	if status >= 500 {
		s.requestLogger(r).Error("internal_server_error",
			zap.Error(err),
			zap.Int("status", status),
		)
		msg = "internal server error"
	}

	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger creates a logger with request context (request ID, method, path)
func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	if s.cfg.Logger == nil {
		return zap.NewNop()
	}

	return s.cfg.Logger.With(
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func (s *Server) writeStreamChunk(w http.ResponseWriter, data []byte) bool {
	if _, err := w.Write(data); err != nil {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Debug("job stream closed", zap.Error(err))
		}
		return false
	}
	return true
}

// resourceID extracts the trailing ID from /api[/v1]/<resource>/<id>.
func resourceID(path, resource string) string {
	_, id, ok := strings.Cut(path, "/"+resource+"/")
	if !ok || strings.Contains(id, "/") {
		return ""
	}
	return id
}

func queryLimit(r *http.Request, fallback int) int {
	if q := r.URL.Query().Get("limit"); q != "" {
		if parsed, err := strconv.Atoi(q); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func startJobStatus(err error) int {
	switch {
	case errors.Is(err, ErrAttackDisabled):
		return http.StatusForbidden
	case sharedErrors.IsConfigError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func reportStatus(err error) int {
	if errors.Is(err, sharedErrors.ErrReportNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// rateLimiterMap manages per-IP rate limiters; idle entries are evicted.
type rateLimiterMap struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiterMap() *rateLimiterMap {
	return &rateLimiterMap{limiters: make(map[string]*ipLimiter)}
}

func (m *rateLimiterMap) getLimiter(ip string, rps, burst int) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.evict(now)

	entry, ok := m.limiters[ip]
	if !ok {
		if burst <= 0 {
			burst = rps
		}
		entry = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
		m.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// evict drops limiters idle for more than five minutes. Callers hold mu.
func (m *rateLimiterMap) evict(now time.Time) {
	for ip, entry := range m.limiters {
		if now.Sub(entry.lastSeen) > 5*time.Minute {
			delete(m.limiters, ip)
		}
	}
}
