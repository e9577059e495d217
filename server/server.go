// Package server exposes the administration HTTP API: health, run
// status, manual cycle triggers, and CRUD for monitored cases, users,
// and subscriptions.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"

	"courtwatch/pkg/courtcase"
	"courtwatch/poll"
)

var contactRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Fetcher verifies a case against the court registry before it is
// added.
type Fetcher interface {
	FetchCase(ctx context.Context, cino string) (*courtcase.CaseSnapshot, error)
}

// Store is the persistence surface for case and user management.
type Store interface {
	TokenFromContact(contact string) string
	SaveCase(ctx context.Context, rec *courtcase.CaseRecord) error
	LoadCase(ctx context.Context, cino string) (*courtcase.CaseRecord, error)
	ListCases(ctx context.Context) ([]*courtcase.CaseRecord, error)
	DeleteCase(ctx context.Context, cino string) error
	SaveUser(ctx context.Context, user *courtcase.User) error
	LoadUserByContact(ctx context.Context, contact string) (*courtcase.User, error)
	LoadUserByToken(ctx context.Context, token string) (*courtcase.User, error)
	ListUsers(ctx context.Context) ([]*courtcase.User, error)
	DeleteUser(ctx context.Context, contact string) error
}

// Monitor triggers and reports on monitoring cycles.
type Monitor interface {
	RunOnce(ctx context.Context) (*poll.RunSummary, error)
	Start(interval time.Duration) error
	Stop() error
	Status() poll.RunStatus
}

// IsNotFound classifies store errors.
type IsNotFound func(error) bool

// Server handles HTTP requests.
type Server struct {
	fetcher      Fetcher
	store        Store
	monitor      Monitor
	logger       *slog.Logger
	isNotFound   IsNotFound
	isCaseAbsent func(error) bool
	pollInterval time.Duration
	limiter      *rateLimiter
}

// Config holds server configuration.
type Config struct {
	Fetcher      Fetcher
	Store        Store
	Monitor      Monitor
	Logger       *slog.Logger
	IsNotFound   IsNotFound
	IsCaseAbsent func(error) bool // classifies registry "no such case" errors
	PollInterval time.Duration    // default interval for /api/monitor/start
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		fetcher:      cfg.Fetcher,
		store:        cfg.Store,
		monitor:      cfg.Monitor,
		logger:       cfg.Logger,
		isNotFound:   cfg.IsNotFound,
		isCaseAbsent: cfg.IsCaseAbsent,
		pollInterval: cfg.PollInterval,
		limiter:      newRateLimiter(),
	}
}

// Routes builds the request mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/poll", s.handlePoll)
	mux.HandleFunc("POST /api/monitor/start", s.handleMonitorStart)
	mux.HandleFunc("POST /api/monitor/stop", s.handleMonitorStop)

	mux.HandleFunc("GET /api/cases", s.handleListCases)
	mux.HandleFunc("POST /api/cases", s.handleAddCase)
	mux.HandleFunc("GET /api/cases/{cino}", s.handleGetCase)
	mux.HandleFunc("DELETE /api/cases/{cino}", s.handleDeleteCase)

	mux.HandleFunc("GET /api/users", s.handleListUsers)
	mux.HandleFunc("POST /api/users", s.handleCreateUser)
	mux.HandleFunc("GET /api/users/{token}", s.handleGetUser)
	mux.HandleFunc("DELETE /api/users/{token}", s.handleDeleteUser)
	mux.HandleFunc("PUT /api/users/{token}/subscriptions/{cino}", s.handlePutSubscription)
	mux.HandleFunc("DELETE /api/users/{token}/subscriptions/{cino}", s.handleDeleteSubscription)

	return s.secureHeaders(mux)
}

// ListenAndServe runs the API on the given port with conservative
// timeouts.
func (s *Server) ListenAndServe(port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Routes(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return srv.ListenAndServe()
}

func (s *Server) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.monitor.Status())
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Manual poll triggered", "ip", clientIP(r))

	summary, err := s.monitor.RunOnce(r.Context())
	if err != nil {
		// Counters and alerting are handled inside the monitor; the
		// API reports classification only, never internals.
		s.writeError(w, http.StatusInternalServerError, "monitoring cycle failed")
		return
	}
	if summary.Skipped {
		s.writeJSON(w, http.StatusConflict, map[string]string{"status": "skipped"})
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	interval := s.pollInterval

	// Optional body: {"interval": "15m"}
	if r.Body != nil && r.ContentLength != 0 {
		var req struct {
			Interval string `json:"interval"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Interval != "" {
			parsed, err := time.ParseDuration(req.Interval)
			if err != nil || parsed <= 0 {
				s.writeError(w, http.StatusBadRequest, "invalid interval")
				return
			}
			interval = parsed
		}
	}

	if err := s.monitor.Start(interval); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.logger.Info("Background monitoring enabled", "interval", interval.String(), "ip", clientIP(r))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started", "interval": interval.String()})
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.Stop(); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.logger.Info("Background monitoring disabled", "ip", clientIP(r))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func isValidContact(contact string) bool {
	if len(contact) < 3 || len(contact) > 254 {
		return false
	}
	_, err := mail.ParseAddress(contact)
	return err == nil && contactRegex.MatchString(contact)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// rateLimiter bounds mutating requests per client IP (max 30 per
// hour).
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string][]time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{clients: make(map[string][]time.Time)}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Hour)

	var recent []time.Time
	for _, ts := range rl.clients[ip] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= 30 {
		return false
	}

	recent = append(recent, now)
	rl.clients[ip] = recent
	return true
}
