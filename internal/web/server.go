// Package web exposes the scheduling engine over HTTP.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"groupsched/internal/config"
	"groupsched/internal/ics"
	appLog "groupsched/internal/log"
	"groupsched/internal/store"
	"groupsched/internal/validate"
)

const maxBodyBytes = 1 << 20

// Server wires the engine packages to HTTP handlers backed by a store.
type Server struct {
	cfg     *config.Config
	repo    store.Repository
	fetcher *ics.Fetcher
	now     func() time.Time

	// Slot edits are read-modify-write against the store.
	slotMu sync.Mutex

	// Show-rates per group, refreshed on cron and dropped when history
	// is recorded. rateGen is bumped on every drop.
	ratesMu sync.RWMutex
	rates   map[string]rateEntry
	rateGen map[string]uint64

	cron *cron.Cron
}

// Option configures a Server.
type Option func(*Server)

// WithFetcher enables merging configured ICS feeds into conflict checks.
func WithFetcher(f *ics.Fetcher) Option {
	return func(s *Server) { s.fetcher = f }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, repo store.Repository, opts ...Option) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		cfg:     cfg,
		repo:    repo,
		now:     time.Now,
		rates:   make(map[string]rateEntry),
		rateGen: make(map[string]uint64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the router with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		r.Use(s.basicAuth)
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/recurrence/expand", s.handleExpand)
		r.Post("/recurrence/upcoming", s.handleUpcoming)
		r.Get("/recurrence/ics", s.handleExportICS)

		r.Post("/conflicts", s.handleConflicts)
		r.Post("/conflicts/candidate", s.handleCandidate)
		r.Post("/conflicts/members", s.handleMemberConflicts)

		r.Route("/groups/{groupID}", func(r chi.Router) {
			r.Get("/members/{memberID}/slots", s.handleListSlots)
			r.Post("/members/{memberID}/slots", s.handleAddSlot)
			r.Delete("/members/{memberID}/slots", s.handleRemoveSlot)
			r.Get("/overlaps", s.handleOverlaps)
			r.Post("/history", s.handleRecordHistory)
			r.Get("/forecast", s.handleForecast)
			r.Post("/forecast", s.handleForecastResponses)
		})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully. The
// show-rate refresh job runs alongside.
func (s *Server) Run(ctx context.Context) error {
	if err := s.startCron(ctx); err != nil {
		return err
	}
	defer s.stopCron()

	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials mean disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuth guards everything except /health.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="groupsched", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// decodeJSON reads a JSON body into dst and runs struct validation. On
// failure the 400 response is already written.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeValidation(w, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

func writeValidation(w http.ResponseWriter, err error) {
	type errResp struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	writeJSON(w, http.StatusBadRequest, errResp{Error: "validation failed", Fields: validate.Messages(err)})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
