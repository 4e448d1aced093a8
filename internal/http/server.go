// Package http exposes the ledger as a JSON API for the add form and the
// calendar screen.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"cashbook/internal/cache"
	"cashbook/internal/core"
	"cashbook/internal/ledger"
	applog "cashbook/internal/log"
	"cashbook/internal/middleware/ratelimit"
	"cashbook/internal/middleware/security"
	"cashbook/internal/middleware/trace"
)

// UserHeader carries the caller's user id.
const UserHeader = "X-User-ID"

const maxBodyBytes = 64 << 10

// Config tunes the server.
type Config struct {
	Addr               string
	RequestTimeout     time.Duration
	RateLimitPerMinute int
	CalendarCacheTTL   time.Duration
	CalendarCacheSize  int
	Logger             *applog.Logger
	// Ready reports backend reachability for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	http.Server
	ledger *ledger.Service
	ready  func(ctx context.Context) error

	limiter   *ratelimit.Limiter
	detector  *security.Detector
	tracer    *trace.Middleware
	calendars *cache.LRUCache[core.MonthCalendar]
	caches    *cache.Manager

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware around svc.
func NewServer(cfg Config, svc *ledger.Service) *Server {
	if cfg.Logger == nil {
		cfg.Logger = applog.New(applog.DefaultConfig())
	}
	if cfg.CalendarCacheSize <= 0 {
		cfg.CalendarCacheSize = 256
	}
	if cfg.CalendarCacheTTL <= 0 {
		cfg.CalendarCacheTTL = 5 * time.Minute
	}

	s := &Server{
		ledger:    svc,
		ready:     cfg.Ready,
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		detector:  security.NewDetector(),
		calendars: cache.NewLRUCache[core.MonthCalendar](cfg.CalendarCacheSize, cfg.CalendarCacheTTL),
		caches:    cache.NewManager(),
	}
	s.tracer = trace.NewMiddleware(s.detector.ClientIP)
	s.caches.Register(s.calendars)
	s.caches.StartCleanup(cfg.CalendarCacheTTL)

	limited := s.limiter.Middleware(s.rateLimitKey, func(w http.ResponseWriter, r *http.Request) {
		slog.WarnContext(r.Context(), "Rate limit exceeded", "key", s.rateLimitKey(r), "path", r.URL.Path)
		writeError(w, http.StatusTooManyRequests, "Too many requests, please slow down")
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("POST /transactions", limited(s.withUser(s.handleCreate)))
	mux.Handle("PATCH /transactions/{id}", limited(s.withUser(s.handleUpdate)))
	mux.Handle("DELETE /transactions/{id}", limited(s.withUser(s.handleDelete)))
	mux.Handle("GET /calendar", s.withUser(s.handleCalendar))
	mux.Handle("GET /calendar/day", s.withUser(s.handleDay))
	mux.Handle("GET /balances", s.withUser(s.handleBalances))
	mux.Handle("GET /reconcile", s.withUser(s.handleReconcile))
	mux.HandleFunc("GET /categories", s.handleCategories)

	var h http.Handler = mux
	if cfg.RequestTimeout > 0 {
		h = http.TimeoutHandler(h, cfg.RequestTimeout, `{"error":"Request timed out"}`)
	}
	h = security.Headers(security.DefaultHeadersConfig())(h)
	h = s.detector.Middleware(h)
	h = s.tracer.Middleware(h)
	h = applog.Middleware(cfg.Logger.WithComponent(applog.ComponentHTTP))(h)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown stops background sweeps and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

// withUser rejects requests without a user id.
func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := sanitizeInput(r.Header.Get(UserHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+UserHeader+" header")
			return
		}
		next(w, r, userID)
	})
}

// rateLimitKey limits per user when known and per client address otherwise.
func (s *Server) rateLimitKey(r *http.Request) string {
	if id := sanitizeInput(r.Header.Get(UserHeader)); id != "" {
		return "user:" + id
	}
	return "ip:" + s.detector.ClientIP(r)
}

func calendarKey(userID string, year, month int) string {
	return userID + "|" + strconv.Itoa(year) + "-" + strconv.Itoa(month)
}

// invalidateCalendars drops every cached month of the user.
func (s *Server) invalidateCalendars(ctx context.Context, userID string) {
	if n := s.calendars.DeletePrefix(userID + "|"); n > 0 {
		slog.DebugContext(ctx, "Calendar cache invalidated", "user_id", userID, "entries", n)
	}
}

func (s *Server) calendar(ctx context.Context, userID string, year, month int) (core.MonthCalendar, error) {
	key := calendarKey(userID, year, month)
	if cal, ok := s.calendars.Get(key); ok {
		slog.DebugContext(ctx, "Calendar cache hit", "user_id", userID, "year", year, "month", month)
		return cal, nil
	}
	cal, err := s.ledger.Calendar(ctx, userID, year, month)
	if err != nil {
		return core.MonthCalendar{}, err
	}
	s.calendars.Set(key, cal)
	return cal, nil
}

// day answers from the cached month of date when there is one.
func (s *Server) day(ctx context.Context, userID, date string) (core.DaySummary, []core.Transaction, error) {
	if d, err := core.ParseDate(date); err == nil {
		if cal, ok := s.calendars.Get(calendarKey(userID, d.Year(), int(d.Month()))); ok {
			slog.DebugContext(ctx, "Day served from cached month", "user_id", userID, "date", date)
			txs := cal.TransactionsOn(d)
			return core.SummarizeDay(txs, d), txs, nil
		}
	}
	return s.ledger.Day(ctx, userID, date)
}

// RateLimitMetrics exposes limiter counters for the startup log and tests.
func (s *Server) RateLimitMetrics() ratelimit.Metrics {
	return s.limiter.GetMetrics()
}

// RequestMetrics exposes request counters.
func (s *Server) RequestMetrics() trace.Metrics {
	return s.tracer.GetMetrics()
}
