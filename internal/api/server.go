// Package api serves the booking system over JSON HTTP.
package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"mediagenda/internal/booking"
	"mediagenda/internal/metrics"
	"mediagenda/internal/report"
)

const apiKeyHeader = "x-api-key"

// Options configure the HTTP API.
type Options struct {
	APIKey         string // empty disables authentication
	RateLimitRPS   int    // per client; zero disables limiting
	RateLimitBurst int
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable only behind a reverse proxy that overwrites those headers.
	TrustProxy bool
}

// Server holds the handlers' dependencies.
type Server struct {
	booking *booking.Service
	reports *report.Service
	opts    Options
	limits  *clientLimiter
	logger  zerolog.Logger
}

func NewServer(bookingSvc *booking.Service, reports *report.Service, opts Options, logger *zerolog.Logger) *Server {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "api").Logger()
	}
	s := &Server{booking: bookingSvc, reports: reports, opts: opts, logger: l}
	if opts.RateLimitRPS > 0 {
		s.limits = newClientLimiter(rate.Limit(opts.RateLimitRPS), max(opts.RateLimitBurst, 1), 10*time.Minute)
	}
	return s
}

// Router returns the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Route("/doctors", func(r chi.Router) {
			r.Get("/", s.handleListDoctors)
			r.Get("/{id}", s.handleGetDoctor)
			r.Put("/{id}/hours", s.handleUpdateHours)
			r.Get("/{id}/availability", s.handleAvailability)
			r.Get("/{id}/availability/range", s.handleAvailabilityRange)
			r.Get("/{id}/availability/durations", s.handleDurationOptions)
		})

		r.Route("/patients", func(r chi.Router) {
			r.Post("/", s.handleCreatePatient)
			r.Get("/", s.handleSearchPatients)
			r.Get("/{id}", s.handleGetPatient)
			r.Put("/{id}", s.handleUpdatePatient)
			r.Delete("/{id}", s.handleDeactivatePatient)
			r.Get("/{id}/appointments", s.handlePatientAppointments)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", s.handleBook)
			r.Get("/", s.handleListAppointments)
			r.Get("/{id}", s.handleGetAppointment)
			r.Get("/{id}/history", s.handleAppointmentHistory)
			r.Post("/{id}/confirm", s.handleConfirm)
			r.Post("/{id}/cancel", s.handleCancel)
			r.Post("/{id}/complete", s.handleComplete)
			r.Post("/{id}/no-show", s.handleNoShow)
			r.Post("/{id}/reschedule", s.handleReschedule)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/summary", s.handleReport(func(rep *report.Report) any { return rep.Summary }))
			r.Get("/by-day", s.handleReport(func(rep *report.Report) any { return rep.ByDay }))
			r.Get("/by-doctor", s.handleReport(func(rep *report.Report) any { return rep.ByDoctor }))
			r.Get("/by-status", s.handleReport(func(rep *report.Report) any { return rep.ByStatus }))
			r.Get("/revenue", s.handleReport(func(rep *report.Report) any { return rep.Revenue }))
			r.Get("/export", s.handleReportExport)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(started)
		metrics.ObserveHTTP(route, r.Method, status, elapsed)

		event := s.logger.Info()
		if status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("http request")
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey != "" {
			key := r.Header.Get(apiKeyHeader)
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.APIKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limits != nil && !s.limits.allow(clientKey(r), time.Now()) {
			s.logger.Warn().Str("client", clientKey(r)).Msg("rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientLimiter keeps one token bucket per client and forgets idle clients.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	idle    time.Duration
	swept   time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(limit rate.Limit, burst int, idle time.Duration) *clientLimiter {
	return &clientLimiter{clients: map[string]*limiterEntry{}, limit: limit, burst: burst, idle: idle}
}

func (c *clientLimiter) allow(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.swept) > c.idle {
		for k, e := range c.clients {
			if now.Sub(e.lastSeen) > c.idle {
				delete(c.clients, k)
			}
		}
		c.swept = now
	}

	e, ok := c.clients[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}
