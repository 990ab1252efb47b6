// Package http exposes the star engine as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stars/internal/engine"
	"stars/internal/log"
	"stars/internal/middleware/ratelimit"
	"stars/internal/middleware/security"
	"stars/internal/middleware/trace"
)

// Server is an http.Server routing the family API onto an Engine.
type Server struct {
	http.Server
	engine   *engine.Engine
	limiter  *ratelimit.Limiter
	detector *security.Detector
	ready    func(context.Context) error
	loc      *time.Location
	logger   *log.Logger

	shutdownOnce sync.Once
}

type Option func(*Server)

// WithRateLimit caps write requests per client and minute.
func WithRateLimit(rpm int) Option {
	return func(s *Server) {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: rpm})
	}
}

// WithReadiness makes /readyz call check, typically a store ping.
func WithReadiness(check func(context.Context) error) Option {
	return func(s *Server) { s.ready = check }
}

// WithLocation sets the zone bare dates in query strings are read in.
func WithLocation(loc *time.Location) Option {
	return func(s *Server) { s.loc = loc }
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:   e,
		detector: security.NewDetector(),
		loc:      time.UTC,
		logger:   log.ForComponent(log.ComponentHTTP),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(log.Middleware(s.logger, middleware.GetReqID))
	r.Use(middleware.Recoverer)
	r.Use(trace.NewMiddleware(s.detector.ExtractClientIP).Middleware)
	r.Use(s.detector.Middleware)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
		}, http.MethodPost, http.MethodPut, http.MethodDelete))

		r.Route("/families/{familyID}", func(r chi.Router) {
			r.Post("/children", s.handleAddChild)
			r.Get("/children", s.handleListChildren)

			r.Post("/templates", s.handleCreateTemplate)
			r.Get("/templates", s.handleListTemplates)
			r.Put("/templates/{id}", s.handleUpdateTemplate)
			r.Delete("/templates/{id}", s.handleDeleteTemplate)

			r.Post("/rewards", s.handleCreateReward)
			r.Get("/rewards", s.handleListRewards)
			r.Put("/rewards/{id}", s.handleUpdateReward)
			r.Delete("/rewards/{id}", s.handleDeleteReward)

			r.Get("/submissions", s.handleListSubmissions)
			r.Get("/proposals", s.handleListProposals)
			r.Get("/redemptions", s.handleListRedemptions)

			r.Get("/events", s.handleEvents)
		})

		r.Route("/submissions", func(r chi.Router) {
			r.Post("/", s.handleCreateSubmission)
			r.Get("/{id}", s.handleGetSubmission)
			r.Post("/{id}/submit", s.handleSubmitSubmission)
			r.Post("/{id}/approve", s.handleApproveSubmission)
			r.Post("/{id}/reject", s.handleRejectSubmission)
			r.Post("/{id}/resubmit", s.handleResubmitSubmission)
		})

		r.Route("/proposals", func(r chi.Router) {
			r.Post("/", s.handleCreateProposal)
			r.Get("/{id}", s.handleGetProposal)
			r.Post("/{id}/comment", s.handleCommentProposal)
			r.Post("/{id}/approve", s.handleApproveProposal)
			r.Post("/{id}/reject", s.handleRejectProposal)
		})

		r.Route("/redemptions", func(r chi.Router) {
			r.Post("/", s.handleRedeem)
			r.Get("/{id}", s.handleGetRedemption)
			r.Post("/{id}/fulfill", s.handleFulfill)
		})

		r.Route("/children/{childID}", func(r chi.Router) {
			r.Get("/balance", s.handleBalance)
			r.Get("/history", s.handleHistory)
			r.Get("/report", s.handleReport)
			r.Get("/report/weekly", s.handleWeeklyReport)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such route"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})
	return r
}

// Shutdown stops the limiter and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
