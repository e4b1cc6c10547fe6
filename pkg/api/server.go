// Package api exposes the CIVOS governance core over HTTP.
//
// Errors are RFC 7807 problem details. Every /v1 route requires a bearer
// token unless authentication is disabled, in which case requests run as a
// local admin principal.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"

	"github.com/qontrek/civos/pkg/budget"
	"github.com/qontrek/civos/pkg/classification"
	"github.com/qontrek/civos/pkg/confirmation"
	"github.com/qontrek/civos/pkg/ledger"
	"github.com/qontrek/civos/pkg/observability"
	"github.com/qontrek/civos/pkg/vocabulary"
)

// Deps are the core components served by the API.
type Deps struct {
	Coordinator *confirmation.Coordinator
	Engine      *classification.Engine
	Ledger      *ledger.Ledger
	Budget      *budget.Monitor
	Vocabulary  *vocabulary.Guard
}

// Server is the HTTP surface. Close releases the rate limiter.
type Server struct {
	deps      Deps
	auth      *Authenticator
	authOn    bool
	limiter   *RateLimiter
	telemetry *observability.Provider
	logger    *slog.Logger
	router    chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithAuthenticator enables bearer authentication.
func WithAuthenticator(a *Authenticator) Option {
	return func(s *Server) {
		s.auth = a
		s.authOn = true
	}
}

// WithRateLimit enables per-IP rate limiting. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = NewRateLimiter(rps, burst)
		}
	}
}

func WithTelemetry(p *observability.Provider) Option {
	return func(s *Server) { s.telemetry = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

var errMissingDeps = errors.New("api: coordinator, engine, ledger and budget are required")

// NewServer builds the router.
func NewServer(deps Deps, opts ...Option) (*Server, error) {
	if deps.Coordinator == nil || deps.Engine == nil || deps.Ledger == nil || deps.Budget == nil {
		return nil, errMissingDeps
	}
	if deps.Vocabulary == nil {
		deps.Vocabulary = vocabulary.NewGuard()
	}
	s := &Server{
		deps:   deps,
		logger: slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Close stops background work.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Close()
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, r, "No route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteMethodNotAllowed(w, r)
	})

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(v1 chi.Router) {
		if s.authOn {
			v1.Use(AuthMiddleware(s.auth))
		} else {
			v1.Use(anonymousMiddleware)
		}

		v1.Post("/classify", s.handleClassify)
		v1.Post("/vocabulary/check", s.handleVocabularyCheck)

		v1.Get("/actions", s.handleListActions)
		v1.Get("/actions/{id}", s.handleGetAction)
		v1.With(RequireRole(RoleAgent, RoleOperator)).Post("/actions", s.handlePropose)
		v1.With(RequireRole(RoleOperator)).Post("/actions/{id}/confirm", s.handleConfirm)
		v1.With(RequireRole(RoleOperator)).Post("/actions/{id}/decline", s.handleDecline)

		v1.Get("/ledger", s.handleLedger)
		v1.Get("/ledger/verify", s.handleLedgerVerify)
		v1.Get("/budget", s.handleBudget)
		v1.Get("/friction-phase", s.handleGetFriction)
		v1.With(RequireRole(RoleAdmin)).Put("/admin/friction-phase", s.handleSetFriction)
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		ctx := r.Context()
		var finish func(error)
		if s.telemetry != nil {
			ctx, finish = s.telemetry.TrackOperation(ctx, "http "+r.Method,
				attribute.String("http.method", r.Method))
		}
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		if finish != nil {
			var err error
			if ww.Status() >= http.StatusInternalServerError {
				err = errors.New(http.StatusText(ww.Status()))
			}
			finish(err)
		}
		s.logger.InfoContext(ctx, "http request",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", GetRequestID(ctx),
		)
	})
}
