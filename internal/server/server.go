// Package server exposes the verification layer over HTTP.
package server

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dativo-io/verity/internal/otel"
	"github.com/dativo-io/verity/internal/pipeline"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// Server holds the dependencies of the HTTP API.
type Server struct {
	router    *chi.Mux
	verifier  *pipeline.Verifier
	limiter   *RateLimiter
	apiKeys   []string
	proxies   []netip.Prefix
	startTime time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithAPIKeys requires one of keys on every /v1 route. With no keys the API
// is open.
func WithAPIKeys(keys []string) Option {
	return func(s *Server) { s.apiKeys = keys }
}

// WithTrustedProxies honors X-Forwarded-For and X-Real-IP from peers inside
// prefixes. Without it the headers are ignored.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(s *Server) { s.proxies = prefixes }
}

// WithRateLimiter applies rl to every /v1 route.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// NewServer builds a Server around v.
func NewServer(v *pipeline.Verifier, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		verifier:  v,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the chi router with all middleware and routes.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(ClientIPMiddleware(s.proxies))
	r.Use(middleware.Recoverer)
	r.Use(otel.MiddlewareWithStatus())

	// Unauthenticated
	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.limiter))
		r.Use(middleware.Timeout(defaultTimeout))
		r.Use(limitBody)

		r.Post("/sanitize", s.handleSanitize)

		r.Post("/ledger/calls", s.handleRecordCall)
		r.Get("/ledger/calls/{callID}", s.handleGetCall)
		r.Get("/ledger/requests/{requestID}", s.handleRequestCalls)
		r.Post("/ledger/verify", s.handleVerifyCitations)
		r.Get("/ledger/stats", s.handleLedgerStats)

		r.Get("/actions/policies", s.handlePolicies)
		r.Post("/actions/validate", s.handleValidateAction)
		r.Post("/actions/recommend", s.handleRecommend)

		r.Post("/responses/chat/validate", s.handleValidateChat)
		r.Post("/responses/advise/validate", s.handleValidateAdvise)
	})

	return r
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}
