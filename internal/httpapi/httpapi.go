// Package httpapi exposes the recommendation service's five routes on Go
// 1.22's enhanced http.ServeMux, each with its own Metrics middleware, inside
// one middleware chain shared by the whole mux.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/brightlane/recoguard/internal/breaker"
	"github.com/brightlane/recoguard/internal/middleware"
	"github.com/brightlane/recoguard/internal/ratelimiter"
	"github.com/brightlane/recoguard/internal/recommend"
)

// Server holds everything the route handlers need.
type Server struct {
	pipeline          *recommend.Pipeline
	userProfileBreaker *breaker.Breaker
	contentBreaker     *breaker.Breaker
	log                *zap.SugaredLogger
}

func New(pipeline *recommend.Pipeline, userProfileBreaker, contentBreaker *breaker.Breaker, log *zap.SugaredLogger) *Server {
	return &Server{
		pipeline:           pipeline,
		userProfileBreaker: userProfileBreaker,
		contentBreaker:     contentBreaker,
		log:                log,
	}
}

// Handler builds the full http.Handler: route table plus the
// Recovery -> RequestID -> Logger -> RateLimit chain around it, with
// Metrics innermost. Metrics is applied per route, not once around the whole mux, so the
// "route" label on requests_total/request_duration_seconds distinguishes
// each of the five endpoints instead of collapsing them into one series.
func (s *Server) Handler(rl ratelimiter.Limiter) http.Handler {
	mux := http.NewServeMux()

	route(mux, "GET /recommendations/{userId}", "recommendations", s.handleRecommend)
	route(mux, "GET /metrics/circuit-breakers", "metrics_circuit_breakers", s.handleMetrics)
	route(mux, "POST /admin/reset-circuit-breakers", "admin_reset_circuit_breakers", s.handleReset)
	route(mux, "GET /health", "health", s.handleHealth)
	route(mux, "/", "not_found", s.handleNotFound)

	return middleware.Chain(mux,
		middleware.Recovery(s.log),
		middleware.RequestID,
		middleware.Logger(s.log),
		middleware.RateLimit(rl),
	)
}

// route registers pattern on mux wrapped in its own Metrics middleware so
// each endpoint reports under its own "route" label.
func route(mux *http.ServeMux, pattern, routeName string, h http.HandlerFunc) {
	mux.Handle(pattern, middleware.Metrics(routeName)(h))
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	resp := s.pipeline.Recommend(r.Context(), userID)
	writeJSON(w, resp.Status, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]breaker.Snapshot{
		"userProfileCircuitBreaker": s.userProfileBreaker.Metrics(),
		"contentCircuitBreaker":     s.contentBreaker.Metrics(),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.userProfileBreaker.Reset()
	s.contentBreaker.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"message": "All circuit breakers reset to CLOSED"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "recommendation-service"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": fmt.Sprintf("Route %s %s not found", r.Method, r.URL.Path),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		return
	}
}
