package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aischolar/scholar-daily/internal/config"
	"github.com/aischolar/scholar-daily/internal/pipeline"
)

// Runner executes digest runs on behalf of the HTTP surface.
type Runner interface {
	Run(ctx context.Context) pipeline.Report
	RunTrending(ctx context.Context) pipeline.Report
	Preview(ctx context.Context) (string, pipeline.Report)
}

// Server holds the HTTP server and its dependencies
type Server struct {
	config *config.Config
	runner Runner
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config) *Server {
	return &Server{
		config: cfg,
		runner: pipeline.New(cfg),
	}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)

	// Health check
	api.HandleFunc("/health", s.healthHandler).Methods("GET")

	// Run triggers require the shared token when one is configured.
	runs := api.PathPrefix("/digest").Subrouter()
	runs.Use(s.authMiddleware)
	runs.HandleFunc("/run", s.runDigestHandler).Methods("POST")
	runs.HandleFunc("/trending", s.runTrendingHandler).Methods("POST")
	runs.HandleFunc("/preview", s.previewHandler).Methods("GET")

	// Status and configuration
	api.HandleFunc("/status", s.statusHandler).Methods("GET")
	api.HandleFunc("/config", s.configHandler).Methods("GET")

	return r
}

// healthHandler provides health check endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// Middleware functions

// authMiddleware checks the bearer token on run-triggering endpoints. When no
// token is configured the endpoints are open, which is the local-dev setup.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.TriggerAuthToken != "" {
			got := r.Header.Get("Authorization")
			want := "Bearer " + s.config.TriggerAuthToken
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		log.Printf("%s %s %d %v", r.Method, r.URL.Path, wrapped.statusCode, duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
