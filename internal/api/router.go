package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/avikram/metalpulse/internal/api/handlers"
	"github.com/avikram/metalpulse/pkg/logger"
)

// NewRouter wires all HTTP routes.
func NewRouter(
	quoteHandler *handlers.QuoteHandler,
	ingestHandler *handlers.IngestHandler,
	jobsHandler *handlers.JobsHandler,
	healthHandler *handlers.HealthHandler,
	log *logger.Logger,
) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthHandler.Get).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/quotes/aggregate", quoteHandler.GetAggregate).Methods("GET")
	api.HandleFunc("/quotes/latest", quoteHandler.GetLatest).Methods("GET")

	api.HandleFunc("/ingest/run", ingestHandler.Run).Methods("POST")
	api.HandleFunc("/ingest/status", ingestHandler.Status).Methods("GET")

	api.HandleFunc("/jobs/run/{name}", jobsHandler.Run).Methods("POST")
	api.HandleFunc("/jobs/stats", jobsHandler.Stats).Methods("GET")

	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from handler panics.
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
