package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server exposes /metrics, /health and /progress so a multi-hour run can be
// watched without touching the process.
type Server struct {
	httpServer *http.Server
}

// StartServer starts the status endpoint on addr. The progress callback is
// polled on each /progress request; it may return nil before the run starts.
func StartServer(addr string, progressFn func() interface{}) *Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{}))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		summary := progressFn()
		if summary == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"run not started"}`))
			return
		}
		if err := json.NewEncoder(w).Encode(summary); err != nil {
			log.Warn().Err(err).Msg("Failed to encode progress response")
		}
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Starting status server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Status server failed")
		}
	}()

	return &Server{httpServer: srv}
}

// Shutdown stops the status server, waiting briefly for in-flight requests.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Status server shutdown was not clean")
	}
}
