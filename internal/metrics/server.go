package metrics

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"playback-observer/internal/logging"
)

// NewServer returns an HTTP server exposing /metrics and /healthz on the
// given port. The caller is responsible for ListenAndServe and Shutdown.
func NewServer(port string) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	}).Methods("GET")

	return &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Serve starts the metrics server in a goroutine. Analysis is batch work,
// so a metrics server failure is logged but never fatal.
func Serve(port string) *http.Server {
	srv := NewServer(port)
	go func() {
		logging.Info("Metrics server listening on :%s", port)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("Metrics server error: %v", err)
		}
	}()
	return srv
}
