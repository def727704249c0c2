// Package health exposes a liveness endpoint plus a small status report of
// adapter lifecycle states and queue depth.
package health

import (
	"context"
	"encoding/json"
	"net/http"
)

// Status is the /status response body.
type Status struct {
	Adapters   map[string]string `json:"adapters"` // platform -> lifecycle state
	QueueDepth int               `json:"queue_depth"`
}

// Server is a minimal HTTP server for health checks.
type Server struct {
	srv      *http.Server
	statusFn func() Status
}

// New creates a health server on addr; statusFn is called per /status
// request.
func New(addr string, statusFn func() Status) *Server {
	mux := http.NewServeMux()
	s := &Server{
		srv:      &http.Server{Addr: addr, Handler: mux},
		statusFn: statusFn,
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.statusFn())
	})

	return s
}

// Start begins serving health checks (blocking).
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
