package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dplane/pgsentineld/internal/cluster"
)

// StatusServer serves the two read-only endpoints base spec §6 requires.
// It only ever reads the snapshot under its own lock; it never drives a
// handler or an action.
type StatusServer struct {
	snapshot *cluster.Snapshot
	server   *http.Server
	logger   *log.Logger
}

// NewStatusServer builds the router and the underlying http.Server but
// does not start listening yet.
func NewStatusServer(addr string, snapshot *cluster.Snapshot, logger *log.Logger) *StatusServer {
	s := &StatusServer{snapshot: snapshot, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/heartbeat", s.handleHeartbeat).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	s.server = &http.Server{Addr: addr, Handler: r}
	return s
}

// ListenAndServe blocks serving the status endpoints until Shutdown is
// called; it returns http.ErrServerClosed on a clean shutdown.
func (s *StatusServer) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.snapshot.Export())
}

func (s *StatusServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"time": time.Now().Format(time.RFC3339),
	})
}

// handleNotFound is registered once as the router's NotFoundHandler,
// rather than left to fall through after a matched route — base spec §9
// flags the source implementation's double-response bug on exactly this
// path and asks for exactly one response per request.
func (s *StatusServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusNotFound, map[string]string{
		"error": fmt.Sprintf("no such endpoint: %s", r.URL.Path),
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
