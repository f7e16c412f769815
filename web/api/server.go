// Package api serves live progress of an export run and the run history
// over HTTP, server-sent events and websockets.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/ledger"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/progress"
)

// Tracker provides the live run state
type Tracker interface {
	Snapshot() progress.Snapshot
}

// History provides finished runs
type History interface {
	ListRuns(limit int) ([]ledger.RunSummary, error)
	GetRun(batchID domain.BatchID) (*domain.Report, error)
}

// Server is the HTTP API server
type Server struct {
	tracker  Tracker
	history  History
	addr     string
	mux      *http.ServeMux
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewServer creates a new API server. history may be nil.
func NewServer(tracker Tracker, history History, addr string) *Server {
	s := &Server{
		tracker: tracker,
		history: history,
		addr:    addr,
		mux:     http.NewServeMux(),
		hub:     NewHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/jobs", s.listJobsHandler())
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/runs/", s.getRunHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.mux}

	go s.hub.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[web] listening on http://%s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Observe is an orchestrator.Observer that forwards run events to connected
// clients. It never blocks.
func (s *Server) Observe(e orchestrator.Event) {
	s.hub.Broadcast(Message{Type: string(e.Type), Data: eventToResponse(e)})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
