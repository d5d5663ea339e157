// Package resultserver exposes a harness run's result callbacks over
// REST and WebSocket, mirroring the teacher's internal/api.APIServer
// (gorilla/mux, one handler per concern) and internal/websocket.DAGStreamer
// (a register/unregister/broadcast hub) — reworked from a DAG-visualization
// feed into a TPASS/TFAIL/TCONF/TBROK result feed.
package resultserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ltp/testlib/internal/result"
	"github.com/ltp/testlib/internal/resultlog"
)

// ResultEvent is one reported test outcome, broadcast to every connected
// WebSocket client. Publishing it does not change the Counters served by
// the REST endpoint; those are the ones registered with Track. It mirrors resultlog.ResultEvent's fields with JSON
// tags, keeping resultlog free of an encoding/json dependency.
type ResultEvent struct {
	RunID     string    `json:"run_id"`
	Test      string    `json:"test"`
	Case      int       `json:"case"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Server hosts the live result feed for one or more concurrent harness
// runs. Callers push events through Publish (wired as a resultlog hook);
// HTTP clients poll /api/results/summary and WebSocket clients subscribe
// to /ws/results.
type Server struct {
	addr string

	mu       sync.RWMutex
	counters map[string]*result.Counters // run ID -> counters

	clients    map[*websocket.Conn]bool
	broadcast  chan ResultEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	upgrader   websocket.Upgrader

	httpSrv *http.Server
}

// New builds a Server bound to addr (e.g. ":8080"). Call Run to start
// serving; it blocks until the listener errors or Shutdown is called.
func New(addr string) *Server {
	return &Server{
		addr:       addr,
		counters:   make(map[string]*result.Counters),
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan ResultEvent, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Track registers counters under runID so /api/results/summary can report
// it. harness.Run does not call it; the caller that owns the Counters
// registers them.
func (s *Server) Track(runID string, counters *result.Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[runID] = counters
}

// Publish broadcasts one result event to connected WebSocket clients. It
// implements resultlog.Publisher, so a Server can be attached directly via
// Logger.SetPublisher; it never blocks the caller for more than the
// buffered channel send (256 deep).
func (s *Server) Publish(evt resultlog.ResultEvent) {
	out := ResultEvent{
		RunID:     evt.RunID,
		Test:      evt.Test,
		Case:      evt.Case,
		Kind:      evt.Kind,
		Message:   evt.Message,
		Timestamp: evt.Timestamp,
	}
	select {
	case s.broadcast <- out:
	default:
		slog.Warn("resultserver: broadcast queue full, dropping event", "run_id", out.RunID, "test", out.Test)
	}
}

// Run starts the broadcast hub goroutine and blocks serving HTTP until the
// listener fails or Shutdown is called.
func (s *Server) Run() error {
	go s.hub()

	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.HandleFunc("/api/results/summary", s.handleSummary).Methods("GET")
	r.HandleFunc("/api/results/{run_id}", s.handleRunSummary).Methods("GET")
	r.HandleFunc("/ws/results", s.handleWebSocket)

	s.httpSrv = &http.Server{Addr: s.addr, Handler: r}
	slog.Info("resultserver: listening", "addr", s.addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("resultserver: listen: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown() error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) hub() {
	for {
		select {
		case conn := <-s.register:
			s.mu.Lock()
			s.clients[conn] = true
			s.mu.Unlock()
			slog.Info("resultserver: client connected", "total", len(s.clients))

		case conn := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[conn]; ok {
				delete(s.clients, conn)
				conn.Close()
			}
			s.mu.Unlock()

		case evt := <-s.broadcast:
			s.mu.RLock()
			for conn := range s.clients {
				if err := conn.WriteJSON(evt); err != nil {
					conn.Close()
					delete(s.clients, conn)
				}
			}
			s.mu.RUnlock()
		}
	}
}

type runSummary struct {
	RunID string `json:"run_id"`
	Pass  int64  `json:"pass"`
	Fail  int64  `json:"fail"`
	Conf  int64  `json:"conf"`
	Brok  int64  `json:"brok"`
	Warn  int64  `json:"warn"`
}

func summarize(runID string, c *result.Counters) runSummary {
	return runSummary{RunID: runID, Pass: c.Pass(), Fail: c.Fail(), Conf: c.Conf(), Brok: c.Brok(), Warn: c.Warn()}
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make([]runSummary, 0, len(s.counters))
	for runID, c := range s.counters {
		out = append(out, summarize(runID, c))
	}
	s.mu.RUnlock()
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleRunSummary(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	s.mu.RLock()
	c, ok := s.counters[runID]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown run id", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(summarize(runID, c))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("resultserver: websocket upgrade failed", "error", err)
		return
	}
	s.register <- conn

	go func() {
		defer func() { s.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
