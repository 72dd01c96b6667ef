package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"nipi/internal/query"
)

// StatusFunc supplies the engine's counters for the status endpoint. The
// engine and the detached API consumer provide different implementations.
type StatusFunc func() any

// Server is the read-only HTTP surface over a Cache.
type Server struct {
	cache   *Cache
	status  StatusFunc
	history query.Querier // optional, enables the /history endpoints
	srv     *http.Server

	upgrader websocket.Upgrader
}

// NewServer builds the server; Start makes it listen on addr.
func NewServer(addr string, cache *Cache, status StatusFunc) *Server {
	s := &Server{
		cache:  cache,
		status: status,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.srv = &http.Server{Addr: addr, Handler: s.Router()}
	return s
}

// WithHistory attaches a ClickHouse-backed querier and enables the
// /api/v1/history endpoints. Must be called before Start.
func (s *Server) WithHistory(q query.Querier) *Server {
	s.history = q
	s.srv.Handler = s.Router()
	return s
}

// Router builds the route table; exposed so tests can drive it through
// httptest without a listener.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/v1/metrics/latest", s.handleLatest).Methods("GET")
	r.HandleFunc("/api/v1/events", s.handleEvents).Methods("GET")
	r.HandleFunc("/api/v1/flows/top", s.handleTopFlows).Methods("GET")
	r.HandleFunc("/api/v1/flows/recent", s.handleRecentFlows).Methods("GET")
	r.HandleFunc("/ws/events", s.handleEventStream)
	if s.history != nil {
		r.HandleFunc("/api/v1/history/events", s.handleHistoryEvents).Methods("GET")
		r.HandleFunc("/api/v1/history/talkers", s.handleHistoryTalkers).Methods("GET")
		r.HandleFunc("/api/v1/history/traffic", s.handleHistoryTraffic).Methods("GET")
	}
	return r
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("API server starting on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: failed to encode response: %v", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	snap := s.cache.Latest()
	if snap == nil {
		http.Error(w, "no window closed yet", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cache.RecentEvents(limitParam(r, 50)))
}

func (s *Server) handleRecentFlows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cache.RecentFlows(limitParam(r, 50)))
}

// handleTopFlows serves the heavy hitters from the latest closed window.
func (s *Server) handleTopFlows(w http.ResponseWriter, r *http.Request) {
	snap := s.cache.Latest()
	if snap == nil {
		http.Error(w, "no window closed yet", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"window_start": snap.WindowStart,
		"window_end":   snap.WindowEnd,
		"by_bytes":     snap.TopByBytes,
		"by_packets":   snap.TopByPkts,
	})
}

// sinceParam parses ?since as RFC3339, defaulting to one hour back.
func sinceParam(r *http.Request) time.Time {
	raw := r.URL.Query().Get("since")
	if raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return time.Now().Add(-time.Hour)
}

func (s *Server) handleHistoryEvents(w http.ResponseWriter, r *http.Request) {
	rows, err := s.history.EventHistory(r.Context(), sinceParam(r), limitParam(r, 100))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

func (s *Server) handleHistoryTalkers(w http.ResponseWriter, r *http.Request) {
	rows, err := s.history.TopTalkers(r.Context(), sinceParam(r), limitParam(r, 20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

func (s *Server) handleHistoryTraffic(w http.ResponseWriter, r *http.Request) {
	from := sinceParam(r)
	to := time.Now()
	if raw := r.URL.Query().Get("until"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			to = t
		}
	}
	points, err := s.history.TrafficSeries(r.Context(), from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, points)
}

// handleEventStream upgrades to a websocket and pushes security events as
// JSON frames until the client goes away.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	feed := s.cache.Subscribe()
	defer s.cache.Unsubscribe(feed)

	// Reader goroutine: we never expect client frames, but reading is how
	// close frames and dead peers are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data := <-feed:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
