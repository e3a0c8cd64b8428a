// Package api exposes the operational HTTP surface: open and closed
// positions, run statistics, the trade journal and a manual kill switch.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"pinhedge/internal/hedge"
	"pinhedge/internal/journal"
)

const defaultLimit = 50

// Server serves the JSON API. Health is the shared handler also mounted on
// the metrics listener; Journal may be nil when running without persistence.
type Server struct {
	mgr    *hedge.Manager
	jnl    *journal.Journal
	health http.Handler
	srv    *http.Server
}

// NewServer builds the server on addr.
func NewServer(addr string, mgr *hedge.Manager, jnl *journal.Journal, health http.Handler) *Server {
	s := &Server{mgr: mgr, jnl: jnl, health: health}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/positions", s.handlePositions)
	mux.HandleFunc("/api/v1/positions/closed", s.handleClosed)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/trades", s.handleTrades)
	mux.HandleFunc("/api/v1/close", s.handleForceClose)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the underlying mux, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[api] listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		s.health.ServeHTTP(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Active())
}

func (s *Server) handleClosed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Closed(limitParam(r)))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Session hedge.Stats      `json:"session"`
		Journal *journal.Summary `json:"journal,omitempty"`
	}{Session: s.mgr.Stats()}

	if s.jnl != nil {
		sum, err := s.jnl.GetSummary()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Journal = &sum
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.jnl == nil {
		writeJSON(w, http.StatusOK, []journal.PositionRecord{})
		return
	}
	records, err := s.jnl.GetPositions(limitParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleForceClose flattens every open position at market. POST only; this
// is the manual kill switch, not something a crawler should trip.
func (s *Server) handleForceClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := s.mgr.ForceCloseAll(ctx, hedge.ReasonManual); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func limitParam(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
