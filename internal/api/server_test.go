package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"pinhedge/config"
	"pinhedge/internal/exchange"
	"pinhedge/internal/hedge"
	"pinhedge/internal/journal"
	"pinhedge/internal/model"
)

func newTestServer(t *testing.T) (*Server, *hedge.Manager, *exchange.Paper) {
	t.Helper()
	gw := exchange.NewPaper(0)
	mgr := hedge.NewManager(config.Default().Hedge, gw, nil)

	jnl, err := journal.New(filepath.Join(t.TempDir(), "trades.db"))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	t.Cleanup(func() { jnl.Close() })

	return NewServer(":0", mgr, jnl, nil), mgr, gw
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func openPosition(t *testing.T, mgr *hedge.Manager, gw *exchange.Paper) {
	t.Helper()
	gw.SetPrice("BTCUSDT", 100.0)
	sig := &model.SpikeSignal{
		Symbol:           "BTCUSDT",
		Type:             model.SpikeUpPin,
		Direction:        model.DirectionDown,
		EntryPrice:       100.0,
		ExtremePrice:     101.0,
		Confidence:       80,
		RetraceThreshold: 0.008,
		DetectedAt:       time.Now().UTC(),
	}
	if err := mgr.OnSignal(context.Background(), sig); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
}

func TestPositionsEndpoint(t *testing.T) {
	s, mgr, gw := newTestServer(t)

	rec := get(t, s, "/api/v1/positions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var empty []hedge.Position
	if err := json.Unmarshal(rec.Body.Bytes(), &empty); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no positions, got %d", len(empty))
	}

	openPosition(t, mgr, gw)

	rec = get(t, s, "/api/v1/positions")
	var open []hedge.Position
	if err := json.Unmarshal(rec.Body.Bytes(), &open); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(open) != 1 || open[0].Symbol != "BTCUSDT" {
		t.Fatalf("positions = %+v", open)
	}
}

func TestStatsEndpointIncludesJournalSummary(t *testing.T) {
	s, mgr, gw := newTestServer(t)
	openPosition(t, mgr, gw)

	rec := get(t, s, "/api/v1/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Session hedge.Stats      `json:"session"`
		Journal *journal.Summary `json:"journal"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Session.PositionsOpened != 1 {
		t.Errorf("PositionsOpened = %d, want 1", resp.Session.PositionsOpened)
	}
	if resp.Journal == nil {
		t.Error("journal summary missing")
	}
}

func TestForceCloseRequiresPost(t *testing.T) {
	s, mgr, gw := newTestServer(t)
	openPosition(t, mgr, gw)

	rec := get(t, s, "/api/v1/close")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET close status = %d, want 405", rec.Code)
	}

	post := httptest.NewRecorder()
	s.Handler().ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/api/v1/close", nil))
	if post.Code != http.StatusOK {
		t.Fatalf("POST close status = %d, body %s", post.Code, post.Body.String())
	}
	if n := len(mgr.Active()); n != 0 {
		t.Errorf("active positions after close = %d, want 0", n)
	}
}

func TestTradesEndpointEmptyJournal(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := get(t, s, "/api/v1/trades?limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var records []journal.PositionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want 0", len(records))
	}
}

func TestHealthFallbackWithoutChecker(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := get(t, s, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
