package journal

import (
	"path/filepath"
	"testing"
	"time"

	"pinhedge/internal/hedge"
	"pinhedge/internal/model"
)

func testPosition(symbol string, pnl float64, hedged bool) hedge.Position {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pos := hedge.Position{
		Symbol: symbol,
		Signal: &model.SpikeSignal{
			Symbol:     symbol,
			Type:       model.SpikeUpPin,
			Direction:  model.DirectionDown,
			Confidence: 80,
			DetectedAt: base,
		},
		First: hedge.Leg{
			Side:       model.SideShort,
			EntryPrice: 100,
			ExitPrice:  99.6,
			PnL:        pnl,
			Filled:     true,
			Closed:     true,
		},
		CloseReason: hedge.ReasonFirstLegTP,
		TotalPnL:    pnl,
		CreatedAt:   base,
		ClosedAt:    base.Add(30 * time.Second),
	}
	if hedged {
		pos.Second = hedge.Leg{
			Side:       model.SideLong,
			EntryPrice: 100.8,
			ExitPrice:  100.5,
			Filled:     true,
			Closed:     true,
		}
		pos.CloseReason = hedge.ReasonBreakevenSL
	}
	return pos
}

func TestJournalRoundTrip(t *testing.T) {
	j, err := New(filepath.Join(t.TempDir(), "trades.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	if err := j.RecordPosition(testPosition("BTCUSDT", 2.4, false)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.RecordPosition(testPosition("ETHUSDT", -0.8, true)); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := j.GetPositions(10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	// newest first
	if got[0].Symbol != "ETHUSDT" || !got[0].Hedged {
		t.Errorf("row 0 = %+v", got[0])
	}
	if got[1].Symbol != "BTCUSDT" || got[1].FirstExit != 99.6 {
		t.Errorf("row 1 = %+v", got[1])
	}
}

func TestJournalSummary(t *testing.T) {
	j, err := New(filepath.Join(t.TempDir(), "trades.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	j.RecordPosition(testPosition("BTCUSDT", 2.4, false))
	j.RecordPosition(testPosition("BTCUSDT", 1.1, true))
	j.RecordPosition(testPosition("BTCUSDT", -0.8, true))

	s, err := j.GetSummary()
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Positions != 3 || s.Wins != 2 || s.Losses != 1 || s.Hedged != 2 {
		t.Errorf("summary = %+v", s)
	}
	if diff := s.TotalPnL - 2.7; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("total pnl = %v", s.TotalPnL)
	}
}
