package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pinhedge/internal/model"
)

func TestRecorderWritesReplayableLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks", "btc.ndjson")
	rec, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		tick := &model.Tick{
			Symbol: "BTCUSDT",
			Price:  65000 + float64(i),
			Qty:    0.01,
			TS:     base.Add(time.Duration(i) * time.Second),
		}
		if err := rec.Record(tick); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if got := rec.Written(); got != 3 {
		t.Errorf("Written() = %d, want 3", got)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recorded file: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		var tick model.Tick
		if err := json.Unmarshal(sc.Bytes(), &tick); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines, err)
		}
		if !tick.Valid() {
			t.Errorf("line %d round-tripped to invalid tick: %+v", lines, tick)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("recorded %d lines, want 3", lines)
	}
}

func TestRecorderAppendsAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.ndjson")
	tick := &model.Tick{Symbol: "ETHUSDT", Price: 3500, Qty: 1, TS: time.Now().UTC()}

	for session := 0; session < 2; session++ {
		rec, err := New(path)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := rec.Record(tick); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if err := rec.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("file has %d lines after two sessions, want 2", lines)
	}
}
