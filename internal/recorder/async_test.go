package recorder

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pinhedge/internal/model"
)

func TestAsyncRecorderDrainsOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.ndjson")
	rec, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	async := NewAsync(rec, 64)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		async.Run(ctx)
		close(done)
	}()

	base := time.Now().UTC()
	for i := 0; i < 10; i++ {
		ok := async.Offer(&model.Tick{
			Symbol: "BTCUSDT",
			Price:  65000 + float64(i),
			TS:     base.Add(time.Duration(i) * time.Millisecond),
		})
		if !ok {
			t.Fatalf("Offer %d dropped with empty ring", i)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		lines++
	}
	if lines != 10 {
		t.Errorf("recorded %d lines, want 10", lines)
	}
	if async.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", async.Dropped())
	}
}
