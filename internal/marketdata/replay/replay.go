// Package replay reads recorded ticks from NDJSON files and emits them at a
// configurable speed, so a live session can be re-run deterministically.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"pinhedge/internal/model"
)

// Replayer streams ticks from a recorded NDJSON file, one JSON tick per line.
type Replayer struct {
	path string
}

// New creates a Replayer for the given tick file.
func New(path string) *Replayer {
	return &Replayer{path: path}
}

// Run replays the file into outCh. speed controls the playback rate:
// 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible. Gaps between ticks
// are reproduced scaled, capped so overnight holes do not stall the run.
func (r *Replayer) Run(ctx context.Context, speed float64, outCh chan<- *model.Tick) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("replay: open %s: %w", r.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var prevTS time.Time
	emitted, skipped := 0, 0

	for sc.Scan() {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d ticks", emitted)
			return ctx.Err()
		default:
		}

		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var tick model.Tick
		if err := json.Unmarshal(line, &tick); err != nil || !tick.Valid() {
			skipped++
			continue
		}

		if speed > 0 && !prevTS.IsZero() {
			gap := tick.TS.Sub(prevTS)
			if gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = tick.TS

		t := tick
		select {
		case <-ctx.Done():
			return ctx.Err()
		case outCh <- &t:
		}
		emitted++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("replay: read %s: %w", r.path, err)
	}

	log.Printf("[replay] completed: %d ticks replayed, %d lines skipped", emitted, skipped)
	return nil
}
