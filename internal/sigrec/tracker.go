package sigrec

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const filePrefix = "pin_signals_"

// Tracker follows each recorded signal through its hold-period horizons and
// appends the finished record to that day's NDJSON file. Safe for concurrent
// use from per-symbol workers.
type Tracker struct {
	dataDir string

	mu      sync.Mutex
	pending []*Record
	written int
}

// NewTracker creates the data directory if needed.
func NewTracker(dataDir string) (*Tracker, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("sigrec: mkdir %s: %w", dataDir, err)
	}
	return &Tracker{dataDir: dataDir}, nil
}

// Track starts following a record.
func (t *Tracker) Track(r *Record) {
	t.mu.Lock()
	t.pending = append(t.pending, r)
	t.mu.Unlock()
	log.Printf("[sigrec] %s %s signal recorded id=%s amplitude=%.2f%%",
		r.Symbol, r.Direction, r.ID[:8], r.AmplitudePct)
}

// OnTick samples price marks for every pending record of the symbol. A mark
// takes the first price seen at or after its horizon; once the longest
// horizon is marked the record is flushed to disk.
func (t *Tracker) OnTick(symbol string, price float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.pending[:0]
	for _, r := range t.pending {
		if r.Symbol != symbol {
			kept = append(kept, r)
			continue
		}
		elapsed := ts.Sub(r.DetectedAt)
		r.observeEntry(price, ts)
		for _, period := range HoldPeriods {
			if _, ok := r.PriceAfter(period); ok {
				continue
			}
			if elapsed >= time.Duration(period)*time.Second {
				r.setPriceAfter(period, price)
			}
		}
		if r.complete() {
			t.appendLocked(r)
			continue
		}
		kept = append(kept, r)
	}
	t.pending = kept
}

// Pending returns the number of records still waiting on marks.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Written returns the number of records flushed to disk.
func (t *Tracker) Written() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}

// Close flushes records still in flight, with whatever marks they have.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.pending {
		t.appendLocked(r)
	}
	t.pending = nil
}

func (t *Tracker) appendLocked(r *Record) {
	path := t.filePath(r.DetectedAt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("[sigrec] open %s: %v", path, err)
		return
	}
	defer f.Close()

	b, err := json.Marshal(r)
	if err != nil {
		log.Printf("[sigrec] marshal %s: %v", r.ID[:8], err)
		return
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		log.Printf("[sigrec] write %s: %v", path, err)
		return
	}
	t.written++
}

func (t *Tracker) filePath(ts time.Time) string {
	return filepath.Join(t.dataDir, filePrefix+ts.UTC().Format("20060102")+".ndjson")
}

// CleanupOld removes signal files older than keepDays. Returns the number
// of files deleted.
func (t *Tracker) CleanupOld(keepDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -keepDays)
	entries, err := os.ReadDir(t.dataDir)
	if err != nil {
		return 0, fmt.Errorf("sigrec: read dir: %w", err)
	}
	deleted := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(t.dataDir, name)); err == nil {
			deleted++
		}
	}
	return deleted, nil
}

// LoadDay reads one day's records. day is formatted YYYYMMDD.
func LoadDay(dataDir, day string) ([]*Record, error) {
	path := filepath.Join(dataDir, filePrefix+day+".ndjson")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sigrec: open %s: %w", path, err)
	}
	defer f.Close()

	var records []*Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			log.Printf("[sigrec] skip bad line in %s: %v", path, err)
			continue
		}
		records = append(records, &r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("sigrec: read %s: %w", path, err)
	}
	return records, nil
}

// LoadAll reads every signal file under dataDir, oldest detection first.
func LoadAll(dataDir string) ([]*Record, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("sigrec: read dir: %w", err)
	}
	var all []*Record
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".ndjson") {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ".ndjson")
		records, err := LoadDay(dataDir, day)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].DetectedAt.Before(all[j].DetectedAt) })
	return all, nil
}
