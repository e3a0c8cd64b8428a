// Package recorder appends live ticks to an NDJSON file, producing the
// inputs consumed by the replay package.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const flushEvery = 256

// Recorder buffers ticks and writes them one JSON object per line. It is
// safe for concurrent use; a single writer goroutine per process is typical.
type Recorder struct {
	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	pending int
	written int64
}

// New opens (or creates) the tick file in append mode, creating parent
// directories as needed.
func New(path string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("recorder: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}
	return &Recorder{f: f, w: bufio.NewWriterSize(f, 64*1024)}, nil
}

// Record appends one line. A periodic flush bounds data loss on crash
// without paying a syscall per tick.
func (r *Recorder) Record(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("recorder: marshal: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(b); err != nil {
		return fmt.Errorf("recorder: write: %w", err)
	}
	if err := r.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("recorder: write: %w", err)
	}
	r.written++
	r.pending++
	if r.pending >= flushEvery {
		r.pending = 0
		return r.w.Flush()
	}
	return nil
}

// Written returns the number of lines recorded since open.
func (r *Recorder) Written() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Close flushes buffered lines and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}
