package redis

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen reports that event publishing is suspended while the
// breaker waits out a Redis outage.
var ErrCircuitOpen = errors.New("redis publish suspended: circuit open")

// State is the position of the publishing gate.
type State int

const (
	StateClosed   State = iota // publishing normally
	StateOpen                  // Redis down, publishes fail fast until the retry window passes
	StateHalfOpen              // retry window passed, next publish is the probe
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker gates trade-event publishes against a flapping Redis. A run
// of maxFailures consecutive XADD errors opens the gate; while open, publish
// attempts fail fast with ErrCircuitOpen instead of stacking network
// timeouts behind the tick path. Once retryAfter has elapsed the next
// publish goes through as a probe, and its outcome decides between closing
// the gate and reopening it.
type CircuitBreaker struct {
	mu         sync.Mutex
	state      State
	consecFail int
	maxFail    int
	retryAfter time.Duration
	lastFail   time.Time

	// OnStateChange, when set, observes every transition. The buffered
	// publisher chains it to drain the event backlog when the gate closes.
	OnStateChange func(from, to State)
}

func NewCircuitBreaker(maxFailures int, retryAfter time.Duration) *CircuitBreaker {
	return &CircuitBreaker{maxFail: maxFailures, retryAfter: retryAfter}
}

// Execute runs one publish attempt through the gate. The publish error, if
// any, is returned unwrapped so callers still see the underlying Redis
// failure; ErrCircuitOpen is returned without invoking publish at all.
func (cb *CircuitBreaker) Execute(publish func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := publish()
	cb.record(err)
	return err
}

// allow decides whether a publish may proceed, shifting Open to HalfOpen
// once the retry window has elapsed.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		if time.Since(cb.lastFail) <= cb.retryAfter {
			return false
		}
		cb.shift(StateHalfOpen)
	}
	return true
}

// record folds a publish outcome into the failure run. A failed probe
// reopens immediately; a successful one closes the gate.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		if cb.state == StateHalfOpen {
			cb.shift(StateClosed)
		}
		cb.consecFail = 0
		return
	}
	cb.consecFail++
	cb.lastFail = time.Now()
	if cb.state == StateHalfOpen || cb.consecFail >= cb.maxFail {
		cb.shift(StateOpen)
	}
}

func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) shift(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateClosed {
		cb.consecFail = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
