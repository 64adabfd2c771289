// Package breaker isolates failing downstream endpoints per key.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/kapetan-io/tackle/clock"
)

// ErrCircuitOpen means "do not attempt", not a failure of this call.
var ErrCircuitOpen = errors.New("circuit open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// Status is a point-in-time view of one endpoint's breaker.
type Status struct {
	State    string `json:"state"`
	Failures int    `json:"failureCount"`
}

// Registry keeps one breaker state machine per endpoint key. Keys never
// block each other; transitions within one key are serialized.
type Registry struct {
	threshold int
	timeout   time.Duration
	logger    func(string, ...any)
	entries   sync.Map // key -> *entry
}

func New(failureThreshold int, timeout time.Duration, logger func(string, ...any)) *Registry {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	return &Registry{threshold: failureThreshold, timeout: timeout, logger: logger}
}

// Execute invokes fn under the breaker for key. While the circuit is open
// and the cooldown has not elapsed, fn is never invoked and ErrCircuitOpen
// returns immediately. After the cooldown exactly one trial call proceeds.
func (r *Registry) Execute(key string, fn func() error) error {
	e := r.entry(key)
	if !e.admit(r.timeout) {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		e.recordFailure(r, key)
		return err
	}
	e.recordSuccess(r, key)
	return nil
}

// Snapshot returns the current state of every known key.
func (r *Registry) Snapshot() map[string]Status {
	out := make(map[string]Status)
	r.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		out[k.(string)] = Status{State: e.state.String(), Failures: e.failures}
		e.mu.Unlock()
		return true
	})
	return out
}

func (r *Registry) entry(key string) *entry {
	if v, ok := r.entries.Load(key); ok {
		return v.(*entry)
	}
	v, _ := r.entries.LoadOrStore(key, &entry{})
	return v.(*entry)
}

type entry struct {
	mu          sync.Mutex
	state       State
	failures    int
	lastFailure clock.Time
	// trial is set while the single half-open probe is in flight.
	trial bool
}

func (e *entry) admit(timeout time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case Closed:
		return true
	case Open:
		if clock.Since(e.lastFailure) < timeout {
			return false
		}
		e.state = HalfOpen
		e.trial = true
		return true
	case HalfOpen:
		if e.trial {
			return false
		}
		e.trial = true
		return true
	}
	return false
}

func (e *entry) recordSuccess(r *Registry, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == HalfOpen {
		r.logger("breaker_closed", "key", key)
	}
	e.state = Closed
	e.failures = 0
	e.trial = false
}

func (e *entry) recordFailure(r *Registry, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	e.lastFailure = clock.Now()
	switch {
	case e.state == HalfOpen:
		e.state = Open
		e.trial = false
		r.logger("breaker_reopened", "key", key)
	case e.failures >= r.threshold && e.state == Closed:
		e.state = Open
		r.logger("breaker_opened", "key", key, "failures", e.failures)
	}
}
