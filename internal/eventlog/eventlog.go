// Package eventlog keeps an append-only per-payment event log and derives
// current state by folding over it.
package eventlog

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"
	"github.com/kapetan-io/tackle/clock"

	"payhub/internal/types"
)

// Sink mirrors appends into durable storage for audit. It never feeds back
// into projection.
type Sink interface {
	AppendEvent(ctx context.Context, e types.PaymentEvent) error
}

// Store holds one independent log per work id, so appends for different
// payments never contend.
type Store struct {
	logs   sync.Map // workID -> *workLog
	sink   Sink
	logger func(string, ...any)
}

func New(sink Sink, logger func(string, ...any)) *Store {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	return &Store{sink: sink, logger: logger}
}

type workLog struct {
	mu     sync.Mutex
	events []types.PaymentEvent
}

// Append records one immutable fact. It always succeeds locally; no
// validation is made against prior state.
func (s *Store) Append(workID string, eventType types.EventType, payload map[string]any) {
	l := s.logFor(workID)
	e := types.PaymentEvent{
		EventID:    uuid.Must(uuid.NewV4()),
		WorkID:     workID,
		Type:       eventType,
		Payload:    copyPayload(payload),
		RecordedAt: clock.Now(),
	}
	l.mu.Lock()
	e.Seq = uint64(len(l.events)) + 1
	l.events = append(l.events, e)
	l.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.AppendEvent(context.Background(), e); err != nil {
			// The in-memory log stays authoritative; a sink outage only
			// costs durability of the audit copy.
			s.logger("event_sink_error", "work", workID, "type", eventType, "error", err)
		}
	}
}

// History returns the ordered event list for one payment.
func (s *Store) History(workID string) []types.PaymentEvent {
	v, ok := s.logs.Load(workID)
	if !ok {
		return nil
	}
	l := v.(*workLog)
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.PaymentEvent(nil), l.events...)
}

// Project folds the payment's history into its current state.
func (s *Store) Project(workID string) types.ProjectedState {
	return Project(s.History(workID))
}

func (s *Store) logFor(workID string) *workLog {
	if v, ok := s.logs.Load(workID); ok {
		return v.(*workLog)
	}
	v, _ := s.logs.LoadOrStore(workID, &workLog{})
	return v.(*workLog)
}

// Project is a pure left fold over an ordered event list. Calling it twice
// on the same history yields identical output; it performs no I/O and
// never reads the wall clock.
func Project(events []types.PaymentEvent) types.ProjectedState {
	state := types.ProjectedState{Status: types.StatusUnknown}
	for _, e := range events {
		state = apply(state, e)
	}
	return state
}

func apply(state types.ProjectedState, e types.PaymentEvent) types.ProjectedState {
	switch e.Type {
	case types.EventSubmitted:
		state.Status = types.StatusSubmitted
		state.CreatedAt = e.RecordedAt
	case types.EventValidated:
		state.Status = types.StatusValidated
	case types.EventRouted:
		if p, ok := e.Payload["processor"].(string); ok && p != "" {
			state.Processors = append(state.Processors, p)
		}
	case types.EventExecuted:
		state.Status = types.StatusExecuting
	case types.EventCompleted:
		state.Status = types.StatusCompleted
		state.CompletedAt = e.RecordedAt
	case types.EventFailed:
		state.Status = types.StatusFailed
		if msg, ok := e.Payload["error"].(string); ok {
			state.LastError = msg
		}
	case types.EventRetryScheduled:
		if n, ok := asInt(e.Payload["retryCount"]); ok {
			state.RetryCount = n
		}
	case types.EventCompensated:
		state.Status = types.StatusCompensated
	case types.EventMovedToDLQ:
		state.Status = types.StatusDeadLetter
	}
	return state
}

// asInt tolerates both native ints and float64 from decoded JSON payloads.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func copyPayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
