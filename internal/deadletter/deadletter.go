// Package deadletter schedules exponential-backoff retries and parks work
// that exhausted its retry budget.
package deadletter

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/kapetan-io/tackle/clock"

	"payhub/internal/types"
)

type Outcome int

const (
	RetryScheduled Outcome = iota
	MovedToDeadLetter
)

func (o Outcome) String() string {
	if o == RetryScheduled {
		return "RETRY_SCHEDULED"
	}
	return "MOVED_TO_DEAD_LETTER"
}

// RetryFunc re-invokes the original work. The item's Attempt has already
// been incremented when the function fires.
type RetryFunc func(item types.WorkItem)

// AlertSink is notified when work is parked permanently. Implementations
// page operations; the default just logs.
type AlertSink interface {
	DeadLetterAlert(entry types.DeadLetterEntry)
}

type Queue struct {
	maxRetries int
	capacity   int
	baseDelay  time.Duration
	retry      RetryFunc
	alert      AlertSink
	logger     func(string, ...any)

	mu      sync.Mutex
	entries []types.DeadLetterEntry
	timers  map[uint64]clock.Timer
	nextID  uint64
	closed  bool
}

func New(maxRetries, capacity int, baseDelay time.Duration, retry RetryFunc, alert AlertSink, logger func(string, ...any)) *Queue {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	return &Queue{
		maxRetries: maxRetries,
		capacity:   capacity,
		baseDelay:  baseDelay,
		retry:      retry,
		alert:      alert,
		logger:     logger,
		timers:     make(map[uint64]clock.Timer),
	}
}

// RecordFailure either schedules a retry after baseDelay * 2^attempt or,
// once the budget is spent, parks the work in the dead-letter store and
// fires the alert sink. Insertion past capacity is logged as a hard loss.
func (q *Queue) RecordFailure(item types.WorkItem, cause error) Outcome {
	if item.Attempt < q.maxRetries {
		delay := q.baseDelay << uint(item.Attempt)
		q.schedule(item, delay)
		q.logger("retry_scheduled", "work", item.WorkID, "attempt", item.Attempt+1, "delay", delay)
		return RetryScheduled
	}

	entry := types.DeadLetterEntry{
		ID:         uuid.Must(uuid.NewV4()),
		WorkID:     item.WorkID,
		TenantID:   item.TenantID,
		UserID:     item.UserID,
		LastError:  cause.Error(),
		RetryCount: item.Attempt,
		FailedAt:   clock.Now(),
	}

	q.mu.Lock()
	full := len(q.entries) >= q.capacity
	if !full {
		q.entries = append(q.entries, entry)
	}
	q.mu.Unlock()

	if full {
		q.logger("dead_letter_lost", "work", item.WorkID, "retries", item.Attempt, "error", cause)
		return MovedToDeadLetter
	}
	q.logger("dead_lettered", "work", item.WorkID, "retries", item.Attempt, "error", cause)
	if q.alert != nil {
		q.alert.DeadLetterAlert(entry)
	}
	return MovedToDeadLetter
}

func (q *Queue) schedule(item types.WorkItem, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	id := q.nextID
	q.nextID++
	next := item
	next.Attempt++
	q.timers[id] = clock.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, id)
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		q.retry(next)
	})
}

// Drain removes and returns all parked entries for manual or automated
// reprocessing. Entries not drained remain indefinitely.
func (q *Queue) Drain() []types.DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.entries
	q.entries = nil
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close stops pending retry timers. Already-fired retries still complete.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}
