// Package dispatch drives admitted work end to end: take the next item,
// pick a worker, execute the downstream call under the circuit breaker,
// and route failures into the retry/dead-letter path.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/kapetan-io/tackle/clock"

	"payhub/internal/breaker"
	"payhub/internal/scheduler"
	"payhub/internal/types"
)

// ProcessorFunc performs the actual downstream payment call. It is
// injected so tests force deterministic success/failure sequences.
type ProcessorFunc func(ctx context.Context, item types.WorkItem, workerID string) error

type Dispatcher struct {
	Sched   *scheduler.Scheduler
	Process ProcessorFunc
	Logger  func(string, ...any)
	// PollTimeout bounds each wait on the admission queue.
	PollTimeout time.Duration
	// DefaultWorker receives work when no registered worker qualifies.
	DefaultWorker string
	// RequeueDelay spaces out re-submission after a circuit-open rejection.
	RequeueDelay time.Duration
}

func New(s *scheduler.Scheduler, process ProcessorFunc, defaultWorker string, logger func(string, ...any)) *Dispatcher {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	return &Dispatcher{
		Sched:         s,
		Process:       process,
		Logger:        logger,
		PollTimeout:   500 * time.Millisecond,
		DefaultWorker: defaultWorker,
		RequeueDelay:  200 * time.Millisecond,
	}
}

// Run loops until ctx is done. Many Run goroutines may share one
// dispatcher; every operation below is safe for concurrent callers.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		item, ok := d.Sched.TakeNext(d.PollTimeout)
		if !ok {
			continue
		}
		d.Dispatch(ctx, item)
	}
}

// Dispatch executes one item. Circuit-open is not a failure of the item:
// it re-enters the queue after a short delay with the attempt unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, item types.WorkItem) {
	workerID, err := d.Sched.SelectWorker(item.WorkType, item.TenantID)
	if err != nil {
		workerID = d.DefaultWorker
		d.Logger("no_worker_fallback", "work", item.WorkID, "type", item.WorkType, "worker", workerID)
	}
	d.Sched.RecordEvent(item.WorkID, types.EventRouted, map[string]any{"processor": workerID})
	d.Sched.RecordEvent(item.WorkID, types.EventExecuted, map[string]any{"attempt": item.Attempt})

	err = d.Sched.ExecuteProtected(workerID, func() error {
		return d.Process(ctx, item, workerID)
	})
	switch {
	case err == nil:
		d.Sched.RecordEvent(item.WorkID, types.EventCompleted, nil)
	case errors.Is(err, breaker.ErrCircuitOpen):
		d.Logger("circuit_open_requeue", "work", item.WorkID, "worker", workerID)
		clock.AfterFunc(d.RequeueDelay, func() {
			if err := d.Sched.Submit(item); err != nil {
				d.Logger("requeue_failed", "work", item.WorkID, "error", err)
			}
		})
	default:
		outcome := d.Sched.RecordFailure(item, err)
		d.Logger("dispatch_failed", "work", item.WorkID, "worker", workerID,
			"attempt", item.Attempt, "outcome", outcome.String(), "error", err)
	}
}
