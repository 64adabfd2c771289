// Package batch dispatches groups of payments in parallel sub-batches.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/kapetan-io/tackle/clock"
)

// UnitFunc processes one payment. Failures are captured per item and
// never abort sibling items.
type UnitFunc func(ctx context.Context, workID string) error

type Result struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	ElapsedMs int64    `json:"elapsedMs"`
	FailedIDs []string `json:"failedIds,omitempty"`
}

type Executor struct {
	SubBatchSize  int
	MaxConcurrent int
	Deadline      time.Duration
	// CancelOnDeadline cancels the context handed to in-flight unit calls
	// when the overall deadline elapses. Off by default: late work runs to
	// completion and its result is discarded.
	CancelOnDeadline bool
	Logger           func(string, ...any)
}

func New(subBatchSize, maxConcurrent int, deadline time.Duration, cancelOnDeadline bool, logger func(string, ...any)) *Executor {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	return &Executor{
		SubBatchSize:     subBatchSize,
		MaxConcurrent:    maxConcurrent,
		Deadline:         deadline,
		CancelOnDeadline: cancelOnDeadline,
		Logger:           logger,
	}
}

type outcome struct {
	id  string
	err error
}

// Process splits ids into sub-batches, runs them concurrently on a bounded
// pool, and aggregates per-item outcomes. When the deadline elapses first,
// items without a recorded outcome count as failed and a partial result
// returns immediately.
func (e *Executor) Process(ctx context.Context, ids []string, fn UnitFunc) Result {
	start := clock.Now()
	if len(ids) == 0 {
		return Result{}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if e.CancelOnDeadline {
		runCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	// Outcomes are counted rather than joined so the collector can stop at
	// the deadline while late sub-batches finish into the buffered channel.
	outcomes := make(chan outcome, len(ids))
	sem := make(chan struct{}, e.MaxConcurrent)
	for _, sub := range partition(ids, e.SubBatchSize) {
		go func(sub []string) {
			sem <- struct{}{}
			defer func() { <-sem }()
			for _, id := range sub {
				outcomes <- outcome{id: id, err: callUnit(runCtx, fn, id)}
			}
		}(sub)
	}

	deadline := clock.After(e.Deadline)
	results := make(map[string]error, len(ids))
	received := 0
collect:
	for received < len(ids) {
		select {
		case o := <-outcomes:
			received++
			results[o.id] = o.err
		case <-deadline:
			if cancel != nil {
				cancel()
			}
			e.Logger("batch_deadline", "received", received, "total", len(ids))
			break collect
		}
	}

	res := Result{Total: len(ids), ElapsedMs: clock.Since(start).Milliseconds()}
	for _, id := range ids {
		err, ok := results[id]
		if ok && err == nil {
			res.Succeeded++
			continue
		}
		res.Failed++
		res.FailedIDs = append(res.FailedIDs, id)
	}
	return res
}

// callUnit converts a panic in fn into a per-item failure so one bad
// payment cannot take down the sub-batch goroutine.
func callUnit(ctx context.Context, fn UnitFunc, id string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unit panic: %v", p)
		}
	}()
	return fn(ctx, id)
}

func partition(ids []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}
