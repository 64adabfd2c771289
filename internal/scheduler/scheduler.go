// Package scheduler composes admission control, priority queueing, batch
// dispatch, circuit breaking, dead-letter retries, load-aware worker
// selection, event sourcing, and scaling advice behind one facade.
package scheduler

import (
	"context"
	"time"

	"payhub/internal/admission"
	"payhub/internal/batch"
	"payhub/internal/breaker"
	"payhub/internal/config"
	"payhub/internal/deadletter"
	"payhub/internal/eventlog"
	"payhub/internal/loadbalance"
	"payhub/internal/ratelimit"
	"payhub/internal/scaling"
	"payhub/internal/types"
)

// Options injects external collaborators. Every field is optional.
type Options struct {
	Logger func(string, ...any)
	// Limiter overrides the in-memory rate limiter, e.g. with the
	// Redis-backed one for multi-node deployments.
	Limiter ratelimit.Limiter
	// EventSink mirrors appended events into durable storage.
	EventSink eventlog.Sink
	// AlertSink is paged when work is dead-lettered.
	AlertSink deadletter.AlertSink
	// Retry overrides what happens when a scheduled retry fires. The
	// default re-submits the item to the admission queue.
	Retry deadletter.RetryFunc
}

// Scheduler owns all component instances. There is no package-level
// mutable state; construct one, inject it, Close it on shutdown.
type Scheduler struct {
	cfg    *config.Config
	logger func(string, ...any)

	limiter  ratelimit.Limiter
	queue    *admission.Queue
	breakers *breaker.Registry
	batches  *batch.Executor
	dlq      *deadletter.Queue
	workers  *loadbalance.Registry
	events   *eventlog.Store
	advisor  *scaling.Advisor
}

func New(cfg *config.Config, opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = func(string, ...any) {}
	}

	s := &Scheduler{cfg: cfg, logger: logger}

	s.limiter = opts.Limiter
	if s.limiter == nil {
		rates := ratelimit.DefaultRates(cfg.RateGlobalPerSec, cfg.RateTenantPerMin, cfg.RateUserPerMin)
		s.limiter = ratelimit.NewMemory(rates, logger)
	}
	s.queue = admission.New(cfg.QueueCapacity)
	s.breakers = breaker.New(cfg.BreakerFailureThreshold, cfg.BreakerTimeout, logger)
	s.batches = batch.New(cfg.BatchSize, cfg.BatchMaxConcurrent, cfg.BatchTimeout, cfg.BatchCancel, logger)
	s.workers = loadbalance.New(cfg.WorkerOverloadPct, cfg.WorkerTTL, logger)
	s.events = eventlog.New(opts.EventSink, logger)
	s.advisor = scaling.New(scaling.Config{
		MinSamples:   cfg.ScalingMinSamples,
		Retention:    cfg.ScalingRetention,
		MinWorkers:   cfg.ScalingMinWorkers,
		MaxWorkers:   cfg.ScalingMaxWorkers,
		ScaleUpPct:   cfg.ScalingUpPct,
		ScaleDownPct: cfg.ScalingDownPct,
	})

	retry := opts.Retry
	if retry == nil {
		retry = s.resubmit
	}
	s.dlq = deadletter.New(cfg.MaxRetries, cfg.DLQCapacity, cfg.RetryBaseDelay, retry, opts.AlertSink, logger)
	return s
}

// CanAdmit checks the global -> tenant -> user rate-limit chain.
func (s *Scheduler) CanAdmit(ctx context.Context, tenantID, userID string) bool {
	return s.limiter.Allow(ctx, ratelimit.Global(), ratelimit.Tenant(tenantID), ratelimit.User(userID))
}

// Submit enqueues an admitted item and records SUBMITTED on first attempt.
func (s *Scheduler) Submit(item types.WorkItem) error {
	if err := s.queue.Submit(item); err != nil {
		s.logger("submit_rejected", "work", item.WorkID, "error", err)
		return err
	}
	if item.Attempt == 0 {
		s.events.Append(item.WorkID, types.EventSubmitted, map[string]any{
			"tenantId": item.TenantID,
			"userId":   item.UserID,
			"priority": item.Priority.String(),
			"amount":   item.Amount,
		})
	}
	return nil
}

func (s *Scheduler) TakeNext(timeout time.Duration) (types.WorkItem, bool) {
	return s.queue.TakeNext(timeout)
}

func (s *Scheduler) QueueDepth() int { return s.queue.Len() }

func (s *Scheduler) ProcessBatch(ctx context.Context, ids []string, fn batch.UnitFunc) batch.Result {
	return s.batches.Process(ctx, ids, fn)
}

// ExecuteProtected runs fn through the circuit breaker for endpoint key.
func (s *Scheduler) ExecuteProtected(key string, fn func() error) error {
	return s.breakers.Execute(key, fn)
}

// RecordFailure records the failure event and either schedules a retry or
// moves the work to the dead-letter store.
func (s *Scheduler) RecordFailure(item types.WorkItem, cause error) deadletter.Outcome {
	s.events.Append(item.WorkID, types.EventFailed, map[string]any{"error": cause.Error()})
	outcome := s.dlq.RecordFailure(item, cause)
	switch outcome {
	case deadletter.RetryScheduled:
		s.events.Append(item.WorkID, types.EventRetryScheduled, map[string]any{"retryCount": item.Attempt + 1})
	case deadletter.MovedToDeadLetter:
		s.events.Append(item.WorkID, types.EventMovedToDLQ, map[string]any{"retries": item.Attempt})
	}
	return outcome
}

func (s *Scheduler) DrainDeadLetters() []types.DeadLetterEntry { return s.dlq.Drain() }

func (s *Scheduler) RecordEvent(workID string, eventType types.EventType, payload map[string]any) {
	s.events.Append(workID, eventType, payload)
}

func (s *Scheduler) History(workID string) []types.PaymentEvent { return s.events.History(workID) }

func (s *Scheduler) ProjectState(workID string) types.ProjectedState { return s.events.Project(workID) }

func (s *Scheduler) UpdateWorker(workerID string, load, capacity int, workTypes []string) {
	s.workers.Update(workerID, load, capacity, workTypes)
}

func (s *Scheduler) SelectWorker(workType, tenantID string) (string, error) {
	return s.workers.Select(workType, tenantID)
}

func (s *Scheduler) WorkerMetrics() loadbalance.Metrics { return s.workers.Metrics() }

func (s *Scheduler) RecordLoadSample(hourlyVolumes map[int]float64, currentWorkers int, averageLoad float64) {
	s.advisor.Record(hourlyVolumes, currentWorkers, averageLoad)
}

func (s *Scheduler) Recommend() scaling.Recommendation { return s.advisor.Recommend() }

func (s *Scheduler) BreakerSnapshot() map[string]breaker.Status { return s.breakers.Snapshot() }

// Close stops pending retry timers. In-flight work is not interrupted.
func (s *Scheduler) Close() {
	s.dlq.Close()
}

// resubmit is the default retry action: the item re-enters the admission
// queue at its original priority with the incremented attempt count. A
// full queue at retry time is a hard loss, logged accordingly.
func (s *Scheduler) resubmit(item types.WorkItem) {
	item.SubmittedAt = time.Time{} // re-stamped by the queue
	if err := s.queue.Submit(item); err != nil {
		s.logger("retry_requeue_failed", "work", item.WorkID, "attempt", item.Attempt, "error", err)
	}
}
