// Package loadbalance tracks execution workers and picks a destination
// for each unit of work.
package loadbalance

import (
	"errors"
	"sync"
	"time"

	"github.com/kapetan-io/tackle/clock"

	"payhub/internal/types"
)

// ErrNoWorker means no live, capable, non-overloaded worker exists.
// Callers must apply their fallback policy (default worker or re-queue).
var ErrNoWorker = errors.New("no available worker")

// Metrics aggregates the registry for the ops surface.
type Metrics struct {
	TotalWorkers      int     `json:"totalWorkers"`
	OverloadedWorkers int     `json:"overloadedWorkers"`
	AverageLoad       float64 `json:"averageLoad"`
	TotalCapacity     int     `json:"totalCapacity"`
	UsedCapacity      int     `json:"usedCapacity"`
}

type Registry struct {
	// overload is the load/capacity ratio above which a worker is skipped.
	overload float64
	// ttl bounds how stale a heartbeat may be before the worker is treated
	// as gone. Zero disables the check.
	ttl    time.Duration
	logger func(string, ...any)

	mu      sync.RWMutex
	workers map[string]types.WorkerRecord
}

func New(overloadPct float64, ttl time.Duration, logger func(string, ...any)) *Registry {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	return &Registry{
		overload: overloadPct / 100.0,
		ttl:      ttl,
		logger:   logger,
		workers:  make(map[string]types.WorkerRecord),
	}
}

// Update upserts a worker's heartbeat. A stale worker revives on its next
// heartbeat; records are never deleted.
func (r *Registry) Update(workerID string, load, capacity int, workTypes []string) {
	rec := types.WorkerRecord{
		WorkerID:  workerID,
		Load:      load,
		Capacity:  capacity,
		WorkTypes: append([]string(nil), workTypes...),
		UpdatedAt: clock.Now(),
	}
	r.mu.Lock()
	r.workers[workerID] = rec
	r.mu.Unlock()
	if overloaded(rec, r.overload) {
		r.logger("worker_overloaded", "worker", workerID, "load", load, "capacity", capacity)
	}
}

// Select picks the least-loaded live worker that supports workType,
// excluding any worker past the overload threshold. Ties go to the worker
// with the larger capacity.
func (r *Registry) Select(workType, tenantID string) (string, error) {
	_ = tenantID // reserved for tenant-pinned routing policies
	now := clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()
	var best types.WorkerRecord
	found := false
	for _, w := range r.workers {
		if !w.CanHandle(workType) {
			continue
		}
		if overloaded(w, r.overload) {
			continue
		}
		if r.ttl > 0 && now.Sub(w.UpdatedAt) > r.ttl {
			continue
		}
		if !found || less(w, best) {
			best = w
			found = true
		}
	}
	if !found {
		return "", ErrNoWorker
	}
	return best.WorkerID, nil
}

func (r *Registry) Metrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := Metrics{TotalWorkers: len(r.workers)}
	for _, w := range r.workers {
		if overloaded(w, r.overload) {
			m.OverloadedWorkers++
		}
		m.TotalCapacity += w.Capacity
		m.UsedCapacity += w.Load
	}
	if len(r.workers) > 0 {
		m.AverageLoad = float64(m.UsedCapacity) / float64(len(r.workers))
	}
	return m
}

func overloaded(w types.WorkerRecord, threshold float64) bool {
	if w.Capacity <= 0 {
		return true
	}
	return float64(w.Load)/float64(w.Capacity) > threshold
}

func less(a, b types.WorkerRecord) bool {
	if a.Load != b.Load {
		return a.Load < b.Load
	}
	return a.Capacity > b.Capacity
}
