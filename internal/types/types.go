package types

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Priority classes for admitted work. Lower value means more urgent.
type Priority int

const (
	PriorityCritical    Priority = 1 // system failures, must run first
	PriorityHighValue   Priority = 2
	PriorityVIPCustomer Priority = 3
	PriorityUrgent      Priority = 4
	PriorityStandard    Priority = 5
	PriorityLow         Priority = 6
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHighValue:
		return "HIGH_VALUE"
	case PriorityVIPCustomer:
		return "VIP_CUSTOMER"
	case PriorityUrgent:
		return "URGENT"
	case PriorityStandard:
		return "STANDARD"
	case PriorityLow:
		return "LOW_PRIORITY"
	}
	return "UNKNOWN"
}

// WorkItem is one payment attempt awaiting dispatch.
type WorkItem struct {
	WorkID      string
	TenantID    string
	UserID      string
	WorkType    string
	Priority    Priority
	Amount      float64
	Attempt     int
	SubmittedAt time.Time
	// Seq breaks submission-time ties; assigned by the admission queue.
	Seq uint64
}

type EventType string

const (
	EventSubmitted      EventType = "SUBMITTED"
	EventValidated      EventType = "VALIDATED"
	EventRouted         EventType = "ROUTED"
	EventExecuted       EventType = "EXECUTED"
	EventCompleted      EventType = "COMPLETED"
	EventFailed         EventType = "FAILED"
	EventCompensated    EventType = "COMPENSATED"
	EventRetryScheduled EventType = "RETRY_SCHEDULED"
	EventMovedToDLQ     EventType = "MOVED_TO_DLQ"
)

// PaymentEvent is one immutable fact about a payment's history.
type PaymentEvent struct {
	EventID    uuid.UUID      `json:"eventId"`
	WorkID     string         `json:"workId"`
	Type       EventType      `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	RecordedAt time.Time      `json:"recordedAt"`
	// Seq orders events within one work id when timestamps collide.
	Seq uint64 `json:"seq"`
}

// Payment statuses derived by the projector.
const (
	StatusUnknown     = "UNKNOWN"
	StatusSubmitted   = "SUBMITTED"
	StatusValidated   = "VALIDATED"
	StatusExecuting   = "EXECUTING"
	StatusCompleted   = "COMPLETED"
	StatusFailed      = "FAILED"
	StatusCompensated = "COMPENSATED"
	StatusDeadLetter  = "DEAD_LETTER"
)

// ProjectedState is the fold of all events for one work id. Derived, never stored.
type ProjectedState struct {
	Status      string    `json:"status"`
	RetryCount  int       `json:"retryCount"`
	LastError   string    `json:"lastError,omitempty"`
	Processors  []string  `json:"processors,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

// DeadLetterEntry is work that exhausted its retry budget.
type DeadLetterEntry struct {
	ID         uuid.UUID `json:"id"`
	WorkID     string    `json:"workId"`
	TenantID   string    `json:"tenantId"`
	UserID     string    `json:"userId"`
	LastError  string    `json:"lastError"`
	RetryCount int       `json:"retryCount"`
	FailedAt   time.Time `json:"failedAt"`
}

// WorkerRecord is one execution worker's last reported capacity.
type WorkerRecord struct {
	WorkerID  string    `json:"workerId"`
	Load      int       `json:"currentLoad"`
	Capacity  int       `json:"maxCapacity"`
	WorkTypes []string  `json:"supportedTypes"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CanHandle reports whether the worker supports the given work type.
// A worker advertising "ALL" handles everything.
func (w WorkerRecord) CanHandle(workType string) bool {
	for _, t := range w.WorkTypes {
		if t == workType || t == "ALL" {
			return true
		}
	}
	return false
}
