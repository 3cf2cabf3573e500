// Package durability holds the park-and-resume machinery: ParkedToken,
// InvocationRecord, the bidirectional CorrelationStore, JobFrame, the
// resume ingress, and the periodic timeout sweep.
package durability

import (
	"time"

	"github.com/google/uuid"
)

// ParkedToken records one runbook step awaiting an external signal
// (durable dispatch or human gate).
type ParkedToken struct {
	Token          string
	RunbookID      uuid.UUID
	StepIndex      int
	CorrelationKey string
	ParkedAt       time.Time
	TimeoutAt      *time.Time
	Status         ParkedStatus
}

// ParkedStatus is the lifecycle of a ParkedToken.
type ParkedStatus string

const (
	ParkedActive    ParkedStatus = "active"
	ParkedCompleted ParkedStatus = "completed"
	ParkedExpired   ParkedStatus = "expired"
	ParkedCancelled ParkedStatus = "cancelled"
)

// TaskStatus is the outcome a resume ingress reports for one parked
// task: completed, failed, or expired.
type TaskStatus string

const (
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskExpired   TaskStatus = "expired"
)

// TaskResult is the async task return-path payload: what a resume
// ingress (workflow callback, webhook, manual approval) delivers.
// IdempotencyKey scopes uniqueness to TaskID.
type TaskResult struct {
	TaskID         string
	Status         TaskStatus
	IdempotencyKey string
	Error          string
	Payload        map[string]any
}

// InvocationRecord is the audit-critical, synchronously-written record
// of one resume application (never routed through the best-effort
// event bus).
type InvocationRecord struct {
	TaskID         string
	IdempotencyKey string
	RunbookID      uuid.UUID
	StepIndex      int
	Outcome        TaskStatus
	ErrorSnapshot  map[string]any
	RecordedAt     time.Time
}

// CorrelationStatus is the lifecycle of a CorrelationRecord.
type CorrelationStatus string

const (
	CorrelationActive    CorrelationStatus = "active"
	CorrelationCompleted CorrelationStatus = "completed"
	CorrelationFailed    CorrelationStatus = "failed"
	CorrelationCancelled CorrelationStatus = "cancelled"
)

// CorrelationRecord links one runbook step's external dispatch to the
// workflow engine's process instance, bidirectionally queryable by
// either side.
type CorrelationRecord struct {
	CorrelationKey    string
	ProcessInstanceID string
	RunbookID         uuid.UUID
	StepIndex         int
	ProcessKey        string
	Status            CorrelationStatus
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// JobFrame is one unit of work handed to an external job worker; it
// carries enough payload for the worker to act without re-querying
// the runbook.
type JobFrame struct {
	ID         int64
	RunbookID  uuid.UUID
	StepIndex  int
	Payload    map[string]any
	EnqueuedAt time.Time
}
