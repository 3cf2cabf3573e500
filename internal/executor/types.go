// Package executor implements execute_runbook: pre-execution
// validation, per-step governance re-check, advisory-lock write-set
// serialization, verb dispatch across the three execution modes, and
// resumption after a park. It is the component that ties the
// compiler's CompiledRunbook artifact to the durability and
// workflowclient packages, a step-dispatch loop generalized from a
// fixed onboarding-verb set to a data-driven custom-op registry.
package executor

import (
	"time"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/runbook"
)

// GateKind discriminates the two suspend-and-wait mechanisms a step
// may use; both park the same way, differing only in what resolves
// the correlation.
type GateKind string

const (
	GateDurable       GateKind = "durable"
	GateHumanApproval GateKind = "human_approval"
)

// ParkRequest is what a durable or human-gated verb returns instead of
// completing inline: the executor inserts a ParkedToken keyed by
// CorrelationKey and suspends the runbook at the current step.
type ParkRequest struct {
	Gate           GateKind
	CorrelationKey string
	Payload        map[string]any
	TimeoutAt      *time.Time
}

// OutcomeKind discriminates the five shapes a verb invocation may
// return.
type OutcomeKind string

const (
	OutcomeRecord          OutcomeKind = "record"
	OutcomeUUID            OutcomeKind = "uuid"
	OutcomeTemplateInvoked OutcomeKind = "template_invoked"
	OutcomeEntityQuery     OutcomeKind = "entity_query"
	OutcomePark            OutcomeKind = "park"
)

// Outcome is the tagged union a verb implementation returns: exactly
// one of the fields matching Kind is populated.
type Outcome struct {
	Kind     OutcomeKind
	Record   any
	UUID     uuid.UUID
	Nested   *Report
	Rows     []map[string]any
	Park     *ParkRequest
}

// StepReport records one step's dispatch result for the runbook's
// ExecutionReport.
type StepReport struct {
	StepIndex int
	VerbFQN   string
	Status    string // "completed", "parked", "failed", "skipped"
	Error     string
}

// Report is execute_runbook's public return value.
type Report struct {
	RunbookID      runbook.Id
	Status         runbook.StatusKind
	Steps          []StepReport
	ParkedAtStep   int
	CorrelationKey string
	FailureError   string
}
