package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/apperrors"
	"dsl-ob-poc/internal/durability"
	"dsl-ob-poc/internal/eventbus"
	"dsl-ob-poc/internal/runbook"
	"dsl-ob-poc/internal/session"
)

// LabelResolver looks up the SecurityLabel governing a step's write
// targets, for the execution-time ABAC re-check. A nil
// resolver treats every step as Public/unrestricted, the permissive
// default a test harness or a deployment with no governance tiers
// configured would use.
type LabelResolver func(ctx context.Context, step runbook.CompiledStep) (abac.SecurityLabel, error)

// releaser is satisfied by LockManager implementations that need an
// explicit release call to simulate a transaction boundary (only
// MemLockManager, in tests) — the Postgres implementation releases
// advisory locks automatically on commit/rollback and never implements
// this.
type releaser interface {
	ReleaseAll(keys []int64)
}

// Executor runs execute_runbook against a sealed CompiledRunbook,
// dispatching each step's verb through Registry and serializing
// concurrent write-sets through LockManager.
type Executor struct {
	Runbooks  RunbookStore
	Durable   durability.Store
	Locks     LockManager
	Verbs     *Registry
	Labels    LabelResolver
	Bus       *eventbus.Bus
	Sessions  *session.Manager
	Purpose   abac.Purpose
}

// Execute runs execute_runbook(id): pre-execution validation, then
// dispatch of each not-yet-completed step in sealed order. A parked
// step stops the loop and returns a Parked report rather than an
// error; the Resumer re-enters at the step after the parked one.
func (e *Executor) Execute(ctx context.Context, id runbook.Id, actor abac.ActorContext) (*Report, error) {
	rb, ok, err := e.Runbooks.GetRunbook(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading runbook %s: %w", id, err)
	}
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "runbook %s not found", id)
	}
	if !rb.IsExecutable() {
		return nil, apperrors.New(apperrors.KindInvalidTransition,
			"runbook %s is %s, not compiled or parked", id, rb.Status.Kind)
	}

	symbols := NewSymbolTable(rb.Envelope.Core.EntityBindings)
	start := rb.Status.Cursor
	rb.Status.Kind = runbook.StatusExecuting

	report := &Report{RunbookID: id, Status: runbook.StatusExecuting}

	for i := start; i < len(rb.Steps); i++ {
		step := rb.Steps[i]

		decision, err := e.checkGovernance(ctx, step, actor)
		if err != nil {
			return e.failRunbook(ctx, rb, i, report, fmt.Errorf("governance re-check: %w", err))
		}
		if !decision.IsAllowed() {
			return e.failRunbook(ctx, rb, i, report,
				apperrors.New(apperrors.KindAccessDeniedAtExecution, "step %d denied: %s", i, decision.Reason))
		}

		resolvedWS, pendingWS := resolveWriteSet(step.WriteSet, symbols)
		lockKeys := SortedLockKeys(resolvedWS)
		acquired, err := AcquireAll(ctx, e.Locks, lockKeys)
		if err != nil {
			return e.failRunbook(ctx, rb, i, report, fmt.Errorf("acquiring locks for step %d: %w", i, err))
		}

		fn, ok := e.Verbs.Lookup(step.VerbFQN)
		if !ok {
			e.releaseLocks(lockKeys[:acquired])
			return e.failRunbook(ctx, rb, i, report,
				apperrors.New(apperrors.KindVerbExecutionFailed, "verb %q has no registered implementation", step.VerbFQN))
		}

		args, err := symbols.ResolveArgs(step.Args)
		if err != nil {
			e.releaseLocks(lockKeys[:acquired])
			return e.failRunbook(ctx, rb, i, report, err)
		}

		outcome, err := fn(Invocation{
			Ctx: ctx, RunbookID: id, StepID: step.StepID, VerbFQN: step.VerbFQN,
			Args: args, Actor: actor, Symbols: symbols,
		})
		if err != nil {
			e.releaseLocks(lockKeys[:acquired])
			return e.failRunbook(ctx, rb, i, report,
				apperrors.Wrap(apperrors.KindVerbExecutionFailed, err, "step %d (%s) failed", i, step.VerbFQN))
		}

		switch outcome.Kind {
		case OutcomePark:
			e.releaseLocks(lockKeys[:acquired])
			if err := e.parkStep(ctx, rb, i, outcome.Park); err != nil {
				return nil, fmt.Errorf("parking step %d: %w", i, err)
			}
			report.Status = runbook.StatusParked
			report.ParkedAtStep = i
			report.CorrelationKey = outcome.Park.CorrelationKey
			report.Steps = append(report.Steps, StepReport{StepIndex: i, VerbFQN: step.VerbFQN, Status: "parked"})
			return report, nil

		case OutcomeUUID:
			symbols.Bind(step.AsBinding, outcome.UUID)
			if lp := lockPendingProduced(pendingWS, step.AsBinding, outcome.UUID); len(lp) > 0 {
				if _, err := AcquireAll(ctx, e.Locks, lp); err != nil {
					e.releaseLocks(lockKeys[:acquired])
					return e.failRunbook(ctx, rb, i, report, fmt.Errorf("escalating lock for produced binding: %w", err))
				}
			}
		}

		e.releaseLocks(lockKeys[:acquired])
		if sess := e.sessionFor(rb.SessionID); sess != nil {
			sess.IncrementInvocations()
		}
		e.publish(eventbus.Event{Timestamp: time.Now(), SessionID: rb.SessionID, Kind: eventbus.CommandSucceeded,
			Payload: eventbus.CommandSucceededPayload{Verb: step.VerbFQN}})

		report.Steps = append(report.Steps, StepReport{StepIndex: i, VerbFQN: step.VerbFQN, Status: "completed"})
		rb.Status.Cursor = i + 1
	}

	rb.Status.Kind = runbook.StatusCompleted
	if err := e.Runbooks.SaveRunbook(ctx, rb); err != nil {
		return nil, fmt.Errorf("saving completed runbook %s: %w", id, err)
	}
	report.Status = runbook.StatusCompleted
	return report, nil
}

func (e *Executor) checkGovernance(ctx context.Context, step runbook.CompiledStep, actor abac.ActorContext) (abac.Decision, error) {
	if e.Labels == nil {
		return abac.Decision{Kind: abac.Allow}, nil
	}
	label, err := e.Labels(ctx, step)
	if err != nil {
		return abac.Decision{}, err
	}
	purpose := e.Purpose
	if purpose == "" {
		purpose = abac.PurposeOperations
	}
	return abac.Evaluate(actor, label, purpose), nil
}

func (e *Executor) failRunbook(ctx context.Context, rb *runbook.CompiledRunbook, stepIdx int, report *Report, cause error) (*Report, error) {
	rb.Status.Kind = runbook.StatusFailed
	rb.Status.Cursor = stepIdx
	rb.Status.FailureError = cause.Error()
	if err := e.Runbooks.SaveRunbook(ctx, rb); err != nil {
		return nil, fmt.Errorf("saving failed runbook %s: %w (original cause: %v)", rb.Id, err, cause)
	}
	report.Status = runbook.StatusFailed
	report.FailureError = cause.Error()
	report.Steps = append(report.Steps, StepReport{StepIndex: stepIdx, Status: "failed", Error: cause.Error()})
	if sess := e.sessionFor(rb.SessionID); sess != nil {
		sess.IncrementErrors()
	}
	e.publish(eventbus.Event{Timestamp: time.Now(), SessionID: rb.SessionID, Kind: eventbus.CommandFailed,
		Payload: eventbus.CommandFailedPayload{Error: apperrors.NewErrorSnapshot("executor", cause)}})
	return report, nil
}

func (e *Executor) parkStep(ctx context.Context, rb *runbook.CompiledRunbook, stepIdx int, park *ParkRequest) error {
	rb.Status.Kind = runbook.StatusParked
	rb.Status.Cursor = stepIdx
	rb.Status.CorrelationKey = park.CorrelationKey
	rb.Status.ParkReason = string(park.Gate)
	if err := e.Runbooks.SaveRunbook(ctx, rb); err != nil {
		return err
	}
	if e.Durable == nil {
		return nil
	}
	if err := e.Durable.PutParkedToken(ctx, durability.ParkedToken{
		Token:          uuid.NewString(),
		RunbookID:      rb.Id.UUID,
		StepIndex:      stepIdx,
		CorrelationKey: park.CorrelationKey,
		TimeoutAt:      park.TimeoutAt,
	}); err != nil {
		return fmt.Errorf("recording parked token: %w", err)
	}
	return e.Durable.PutCorrelation(ctx, durability.CorrelationRecord{
		CorrelationKey: park.CorrelationKey,
		RunbookID:      rb.Id.UUID,
		StepIndex:      stepIdx,
	})
}

func (e *Executor) releaseLocks(keys []int64) {
	if r, ok := e.Locks.(releaser); ok {
		r.ReleaseAll(keys)
	}
}

func (e *Executor) sessionFor(sessionID string) *session.Session {
	if e.Sessions == nil || sessionID == "" {
		return nil
	}
	sess, ok := e.Sessions.Get(sessionID)
	if !ok {
		return nil
	}
	return sess
}

func (e *Executor) publish(ev eventbus.Event) {
	if e.Bus == nil {
		return
	}
	e.Bus.Publish(ev)
}

// resolveWriteSet splits a step's write-set into members whose entity
// UUID is already known (resolvable now, to lock before dispatch) and
// members still naming only a ProducedBinding this same step's
// dispatch is about to resolve (dynamic lock escalation).
func resolveWriteSet(ws []runbook.WriteSetMember, symbols *SymbolTable) (resolved, pending []runbook.WriteSetMember) {
	for _, w := range ws {
		if w.ProducedBinding == "" {
			resolved = append(resolved, w)
			continue
		}
		if id, ok := symbols.Lookup(w.ProducedBinding); ok {
			resolved = append(resolved, runbook.WriteSetMember{EntityType: w.EntityType, EntityID: id})
			continue
		}
		pending = append(pending, w)
	}
	return resolved, pending
}

// lockPendingProduced returns the lock keys for any pending write-set
// members whose ProducedBinding this step's own dispatch just
// resolved, so they can be escalated to a real lock immediately after
// the UUID becomes known.
func lockPendingProduced(pending []runbook.WriteSetMember, asBinding string, id uuid.UUID) []int64 {
	if asBinding == "" {
		return nil
	}
	var keys []int64
	for _, w := range pending {
		if w.ProducedBinding != asBinding {
			continue
		}
		keys = append(keys, LockKey(runbook.WriteSetMember{EntityType: w.EntityType, EntityID: id}))
	}
	return keys
}
