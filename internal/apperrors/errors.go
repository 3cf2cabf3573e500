// Package apperrors defines the typed error surface shared by the
// compiler, registry, and executor. Error kinds are named after the
// surface names the pipeline reports to callers and the LSP layer, not
// after internal Go type names.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind discriminates the error surfaces named across the compile and
// execute paths.
type Kind string

const (
	KindSyntaxError                       Kind = "syntax_error"
	KindUndefinedSymbol                   Kind = "undefined_symbol"
	KindUnknownVerb                       Kind = "unknown_verb"
	KindUnknownArgument                   Kind = "unknown_argument"
	KindMissingRequiredArgument            Kind = "missing_required_argument"
	KindCyclicDependency                  Kind = "cyclic_dependency"
	KindDocumentNotApplicableToEntityType Kind = "document_not_applicable_to_entity_type"
	KindLifecycleViolation                Kind = "lifecycle_violation"
	KindInvalidTransition                 Kind = "invalid_transition"
	KindAccessDenied                      Kind = "access_denied"
	KindAccessDeniedAtExecution           Kind = "access_denied_at_execution"
	KindLockContention                    Kind = "lock_contention"
	KindVerbExecutionFailed               Kind = "verb_execution_failed"
	KindNotFound                          Kind = "not_found"
	KindConflict                          Kind = "conflict"
	KindInvalidInput                      Kind = "invalid_input"
	KindMigrationPending                  Kind = "migration_pending"
	KindGateFailed                        Kind = "gate_failed"
	KindInternal                          Kind = "internal"
	KindExpansionLimitExceeded            Kind = "expansion_limit_exceeded"
	KindReorderingSuggested               Kind = "reordering_suggested"
	KindDeprecatedVerb                    Kind = "deprecated_verb"
	KindRetiredVerb                       Kind = "retired_verb"
)

// Span is a byte-offset range into source text, preserved from the
// parser through every downstream diagnostic.
type Span struct {
	Start int
	End   int
}

func (s Span) String() string {
	return fmt.Sprintf("[%d:%d)", s.Start, s.End)
}

// Error is the typed error carried through the pipeline. It always
// wraps enough structure to render a diagnostic or an ErrorSnapshot.
type Error struct {
	Kind    Kind
	Message string
	Span    *Span
	// StatementIndices identifies the offending statements in the Program,
	// when applicable (e.g. CyclicDependency names several).
	StatementIndices []int
	// EntityType/EntityID populate LockContention and similar runtime
	// errors that name a concrete write-set member.
	EntityType string
	EntityID   string
	Cause      error
}

func (e *Error) Error() string {
	if e.Span != nil {
		return fmt.Sprintf("%s: %s %s", e.Kind, e.Message, e.Span)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a bare Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithSpan attaches a source span to the error.
func (e *Error) WithSpan(span Span) *Error {
	e.Span = &span
	return e
}

// WithStatements records the statement indices participating in the
// error (used by CyclicDependency).
func (e *Error) WithStatements(idx ...int) *Error {
	e.StatementIndices = idx
	return e
}

// WithEntity records the write-set member the error concerns.
func (e *Error) WithEntity(entityType, entityID string) *Error {
	e.EntityType = entityType
	e.EntityID = entityID
	return e
}

// Wrap attaches an underlying cause, e.g. a database error surfacing
// as VerbExecutionFailed.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err (or any error in its chain) carries the given
// Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As extracts the *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Severity of a diagnostic emitted by the validator.
type Severity string

const (
	SeverityHardError Severity = "hard_error"
	SeverityError     Severity = "error"
	SeverityWarning   Severity = "warning"
	SeverityHint      Severity = "hint"
)

// Diagnostic is one entry in a DiagnosticList: a code, a span, a
// severity, and a human message. Validation always runs to completion
// so the LSP surface receives every diagnostic, even after a hard
// error is found.
type Diagnostic struct {
	Code     Kind
	Message  string
	Span     *Span
	Severity Severity
}

// DiagnosticList accumulates diagnostics across a validation pass.
type DiagnosticList struct {
	Items []Diagnostic
}

func (d *DiagnosticList) Add(code Kind, severity Severity, span *Span, format string, args ...any) {
	d.Items = append(d.Items, Diagnostic{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Span:     span,
		Severity: severity,
	})
}

// HasHardErrors reports whether any accumulated diagnostic is severe
// enough to prevent sealing a CompiledRunbook.
func (d *DiagnosticList) HasHardErrors() bool {
	for _, it := range d.Items {
		if it.Severity == SeverityHardError || it.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ErrorSnapshot is the truncated, JSON-serializable error record
// carried on a CommandFailed event.
type ErrorSnapshot struct {
	TypeName         string `json:"type_name"`
	Message          string `json:"message"`
	ExternalSourceID string `json:"external_source_id,omitempty"`
	HTTPStatus       int    `json:"http_status,omitempty"`
}

const errorSnapshotMaxLen = 500

// NewErrorSnapshot truncates err's message to 500 characters with a
// trailing ellipsis marker.
func NewErrorSnapshot(typeName string, err error) ErrorSnapshot {
	msg := err.Error()
	if len(msg) > errorSnapshotMaxLen {
		msg = msg[:errorSnapshotMaxLen-1] + "…"
	}
	snap := ErrorSnapshot{TypeName: typeName, Message: msg}
	if e, ok := As(err); ok {
		snap.ExternalSourceID = e.EntityID
	}
	return snap
}
