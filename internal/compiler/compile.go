package compiler

import (
	"fmt"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/apperrors"
	"dsl-ob-poc/internal/ast"
	"dsl-ob-poc/internal/ontology"
	"dsl-ob-poc/internal/runbook"
	"dsl-ob-poc/internal/session"
	"dsl-ob-poc/internal/templates"
)

// Options configures one Compile invocation.
type Options struct {
	ImplicitCreate ImplicitCreateMode
	SnapshotSetID  string
	Version        uint64
	// Templates, when set, expands every template.invoke/template.batch
	// call in prog before linting. Nil skips expansion entirely, so
	// callers that never register templates pay nothing for this stage.
	Templates *templates.Registry
	// TemplateLimits bounds expansion depth/size; zero-value Options
	// fall back to templates.DefaultLimits() only when Templates is set.
	TemplateLimits runbook.ExpansionLimits
}

// Result is everything a single compile pass produces: the sealed
// runbook (nil if a hard error blocked sealing), the full diagnostic
// list, and any implicit-create quick-fixes the LSP layer can render.
type Result struct {
	Runbook      *runbook.CompiledRunbook
	Diagnostics  apperrors.DiagnosticList
	Synthetic    []runbook.SyntheticStep
	WasReordered bool
}

// Compile runs the full pipeline: optionally expand templates, validate,
// lower, synthesize implicit producers, order deterministically,
// compute write sets, and seal. A DiagnosticList carrying a hard error
// returns with Result.Runbook == nil; Compile itself only returns a
// non-nil error for pipeline-internal failures (a contract resolver
// error, a cyclic dependency, a template expansion limit) distinct
// from ordinary validation diagnostics.
func Compile(prog *ast.Program, sess *session.Session, resolver ContractResolver, onto *ontology.Ontology, actor abac.ActorContext, opts Options) (*Result, error) {
	var macroAudits []runbook.MacroExpansionAudit
	if opts.Templates != nil {
		limits := opts.TemplateLimits
		if limits == (runbook.ExpansionLimits{}) {
			limits = templates.DefaultLimits()
		}
		expanded, audits, err := templates.Expand(prog, opts.Templates, limits)
		if err != nil {
			return nil, fmt.Errorf("expanding templates: %w", err)
		}
		prog = expanded
		macroAudits = audits
	}

	linter := NewLinter(resolver, onto, actor)
	diags, contracts, err := linter.Lint(prog, sess)
	if err != nil {
		return nil, fmt.Errorf("linting: %w", err)
	}
	if diags.HasHardErrors() {
		return &Result{Diagnostics: diags}, nil
	}

	ops := lower(prog, contracts)
	nodes := make([]node, 0, len(ops))
	for _, o := range ops {
		nodes = append(nodes, node{op: o})
	}

	preBound := make(map[string]bool)
	if sess != nil {
		for _, b := range sess.Bindings() {
			preBound[b.Name] = true
		}
	}

	nodes, synthetic, err := synthesizeImplicitCreates(nodes, contracts, preBound, onto, opts.ImplicitCreate)
	if err != nil {
		return nil, fmt.Errorf("synthesizing implicit creates: %w", err)
	}

	edges := buildProducerGraph(nodes, preBound)
	order, wasReordered, err := topoSort(nodes, edges)
	if err != nil {
		return nil, err
	}

	producedBy := make(map[string]string) // binding name -> producing verb fqn
	for _, idx := range order {
		if nodes[idx].op.asBinding != "" {
			producedBy[nodes[idx].op.asBinding] = nodes[idx].op.verbFQN
		}
	}

	sessionID := ""
	if sess != nil {
		sessionID = sess.ID()
	}

	stepIDs := make([]uuid.UUID, len(order))
	for pos, idx := range order {
		stepIDs[pos] = stepIDFor(sessionID, nodes[idx])
	}

	steps := make([]runbook.CompiledStep, 0, len(order))
	for pos, idx := range order {
		n := nodes[idx]
		contract := contracts[n.op.verbFQN]

		var depIDs []uuid.UUID
		for _, e := range edges {
			if e.to != idx {
				continue
			}
			for p, oi := range order {
				if oi == e.from {
					depIDs = append(depIDs, stepIDs[p])
				}
			}
		}

		ws := computeWriteSet(n.op, contract, producedBy, sess, onto)

		step := runbook.CompiledStep{
			StepID:               stepIDs[pos],
			VerbFQN:              n.op.verbFQN,
			Args:                 n.op.args,
			ExecutionMode:        n.op.mode,
			WriteSet:             ws,
			Sentence:             n.op.sentence,
			SourceStatementIndex: n.op.statementIndex,
			DependsOn:            depIDs,
			AsBinding:            n.op.asBinding,
		}
		steps = append(steps, step)
	}

	core := runbook.ReplayEnvelopeCore{
		SnapshotManifest: make(map[string]string),
	}
	if sess != nil {
		core.SessionCursor = sess.Cursor()
		for _, b := range sess.Bindings() {
			core.EntityBindings = append(core.EntityBindings, runbook.EntityBinding{Name: b.Name, UUID: b.UUID})
		}
	}
	for _, c := range contracts {
		core.SnapshotManifest[c.ObjectID] = c.SnapshotID
	}
	for _, a := range macroAudits {
		core.MacroAuditDigests = append(core.MacroAuditDigests, a.Digest)
	}

	sealed, err := runbook.Seal(sessionID, steps, core, opts.SnapshotSetID, opts.Version, macroAudits)
	if err != nil {
		return nil, fmt.Errorf("sealing: %w", err)
	}

	return &Result{Runbook: sealed, Diagnostics: diags, Synthetic: synthetic, WasReordered: wasReordered}, nil
}
