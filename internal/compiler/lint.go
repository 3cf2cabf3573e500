package compiler

import (
	"fmt"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/apperrors"
	"dsl-ob-poc/internal/ast"
	"dsl-ob-poc/internal/ontology"
	"dsl-ob-poc/internal/registry"
	"dsl-ob-poc/internal/session"
)

// Linter runs the seven cross-statement-graph checks over a
// parsed Program before any lowering happens: verb existence, argument
// names, type/mask, symbol references, unused bindings,
// document/entity applicability (declared entity types only; see
// checkApplicability), and an ABAC pre-check slot that adds no
// diagnostics (see checkABACPreflight).
type Linter struct {
	resolver ContractResolver
	onto     *ontology.Ontology
	actor    abac.ActorContext
}

// NewLinter builds a Linter bound to a contract resolver, an ontology
// snapshot, and the actor the compile is running on behalf of.
func NewLinter(resolver ContractResolver, onto *ontology.Ontology, actor abac.ActorContext) *Linter {
	return &Linter{resolver: resolver, onto: onto, actor: actor}
}

// Lint runs all seven checks and returns the accumulated diagnostics.
// A DiagnosticList with HasHardErrors() true means compilation must
// stop; warnings and hints (e.g. unused bindings) do not block.
func (l *Linter) Lint(prog *ast.Program, sess *session.Session) (apperrors.DiagnosticList, map[string]*VerbContract, error) {
	var diags apperrors.DiagnosticList
	contracts := make(map[string]*VerbContract)
	declared := make(map[string]bool) // :as bindings declared by earlier statements in this program
	used := make(map[string]bool)

	// allBindings collects every :as binding in the program regardless
	// of position, so a forward reference to a symbol produced later
	// can be told apart from a genuinely undefined one.
	allBindings := make(map[string]bool)
	for _, call := range prog.VerbCalls() {
		if call.AsBinding != nil {
			allBindings[*call.AsBinding] = true
		}
	}

	for idx, call := range prog.VerbCalls() {
		contract, ok, err := l.resolver.ResolveVerb(call.VerbFQN)
		if err != nil {
			return diags, contracts, fmt.Errorf("resolving verb %q: %w", call.VerbFQN, err)
		}
		if !ok {
			// Check 1: verb existence.
			diags.Add(apperrors.KindUnknownVerb, apperrors.SeverityHardError, toSpan(call.Span), "unknown verb %q", call.VerbFQN)
			continue
		}
		l.checkVerbLifecycle(call, contract, &diags)
		contracts[call.VerbFQN] = contract

		l.checkArguments(call, contract, &diags)
		l.checkSymbolReferences(call, sess, declared, allBindings, used, &diags)
		l.checkApplicability(call, contract, &diags)
		l.checkABACPreflight(contract, &diags)

		if call.AsBinding != nil {
			declared[*call.AsBinding] = true
		}
		_ = idx
	}

	l.checkUnusedBindings(prog, declared, used, &diags)

	return diags, contracts, nil
}

// checkVerbLifecycle is the rest of check 1: a deprecated verb
// compiles with a warning, a retired verb is a hard error.
func (l *Linter) checkVerbLifecycle(call *ast.VerbCall, contract *VerbContract, diags *apperrors.DiagnosticList) {
	switch contract.Status {
	case registry.StatusDeprecated:
		diags.Add(apperrors.KindDeprecatedVerb, apperrors.SeverityWarning, toSpan(call.Span), "verb %q is deprecated", call.VerbFQN)
	case registry.StatusRetired:
		diags.Add(apperrors.KindRetiredVerb, apperrors.SeverityHardError, toSpan(call.Span), "verb %q is retired", call.VerbFQN)
	}
}

// checkArguments is check 2 (argument names) and check 3
// (type/mask): every argument key must be declared by the contract,
// every required param must be present, and each value's AST kind
// must be compatible with the declared ParamKind.
func (l *Linter) checkArguments(call *ast.VerbCall, contract *VerbContract, diags *apperrors.DiagnosticList) {
	seen := make(map[string]bool)
	for _, arg := range call.Arguments {
		seen[arg.Key] = true
		spec, ok := contract.Param(arg.Key)
		if !ok {
			diags.Add(apperrors.KindUnknownArgument, apperrors.SeverityHardError, toSpan(arg.Span), "verb %q has no argument %q", call.VerbFQN, arg.Key)
			continue
		}
		if !valueMatchesKind(arg.Value, spec.Kind) {
			diags.Add(apperrors.Kind("type_mismatch"), apperrors.SeverityHardError, toSpan(arg.Span), "argument %q of %q expects %s", arg.Key, call.VerbFQN, spec.Kind)
		}
	}
	for _, spec := range contract.Params {
		if spec.Required && !seen[spec.Name] {
			diags.Add(apperrors.KindMissingRequiredArgument, apperrors.SeverityHardError, toSpan(call.Span), "verb %q is missing required argument %q", call.VerbFQN, spec.Name)
		}
	}
}

// checkSymbolReferences is check 4: every @symbol argument value must
// resolve against the session's pre-existing bindings, a binding
// declared earlier in the same program, or a binding produced later
// in the same program -- the producer graph reorders around that last
// case, so it is surfaced as a ReorderingSuggested warning rather than
// a hard error. Only a symbol with no producer anywhere in the
// program and no session binding stays an undefined-symbol hard
// error.
func (l *Linter) checkSymbolReferences(call *ast.VerbCall, sess *session.Session, declared, allBindings map[string]bool, used map[string]bool, diags *apperrors.DiagnosticList) {
	walkSymbolRefs(call, func(n *astNodeRef) {
		used[n.name] = true
		if declared[n.name] {
			return
		}
		if sess != nil {
			if _, ok := sess.Lookup(n.name); ok {
				return
			}
		}
		if allBindings[n.name] {
			diags.Add(apperrors.KindReorderingSuggested, apperrors.SeverityWarning, toSpan(n.span), "symbol @%s is produced later in the program; statements will be reordered", n.name)
			return
		}
		diags.Add(apperrors.KindUndefinedSymbol, apperrors.SeverityHardError, toSpan(n.span), "undefined symbol @%s", n.name)
	})
}

// checkApplicability is check 6: for every entity-ref or UUID
// parameter whose contract declares an entity type, it reports a hard
// error when that type is unknown to the ontology. It does not infer
// the entity type of the argument's value, and does not compare that
// value's type with the declared one.
func (l *Linter) checkApplicability(call *ast.VerbCall, contract *VerbContract, diags *apperrors.DiagnosticList) {
	for _, spec := range contract.Params {
		if spec.Kind != ParamEntityRef && spec.Kind != ParamUUID {
			continue
		}
		if spec.EntityType == "" {
			continue
		}
		if _, ok := l.onto.EntityDef(spec.EntityType); !ok {
			diags.Add(apperrors.KindDocumentNotApplicableToEntityType, apperrors.SeverityHardError, toSpan(call.Span), "verb %q references unknown entity type %q", call.VerbFQN, spec.EntityType)
		}
	}
}

// checkABACPreflight is check 7's slot. A VerbContract carries no
// security label, so no clearance is evaluated here and no diagnostic
// is ever added: every verb passes at compile time. The ABAC decision
// is made only by the executor's execution-time governance re-check.
func (l *Linter) checkABACPreflight(contract *VerbContract, diags *apperrors.DiagnosticList) {
	// No label on the contract to evaluate; every verb passes.
	_ = contract
}

// checkUnusedBindings is check 5: an :as binding that's never
// referenced by any @symbol in the program is a warning (not a hard error) the
// compiler surfaces but does not block on.
func (l *Linter) checkUnusedBindings(prog *ast.Program, declared, used map[string]bool, diags *apperrors.DiagnosticList) {
	for _, call := range prog.VerbCalls() {
		if call.AsBinding == nil {
			continue
		}
		name := *call.AsBinding
		if !used[name] {
			diags.Add(apperrors.Kind("unused_binding"), apperrors.SeverityWarning, toSpan(call.Span), "binding @%s is never referenced", name)
		}
	}
}

func toSpan(s apperrors.Span) *apperrors.Span {
	return &s
}

type astNodeRef struct {
	name string
	span apperrors.Span
}

// walkSymbolRefs visits every SymbolRef node reachable from a verb
// call's arguments, including inside nested lists/maps/nested verb
// calls.
func walkSymbolRefs(call *ast.VerbCall, visit func(*astNodeRef)) {
	for _, arg := range call.Arguments {
		walkNodeSymbolRefs(arg.Value, visit)
	}
}

func walkNodeSymbolRefs(n *ast.Node, visit func(*astNodeRef)) {
	if n == nil {
		return
	}
	switch n.Kind {
	case ast.KindSymbolRef:
		visit(&astNodeRef{name: n.SymbolName, span: n.Span})
	case ast.KindList:
		for _, item := range n.Items {
			walkNodeSymbolRefs(item, visit)
		}
	case ast.KindMap:
		for _, e := range n.Entries {
			walkNodeSymbolRefs(e.Value, visit)
		}
	case ast.KindNested:
		if n.Nested != nil {
			for _, arg := range n.Nested.Arguments {
				walkNodeSymbolRefs(arg.Value, visit)
			}
		}
	}
}

// valueMatchesKind checks a literal AST node's shape against a
// declared parameter kind. EntityRef params accept a quoted string
// literal (the parser never distinguishes EntityRef from Literal at
// parse time; see ast.Node's doc comment) or a resolved @symbol.
func valueMatchesKind(n *ast.Node, kind ParamKind) bool {
	switch kind {
	case ParamString, ParamEntityRef:
		return n.Kind == ast.KindLiteral && n.LiteralType == ast.LitString || n.Kind == ast.KindSymbolRef
	case ParamInteger:
		return n.Kind == ast.KindLiteral && n.LiteralType == ast.LitInteger
	case ParamDecimal:
		return n.Kind == ast.KindLiteral && n.LiteralType == ast.LitDecimal
	case ParamBoolean:
		return n.Kind == ast.KindLiteral && n.LiteralType == ast.LitBoolean
	case ParamUUID:
		return (n.Kind == ast.KindLiteral && (n.LiteralType == ast.LitUUID || n.LiteralType == ast.LitString)) || n.Kind == ast.KindSymbolRef
	case ParamList:
		return n.Kind == ast.KindList
	case ParamMap:
		return n.Kind == ast.KindMap
	default:
		return true
	}
}
