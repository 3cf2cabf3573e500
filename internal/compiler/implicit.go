package compiler

import (
	"fmt"

	"dsl-ob-poc/internal/apperrors"
	"dsl-ob-poc/internal/ontology"
	"dsl-ob-poc/internal/runbook"
)

// ImplicitCreateMode controls how synthesizeImplicitCreates reacts to
// an entity-by-name argument with no corresponding producer in scope.
type ImplicitCreateMode int

const (
	// ImplicitCreateEnabled synthesizes a canonical create step and
	// records a SyntheticStep the LSP surfaces as a quick-fix. This is
	// the default for interactive compiles.
	ImplicitCreateEnabled ImplicitCreateMode = iota
	// ImplicitCreateSilent synthesizes the same step but records no
	// SyntheticStep. Reserved for recompiling an already-sealed runbook
	// during replay, where the synthesis already happened once and
	// surfacing it again would be noise, not a decision point (Open
	// Question: "does implicit-create synthesis replay identically on
	// recompile" -- resolved yes, silently, since replay's only
	// consumer is the executor, not an interactive author).
	ImplicitCreateSilent
	// ImplicitCreateDisabled turns a missing producer into a hard
	// UndefinedSymbol-shaped error instead of synthesizing anything,
	// whatever the entity type's ontology.ImplicitCreate.Allowed says.
	ImplicitCreateDisabled
)

// argEntityType resolves the ontology entity type a given argument of
// a verb call names, if its contract marks that argument as an
// entity-ref parameter.
func argEntityType(contract *VerbContract, argKey string) (string, bool) {
	if contract == nil {
		return "", false
	}
	p, ok := contract.Param(argKey)
	if !ok || p.Kind != ParamEntityRef || p.EntityType == "" {
		return "", false
	}
	return p.EntityType, true
}

// synthesizeImplicitCreates scans every node's entity-ref arguments
// (identified via contracts, keyed by verb FQN); if the named entity
// has no producer already in scope (a pre-bound session symbol or an
// earlier :as in this program), it inserts a synthesized creation node
// ahead of the consumer using the entity type's
// ontology.ImplicitCreate.CanonicalVerb, bound under a
// compiler-generated symbol name substituted into the consumer's args.
func synthesizeImplicitCreates(nodes []node, contracts map[string]*VerbContract, preBound map[string]bool, onto *ontology.Ontology, mode ImplicitCreateMode) ([]node, []runbook.SyntheticStep, error) {
	boundNames := make(map[string]bool, len(preBound))
	for k := range preBound {
		boundNames[k] = true
	}
	for _, n := range nodes {
		if n.op.asBinding != "" {
			boundNames[n.op.asBinding] = true
		}
	}

	var synthetic []runbook.SyntheticStep
	out := make([]node, 0, len(nodes))

	for _, n := range nodes {
		contract := contracts[n.op.verbFQN]
		for argKey, val := range n.op.args {
			if len(val) == 0 || val[0] == '@' {
				continue
			}
			entityType, ok := argEntityType(contract, argKey)
			if !ok {
				continue
			}
			bindingName := "__implicit_" + entityType + "_" + val
			if boundNames[bindingName] {
				n.op.args[argKey] = "@" + bindingName
				continue
			}

			if mode == ImplicitCreateDisabled {
				return nil, nil, apperrors.New(apperrors.KindUndefinedSymbol, "entity %q of type %q has no producer and implicit creation is disabled", val, entityType)
			}
			def, ok := onto.EntityDef(entityType)
			if !ok || !def.ImplicitCreate.Allowed {
				continue
			}

			genNode := node{
				synthetic: true,
				op: op{
					statementIndex:     n.op.statementIndex,
					verbFQN:            def.ImplicitCreate.CanonicalVerb,
					args:               map[string]string{"name": val},
					asBinding:          bindingName,
					mode:               runbook.ModeSync,
					producesEntityType: entityType,
					sentence:           fmt.Sprintf("Implicitly create %s %q", entityType, val),
				},
			}
			out = append(out, genNode)
			boundNames[bindingName] = true
			n.op.args[argKey] = "@" + bindingName
			n.op.consumesSymbols = append(n.op.consumesSymbols, bindingName)

			if mode != ImplicitCreateSilent {
				synthetic = append(synthetic, runbook.SyntheticStep{
					Binding:          bindingName,
					EntityType:       entityType,
					CanonicalVerb:    def.ImplicitCreate.CanonicalVerb,
					InsertBeforeStmt: n.op.statementIndex,
					SuggestedDSL:     fmt.Sprintf("(%s :name %q :as @%s)", def.ImplicitCreate.CanonicalVerb, val, bindingName),
				})
			}
		}
		out = append(out, n)
	}

	return out, synthetic, nil
}
