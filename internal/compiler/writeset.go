package compiler

import (
	"github.com/google/uuid"

	"dsl-ob-poc/internal/ontology"
	"dsl-ob-poc/internal/runbook"
	"dsl-ob-poc/internal/session"
)

// computeWriteSet resolves one op's declared write-set argument keys
// into concrete WriteSetMembers: an argument whose value is a
// @symbol resolves against the session's existing bindings if bound,
// or against another node's as_binding (in which case the member
// carries the produced binding name instead of a UUID, to be resolved
// dynamically at execution time once that step runs). A literal
// "name" argument of a call with an :as binding adds a member for the
// entity that call produces, keyed by that binding; any other literal
// value adds no member. Entity types are canonicalized via the
// ontology's alias resolution before they become lock-key material.
func computeWriteSet(o op, contract *VerbContract, producedBy map[string]string, sess *session.Session, onto *ontology.Ontology) []runbook.WriteSetMember {
	if contract == nil {
		return nil
	}
	var out []runbook.WriteSetMember
	for _, argKey := range contract.WriteSetArgs {
		val, ok := o.args[argKey]
		if !ok {
			continue
		}
		entityType, _ := argEntityType(contract, argKey)
		if entityType == "" && contract.Produces != nil {
			entityType = contract.Produces.EntityType
		}
		canonType := onto.ResolveAlias(entityType)

		if len(val) > 0 && val[0] == '@' {
			name := val[1:]
			if sess != nil {
				if b, ok := sess.Lookup(name); ok {
					out = append(out, runbook.WriteSetMember{EntityType: onto.ResolveAlias(b.EntityType), EntityID: b.UUID})
					continue
				}
			}
			if _, ok := producedBy[name]; ok {
				out = append(out, runbook.WriteSetMember{EntityType: canonType, ProducedBinding: name})
				continue
			}
			// Unresolved symbol: recorded with a zero UUID: this should
			// never survive linting (checkSymbolReferences runs first),
			// so reaching here only happens if a contract declares a
			// write-set arg the linter doesn't also validate as a symbol.
			out = append(out, runbook.WriteSetMember{EntityType: canonType, EntityID: uuid.Nil})
			continue
		}

		if o.asBinding != "" && argKey == "name" {
			// The verb's own produced entity is part of its write-set
			// (it is both creating and locking the row it creates).
			out = append(out, runbook.WriteSetMember{EntityType: canonType, ProducedBinding: o.asBinding})
			continue
		}

		// Any other bare literal contributes no write-set member.
		// Entity-ref arguments that implicit-create rewrote already
		// arrive here as binding references and are handled above.
	}
	return out
}
