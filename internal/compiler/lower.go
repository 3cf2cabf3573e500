package compiler

import (
	"fmt"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/ast"
	"dsl-ob-poc/internal/runbook"
)

// op is the lowered, not-yet-ordered intermediate form of one verb
// call: its resolved argument strings, the symbol it produces (if
// any), and the symbols/entity types it consumes -- the edges the
// producer graph is built from.
type op struct {
	statementIndex int
	verbFQN        string
	args           map[string]string
	asBinding      string // "" if the call has no :as
	consumesSymbols []string
	mode           runbook.ExecutionMode
	sentence       string
	producesEntityType string
}

// lower converts every verb call statement into an op, rendering each
// argument value to its canonical string form (decimal values render
// via their exact decimal.String(), never float formatting).
func lower(prog *ast.Program, contracts map[string]*VerbContract) []op {
	ops := make([]op, 0, len(prog.VerbCalls()))
	for idx, call := range prog.VerbCalls() {
		contract := contracts[call.VerbFQN]
		o := op{
			statementIndex: idx,
			verbFQN:        call.VerbFQN,
			args:           make(map[string]string, len(call.Arguments)),
			mode:           runbook.ModeSync,
		}
		if call.AsBinding != nil {
			o.asBinding = *call.AsBinding
		}
		if contract != nil {
			o.mode = contract.ExecutionMode
			o.sentence = contract.Sentence
			if contract.Produces != nil {
				o.producesEntityType = contract.Produces.EntityType
			}
		}
		for _, arg := range call.Arguments {
			o.args[arg.Key] = renderValue(arg.Value)
			collectSymbols(arg.Value, &o.consumesSymbols)
		}
		ops = append(ops, o)
	}
	return ops
}

func renderValue(n *ast.Node) string {
	switch n.Kind {
	case ast.KindLiteral:
		switch n.LiteralType {
		case ast.LitString:
			return n.StringVal
		case ast.LitInteger:
			return fmt.Sprintf("%d", n.IntVal)
		case ast.LitDecimal:
			return n.DecimalVal.String()
		case ast.LitBoolean:
			return fmt.Sprintf("%t", n.BoolVal)
		case ast.LitNull:
			return ""
		case ast.LitUUID:
			return n.UUIDVal
		}
	case ast.KindSymbolRef:
		return "@" + n.SymbolName
	case ast.KindEntityRef:
		return n.EntityName
	case ast.KindList:
		out := "["
		for i, item := range n.Items {
			if i > 0 {
				out += ","
			}
			out += renderValue(item)
		}
		return out + "]"
	case ast.KindMap:
		out := "{"
		for i, e := range n.Entries {
			if i > 0 {
				out += ","
			}
			out += e.Key + ":" + renderValue(e.Value)
		}
		return out + "}"
	case ast.KindNested:
		return "(" + n.Nested.VerbFQN + ")"
	}
	return ""
}

func collectSymbols(n *ast.Node, out *[]string) {
	if n == nil {
		return
	}
	switch n.Kind {
	case ast.KindSymbolRef:
		*out = append(*out, n.SymbolName)
	case ast.KindList:
		for _, item := range n.Items {
			collectSymbols(item, out)
		}
	case ast.KindMap:
		for _, e := range n.Entries {
			collectSymbols(e.Value, out)
		}
	case ast.KindNested:
		if n.Nested != nil {
			for _, arg := range n.Nested.Arguments {
				collectSymbols(arg.Value, out)
			}
		}
	}
}

// newStepID derives a deterministic step id scoped to a compile
// instance: a random v4 id would defeat deterministic Seal hashing if
// it ever leaked into hashed content, so steps use a stable v5 id
// derived from the runbook's would-be session/statement coordinates
// instead. The final Seal hash never includes StepID directly (see
// seal.go), but callers (write-set escalation, resumption) still need
// a stable per-compile id to reference a step by.
func newStepID(sessionID string, statementIndex int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", sessionID, statementIndex)))
}

// stepIDFor derives a node's step id, distinguishing a synthesized
// implicit-create node (keyed by its produced binding name) from a
// real statement node (keyed by its source statement index).
func stepIDFor(sessionID string, n node) uuid.UUID {
	if n.synthetic {
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:synthetic:%s", sessionID, n.op.asBinding)))
	}
	return newStepID(sessionID, n.op.statementIndex)
}
