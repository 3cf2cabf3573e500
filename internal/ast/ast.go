// Package ast defines the typed abstract syntax tree produced by the
// parser: Program, Statement, VerbCall, Argument, and the AstNode
// variants (Literal, SymbolRef, EntityRef, List, Map, Nested). Every
// node carries a byte span preserved from the source text so later
// pipeline stages can report diagnostics against exact source
// positions.
package ast

import (
	"fmt"

	"github.com/shopspring/decimal"

	"dsl-ob-poc/internal/apperrors"
)

// Kind discriminates the variants of an AstNode.
type Kind int

const (
	KindLiteral Kind = iota
	KindSymbolRef
	KindEntityRef
	KindList
	KindMap
	KindNested
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "Literal"
	case KindSymbolRef:
		return "SymbolRef"
	case KindEntityRef:
		return "EntityRef"
	case KindList:
		return "List"
	case KindMap:
		return "Map"
	case KindNested:
		return "Nested"
	default:
		return "Unknown"
	}
}

// LiteralType discriminates the scalar literal kinds. There is no
// float variant: any token with a decimal point lexes as Decimal,
// never as an IEEE float, per the no-floating-point non-goal.
type LiteralType int

const (
	LitString LiteralType = iota
	LitInteger
	LitDecimal
	LitBoolean
	LitNull
	LitUUID
)

// Node is an AstNode: exactly one of Literal, SymbolRef, EntityRef,
// List, Map, or Nested is populated, selected by Kind.
//
// A quoted string always lexes as a LitString literal. Whether it
// plays the role of spec's "EntityRef" (resolved by display name
// against the session's entity binding context) is a compile-time
// classification the compiler makes from the verb contract's declared
// parameter shape, not a parse-time distinction — the parser has no
// registry to consult and must stay a pure function of source text.
// KindEntityRef exists on this type for compiler stages that rewrite
// a resolved string literal in place; the parser itself never emits
// it.
type Node struct {
	Kind Kind
	Span apperrors.Span

	LiteralType LiteralType
	StringVal   string
	IntVal      int64
	DecimalVal  decimal.Decimal
	BoolVal     bool
	UUIDVal     string

	SymbolName string

	EntityName string

	Items []*Node

	Entries []MapEntry

	Nested *VerbCall
}

// MapEntry is one `:key value` pair inside a Map literal.
type MapEntry struct {
	Key   string
	Value *Node
	Span  apperrors.Span
}

// Argument is one `:key value` pair attached to a VerbCall.
type Argument struct {
	Key   string
	Value *Node
	Span  apperrors.Span
}

// VerbCall is a single s-expression invocation: `(verb.fqn :k v ... :as @binding)`.
type VerbCall struct {
	VerbFQN   string
	Arguments []Argument
	AsBinding *string
	Span      apperrors.Span
}

// Arg returns the argument with the given key, if present.
func (v *VerbCall) Arg(key string) (*Argument, bool) {
	for i := range v.Arguments {
		if v.Arguments[i].Key == key {
			return &v.Arguments[i], true
		}
	}
	return nil, false
}

// StatementKind discriminates Statement variants.
type StatementKind int

const (
	StatementComment StatementKind = iota
	StatementVerbCall
)

// Statement is one top-level entry in a Program: a line comment or a
// verb call.
type Statement struct {
	Kind    StatementKind
	Comment string
	Verb    *VerbCall
	Span    apperrors.Span
}

// Program is the ordered sequence of statements produced by the
// parser plus the source text it was parsed from (the source map
// consulted to render spans).
type Program struct {
	Statements []Statement
	Source     string
}

// VerbCalls returns the VerbCall statements in source order, skipping
// comments.
func (p *Program) VerbCalls() []*VerbCall {
	out := make([]*VerbCall, 0, len(p.Statements))
	for i := range p.Statements {
		if p.Statements[i].Kind == StatementVerbCall {
			out = append(out, p.Statements[i].Verb)
		}
	}
	return out
}

// String renders a debug form of a node, primarily for test failure
// output.
func (n *Node) String() string {
	switch n.Kind {
	case KindLiteral:
		switch n.LiteralType {
		case LitString:
			return fmt.Sprintf("%q", n.StringVal)
		case LitInteger:
			return fmt.Sprintf("%d", n.IntVal)
		case LitDecimal:
			return n.DecimalVal.String()
		case LitBoolean:
			return fmt.Sprintf("%t", n.BoolVal)
		case LitNull:
			return "null"
		case LitUUID:
			return n.UUIDVal
		}
	case KindSymbolRef:
		return "@" + n.SymbolName
	case KindEntityRef:
		return fmt.Sprintf("%q(entity)", n.EntityName)
	case KindList:
		return fmt.Sprintf("List(%d items)", len(n.Items))
	case KindMap:
		return fmt.Sprintf("Map(%d entries)", len(n.Entries))
	case KindNested:
		return fmt.Sprintf("Nested(%s)", n.Nested.VerbFQN)
	}
	return "?"
}
