// Package templates implements compile-time-only macro expansion:
// `template.invoke`/`template.batch` verb calls are expanded by
// re-rendering a registered template body with text/template and
// re-entering the body through ast.Parse, the same "render a DSL
// fragment with text/template, then parse it" idiom the orchestration
// package's DSLGenerator uses to produce master DSL documents from
// TemplateContext data. Expansion never runs at execution time.
package templates

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"dsl-ob-poc/internal/apperrors"
	"dsl-ob-poc/internal/ast"
	"dsl-ob-poc/internal/runbook"
)

// Definition is one registered template: a named, parameterized DSL
// snippet. Body is text/template source whose statements, once
// executed with a param dict and re-parsed, splice in place of the
// template.invoke/template.batch call that referenced it.
type Definition struct {
	Name       string
	ParamNames []string
	Body       string
}

// Registry holds the templates a compile pass may reference by id,
// mirroring the read-mostly registration/lookup shape used throughout
// the compiler (ContractResolver, ontology.Ontology).
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

func (r *Registry) Register(def *Definition) error {
	if def.Name == "" {
		return apperrors.New(apperrors.KindInvalidInput, "template definition must have a name")
	}
	if _, err := template.New(def.Name).Parse(def.Body); err != nil {
		return apperrors.Wrap(apperrors.KindInvalidInput, err, "parsing template %q body", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	return nil
}

func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// DefaultLimits sets a max expansion depth of 10, with companion
// line/iteration ceilings since this package expands into a compiled
// runbook rather than a one-shot generated document.
func DefaultLimits() runbook.ExpansionLimits {
	return runbook.ExpansionLimits{MaxDepth: 10, MaxTotalLines: 2000, MaxIterationCount: 500}
}

type expansionState struct {
	reg        *Registry
	limits     runbook.ExpansionLimits
	totalLines int
	iterations int
	audits     []runbook.MacroExpansionAudit
}

// Expand walks prog's top-level statements, replacing every
// template.invoke/template.batch call with its expansion (recursively,
// up to limits.MaxDepth) and returning the rewritten program alongside
// one runbook.MacroExpansionAudit per expansion performed, in source
// order, ready to fold into a ReplayEnvelope. Non-template statements
// pass through unchanged.
func Expand(prog *ast.Program, reg *Registry, limits runbook.ExpansionLimits) (*ast.Program, []runbook.MacroExpansionAudit, error) {
	st := &expansionState{reg: reg, limits: limits}
	out := make([]ast.Statement, 0, len(prog.Statements))
	for _, stmt := range prog.Statements {
		if stmt.Kind != ast.StatementVerbCall {
			out = append(out, stmt)
			continue
		}
		switch stmt.Verb.VerbFQN {
		case "template.invoke":
			expanded, err := st.expandInvoke(stmt.Verb, 0)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, expanded...)
		case "template.batch":
			expanded, err := st.expandBatch(stmt.Verb, 0)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, expanded...)
		default:
			out = append(out, stmt)
		}
	}
	return &ast.Program{Statements: out, Source: prog.Source}, st.audits, nil
}

func (st *expansionState) expandInvoke(call *ast.VerbCall, depth int) ([]ast.Statement, error) {
	if depth >= st.limits.MaxDepth {
		return nil, apperrors.New(apperrors.KindExpansionLimitExceeded, "template expansion depth exceeded %d at %q", st.limits.MaxDepth, call.VerbFQN)
	}
	idArg, ok := call.Arg("id")
	if !ok || idArg.Value.Kind != ast.KindLiteral || idArg.Value.LiteralType != ast.LitString {
		return nil, apperrors.New(apperrors.KindInvalidInput, "template.invoke requires a string :id")
	}
	def, ok := st.reg.Lookup(idArg.Value.StringVal)
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "template %q not registered", idArg.Value.StringVal)
	}

	params, audit := paramsFromCall(call)
	if call.AsBinding != nil {
		params["As"] = "@" + *call.AsBinding
	}

	body, err := renderBody(def, params)
	if err != nil {
		return nil, err
	}
	stmts, err := st.reparse(body, depth)
	if err != nil {
		return nil, fmt.Errorf("expanding template %q: %w", def.Name, err)
	}

	st.audits = append(st.audits, runbook.MacroExpansionAudit{
		TemplateID: def.Name, SubstitutedParams: audit, Digest: digest(body), Limits: st.limits, Timestamp: time.Now(),
	})
	return stmts, nil
}

func (st *expansionState) expandBatch(call *ast.VerbCall, depth int) ([]ast.Statement, error) {
	if depth >= st.limits.MaxDepth {
		return nil, apperrors.New(apperrors.KindExpansionLimitExceeded, "template expansion depth exceeded %d at %q", st.limits.MaxDepth, call.VerbFQN)
	}
	idArg, ok := call.Arg("id")
	if !ok || idArg.Value.Kind != ast.KindLiteral || idArg.Value.LiteralType != ast.LitString {
		return nil, apperrors.New(apperrors.KindInvalidInput, "template.batch requires a string :id")
	}
	def, ok := st.reg.Lookup(idArg.Value.StringVal)
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "template %q not registered", idArg.Value.StringVal)
	}
	srcArg, ok := call.Arg("source")
	if !ok || srcArg.Value.Kind != ast.KindList {
		return nil, apperrors.New(apperrors.KindInvalidInput, "template.batch requires a list :source (iteration count is fixed at compile time)")
	}

	asPrefix := ""
	if call.AsBinding != nil {
		asPrefix = *call.AsBinding
	}

	var out []ast.Statement
	for i, item := range srcArg.Value.Items {
		st.iterations++
		if st.iterations > st.limits.MaxIterationCount {
			return nil, apperrors.New(apperrors.KindExpansionLimitExceeded, "template expansion performed %d iterations, exceeding limit %d", st.iterations, st.limits.MaxIterationCount)
		}
		params, audit := paramsFromCall(call)
		params["Item"] = renderParam(item)
		params["Index"] = fmt.Sprintf("%d", i)
		if asPrefix != "" {
			params["As"] = fmt.Sprintf("@%s_%d", asPrefix, i)
		}
		audit = append(audit, runbook.SubstitutedParam{Name: "item", Value: renderParam(item)})
		sort.Slice(audit, func(a, b int) bool { return audit[a].Name < audit[b].Name })

		body, err := renderBody(def, params)
		if err != nil {
			return nil, err
		}
		stmts, err := st.reparse(body, depth)
		if err != nil {
			return nil, fmt.Errorf("expanding template %q at batch index %d: %w", def.Name, i, err)
		}
		out = append(out, stmts...)

		st.audits = append(st.audits, runbook.MacroExpansionAudit{
			TemplateID: def.Name, SubstitutedParams: audit, Digest: digest(body), Limits: st.limits, Timestamp: time.Now(),
		})
	}
	return out, nil
}

func (st *expansionState) reparse(body string, depth int) ([]ast.Statement, error) {
	lines := strings.Count(body, "\n") + 1
	st.totalLines += lines
	if st.totalLines > st.limits.MaxTotalLines {
		return nil, apperrors.New(apperrors.KindExpansionLimitExceeded, "template expansion produced %d total lines, exceeding limit %d", st.totalLines, st.limits.MaxTotalLines)
	}

	sub, err := ast.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing expanded template body: %w", err)
	}

	var out []ast.Statement
	for _, stmt := range sub.Statements {
		if stmt.Kind == ast.StatementVerbCall && stmt.Verb.VerbFQN == "template.invoke" {
			nested, err := st.expandInvoke(stmt.Verb, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		out = append(out, stmt)
	}
	return out, nil
}

// paramsFromCall converts a template.invoke/template.batch call's
// :params map into a text/template data dict (param name -> rendered
// DSL literal text) plus the substituted-params audit trail, sorted
// by name so replay digests stay stable regardless of map iteration
// order.
func paramsFromCall(call *ast.VerbCall) (map[string]string, []runbook.SubstitutedParam) {
	params := make(map[string]string)
	var audit []runbook.SubstitutedParam
	arg, ok := call.Arg("params")
	if !ok || arg.Value.Kind != ast.KindMap {
		return params, audit
	}
	for _, entry := range arg.Value.Entries {
		rendered := renderParam(entry.Value)
		params[entry.Key] = rendered
		audit = append(audit, runbook.SubstitutedParam{Name: entry.Key, Value: rendered})
	}
	sort.Slice(audit, func(i, j int) bool { return audit[i].Name < audit[j].Name })
	return params, audit
}

// renderParam renders one parameter value to DSL source text suitable
// for re-parsing: a string literal renders quoted, a symbol ref
// renders as "@name" (consumable verbatim by the re-entered parse),
// other literals render via their token form, and lists, maps, entity
// refs and nested calls render as an empty string.
func renderParam(n *ast.Node) string {
	switch n.Kind {
	case ast.KindLiteral:
		switch n.LiteralType {
		case ast.LitString:
			return fmt.Sprintf("%q", n.StringVal)
		case ast.LitInteger:
			return fmt.Sprintf("%d", n.IntVal)
		case ast.LitDecimal:
			return n.DecimalVal.String()
		case ast.LitBoolean:
			return fmt.Sprintf("%t", n.BoolVal)
		case ast.LitNull:
			return "null"
		case ast.LitUUID:
			return n.UUIDVal
		}
	case ast.KindSymbolRef:
		return "@" + n.SymbolName
	}
	return ""
}

func renderBody(def *Definition, params map[string]string) (string, error) {
	tmpl, err := template.New(def.Name).Option("missingkey=zero").Parse(def.Body)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInvalidInput, err, "parsing template %q body", def.Name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", apperrors.Wrap(apperrors.KindInvalidInput, err, "executing template %q", def.Name)
	}
	return buf.String(), nil
}

func digest(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
