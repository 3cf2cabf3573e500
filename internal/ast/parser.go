package ast

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"dsl-ob-poc/internal/apperrors"
)

// Parse is the pure entry point: parse(source) -> Result<Program>.
// A malformed token produces a single *apperrors.Error of kind
// SyntaxError carrying the offending span; the parser is
// recovery-free and stops hard on the first error.
func Parse(source string) (*Program, error) {
	p := &parser{input: source}
	stmts, err := p.parseProgram()
	if err != nil {
		return nil, err
	}
	return &Program{Statements: stmts, Source: source}, nil
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

type parser struct {
	input string
	pos   int
}

func (p *parser) parseProgram() ([]Statement, error) {
	var stmts []Statement
	for {
		start := p.pos
		skipped := p.skipBlankAndComments()
		if skipped > 0 && p.pos > start {
			// only whitespace was skipped; a ';' comment left at the current
			// position is parsed as a Comment statement below.
		}
		if p.isEOF() {
			break
		}
		if p.peek() == ';' {
			stmt, err := p.parseCommentStatement()
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, *stmt)
			continue
		}
		vc, err := p.parseVerbCall()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, Statement{
			Kind: StatementVerbCall,
			Verb: vc,
			Span: vc.Span,
		})
	}
	return stmts, nil
}

// skipBlankAndComments skips whitespace only (comments are parsed as
// statements so they survive into the Program for round-tripping).
func (p *parser) skipBlankAndComments() int {
	start := p.pos
	for !p.isEOF() && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
	return p.pos - start
}

func (p *parser) parseCommentStatement() (*Statement, error) {
	start := p.pos
	// ';;' introduces a line comment; a lone ';' is also accepted.
	for !p.isEOF() && p.input[p.pos] == ';' {
		p.pos++
	}
	textStart := p.pos
	for !p.isEOF() && p.input[p.pos] != '\n' {
		p.pos++
	}
	text := strings.TrimSpace(p.input[textStart:p.pos])
	return &Statement{
		Kind:    StatementComment,
		Comment: text,
		Span:    apperrors.Span{Start: start, End: p.pos},
	}, nil
}

func (p *parser) parseVerbCall() (*VerbCall, error) {
	p.skipBlankAndComments()
	start := p.pos
	if !p.consume('(') {
		return nil, p.errorf("expected '(' to start a verb call")
	}
	p.skipBlankAndComments()

	fqn, err := p.readIdentifier()
	if err != nil {
		return nil, err
	}
	if fqn == "" {
		return nil, p.errorf("expected verb name after '('")
	}

	vc := &VerbCall{VerbFQN: fqn}

	for {
		p.skipBlankAndComments()
		if p.isEOF() {
			return nil, p.errorf("unexpected end of input, expected ')' to close verb call %q", fqn)
		}
		if p.peek() == ')' {
			p.pos++
			break
		}
		if p.peek() != ':' {
			return nil, p.errorf("expected ':key' argument or ')' inside verb call %q", fqn)
		}
		argStart := p.pos
		p.pos++ // consume ':'
		key, err := p.readIdentifier()
		if err != nil {
			return nil, err
		}
		if key == "" {
			return nil, p.errorf("expected argument name after ':'")
		}
		p.skipBlankAndComments()
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		argSpan := apperrors.Span{Start: argStart, End: p.pos}

		if key == "as" {
			if val.Kind != KindSymbolRef {
				return nil, (&apperrors.Error{
					Kind:    apperrors.KindSyntaxError,
					Message: "':as' must bind a symbol reference (@name)",
				}).WithSpan(argSpan)
			}
			name := val.SymbolName
			vc.AsBinding = &name
			continue
		}

		vc.Arguments = append(vc.Arguments, Argument{Key: key, Value: val, Span: argSpan})
	}

	vc.Span = apperrors.Span{Start: start, End: p.pos}
	return vc, nil
}

func (p *parser) parseValue() (*Node, error) {
	p.skipBlankAndComments()
	if p.isEOF() {
		return nil, p.errorf("unexpected end of input, expected a value")
	}
	start := p.pos
	switch {
	case p.peek() == '"':
		return p.parseString()
	case p.peek() == '@':
		return p.parseSymbolRef()
	case p.peek() == '[':
		return p.parseList()
	case p.peek() == '{':
		return p.parseMap()
	case p.peek() == '(':
		vc, err := p.parseVerbCall()
		if err != nil {
			return nil, err
		}
		return &Node{Kind: KindNested, Nested: vc, Span: vc.Span}, nil
	case p.peek() == '-' || isDigit(p.peek()):
		return p.parseNumber()
	default:
		ident, err := p.readIdentifier()
		if err != nil {
			return nil, err
		}
		if ident == "" {
			return nil, p.errorf("unexpected character %q, expected a value", string(p.peek()))
		}
		span := apperrors.Span{Start: start, End: p.pos}
		switch ident {
		case "true":
			return &Node{Kind: KindLiteral, LiteralType: LitBoolean, BoolVal: true, Span: span}, nil
		case "false":
			return &Node{Kind: KindLiteral, LiteralType: LitBoolean, BoolVal: false, Span: span}, nil
		case "null":
			return &Node{Kind: KindLiteral, LiteralType: LitNull, Span: span}, nil
		default:
			if uuidPattern.MatchString(ident) {
				return &Node{Kind: KindLiteral, LiteralType: LitUUID, UUIDVal: ident, Span: span}, nil
			}
			return &Node{Kind: KindLiteral, LiteralType: LitString, StringVal: ident, Span: span}, nil
		}
	}
}

func (p *parser) parseString() (*Node, error) {
	start := p.pos
	p.pos++ // opening quote
	var sb strings.Builder
	for {
		if p.isEOF() {
			return nil, p.errorf("unterminated string literal")
		}
		c := p.input[p.pos]
		if c == '"' {
			p.pos++
			break
		}
		if c == '\\' {
			p.pos++
			if p.isEOF() {
				return nil, p.errorf("unterminated escape sequence in string literal")
			}
			switch p.input[p.pos] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			default:
				sb.WriteByte(p.input[p.pos])
			}
			p.pos++
			continue
		}
		sb.WriteByte(c)
		p.pos++
	}
	span := apperrors.Span{Start: start, End: p.pos}
	val := sb.String()
	if uuidPattern.MatchString(val) {
		return &Node{Kind: KindLiteral, LiteralType: LitUUID, UUIDVal: val, Span: span}, nil
	}
	return &Node{Kind: KindLiteral, LiteralType: LitString, StringVal: val, Span: span}, nil
}

func (p *parser) parseSymbolRef() (*Node, error) {
	start := p.pos
	p.pos++ // '@'
	name, err := p.readIdentifier()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, p.errorf("expected a name after '@'")
	}
	return &Node{Kind: KindSymbolRef, SymbolName: name, Span: apperrors.Span{Start: start, End: p.pos}}, nil
}

func (p *parser) parseList() (*Node, error) {
	start := p.pos
	p.pos++ // '['
	var items []*Node
	for {
		p.skipBlankAndComments()
		if p.isEOF() {
			return nil, p.errorf("unterminated list, expected ']'")
		}
		if p.peek() == ']' {
			p.pos++
			break
		}
		if p.peek() == ',' {
			p.pos++
			continue
		}
		item, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return &Node{Kind: KindList, Items: items, Span: apperrors.Span{Start: start, End: p.pos}}, nil
}

func (p *parser) parseMap() (*Node, error) {
	start := p.pos
	p.pos++ // '{'
	var entries []MapEntry
	for {
		p.skipBlankAndComments()
		if p.isEOF() {
			return nil, p.errorf("unterminated map, expected '}'")
		}
		if p.peek() == '}' {
			p.pos++
			break
		}
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if p.peek() != ':' {
			return nil, p.errorf("expected ':key' entry inside map")
		}
		entryStart := p.pos
		p.pos++
		key, err := p.readIdentifier()
		if err != nil {
			return nil, err
		}
		if key == "" {
			return nil, p.errorf("expected key name after ':' in map")
		}
		p.skipBlankAndComments()
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		entries = append(entries, MapEntry{Key: key, Value: val, Span: apperrors.Span{Start: entryStart, End: p.pos}})
	}
	return &Node{Kind: KindMap, Entries: entries, Span: apperrors.Span{Start: start, End: p.pos}}, nil
}

func (p *parser) parseNumber() (*Node, error) {
	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	hasDigits := false
	for !p.isEOF() && isDigit(p.peek()) {
		p.pos++
		hasDigits = true
	}
	isDecimal := false
	if !p.isEOF() && p.peek() == '.' && p.pos+1 < len(p.input) && isDigit(rune(p.input[p.pos+1])) {
		isDecimal = true
		p.pos++
		for !p.isEOF() && isDigit(p.peek()) {
			p.pos++
		}
	}
	if !hasDigits {
		return nil, p.errorf("malformed numeric literal")
	}
	text := p.input[start:p.pos]
	span := apperrors.Span{Start: start, End: p.pos}
	if isDecimal {
		d, err := decimal.NewFromString(text)
		if err != nil {
			return nil, (&apperrors.Error{
				Kind:    apperrors.KindSyntaxError,
				Message: "malformed fixed-decimal literal " + text,
				Cause:   err,
			}).WithSpan(span)
		}
		return &Node{Kind: KindLiteral, LiteralType: LitDecimal, DecimalVal: d, Span: span}, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, (&apperrors.Error{
			Kind:    apperrors.KindSyntaxError,
			Message: "malformed integer literal " + text,
			Cause:   err,
		}).WithSpan(span)
	}
	return &Node{Kind: KindLiteral, LiteralType: LitInteger, IntVal: n, Span: span}, nil
}

func (p *parser) readIdentifier() (string, error) {
	start := p.pos
	for !p.isEOF() && isIdentifierChar(rune(p.input[p.pos])) {
		p.pos++
	}
	return p.input[start:p.pos], nil
}

func isIdentifierChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_'
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func (p *parser) peek() rune {
	if p.isEOF() {
		return 0
	}
	return rune(p.input[p.pos])
}

func (p *parser) consume(r rune) bool {
	if p.peek() == r {
		p.pos++
		return true
	}
	return false
}

func (p *parser) isEOF() bool { return p.pos >= len(p.input) }

func (p *parser) errorf(format string, args ...any) error {
	e := apperrors.New(apperrors.KindSyntaxError, format, args...)
	return e.WithSpan(apperrors.Span{Start: p.pos, End: p.pos + 1})
}
