package condition

import (
	"fmt"
	"strconv"

	"github.com/weftflow/weft/internal/domain"
)

// expr is a parsed condition. The tree is immutable and safe to evaluate
// concurrently.
type expr interface {
	eval(resolver resolverFunc) (domain.Value, error)
}

type resolverFunc func(path string) (domain.Value, bool)

type literalExpr struct {
	value domain.Value
}

func (e *literalExpr) eval(resolverFunc) (domain.Value, error) {
	return e.value, nil
}

type refExpr struct {
	path string
}

func (e *refExpr) eval(resolve resolverFunc) (domain.Value, error) {
	value, ok := resolve(e.path)
	if !ok {
		return domain.NullValue(), fmt.Errorf("unresolved reference %q", e.path)
	}
	return value, nil
}

type notExpr struct {
	inner expr
}

func (e *notExpr) eval(resolve resolverFunc) (domain.Value, error) {
	value, err := e.inner.eval(resolve)
	if err != nil {
		return domain.NullValue(), err
	}
	return domain.BoolValue(!value.AsBool()), nil
}

type boolExpr struct {
	op          tokenKind // tokenAnd or tokenOr
	left, right expr
}

func (e *boolExpr) eval(resolve resolverFunc) (domain.Value, error) {
	left, err := e.left.eval(resolve)
	if err != nil {
		return domain.NullValue(), err
	}
	// Short-circuit, so a bad right operand behind a decided left side
	// does not fail the whole expression.
	if e.op == tokenAnd && !left.AsBool() {
		return domain.BoolValue(false), nil
	}
	if e.op == tokenOr && left.AsBool() {
		return domain.BoolValue(true), nil
	}
	right, err := e.right.eval(resolve)
	if err != nil {
		return domain.NullValue(), err
	}
	return domain.BoolValue(right.AsBool()), nil
}

type cmpExpr struct {
	op          tokenKind
	left, right expr
}

func (e *cmpExpr) eval(resolve resolverFunc) (domain.Value, error) {
	left, err := e.left.eval(resolve)
	if err != nil {
		return domain.NullValue(), err
	}
	right, err := e.right.eval(resolve)
	if err != nil {
		return domain.NullValue(), err
	}

	switch e.op {
	case tokenEq:
		return domain.BoolValue(left.Equal(right)), nil
	case tokenNe:
		return domain.BoolValue(!left.Equal(right)), nil
	}

	// Ordering: numeric when both sides coerce, lexicographic for two
	// strings, type mismatch otherwise.
	lf, lok := left.AsFloat()
	rf, rok := right.AsFloat()
	if lok && rok && left.Kind != domain.KindString && right.Kind != domain.KindString {
		return domain.BoolValue(compareFloats(e.op, lf, rf)), nil
	}
	if left.Kind == domain.KindString && right.Kind == domain.KindString {
		return domain.BoolValue(compareStrings(e.op, left.Str, right.Str)), nil
	}
	return domain.NullValue(), fmt.Errorf("cannot order %s against %s", left.Kind, right.Kind)
}

func compareFloats(op tokenKind, l, r float64) bool {
	switch op {
	case tokenLt:
		return l < r
	case tokenLe:
		return l <= r
	case tokenGt:
		return l > r
	default:
		return l >= r
	}
}

func compareStrings(op tokenKind, l, r string) bool {
	switch op {
	case tokenLt:
		return l < r
	case tokenLe:
		return l <= r
	case tokenGt:
		return l > r
	default:
		return l >= r
	}
}

type parser struct {
	tokens []token
	pos    int
}

// parse builds the expression tree:
//
//	expr       := or
//	or         := and ( '||' and )*
//	and        := unary ( '&&' unary )*
//	unary      := '!' unary | comparison
//	comparison := primary ( cmpOp primary )?
//	primary    := REF | STRING | NUMBER | true | false | null | '(' expr ')'
func parse(input string) (expr, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	tree, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", p.peek().text, p.peek().pos)
	}
	return tree, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &boolExpr{op: tokenOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &boolExpr{op: tokenAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.peek().kind == tokenNot {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	switch p.peek().kind {
	case tokenEq, tokenNe, tokenLt, tokenLe, tokenGt, tokenGe:
		op := p.next().kind
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &cmpExpr{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parsePrimary() (expr, error) {
	t := p.next()
	switch t.kind {
	case tokenRef:
		return &refExpr{path: t.text}, nil
	case tokenString:
		return &literalExpr{value: domain.StringValue(t.text)}, nil
	case tokenNumber:
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return &literalExpr{value: domain.IntValue(i)}, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", t.text, t.pos)
		}
		return &literalExpr{value: domain.FloatValue(f)}, nil
	case tokenTrue:
		return &literalExpr{value: domain.BoolValue(true)}, nil
	case tokenFalse:
		return &literalExpr{value: domain.BoolValue(false)}, nil
	case tokenNull:
		return &literalExpr{value: domain.NullValue()}, nil
	case tokenLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokenRParen {
			return nil, fmt.Errorf("missing ')' at position %d", p.peek().pos)
		}
		p.next()
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
}
