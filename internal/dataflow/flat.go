package dataflow

import "github.com/quantuminterface/qicode/internal/qicode"

type flatKind uint8

const (
	flatUndefined flatKind = iota
	flatValue
	flatNoConst
)

// Flat is the three level constant propagation lattice. Undefined sits
// below everything and is the merge identity, a Value carries one known
// expression, NoConst sits on top and absorbs every merge. Two Values
// merge to themselves when syntactically equal and to NoConst otherwise.
type Flat struct {
	kind flatKind
	expr qicode.Expression
}

// Undefined returns the bottom element. It is also Flat's zero value.
func Undefined() Flat { return Flat{} }

// NoConst returns the top element.
func NoConst() Flat { return Flat{kind: flatNoConst} }

// Value wraps a known expression.
func Value(e qicode.Expression) Flat { return Flat{kind: flatValue, expr: e} }

func (f Flat) IsUndefined() bool { return f.kind == flatUndefined }
func (f Flat) IsNoConst() bool   { return f.kind == flatNoConst }
func (f Flat) IsValue() bool     { return f.kind == flatValue }

// Expr returns the known expression, or nil unless f is a Value.
func (f Flat) Expr() qicode.Expression {
	if f.kind != flatValue {
		return nil
	}
	return f.expr
}

func (f Flat) Merge(o Flat) Flat {
	switch {
	case f.kind == flatUndefined:
		return o
	case o.kind == flatUndefined:
		return f
	case f.kind == flatNoConst || o.kind == flatNoConst:
		return NoConst()
	case f.expr.EqualSyntax(o.expr):
		return f
	}
	return NoConst()
}

func (f Flat) Equal(o Flat) bool {
	if f.kind != o.kind {
		return false
	}
	if f.kind != flatValue {
		return true
	}
	return f.expr.EqualSyntax(o.expr)
}

func (f Flat) String() string {
	switch f.kind {
	case flatValue:
		return f.expr.String()
	case flatNoConst:
		return "no_const"
	}
	return "undefined"
}
