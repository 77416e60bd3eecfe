package qicode

import (
	"fmt"
	"math"
	"strings"

	"github.com/quantuminterface/qicode/internal/isa"
	"github.com/quantuminterface/qicode/internal/units"
)

// Op aliases the ALU operation enum shared with the instruction encoder so
// expressions and emitted instructions speak the same vocabulary.
type Op = isa.Op

const (
	OpPlus  = isa.OpPlus
	OpMinus = isa.OpMinus
	OpMult  = isa.OpMult
	OpLsh   = isa.OpLsh
	OpRsh   = isa.OpRsh
	OpAnd   = isa.OpAnd
	OpOr    = isa.OpOr
	OpXor   = isa.OpXor
	OpNot   = isa.OpNot
)

// Cond aliases the branch condition enum of the encoder.
type Cond = isa.Condition

const (
	CondEQ = isa.CondEQ
	CondNE = isa.CondNE
	CondGT = isa.CondGT
	CondGE = isa.CondGE
	CondLT = isa.CondLT
	CondLE = isa.CondLE
)

// Expression is a value a command can consume: a literal constant, a
// variable, an unresolved cell property, or an operator combination of
// those built with Add, Sub, Mul and friends.
type Expression interface {
	fmt.Stringer

	// Type returns the inferred type, TypeUnknown until inference fixes
	// it.
	Type() Type

	// ContainedVariables lists the variables the expression reads, in
	// declaration order.
	ContainedVariables() []*Variable

	// EqualSyntax reports whether two expressions are structurally the
	// same program text.
	EqualSyntax(other Expression) bool

	typeInfo() *TypeInfo
	buildErr() error
	isExpression()
}

// toExpression lifts Go literals into the expression model. Commands and
// operators accept any and route through here, mirroring how programs mix
// numbers and variables freely.
func toExpression(v any) Expression {
	switch x := v.(type) {
	case Expression:
		return x
	case int:
		return newIntConstant(int64(x))
	case int32:
		return newIntConstant(int64(x))
	case int64:
		return newIntConstant(x)
	case float64:
		return newFloatConstant(x)
	default:
		c := newIntConstant(0)
		c.err = newError(CodeInvalidLiteral, "unsupported literal %v of type %T in expression", v, v)
		return c
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func exprErr(e Expression) error {
	if e == nil {
		return nil
	}
	return e.buildErr()
}

// variableSet collects variables preserving first-seen order.
type variableSet struct {
	vars []*Variable
	seen map[int]struct{}
}

func (s *variableSet) add(v *Variable) {
	if s.seen == nil {
		s.seen = make(map[int]struct{})
	}
	if _, ok := s.seen[v.id]; ok {
		return
	}
	s.seen[v.id] = struct{}{}
	s.vars = append(s.vars, v)
}

func (s *variableSet) addAll(vs []*Variable) {
	for _, v := range vs {
		s.add(v)
	}
}

// Constant is a literal value. An integer literal can become Normal, Time
// or Frequency depending on use; a float literal carries a physical unit
// and can never be Normal. Only 0 and 1 can be State.
type Constant struct {
	info    *TypeInfo
	given   int64
	givenF  float64
	isFloat bool
	err     error
}

func newIntConstant(v int64) *Constant {
	c := &Constant{given: v}
	c.info = newTypeInfo(c)
	if v != 0 && v != 1 {
		c.err = c.info.forbid(TypeState, "constant values other than 0 and 1 can not be a qubit state")
	}
	return c
}

func newFloatConstant(v float64) *Constant {
	c := &Constant{givenF: v, isFloat: true}
	c.info = newTypeInfo(c)
	c.err = c.info.forbid(TypeNormal, "constant float values can not have type Normal")
	if c.err == nil && v != 0 && v != 1 {
		c.err = c.info.forbid(TypeState, "constant values other than 0 and 1 can not be a qubit state")
	}
	return c
}

func newTypedConstant(c *Constant, t Type) *Constant {
	if err := c.info.setType(t, useValueDefinition); err != nil && c.err == nil {
		c.err = err
	}
	return c
}

// NormalValue returns an integer constant fixed to type Normal.
func NormalValue(v int) *Constant {
	return newTypedConstant(newIntConstant(int64(v)), TypeNormal)
}

// TimeValue returns a duration constant, in seconds.
func TimeValue(seconds float64) *Constant {
	return newTypedConstant(newFloatConstant(seconds), TypeTime)
}

// FrequencyValue returns a frequency constant, in hertz.
func FrequencyValue(hz float64) *Constant {
	return newTypedConstant(newFloatConstant(hz), TypeFrequency)
}

// PhaseValue returns a phase constant, in radians.
func PhaseValue(radians float64) *Constant {
	return newTypedConstant(newFloatConstant(radians), TypePhase)
}

// AmplitudeValue returns an amplitude constant relative to full scale,
// inside [0, 1].
func AmplitudeValue(a float64) *Constant {
	return newTypedConstant(newFloatConstant(a), TypeAmplitude)
}

// StateValue returns a qubit state constant, 0 or 1.
func StateValue(v int) *Constant {
	return newTypedConstant(newIntConstant(int64(v)), TypeState)
}

func (c *Constant) isExpression()       {}
func (c *Constant) typeInfo() *TypeInfo { return c.info }
func (c *Constant) buildErr() error     { return c.err }

func (c *Constant) Type() Type { return c.info.typ }

func (c *Constant) ContainedVariables() []*Variable { return nil }

// GivenValue returns the literal as written, before unit conversion.
func (c *Constant) GivenValue() float64 {
	if c.isFloat {
		return c.givenF
	}
	return float64(c.given)
}

// Value returns the raw machine encoding of the constant under its
// inferred type: cycles for Time (rounded up so a wait never undershoots),
// an NCO phase increment for Frequency, raw phase and amplitude words for
// Phase and Amplitude, and the literal itself for Normal and State.
// Cycle counts past the signed 32-bit range wrap; the register file is
// 32 bits wide and waits interpret it unsigned.
func (c *Constant) Value() int32 {
	switch c.info.typ {
	case TypeTime:
		return int32(uint32(c.Cycles()))
	case TypeFrequency:
		return units.FrequencyToIncrement(c.GivenValue())
	case TypePhase:
		return units.PhaseToRaw(c.GivenValue())
	case TypeAmplitude:
		return int32(math.Round(c.GivenValue() * units.AmplitudeMaxValue))
	default:
		return int32(c.given)
	}
}

// Cycles returns the full-range cycle count of a Time constant, rounded
// up.
func (c *Constant) Cycles() int64 {
	return units.TimeToCycles(c.GivenValue(), units.RoundCeil)
}

// FloatValue returns the unit-carrying value as written. Only meaningful
// for Time, Frequency, Phase and Amplitude constants.
func (c *Constant) FloatValue() float64 {
	return c.GivenValue()
}

func (c *Constant) EqualSyntax(other Expression) bool {
	o, ok := other.(*Constant)
	if !ok {
		return false
	}
	if c.info.typ != TypeUnknown && o.info.typ != TypeUnknown {
		return c.Value() == o.Value()
	}
	return c.isFloat == o.isFloat && c.GivenValue() == o.GivenValue()
}

func (c *Constant) String() string {
	if c.isFloat {
		return fmt.Sprintf("%g", c.givenF)
	}
	return fmt.Sprintf("%d", c.given)
}

// Variable is a runtime value declared on a job and lowered to one
// hardware register per cell that touches it. Identity is the job-assigned
// id; two variables are never structurally equal unless they are the same
// variable.
type Variable struct {
	info *TypeInfo
	id   int
	name string

	cells []*Cell
}

func newVariable(id int, name string, t Type) (*Variable, error) {
	v := &Variable{id: id, name: name}
	v.info = newTypeInfo(v)
	if t != TypeUnknown {
		if err := v.info.setType(t, useVariableDefinition); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (v *Variable) isExpression()       {}
func (v *Variable) typeInfo() *TypeInfo { return v.info }
func (v *Variable) buildErr() error     { return nil }

func (v *Variable) Type() Type { return v.info.typ }

// ID returns the job-unique identity of the variable.
func (v *Variable) ID() int { return v.id }

// Name returns the user-supplied name, empty when none was given.
func (v *Variable) Name() string { return v.name }

func (v *Variable) displayName() string {
	if v.name != "" {
		return v.name
	}
	return fmt.Sprintf("%d", v.id)
}

func (v *Variable) ContainedVariables() []*Variable { return []*Variable{v} }

// RelevantCells lists the cells whose command streams read or write the
// variable. Each gets its own hardware register for it.
func (v *Variable) RelevantCells() []*Cell { return v.cells }

func (v *Variable) addRelevantCell(c *Cell) {
	for _, have := range v.cells {
		if have == c {
			return
		}
	}
	v.cells = append(v.cells, c)
}

func (v *Variable) EqualSyntax(other Expression) bool {
	o, ok := other.(*Variable)
	return ok && o.id == v.id
}

func (v *Variable) String() string {
	return fmt.Sprintf("Variable(%s)", v.displayName())
}

// propertyOpKind enumerates the constant arithmetic foldable into a cell
// property.
type propertyOpKind uint8

const (
	propAdd propertyOpKind = iota
	propSub
	propSubFrom
	propMul
	propDiv
	propDivInto
)

// propertyOp is one folded step; operand keeps the unit of the property's
// sample entry.
type propertyOp struct {
	kind    propertyOpKind
	operand float64
}

// CellProperty defers to a named entry of the cell's sample data, resolved
// only when the job is built against a sample. Adding, subtracting,
// multiplying or dividing by a constant folds into the property and is
// replayed once the underlying value arrives; folding never mutates the
// receiver.
type CellProperty struct {
	info  *TypeInfo
	cell  *Cell
	name  string
	chain []propertyOp
	err   error
}

func newCellProperty(cell *Cell, name string) *CellProperty {
	p := &CellProperty{cell: cell, name: name}
	p.info = newTypeInfo(p)
	return p
}

func (p *CellProperty) isExpression()       {}
func (p *CellProperty) typeInfo() *TypeInfo { return p.info }
func (p *CellProperty) buildErr() error     { return p.err }

func (p *CellProperty) Type() Type { return p.info.typ }

// Cell returns the owning cell.
func (p *CellProperty) Cell() *Cell { return p.cell }

// Name returns the sample key the property reads.
func (p *CellProperty) Name() string { return p.name }

func (p *CellProperty) ContainedVariables() []*Variable { return nil }

func (p *CellProperty) extend(kind propertyOpKind, operand float64) *CellProperty {
	q := &CellProperty{cell: p.cell, name: p.name, err: p.err}
	q.chain = append(append([]propertyOp(nil), p.chain...), propertyOp{kind, operand})
	q.info = newTypeInfo(q)
	return q
}

func (p *CellProperty) foldAdd(c *Constant) *CellProperty {
	if c.GivenValue() == 0 {
		return p
	}
	return p.extend(propAdd, c.GivenValue())
}

func (p *CellProperty) foldSub(c *Constant) *CellProperty {
	if c.GivenValue() == 0 {
		return p
	}
	return p.extend(propSub, c.GivenValue())
}

func (p *CellProperty) foldSubFrom(c *Constant) *CellProperty {
	return p.extend(propSubFrom, c.GivenValue())
}

func (p *CellProperty) foldMul(c *Constant) *CellProperty {
	if c.GivenValue() == 1 {
		return p
	}
	return p.extend(propMul, c.GivenValue())
}

func (p *CellProperty) foldDiv(c *Constant) *CellProperty {
	if c.GivenValue() == 1 {
		return p
	}
	return p.extend(propDiv, c.GivenValue())
}

func (p *CellProperty) foldDivInto(c *Constant) *CellProperty {
	return p.extend(propDivInto, c.GivenValue())
}

func (p *CellProperty) apply(base float64) float64 {
	v := base
	for _, op := range p.chain {
		switch op.kind {
		case propAdd:
			v += op.operand
		case propSub:
			v -= op.operand
		case propSubFrom:
			v = op.operand - v
		case propMul:
			v *= op.operand
		case propDiv:
			v /= op.operand
		case propDivInto:
			v = op.operand / v
		}
	}
	return v
}

// chainString renders the folded arithmetic with x standing for the sample
// value, e.g. "(x) + 2.4e-08". Chains compare by this rendering.
func (p *CellProperty) chainString() string {
	s := "x"
	wrap := func() string {
		if s == "x" {
			return s
		}
		return "(" + s + ")"
	}
	for _, op := range p.chain {
		v := fmt.Sprintf("%g", op.operand)
		switch op.kind {
		case propAdd:
			s = wrap() + " + " + v
		case propSub:
			s = wrap() + " - " + v
		case propSubFrom:
			s = v + " - " + wrap()
		case propMul:
			s = v + " * " + wrap()
		case propDiv:
			s = wrap() + " / " + v
		case propDivInto:
			s = v + " / " + wrap()
		}
	}
	return s
}

// Resolve applies the folded arithmetic to the cell's sample value,
// failing while the sample has no entry for the property.
func (p *CellProperty) Resolve() (float64, error) {
	base, ok := p.cell.property(p.name)
	if !ok {
		err := newError(CodeUnresolvedProperties, "property %q of %s has no value", p.name, p.cell)
		err.Cell = p.cell.Name()
		return 0, err
	}
	return p.apply(base), nil
}

// Resolvable reports whether the cell sample already carries a value for
// the property.
func (p *CellProperty) Resolvable() bool {
	_, ok := p.cell.property(p.name)
	return ok
}

// Value resolves the property and converts it to its raw machine encoding.
// Time values round to the nearest cycle here: properties describe
// calibrated hardware settings, not program-ordered waits.
func (p *CellProperty) Value() (int32, error) {
	v, err := p.Resolve()
	if err != nil {
		return 0, err
	}
	switch p.info.typ {
	case TypeTime:
		return int32(uint32(units.TimeToCycles(v, units.RoundNearest))), nil
	case TypeFrequency:
		return units.FrequencyToIncrement(v), nil
	case TypePhase:
		return units.PhaseToRaw(v), nil
	case TypeAmplitude:
		return int32(math.Round(v * units.AmplitudeMaxValue)), nil
	case TypeNormal, TypeState:
		return int32(math.Round(v)), nil
	}
	typeErr := newError(CodeTypeUnresolved, "property %q of %s is used before its type could be inferred", p.name, p.cell)
	typeErr.Cell = p.cell.Name()
	return 0, typeErr
}

func (p *CellProperty) EqualSyntax(other Expression) bool {
	o, ok := other.(*CellProperty)
	if !ok {
		return false
	}
	return p.cell == o.cell && p.name == o.name && p.chainString() == o.chainString()
}

func (p *CellProperty) String() string {
	base := fmt.Sprintf("%s[%q]", p.cell, p.name)
	if len(p.chain) == 0 {
		return base
	}
	return strings.Replace(p.chainString(), "x", base, 1)
}

// Calc is one operator application. Right is nil for the unary not.
type Calc struct {
	info  *TypeInfo
	left  Expression
	op    Op
	right Expression
	err   error
}

func newCalc(left Expression, op Op, right Expression) *Calc {
	c := &Calc{left: left, op: op, right: right}
	c.info = newTypeInfo(c)
	c.err = firstErr(exprErr(left), exprErr(right))
	if err := addCalcConstraints(op, left, right, c); err != nil && c.err == nil {
		c.err = err
	}
	return c
}

func (c *Calc) isExpression()       {}
func (c *Calc) typeInfo() *TypeInfo { return c.info }
func (c *Calc) buildErr() error     { return c.err }

func (c *Calc) Type() Type { return c.info.typ }

// Left returns the first operand.
func (c *Calc) Left() Expression { return c.left }

// Op returns the applied operation.
func (c *Calc) Op() Op { return c.op }

// Right returns the second operand, nil for unary not.
func (c *Calc) Right() Expression { return c.right }

func (c *Calc) ContainedVariables() []*Variable {
	var s variableSet
	s.addAll(c.left.ContainedVariables())
	if c.right != nil {
		s.addAll(c.right.ContainedVariables())
	}
	return s.vars
}

func (c *Calc) EqualSyntax(other Expression) bool {
	o, ok := other.(*Calc)
	if !ok || o.op != c.op {
		return false
	}
	if !c.left.EqualSyntax(o.left) {
		return false
	}
	if c.right == nil || o.right == nil {
		return c.right == nil && o.right == nil
	}
	return c.right.EqualSyntax(o.right)
}

func (c *Calc) String() string {
	if c.op == OpNot {
		return fmt.Sprintf("(~%s)", c.left)
	}
	return fmt.Sprintf("(%s %s %s)", c.left, c.op, c.right)
}

// Condition compares two expressions for If and loop heads.
type Condition struct {
	left  Expression
	op    Cond
	right Expression
	err   error
}

func newCondition(left Expression, op Cond, right Expression) *Condition {
	c := &Condition{left: left, op: op, right: right}
	c.err = firstErr(exprErr(left), exprErr(right))
	if err := addConditionConstraints(op, left, right); err != nil && c.err == nil {
		c.err = err
	}
	return c
}

// conditionFrom accepts either a ready Condition or a bare expression,
// which reads as "greater than zero".
func conditionFrom(v any) *Condition {
	if c, ok := v.(*Condition); ok {
		return c
	}
	return newCondition(toExpression(v), CondGT, newIntConstant(0))
}

// Left returns the first compared expression.
func (c *Condition) Left() Expression { return c.left }

// Op returns the comparison.
func (c *Condition) Op() Cond { return c.op }

// Right returns the second compared expression.
func (c *Condition) Right() Expression { return c.right }

func (c *Condition) buildErr() error { return c.err }

// Invert returns the condition that holds exactly when c does not.
func (c *Condition) Invert() *Condition {
	return &Condition{left: c.left, op: c.op.Invert(), right: c.right, err: c.err}
}

func (c *Condition) ContainedVariables() []*Variable {
	var s variableSet
	s.addAll(c.left.ContainedVariables())
	s.addAll(c.right.ContainedVariables())
	return s.vars
}

func (c *Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.left, c.op, c.right)
}

// propertyConst matches the operand pair of a binary operator against the
// foldable property/constant shape. reversed is true when the constant is
// the left operand.
func propertyConst(l, r Expression) (p *CellProperty, c *Constant, reversed, ok bool) {
	if lp, isP := l.(*CellProperty); isP {
		if rc, isC := r.(*Constant); isC {
			return lp, rc, false, true
		}
	}
	if rp, isP := r.(*CellProperty); isP {
		if lc, isC := l.(*Constant); isC {
			return rp, lc, true, true
		}
	}
	return nil, nil, false, false
}

// Add returns a + b. Adding a constant to a cell property folds into the
// property instead of producing a calculation.
func Add(a, b any) Expression {
	l, r := toExpression(a), toExpression(b)
	if p, c, _, ok := propertyConst(l, r); ok {
		return p.foldAdd(c)
	}
	return newCalc(l, OpPlus, r)
}

// Sub returns a - b, folding constants into cell properties.
func Sub(a, b any) Expression {
	l, r := toExpression(a), toExpression(b)
	if p, c, reversed, ok := propertyConst(l, r); ok {
		if reversed {
			return p.foldSubFrom(c)
		}
		return p.foldSub(c)
	}
	return newCalc(l, OpMinus, r)
}

// Mul returns a * b, folding constants into cell properties.
func Mul(a, b any) Expression {
	l, r := toExpression(a), toExpression(b)
	if p, c, _, ok := propertyConst(l, r); ok {
		return p.foldMul(c)
	}
	return newCalc(l, OpMult, r)
}

// Div returns a / b. The sequencer has no divide instruction, so division
// exists only between a cell property and a constant where it folds into
// the property.
func Div(a, b any) Expression {
	l, r := toExpression(a), toExpression(b)
	if p, c, reversed, ok := propertyConst(l, r); ok {
		if reversed {
			return p.foldDivInto(c)
		}
		return p.foldDiv(c)
	}
	e := newIntConstant(0)
	e.err = newError(CodeUnsupportedOperation, "division needs a cell property and a constant, got %s / %s", l, r)
	return e
}

// Shl returns a shifted left by b bits.
func Shl(a, b any) Expression {
	return newCalc(toExpression(a), OpLsh, toExpression(b))
}

// Shr returns a shifted right by b bits. The shift is arithmetic.
func Shr(a, b any) Expression {
	return newCalc(toExpression(a), OpRsh, toExpression(b))
}

// BitAnd returns a & b.
func BitAnd(a, b any) Expression {
	return newCalc(toExpression(a), OpAnd, toExpression(b))
}

// BitOr returns a | b.
func BitOr(a, b any) Expression {
	return newCalc(toExpression(a), OpOr, toExpression(b))
}

// BitXor returns a ^ b.
func BitXor(a, b any) Expression {
	return newCalc(toExpression(a), OpXor, toExpression(b))
}

// Not returns the bitwise complement of a.
func Not(a any) Expression {
	return newCalc(toExpression(a), OpNot, nil)
}

// Eq returns the condition a == b.
func Eq(a, b any) *Condition { return newCondition(toExpression(a), CondEQ, toExpression(b)) }

// Ne returns the condition a != b.
func Ne(a, b any) *Condition { return newCondition(toExpression(a), CondNE, toExpression(b)) }

// Gt returns the condition a > b.
func Gt(a, b any) *Condition { return newCondition(toExpression(a), CondGT, toExpression(b)) }

// Ge returns the condition a >= b.
func Ge(a, b any) *Condition { return newCondition(toExpression(a), CondGE, toExpression(b)) }

// Lt returns the condition a < b.
func Lt(a, b any) *Condition { return newCondition(toExpression(a), CondLT, toExpression(b)) }

// Le returns the condition a <= b.
func Le(a, b any) *Condition { return newCondition(toExpression(a), CondLE, toExpression(b)) }
