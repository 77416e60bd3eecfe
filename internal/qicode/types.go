package qicode

import (
	"fmt"
	"strings"
)

// Type classifies the physical dimension of an expression. The hardware
// works on raw 32-bit values; the type decides how a number converts to its
// raw form and which operations are meaningful.
type Type uint8

const (
	TypeUnknown Type = iota

	// TypeTime is a duration in seconds, raw form clock cycles.
	TypeTime

	// TypeState is a measured qubit state, raw form 0 or 1.
	TypeState

	// TypeNormal is a dimensionless integer, raw form identity.
	TypeNormal

	// TypeFrequency is a frequency in Hz, raw form an NCO phase increment.
	TypeFrequency

	// TypePhase is a phase in radians, raw form an NCO phase counter value.
	TypePhase

	// TypeAmplitude is a scale factor in [0, 1], raw form 16 bits full
	// scale.
	TypeAmplitude
)

func (t Type) String() string {
	switch t {
	case TypeTime:
		return "Time"
	case TypeState:
		return "State"
	case TypeNormal:
		return "Normal"
	case TypeFrequency:
		return "Frequency"
	case TypePhase:
		return "Phase"
	case TypeAmplitude:
		return "Amplitude"
	}
	return "Unknown"
}

// unitTypes are the types whose given value carries a physical unit and is
// converted to a raw machine value. Normal joins them wherever a shared
// operand type is permitted.
var unitTypes = [...]Type{TypeTime, TypeFrequency, TypePhase, TypeAmplitude}

// sharedTypes are the legal common types for arithmetic whose operands and
// result must agree.
var sharedTypes = [...]Type{TypeNormal, TypeTime, TypeFrequency, TypePhase, TypeAmplitude}

// TypeFact records why an expression has its type. Conflict errors print
// both facts so the user sees which two uses disagree.
type TypeFact interface {
	factMessage() string
}

// definingUse is a position that forces a type outright.
type definingUse int

const (
	useVariableDefinition definingUse = iota
	useValueDefinition
	useShiftOperand
	usePulseLength
	useRecordingSaveTo
	useWaitLength
	useRecordingOffset
	usePulseFrequency
	usePulsePhase
	usePulseAmplitude
)

func (u definingUse) factMessage() string {
	switch u {
	case useVariableDefinition, useValueDefinition:
		return "has been defined by the user as this type"
	case useShiftOperand:
		return "is used as right hand side of a shift expression"
	case usePulseLength:
		return "is used as length of a pulse"
	case useRecordingSaveTo:
		return "is used as save_to of a recording command"
	case useWaitLength:
		return "is used as length in a wait command"
	case useRecordingOffset:
		return "is used as a recording offset"
	case usePulseFrequency:
		return "is used as pulse frequency"
	case usePulsePhase:
		return "is used as pulse phase"
	case usePulseAmplitude:
		return "is used as pulse amplitude"
	}
	return "is used here"
}

// typeFallback marks a type assigned by the fallback pass after job
// construction, when no use pinned one down.
type typeFallback int

const (
	fallbackInt typeFallback = iota + 1
	fallbackFloat
)

func (f typeFallback) factMessage() string {
	if f == fallbackFloat {
		return "had no type inferred and fell back to Time"
	}
	return "had no type inferred and fell back to Normal"
}

// typePremise pairs an expression with a required type.
type typePremise struct {
	expr Expression
	typ  Type
}

// typeConstraint is an implication: when every premise expression holds its
// premise type, the conclusion expression must hold the conclusion type.
// All typing rules reduce to sets of these. A constraint registers on each
// premise expression and fires as soon as the last premise is satisfied.
type typeConstraint struct {
	premises   []typePremise
	conclusion typePremise

	// origin describes the construct that created the constraint, e.g.
	// "in a + calculation" or "in a ForRange".
	origin string
}

func (c *typeConstraint) satisfied() bool {
	for _, p := range c.premises {
		if p.expr.Type() != p.typ {
			return false
		}
	}
	return true
}

func (c *typeConstraint) tryApply() error {
	if !c.satisfied() {
		return nil
	}
	return c.conclusion.expr.typeInfo().setType(c.conclusion.typ, c)
}

func (c *typeConstraint) factMessage() string {
	var b strings.Builder
	fmt.Fprintf(&b, "is used %s of type %s", c.origin, c.conclusion.typ)
	for i, p := range c.premises {
		if i == 0 {
			b.WriteString(" (because ")
		} else {
			b.WriteString(" and ")
		}
		fmt.Fprintf(&b, "%s %s", p.expr, p.expr.typeInfo().reasonMessage())
	}
	if len(c.premises) > 0 {
		b.WriteString(")")
	}
	return b.String()
}

// TypeInfo tracks the inferred type of one expression together with its
// provenance, the pending implications registered on it, and the types it
// may never take.
type TypeInfo struct {
	expr        Expression
	typ         Type
	reason      TypeFact
	constraints []*typeConstraint
	illegal     map[Type]string
}

func newTypeInfo(expr Expression) *TypeInfo {
	return &TypeInfo{expr: expr}
}

// Type returns the inferred type, TypeUnknown before inference fixes it.
func (ti *TypeInfo) Type() Type {
	return ti.typ
}

func (ti *TypeInfo) reasonMessage() string {
	if ti.reason == nil {
		return "has no recorded type reason"
	}
	return ti.reason.factMessage()
}

// addConstraint registers an implication on this expression. If the
// expression is already typed the implication is checked immediately.
func (ti *TypeInfo) addConstraint(c *typeConstraint) error {
	if ti.typ == TypeUnknown {
		ti.constraints = append(ti.constraints, c)
		return nil
	}
	return c.tryApply()
}

// setType fixes the type of the expression. The first call records the
// type and fires every pending implication whose premises now hold; a later
// call with a different type is a conflict naming both uses.
func (ti *TypeInfo) setType(t Type, reason TypeFact) error {
	if why, ok := ti.illegal[t]; ok {
		return ti.illegalTypeError(t, reason, why)
	}
	if ti.typ == TypeUnknown {
		ti.typ = t
		ti.reason = reason
		for _, c := range ti.constraints {
			if err := c.tryApply(); err != nil {
				return err
			}
		}
		return nil
	}
	if ti.typ != t {
		return newError(CodeTypeConflict,
			"%s was of type %s (because it %s) but is also used as type %s (because it %s)",
			ti.expr, ti.typ, ti.reasonMessage(), t, reason.factMessage())
	}
	return nil
}

// forbid marks a type this expression may never take. Forbidding the type
// it already has is an immediate error.
func (ti *TypeInfo) forbid(t Type, why string) error {
	if ti.typ == t {
		return ti.illegalTypeError(t, ti.reason, why)
	}
	if ti.illegal == nil {
		ti.illegal = make(map[Type]string)
	}
	ti.illegal[t] = why
	return nil
}

func (ti *TypeInfo) illegalTypeError(t Type, reason TypeFact, why string) error {
	msg := "and no use requires it"
	if reason != nil {
		msg = fmt.Sprintf("but it %s", reason.factMessage())
	}
	return newError(CodeTypeIllegal, "%s can not have type %s (%s) %s", ti.expr, t, why, msg)
}

// equalConstraints requires that whenever any of the expressions has type
// t, all of them do. The implications form a cycle so one typed member
// pulls in the rest.
func equalConstraints(t Type, origin string, exprs ...Expression) error {
	prev := exprs[len(exprs)-1]
	for _, next := range exprs {
		c := &typeConstraint{
			premises:   []typePremise{{prev, t}},
			conclusion: typePremise{next, t},
			origin:     origin,
		}
		if err := prev.typeInfo().addConstraint(c); err != nil {
			return err
		}
		prev = next
	}
	return nil
}

// impliesConstraint registers premises => conclusion on every premise
// expression.
func impliesConstraint(premises []typePremise, conclusion typePremise, origin string) error {
	c := &typeConstraint{premises: premises, conclusion: conclusion, origin: origin}
	for _, p := range premises {
		if err := p.expr.typeInfo().addConstraint(c); err != nil {
			return err
		}
	}
	return nil
}

// addCalcConstraints wires the typing rules of one operator application.
// Addition, subtraction and the bitwise operators need operands and result
// to share a type; multiplication scales a unit-typed operand by a Normal
// one; shifts take a Normal shift amount.
func addCalcConstraints(op Op, left, right, result Expression) error {
	origin := fmt.Sprintf("in a %s calculation", op)

	if op == OpNot {
		if err := equalConstraints(TypeNormal, origin, left, result); err != nil {
			return err
		}
		return equalConstraints(TypeState, origin, left, result)
	}

	switch op {
	case OpPlus, OpMinus, OpAnd, OpOr, OpXor:
		for _, t := range sharedTypes {
			if err := equalConstraints(t, origin, right, left, result); err != nil {
				return err
			}
		}
		if op == OpAnd || op == OpOr || op == OpXor {
			if err := equalConstraints(TypeState, origin, right, left, result); err != nil {
				return err
			}
		}

	case OpMult:
		for _, t := range unitTypes {
			if err := scalarConstraints(t, left, right, result, origin); err != nil {
				return err
			}
		}
		err := impliesConstraint(
			[]typePremise{{left, TypeNormal}, {right, TypeNormal}},
			typePremise{result, TypeNormal}, origin)
		if err != nil {
			return err
		}

	case OpLsh, OpRsh:
		if err := right.typeInfo().setType(TypeNormal, useShiftOperand); err != nil {
			return err
		}
		for _, t := range sharedTypes {
			if err := equalConstraints(t, origin, left, result); err != nil {
				return err
			}
		}
	}
	return nil
}

// scalarConstraints wires multiplication for one unit type t: a t-typed
// operand forces the other operand Normal and the result t, and the same
// information propagates backwards from the result.
func scalarConstraints(t Type, left, right, result Expression, origin string) error {
	rules := []struct {
		premises   []typePremise
		conclusion typePremise
	}{
		{[]typePremise{{left, t}}, typePremise{right, TypeNormal}},
		{[]typePremise{{left, t}}, typePremise{result, t}},
		{[]typePremise{{right, t}}, typePremise{left, TypeNormal}},
		{[]typePremise{{right, t}}, typePremise{result, t}},
		{[]typePremise{{result, t}, {left, TypeNormal}}, typePremise{right, t}},
		{[]typePremise{{result, t}, {right, TypeNormal}}, typePremise{left, t}},
		{[]typePremise{{result, TypeNormal}}, typePremise{left, TypeNormal}},
		{[]typePremise{{result, TypeNormal}}, typePremise{right, TypeNormal}},
	}
	for _, r := range rules {
		if err := impliesConstraint(r.premises, r.conclusion, origin); err != nil {
			return err
		}
	}
	return nil
}

// addConditionConstraints wires the typing rules of a comparison. Operands
// must agree on Normal or Time; equality and inequality additionally work
// on State.
func addConditionConstraints(op Cond, left, right Expression) error {
	origin := fmt.Sprintf("in a %s comparison", op)

	if err := equalConstraints(TypeNormal, origin, left, right); err != nil {
		return err
	}
	if err := equalConstraints(TypeTime, origin, left, right); err != nil {
		return err
	}
	if op == CondEQ || op == CondNE {
		return equalConstraints(TypeState, origin, left, right)
	}
	return nil
}
