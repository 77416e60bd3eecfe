package isa

import "fmt"

// Op is an arithmetic or logical operation lowered onto the ALU. Right
// shifts are arithmetic on this hardware, for immediate and register
// operands alike.
type Op int

const (
	OpPlus Op = iota
	OpMinus
	OpMult
	OpLsh
	OpRsh
	OpAnd
	OpOr
	OpXor
	OpNot
)

func (o Op) String() string {
	switch o {
	case OpPlus:
		return "+"
	case OpMinus:
		return "-"
	case OpMult:
		return "*"
	case OpLsh:
		return "<<"
	case OpRsh:
		return ">>"
	case OpAnd:
		return "&"
	case OpOr:
		return "|"
	case OpXor:
		return "^"
	case OpNot:
		return "~"
	}
	return "?"
}

// Commutative reports whether operand order is irrelevant for o.
func (o Op) Commutative() bool {
	switch o {
	case OpPlus, OpMult, OpAnd, OpOr, OpXor:
		return true
	}
	return false
}

// regImmFunct3 maps an operation to the funct3 of its immediate form.
// Subtraction and multiplication have no immediate form; callers lower them
// through negated addition or a register operand.
func regImmFunct3(o Op) uint32 {
	switch o {
	case OpPlus:
		return regImmFunct3Add
	case OpLsh:
		return regImmFunct3Sll
	case OpRsh:
		return regImmFunct3Sr
	case OpXor:
		return regImmFunct3Xor
	case OpOr:
		return regImmFunct3Or
	case OpAnd:
		return regImmFunct3And
	}
	panic(fmt.Sprintf("isa: operation %v has no immediate form", o))
}

func regImmFunct7(o Op) uint32 {
	if o == OpRsh {
		return funct7Sra
	}
	return funct7Srl
}

func regRegFunct3(o Op) uint32 {
	switch o {
	case OpPlus, OpMinus, OpMult:
		return regRegFunct3AddSubMul
	case OpLsh:
		return regRegFunct3SllMulh
	case OpXor:
		return regRegFunct3Xor
	case OpRsh:
		return regRegFunct3SrlSra
	case OpOr:
		return regRegFunct3Or
	case OpAnd:
		return regRegFunct3And
	}
	panic(fmt.Sprintf("isa: operation %v has no register form", o))
}

func regRegFunct7(o Op) uint32 {
	switch o {
	case OpMinus:
		return funct7Sub
	case OpMult:
		return funct7Mul
	case OpRsh:
		return funct7Sra
	}
	return 0
}

// Condition is a comparison in branch instructions and If/loop heads.
type Condition int

const (
	CondEQ Condition = iota
	CondNE
	CondGT
	CondGE
	CondLT
	CondLE
)

func (c Condition) String() string {
	switch c {
	case CondEQ:
		return "=="
	case CondNE:
		return "!="
	case CondGT:
		return ">"
	case CondGE:
		return ">="
	case CondLT:
		return "<"
	case CondLE:
		return "<="
	}
	return "?"
}

// Invert returns the condition that holds exactly when c does not.
func (c Condition) Invert() Condition {
	switch c {
	case CondEQ:
		return CondNE
	case CondNE:
		return CondEQ
	case CondGT:
		return CondLE
	case CondGE:
		return CondLT
	case CondLT:
		return CondGE
	case CondLE:
		return CondGT
	}
	return c
}

// branchOperands folds a condition into the branch funct3 set. The hardware
// has no BGT/BLE, so those conditions swap their operands.
func branchOperands(c Condition, reg1, reg2 int) (funct3 uint32, r1, r2 int) {
	switch c {
	case CondEQ:
		return branchFunct3Beq, reg1, reg2
	case CondNE:
		return branchFunct3Bne, reg1, reg2
	case CondLT:
		return branchFunct3Blt, reg1, reg2
	case CondGE:
		return branchFunct3Bge, reg1, reg2
	case CondGT:
		return branchFunct3Blt, reg2, reg1
	case CondLE:
		return branchFunct3Bge, reg2, reg1
	}
	panic(fmt.Sprintf("isa: unknown condition %d", int(c)))
}
