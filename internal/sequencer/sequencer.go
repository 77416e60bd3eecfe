// Package sequencer lowers sealed job programs into binary machine code for
// the digital unit sequencers.
//
// A Sequencer shadows one cell's processor: its register pool, the cycles
// consumed since the last synchronisation point and the pulse modules still
// playing. The builder drives one Sequencer per cell through the command
// tree and keeps the cells in lockstep, padding with plain waits where the
// cycle counts are deterministic and falling back to hardware
// synchronisation where they are not.
package sequencer

import (
	"fmt"

	"github.com/quantuminterface/qicode/internal/isa"
	"github.com/quantuminterface/qicode/internal/qicode"
	"github.com/quantuminterface/qicode/internal/units"
)

// Fixed instruction latencies of the sequencer pipeline.
const (
	multiplicationCycles = 6
	jumpCycles           = 2
	loadStoreCycles      = 8
)

// Sequencer generates the instruction stream of a single cell.
type Sequencer struct {
	cellName  string
	cellIndex int

	err    error
	instrs []isa.Instruction
	cycles progCycles
	trig   triggerState
	diags  []qicode.Diagnostic

	free []*register
	reg0 *register
	vars map[*qicode.Variable]*register

	loops     []*ForRangeEntry
	loopStack []*ForRangeEntry
}

// New returns an empty Sequencer for the named cell. cellIndex is the
// digital unit the generated program runs on.
func New(cellName string, cellIndex int) *Sequencer {
	return &Sequencer{
		cellName:  cellName,
		cellIndex: cellIndex,
		cycles:    newProgCycles(),
		free:      newRegisterPool(),
		reg0:      &register{known: true, valid: true},
		vars:      make(map[*qicode.Variable]*register),
	}
}

// Err returns the first lowering error. Once set, the Sequencer ignores all
// further operations.
func (s *Sequencer) Err() error { return s.err }

// Instructions returns the generated stream.
func (s *Sequencer) Instructions() []isa.Instruction { return s.instrs }

// Size returns the number of generated instructions.
func (s *Sequencer) Size() int { return len(s.instrs) }

// Diagnostics returns the warnings collected while lowering.
func (s *Sequencer) Diagnostics() []qicode.Diagnostic { return s.diags }

func (s *Sequencer) fail(err error) {
	if s.err == nil && err != nil {
		s.err = err
	}
}

func (s *Sequencer) failf(code qicode.ErrorCode, format string, args ...any) {
	if s.err == nil {
		s.err = &qicode.Error{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
			Cell:    s.cellName,
		}
	}
}

func (s *Sequencer) warnf(code qicode.ErrorCode, format string, args ...any) {
	s.diags = append(s.diags, qicode.Diagnostic{
		Severity: qicode.SeverityWarning,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	})
}

// add appends an instruction costing one cycle.
func (s *Sequencer) add(in isa.Instruction) { s.addTimed(in, 1, true) }

// addTimed appends an instruction, choking active pulses first. Every
// instruction occupies the pipeline for at least one cycle.
func (s *Sequencer) addTimed(in isa.Instruction, cycles int64, valid bool) {
	if s.err != nil {
		return
	}
	if s.trig.pulseActive() {
		if _, ok := in.(*isa.Trigger); !ok {
			s.chokePulse()
		}
	}
	if cycles < 1 {
		cycles = 1
	}
	s.cycles.add(cycles, valid)
	s.instrs = append(s.instrs, in)
}

// upperImmediate compensates for the sign extension the hardware applies to
// the lower 12 bits, so that LUI plus ADDI reproduces val exactly.
func upperImmediate(val int32) uint32 {
	u := uint32(val)
	lower := u & 0xFFF
	if u&0x800 != 0 {
		lower |= 0xFFFFF000
	}
	return (u - lower) & 0xFFFFF000
}

// immediateToRegister materialises a constant. Zero without an explicit
// destination resolves to the hardwired zero register, values outside the
// lower immediate range need a LUI ADDI pair.
func (s *Sequencer) immediateToRegister(val int32, dst *register) *register {
	if s.err != nil {
		return s.reg0
	}
	if val == 0 && dst == nil {
		return s.reg0
	}
	if dst == nil {
		dst = s.requestRegister()
	}
	if isa.FitsLowerImmediate(int64(val)) {
		s.add(isa.NewRegImm(isa.OpPlus, dst.addr, 0, val))
	} else {
		s.add(isa.NewLoadUpperImm(dst.addr, upperImmediate(val)))
		s.add(isa.NewRegImm(isa.OpPlus, dst.addr, dst.addr, val))
	}
	s.updateValue(dst, immOp(val), isa.OpPlus, immOp(0))
	return dst
}

// moveRegister copies src into dst via an add with zero.
func (s *Sequencer) moveRegister(dst, src *register) {
	s.addCalculation(regOp(src), isa.OpPlus, immOp(0), dst)
}

// addCalculation emits the instructions for one ALU operation and keeps the
// destination's shadow value current. With dst nil a fresh register is
// allocated and returned.
func (s *Sequencer) addCalculation(a operand, op isa.Op, b operand, dst *register) *register {
	if s.err != nil {
		return s.reg0
	}
	if a.reg == nil && b.reg == nil {
		s.failf(qicode.CodeUnsupportedOperation, "calculation without register operands")
		return s.reg0
	}
	if dst == nil {
		dst = s.requestRegister()
	}
	s.alu(dst, a, op, b)
	s.updateValue(dst, a, op, b)
	return dst
}

func (s *Sequencer) alu(dst *register, a operand, op isa.Op, b operand) {
	switch op {
	case isa.OpPlus, isa.OpAnd, isa.OpOr, isa.OpXor:
		s.aluCommutative(op, dst, a, b)
	case isa.OpMinus:
		s.aluSubtract(dst, a, b)
	case isa.OpMult:
		s.aluMultiply(dst, a, b)
	case isa.OpLsh, isa.OpRsh:
		s.aluOrdered(op, dst, a, b)
	case isa.OpNot:
		s.aluCommutative(isa.OpXor, dst, a, immOp(-1))
	}
}

// aluCommutative swaps the register operand to the front and uses the
// immediate instruction form when the literal fits.
func (s *Sequencer) aluCommutative(op isa.Op, dst *register, a, b operand) {
	if a.reg == nil {
		a, b = b, a
	}
	switch {
	case b.reg != nil:
		s.add(isa.NewRegReg(op, dst.addr, a.reg.addr, b.reg.addr))
	case isa.FitsLowerImmediate(int64(b.imm)):
		s.add(isa.NewRegImm(op, dst.addr, a.reg.addr, b.imm))
	default:
		s.aluViaRegister(op, dst, a.reg, b.imm, 1)
	}
}

// aluSubtract rewrites register minus literal as an add of the negated
// literal, the hardware has no subtract immediate form.
func (s *Sequencer) aluSubtract(dst *register, a, b operand) {
	if a.reg != nil && b.reg == nil {
		if isa.FitsLowerImmediate(int64(-b.imm)) {
			s.add(isa.NewRegImm(isa.OpPlus, dst.addr, a.reg.addr, -b.imm))
		} else {
			s.aluViaRegister(isa.OpMinus, dst, a.reg, b.imm, 1)
		}
		return
	}
	s.aluOrdered(isa.OpMinus, dst, a, b)
}

// aluMultiply always uses the register form, loading literals first.
func (s *Sequencer) aluMultiply(dst *register, a, b operand) {
	if a.reg == nil {
		a, b = b, a
	}
	if b.reg != nil {
		s.addTimed(isa.NewRegReg(isa.OpMult, dst.addr, a.reg.addr, b.reg.addr), multiplicationCycles, true)
		return
	}
	s.aluViaRegister(isa.OpMult, dst, a.reg, b.imm, multiplicationCycles)
}

// aluOrdered handles operations where the operand order matters.
func (s *Sequencer) aluOrdered(op isa.Op, dst *register, a, b operand) {
	switch {
	case a.reg != nil && b.reg != nil:
		s.add(isa.NewRegReg(op, dst.addr, a.reg.addr, b.reg.addr))
	case a.reg != nil && isa.FitsLowerImmediate(int64(b.imm)):
		s.add(isa.NewRegImm(op, dst.addr, a.reg.addr, b.imm))
	case a.reg != nil:
		s.aluViaRegister(op, dst, a.reg, b.imm, 1)
	default:
		tmp := s.immediateToRegister(a.imm, nil)
		s.add(isa.NewRegReg(op, dst.addr, tmp.addr, b.reg.addr))
		s.releaseRegister(tmp)
	}
}

// aluViaRegister loads a literal that does not fit the immediate field into
// a scratch register first.
func (s *Sequencer) aluViaRegister(op isa.Op, dst *register, reg *register, imm int32, cost int64) {
	tmp := s.immediateToRegister(imm, nil)
	s.addTimed(isa.NewRegReg(op, dst.addr, reg.addr, tmp.addr), cost, true)
	s.releaseRegister(tmp)
}

// calcOperand resolves one side of a calculation tree. Nested calculations
// are lowered recursively into scratch registers.
func (s *Sequencer) calcOperand(e qicode.Expression) operand {
	switch x := e.(type) {
	case *qicode.Calc:
		return regOp(s.addCalc(x))
	case *qicode.Variable:
		return regOp(s.varRegister(x))
	case *qicode.Constant:
		return immOp(x.Value())
	case *qicode.CellProperty:
		v, err := x.Value()
		if err != nil {
			s.fail(err)
			return immOp(0)
		}
		return immOp(v)
	}
	s.failf(qicode.CodeUnsupportedOperation, "unsupported expression %s in calculation", e)
	return immOp(0)
}

// addCalc lowers a calculation tree and returns the register holding its
// result. Scratch registers of inner calculations are released once they
// are consumed.
func (s *Sequencer) addCalc(c *qicode.Calc) *register {
	a := s.calcOperand(c.Left())
	b := immOp(0)
	if c.Op() != isa.OpNot {
		b = s.calcOperand(c.Right())
	}
	dst := s.addCalculation(a, c.Op(), b, nil)
	if _, ok := c.Left().(*qicode.Calc); ok {
		s.releaseRegister(a.reg)
	}
	if c.Op() != isa.OpNot {
		if _, ok := c.Right().(*qicode.Calc); ok {
			s.releaseRegister(b.reg)
		}
	}
	return dst
}

// addBranch appends a conditional branch. The offset is patched later once
// the jump target is known.
func (s *Sequencer) addBranch(cond isa.Condition, r1, r2 *register, offset int32) *isa.Branch {
	br := isa.NewBranch(cond, r1.addr, r2.addr, offset)
	s.add(br)
	return br
}

// conditionOperand forces one side of a condition into a register, the
// branch instructions have no immediate form.
func (s *Sequencer) conditionOperand(e qicode.Expression) *register {
	switch x := e.(type) {
	case *qicode.Calc:
		return s.addCalc(x)
	case *qicode.Variable:
		return s.varRegister(x)
	case *qicode.Constant:
		return s.immediateToRegister(x.Value(), nil)
	case *qicode.CellProperty:
		v, err := x.Value()
		if err != nil {
			s.fail(err)
			return s.reg0
		}
		return s.immediateToRegister(v, nil)
	}
	s.failf(qicode.CodeUnsupportedOperation, "unsupported expression %s in condition", e)
	return s.reg0
}

// addIfCondition emits the branch guarding an if body. The condition is
// inverted, the branch jumps over the body when it does not hold. Scratch
// operand registers are released, variables keep theirs.
func (s *Sequencer) addIfCondition(c *qicode.Condition) *isa.Branch {
	r1 := s.conditionOperand(c.Left())
	r2 := s.conditionOperand(c.Right())
	br := s.addBranch(c.Op().Invert(), r1, r2, 0)
	if _, ok := c.Left().(*qicode.Variable); !ok {
		s.releaseRegister(r1)
	}
	if _, ok := c.Right().(*qicode.Variable); !ok {
		s.releaseRegister(r2)
	}
	return br
}

// addJump appends an unconditional jump.
func (s *Sequencer) addJump(offset int32) *isa.Jump {
	j := isa.NewJump(offset)
	s.addTimed(j, jumpCycles, true)
	return j
}

// addForRangeHead initialises the loop variable and emits the exit branch.
// An ascending loop leaves once the variable reaches the end value, a
// descending one once it falls to it.
func (s *Sequencer) addForRangeHead(v *qicode.Variable, start qicode.Expression, endReg *register, step int32) *isa.Branch {
	varReg := s.varRegister(v)
	if sv, ok := start.(*qicode.Variable); ok {
		s.moveRegister(varReg, s.varRegister(sv))
	} else if val, ok := s.constValue(start); ok {
		s.immediateToRegister(val, varReg)
	}
	cond := isa.CondGE
	if step < 0 {
		cond = isa.CondLE
	}
	return s.addBranch(cond, varReg, endReg, 0)
}

// addVariable assigns a hardware register to a declared variable. Named
// variables start at zero because they can be poked from outside before the
// program runs, which also makes their timing nondeterministic. Unnamed
// variables stay uninitialised until the first assignment.
func (s *Sequencer) addVariable(v *qicode.Variable) {
	if _, ok := s.vars[v]; ok {
		return
	}
	r := s.requestRegister()
	if v.Name() != "" {
		r.value, r.known, r.valid = 0, true, false
	}
	s.vars[v] = r
}

// varRegister returns the register backing a variable on this cell.
func (s *Sequencer) varRegister(v *qicode.Variable) *register {
	r, ok := s.vars[v]
	if !ok {
		s.failf(qicode.CodeRegisterUninitialized, "%s is not registered on this cell", v)
		return s.reg0
	}
	return r
}

// varShadow reports the compile time value of a variable, if deterministic.
func (s *Sequencer) varShadow(v *qicode.Variable) (int32, bool) {
	r, ok := s.vars[v]
	if !ok || !r.known {
		return 0, false
	}
	return r.value, true
}

// setVariableValue loads a start value into a variable's register.
func (s *Sequencer) setVariableValue(v *qicode.Variable, value qicode.Expression) {
	dst := s.varRegister(v)
	if sv, ok := value.(*qicode.Variable); ok {
		s.moveRegister(dst, s.varRegister(sv))
		return
	}
	if val, ok := s.constValue(value); ok {
		s.immediateToRegister(val, dst)
	}
}

// constValue resolves a constant or cell property to its raw value.
func (s *Sequencer) constValue(e qicode.Expression) (int32, bool) {
	switch x := e.(type) {
	case *qicode.Constant:
		return x.Value(), true
	case *qicode.CellProperty:
		v, err := x.Value()
		if err != nil {
			s.fail(err)
			return 0, false
		}
		return v, true
	}
	s.failf(qicode.CodeUnsupportedOperation, "expression %s is not constant", e)
	return 0, false
}

// lengthSeconds resolves a pulse or wait length to seconds.
func (s *Sequencer) lengthSeconds(e qicode.Expression) (float64, bool) {
	switch x := e.(type) {
	case *qicode.Constant:
		return x.GivenValue(), true
	case *qicode.CellProperty:
		v, err := x.Resolve()
		if err != nil {
			s.fail(err)
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// waitCycles emits the shortest wait covering the given cycle count. Counts
// beyond the 20 bit immediate go through a register, whose value the
// hardware extends by the two cycles the load costs.
func (s *Sequencer) waitCycles(cycles int64) {
	if s.err != nil {
		return
	}
	if cycles < 0 || cycles >= 1<<32 {
		s.failf(qicode.CodeWaitOutOfRange, "a wait of %d cycles does not fit the hardware counter", cycles)
		return
	}
	if isa.FitsUnsignedUpperImmediate(cycles) {
		s.addTimed(isa.NewWaitImm(uint32(cycles)), cycles, true)
		return
	}
	reg := s.immediateToRegister(int32(uint32(cycles-2)), nil)
	s.addTimed(isa.NewWaitReg(reg.addr), cycles-2, true)
	s.releaseRegister(reg)
}

// addWaitRegister waits for the number of cycles held in a variable's
// register.
func (s *Sequencer) addWaitRegister(v *qicode.Variable) {
	reg := s.varRegister(v)
	if !reg.known {
		s.failf(qicode.CodeRegisterUninitialized,
			"variable at register %d has not been initialised", reg.addr)
		return
	}
	s.addTimed(isa.NewWaitReg(reg.addr), int64(uint32(reg.value)), reg.valid)
}

// addWaitCmd lowers a wait command. Calculated lengths run through the ALU
// into a scratch register, constant lengths become immediate waits.
func (s *Sequencer) addWaitCmd(length qicode.Expression) {
	if s.err != nil {
		return
	}
	switch x := length.(type) {
	case *qicode.Calc:
		reg := s.addCalc(x)
		s.addTimed(isa.NewWaitReg(reg.addr), int64(uint32(reg.value)), reg.valid)
		s.releaseRegister(reg)
		return
	case *qicode.Variable:
		s.addWaitRegister(x)
		return
	}
	seconds, ok := s.lengthSeconds(length)
	if !ok {
		return
	}
	if seconds < 0 || seconds > units.MaxWaitTime() {
		s.failf(qicode.CodeWaitOutOfRange,
			"wait length needs to be between 0 and %.3fs, but was %vs", units.MaxWaitTime(), seconds)
		return
	}
	s.waitCycles(units.TimeToCycles(seconds, units.RoundCeil))
}

// normalizeBaseOffset fits a memory access to the hardware's base plus
// offset form. Without a base register, large offsets move into a scratch
// register, reported through the third return so the caller releases it.
func (s *Sequencer) normalizeBaseOffset(base *register, offset int32) (*register, int32, bool) {
	if base == nil {
		if isa.FitsLowerImmediate(int64(offset)) {
			return s.reg0, offset, false
		}
		tmp := s.requestRegister()
		s.immediateToRegister(offset, tmp)
		return tmp, 0, true
	}
	if !isa.FitsLowerImmediate(int64(offset)) {
		s.failf(qicode.CodeOffsetTooLarge, "a memory offset of %d does not fit the immediate field", offset)
		return s.reg0, 0, false
	}
	return base, offset, false
}

// addStoreCmd writes a value to cell memory.
func (s *Sequencer) addStoreCmd(value qicode.Expression, base *register, offset int32) {
	if s.err != nil {
		return
	}
	var valueReg *register
	var scratch bool
	switch x := value.(type) {
	case *qicode.Calc:
		valueReg = s.addCalc(x)
		scratch = true
	case *qicode.Variable:
		valueReg = s.varRegister(x)
	default:
		val, ok := s.constValue(value)
		if !ok {
			return
		}
		valueReg = s.immediateToRegister(val, s.requestRegister())
		scratch = true
	}
	baseReg, off, freeBase := s.normalizeBaseOffset(base, offset)
	s.addTimed(isa.NewStore(valueReg.addr, baseReg.addr, off), loadStoreCycles, true)
	if scratch {
		s.releaseRegister(valueReg)
	}
	if freeBase {
		s.releaseRegister(baseReg)
	}
}

// addLoadCmd reads cell memory into a variable's register. The loaded value
// is runtime dependent, so the variable's shadow is dropped.
func (s *Sequencer) addLoadCmd(v *qicode.Variable, base *register, offset int32) {
	if s.err != nil {
		return
	}
	dst := s.varRegister(v)
	baseReg, off, freeBase := s.normalizeBaseOffset(base, offset)
	s.addTimed(isa.NewLoad(dst.addr, baseReg.addr, off), loadStoreCycles, true)
	if freeBase {
		s.releaseRegister(baseReg)
	}
	dst.known = false
	dst.valid = false
}

// endOfProgram terminates the instruction stream.
func (s *Sequencer) endOfProgram() {
	s.add(isa.NewEnd())
}
