package sequencer

import (
	"github.com/quantuminterface/qicode/internal/isa"
	"github.com/quantuminterface/qicode/internal/qicode"
)

// availableRegisters counts the general purpose registers of one sequencer
// core. Register 0 is hardwired to zero and is not part of the pool.
const availableRegisters = 31

// register shadows one hardware register during lowering. value is only
// meaningful while known is set; valid marks values that are identical on
// every execution path, which implicit cell synchronisation relies on.
// Branches and readout results clear valid.
type register struct {
	addr  int
	value int32
	known bool
	valid bool
}

// operand is one side of an ALU operation, either a register or a literal.
type operand struct {
	reg *register
	imm int32
}

func regOp(r *register) operand { return operand{reg: r} }
func immOp(v int32) operand     { return operand{imm: v} }

// newRegisterPool fills the free stack so that requests hand out addresses
// in ascending order starting at 1.
func newRegisterPool() []*register {
	pool := make([]*register, availableRegisters)
	for i := range pool {
		pool[i] = &register{addr: availableRegisters - i, valid: true}
	}
	return pool
}

// requestRegister pops the lowest free register. After a failure it hands
// out the zero register so callers stay nil safe.
func (s *Sequencer) requestRegister() *register {
	if s.err != nil {
		return s.reg0
	}
	if len(s.free) == 0 {
		s.failf(qicode.CodeRegistersExhausted, "no free registers left")
		return s.reg0
	}
	r := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	r.value, r.known = 0, false
	return r
}

// releaseRegister returns a register to the pool. Releasing the zero
// register is a no-op, releasing a register twice is an error.
func (s *Sequencer) releaseRegister(r *register) {
	if s.err != nil || r == s.reg0 {
		return
	}
	for _, f := range s.free {
		if f == r {
			s.failf(qicode.CodeRegisterRelease, "register %d released twice", r.addr)
			return
		}
	}
	if r.addr < 1 || r.addr > availableRegisters {
		s.failf(qicode.CodeRegisterRelease, "register %d is not part of the pool", r.addr)
		return
	}
	r.valid = true
	s.free = append(s.free, r)
}

// updateValue folds the operation into the destination's shadow value.
// Using a register whose value was never written is an error, so stale
// shadows can not silently leak into timing decisions.
func (s *Sequencer) updateValue(dst *register, a operand, op isa.Op, b operand) {
	if s.err != nil {
		return
	}
	if dst.addr == 0 {
		dst.value, dst.known = 0, true
		return
	}
	av, bv := a.imm, b.imm
	for _, side := range []*operand{&a, &b} {
		if side.reg == nil {
			continue
		}
		if !side.reg.known {
			s.failf(qicode.CodeRegisterUninitialized,
				"variable at register %d has not been initialised", side.reg.addr)
			return
		}
		if !side.reg.valid {
			dst.valid = false
		}
	}
	if a.reg != nil {
		av = a.reg.value
	}
	if b.reg != nil {
		bv = b.reg.value
	}
	dst.value = evalOp(av, op, bv)
	dst.known = true
}

// evalOp mirrors the sequencer ALU, 32 bit two's complement with the shift
// amount masked to five bits.
func evalOp(a int32, op isa.Op, b int32) int32 {
	switch op {
	case isa.OpPlus:
		return a + b
	case isa.OpMinus:
		return a - b
	case isa.OpMult:
		return a * b
	case isa.OpLsh:
		return a << (uint32(b) & 31)
	case isa.OpRsh:
		return a >> (uint32(b) & 31)
	case isa.OpAnd:
		return a & b
	case isa.OpOr:
		return a | b
	case isa.OpXor:
		return a ^ b
	case isa.OpNot:
		return ^a
	}
	return 0
}
