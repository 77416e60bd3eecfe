// Package isa encodes and decodes the 32-bit instruction words of the
// sequencer processor. The encoding follows the RISC-V base formats (I, R,
// U, S, B) with custom opcodes for waits, triggers, cell synchronization and
// inter-cell register transfer. Branch and jump offsets count whole
// instruction words, not bytes.
//
// The package is self-contained: it knows nothing about cells, pulses or
// registers beyond their bit widths.
package isa

import "fmt"

// Field widths of the instruction word.
const (
	opcodeWidth   = 7
	registerWidth = 5
	funct3Width   = 3

	// LowerImmediateMin and LowerImmediateMax bound the signed 12-bit
	// immediate of I- and S-type instructions.
	LowerImmediateMin = -2048
	LowerImmediateMax = 2047

	// UpperImmediateWidth is the bit width of U-type immediates.
	UpperImmediateWidth = 20
)

// Bit positions of the packed fields.
const (
	shiftDst    = opcodeWidth
	shiftFunct3 = opcodeWidth + registerWidth
	shiftReg1   = opcodeWidth + registerWidth + funct3Width
	shiftReg2   = opcodeWidth + 2*registerWidth + funct3Width
	shiftFunct7 = opcodeWidth + 3*registerWidth + funct3Width
)

// Opcode identifies the instruction class in the low seven bits.
type Opcode uint32

const (
	OpcodeJump         Opcode = 0b1101111
	OpcodeBranch       Opcode = 0b1100011
	OpcodeRegImm       Opcode = 0b0010011
	OpcodeLoadUpperImm Opcode = 0b0110111
	OpcodeRegReg       Opcode = 0b0110011
	OpcodeLoad         Opcode = 0b0000011
	OpcodeStore        Opcode = 0b0100011
	OpcodeSynch        Opcode = 0b0001000
	OpcodeWaitImm      Opcode = 0b0000100
	OpcodeWaitReg      Opcode = 0b0000110
	OpcodeTrigWaitReg  Opcode = 0b0001010
	OpcodeTrigger      Opcode = 0b0000010
	OpcodeCellSync     Opcode = 0b0001100
	OpcodeRegSend      Opcode = 0b0001110
	OpcodeRegReceive   Opcode = 0b0011100
)

// funct3 values of the immediate-operand group.
const (
	regImmFunct3Add = 0b000
	regImmFunct3Sll = 0b001
	regImmFunct3Mem = 0b010
	regImmFunct3Xor = 0b100
	regImmFunct3Sr  = 0b101
	regImmFunct3Or  = 0b110
	regImmFunct3And = 0b111
)

// funct7 values distinguishing shift and arithmetic variants.
const (
	funct7Srl = 0b0000000
	funct7Sra = 0b0100000
	funct7Add = 0b0000000
	funct7Sub = 0b0100000
	funct7Mul = 0b0000001
)

// funct3 values of the register-register group.
const (
	regRegFunct3AddSubMul = 0b000
	regRegFunct3SllMulh   = 0b001
	regRegFunct3Xor       = 0b100
	regRegFunct3SrlSra    = 0b101
	regRegFunct3Or        = 0b110
	regRegFunct3And       = 0b111
)

// funct3 values of branches.
const (
	branchFunct3Beq  = 0b000
	branchFunct3Bne  = 0b001
	branchFunct3Blt  = 0b100
	branchFunct3Bge  = 0b101
	branchFunct3Bltu = 0b110
	branchFunct3Bgeu = 0b111
)

// funct3 values of memory accesses (width and sign extension).
const (
	memFunct3B  = 0b000
	memFunct3H  = 0b001
	memFunct3W  = 0b010
	memFunct3BU = 0b100
	memFunct3HU = 0b101
)

// funct3 values of the external synchronization opcode.
const (
	synchFunct3Start      = 0b000
	synchFunct3QubitState = 0b010
)

// funct3 values of inter-cell register sends.
const (
	regSendFunct3Single = 0b000
	regSendFunct3Multi  = 0b001
)

// FitsLowerImmediate reports whether v fits the signed 12-bit immediate of
// I- and S-type instructions.
func FitsLowerImmediate(v int64) bool {
	return v >= LowerImmediateMin && v <= LowerImmediateMax
}

// FitsUnsignedUpperImmediate reports whether v fits the unsigned 20-bit
// immediate used by wait instructions.
func FitsUnsignedUpperImmediate(v int64) bool {
	return v >= 0 && v < 1<<UpperImmediateWidth
}

// hexImm renders a signed immediate the way the hardware toolchain does:
// lowercase hex with the sign in front of the 0x prefix.
func hexImm(v int64) string {
	if v < 0 {
		return fmt.Sprintf("-0x%x", uint64(-v))
	}
	return fmt.Sprintf("0x%x", uint64(v))
}
