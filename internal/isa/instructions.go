package isa

import (
	"fmt"
	"strings"
)

// Instruction is one 32-bit sequencer word. Implementations are pointer
// types so branch and jump offsets can be patched after emission.
type Instruction interface {
	Encode() uint32
	String() string

	isInstruction()
}

func encodeIType(op Opcode, dst int, funct3 uint32, src int, imm int32, funct7 uint32) uint32 {
	word := uint32(op)
	word |= uint32(dst&0x1F) << shiftDst
	word |= (funct3 & 0x7) << shiftFunct3
	word |= uint32(src&0x1F) << shiftReg1
	word |= uint32(imm&0xFFF) << shiftReg2
	if funct3 == regImmFunct3Sr {
		word |= (funct7 & 0x7F) << shiftFunct7
	}
	return word
}

func encodeUType(op Opcode, dst int, imm uint32) uint32 {
	word := uint32(op)
	word |= uint32(dst&0x1F) << shiftDst
	word |= imm & 0xFFFFF000
	return word
}

func encodeSType(op Opcode, funct3 uint32, reg1, reg2 int, imm int32) uint32 {
	word := uint32(op)
	word |= uint32(imm&0x1F) << shiftDst
	word |= (funct3 & 0x7) << shiftFunct3
	word |= uint32(reg1&0x1F) << shiftReg1
	word |= uint32(reg2&0x1F) << shiftReg2
	word |= (uint32(imm&0xFE0) >> 5) << shiftFunct7
	return word
}

// RegImm is an I-type ALU instruction with a signed 12-bit immediate.
type RegImm struct {
	Dst    int
	Src    int
	Funct3 uint32
	Funct7 uint32
	Imm    int32
}

// NewRegImm builds the immediate form of op. Panics for operations without
// an immediate form (subtraction, multiplication).
func NewRegImm(op Op, dst, src int, imm int32) *RegImm {
	return &RegImm{
		Dst:    dst,
		Src:    src,
		Funct3: regImmFunct3(op),
		Funct7: regImmFunct7(op),
		Imm:    imm,
	}
}

func (i *RegImm) Encode() uint32 {
	return encodeIType(OpcodeRegImm, i.Dst, i.Funct3, i.Src, i.Imm, i.Funct7)
}

func (i *RegImm) String() string {
	var name string
	switch i.Funct3 {
	case regImmFunct3Sr:
		name = "srl"
		if i.Funct7 == funct7Sra {
			name = "sra"
		}
	case regImmFunct3Add:
		name = "addi"
	case regImmFunct3Sll:
		name = "sll"
	case regImmFunct3Xor:
		name = "xori"
	case regImmFunct3Or:
		name = "ori"
	case regImmFunct3And:
		name = "andi"
	default:
		name = "i?"
	}
	return fmt.Sprintf("%s r%d, r%d, %s", name, i.Dst, i.Src, hexImm(int64(uint32(i.Imm)&0xFFF)))
}

func (i *RegImm) isInstruction() {}

// RegReg is an R-type ALU instruction over two register operands.
type RegReg struct {
	Dst    int
	Reg1   int
	Reg2   int
	Funct3 uint32
	Funct7 uint32
}

func NewRegReg(op Op, dst, reg1, reg2 int) *RegReg {
	return &RegReg{
		Dst:    dst,
		Reg1:   reg1,
		Reg2:   reg2,
		Funct3: regRegFunct3(op),
		Funct7: regRegFunct7(op),
	}
}

func (i *RegReg) Encode() uint32 {
	word := uint32(OpcodeRegReg)
	word |= uint32(i.Dst&0x1F) << shiftDst
	word |= (i.Funct3 & 0x7) << shiftFunct3
	word |= uint32(i.Reg1&0x1F) << shiftReg1
	word |= uint32(i.Reg2&0x1F) << shiftReg2
	word |= (i.Funct7 & 0x7F) << shiftFunct7
	return word
}

func (i *RegReg) String() string {
	var name string
	switch i.Funct3 {
	case regRegFunct3AddSubMul:
		switch i.Funct7 {
		case funct7Sub:
			name = "sub"
		case funct7Mul:
			name = "mul"
		default:
			name = "add"
		}
	case regRegFunct3SllMulh:
		name = "sll"
		if i.Funct7 == funct7Mul {
			name = "mulh"
		}
	case regRegFunct3Xor:
		name = "xor"
	case regRegFunct3SrlSra:
		name = "srl"
		if i.Funct7 == funct7Sra {
			name = "sra"
		}
	case regRegFunct3Or:
		name = "or"
	case regRegFunct3And:
		name = "and"
	default:
		name = "r?"
	}
	return fmt.Sprintf("%s r%d, r%d, r%d", name, i.Dst, i.Reg1, i.Reg2)
}

func (i *RegReg) isInstruction() {}

// LoadUpperImm sets the upper 20 bits of a register, clearing the lower 12.
type LoadUpperImm struct {
	Dst   int
	Value uint32
}

func NewLoadUpperImm(dst int, value uint32) *LoadUpperImm {
	return &LoadUpperImm{Dst: dst, Value: value}
}

func (i *LoadUpperImm) Encode() uint32 {
	return encodeUType(OpcodeLoadUpperImm, i.Dst, i.Value)
}

func (i *LoadUpperImm) String() string {
	return fmt.Sprintf("lui r%d, %d", i.Dst, i.Value)
}

func (i *LoadUpperImm) isInstruction() {}

// Load reads a memory word into a register.
type Load struct {
	Dst    int
	Base   int
	Offset int32
	Funct3 uint32
}

// NewLoad builds a 32-bit load. Panics when the offset exceeds the lower
// immediate, callers normalize large offsets into a base register first.
func NewLoad(dst, base int, offset int32) *Load {
	if !FitsLowerImmediate(int64(offset)) {
		panic(fmt.Sprintf("isa: invalid offset %d to load instruction", offset))
	}
	return &Load{Dst: dst, Base: base, Offset: offset, Funct3: memFunct3W}
}

func (i *Load) Encode() uint32 {
	return encodeIType(OpcodeLoad, i.Dst, i.Funct3, i.Base, i.Offset, 0)
}

func (i *Load) String() string {
	var name string
	switch i.Funct3 {
	case memFunct3W:
		name = "lw"
	case memFunct3H:
		name = "lh"
	case memFunct3B:
		name = "lb"
	case memFunct3HU:
		name = "lhu"
	case memFunct3BU:
		name = "lbu"
	default:
		name = "l?"
	}
	return fmt.Sprintf("%s r%d, %d(r%d)", name, i.Dst, i.Offset, i.Base)
}

func (i *Load) isInstruction() {}

// Store writes a register to memory.
type Store struct {
	Src    int
	Base   int
	Offset int32
	Funct3 uint32
}

// NewStore builds a 32-bit store. Panics when the offset exceeds the lower
// immediate.
func NewStore(src, base int, offset int32) *Store {
	if !FitsLowerImmediate(int64(offset)) {
		panic(fmt.Sprintf("isa: invalid offset %d to store instruction", offset))
	}
	return &Store{Src: src, Base: base, Offset: offset, Funct3: memFunct3W}
}

func (i *Store) Encode() uint32 {
	return encodeSType(OpcodeStore, i.Funct3, i.Base, i.Src, i.Offset)
}

func (i *Store) String() string {
	var name string
	switch i.Funct3 {
	case memFunct3W:
		name = "sw"
	case memFunct3H:
		name = "sh"
	case memFunct3B:
		name = "sb"
	case memFunct3HU:
		name = "shu"
	case memFunct3BU:
		name = "sbu"
	default:
		name = "s?"
	}
	return fmt.Sprintf("%s r%d, %d(r%d)", name, i.Src, i.Offset, i.Base)
}

func (i *Store) isInstruction() {}

// Branch conditionally jumps by a signed 12-bit word offset. The offset is
// patched after the body it skips has been emitted.
type Branch struct {
	Funct3 uint32
	Reg1   int
	Reg2   int
	Offset int32
}

// NewBranch folds the condition into the hardware funct3 set, swapping
// operands for GT and LE.
func NewBranch(cond Condition, reg1, reg2 int, offset int32) *Branch {
	funct3, r1, r2 := branchOperands(cond, reg1, reg2)
	return &Branch{Funct3: funct3, Reg1: r1, Reg2: r2, Offset: offset}
}

// SetJumpValue patches the relative word offset.
func (i *Branch) SetJumpValue(offset int32) { i.Offset = offset }

func (i *Branch) Encode() uint32 {
	imm := uint32(i.Offset)
	word := uint32(OpcodeBranch)
	word |= ((imm & 0x400) >> 10) << shiftDst
	word |= (imm & 0xF) << (shiftDst + 1)
	word |= (i.Funct3 & 0x7) << shiftFunct3
	word |= uint32(i.Reg1&0x1F) << shiftReg1
	word |= uint32(i.Reg2&0x1F) << shiftReg2
	word |= ((imm & 0x3F0) >> 4) << shiftFunct7
	word |= ((imm & 0x800) >> 11) << 31
	return word
}

func (i *Branch) String() string {
	var name string
	switch i.Funct3 {
	case branchFunct3Beq:
		name = "beq"
	case branchFunct3Bne:
		name = "bne"
	case branchFunct3Blt:
		name = "blt"
	case branchFunct3Bge:
		name = "bge"
	case branchFunct3Bltu:
		name = "bltu"
	case branchFunct3Bgeu:
		name = "bgeu"
	default:
		name = "b?"
	}
	return fmt.Sprintf("%s r%d, r%d, %s", name, i.Reg1, i.Reg2, hexImm(int64(i.Offset)))
}

func (i *Branch) isInstruction() {}

// Jump is an unconditional jump by a signed 20-bit word offset. The hardware
// addresses instructions, not bytes, so the offset scatter differs from the
// RISC-V J-type.
type Jump struct {
	Offset int32
}

func NewJump(offset int32) *Jump { return &Jump{Offset: offset} }

// SetJumpValue patches the relative word offset.
func (i *Jump) SetJumpValue(offset int32) { i.Offset = offset }

func (i *Jump) Encode() uint32 {
	j := uint32(i.Offset)
	word := uint32(OpcodeJump)
	word |= ((j & 0x7F800) >> 11) << shiftFunct3
	word |= ((j & 0x400) >> 10) << 20
	word |= (j & 0x3FF) << 21
	word |= ((j & 0x80000) >> 19) << 31
	return word
}

func (i *Jump) String() string {
	return fmt.Sprintf("j %s", hexImm(int64(i.Offset)))
}

func (i *Jump) isInstruction() {}

// WaitImm stalls the sequencer for an immediate number of cycles, up to
// 2^20-1. Longer waits go through WaitReg.
type WaitImm struct {
	Cycles uint32
}

func NewWaitImm(cycles uint32) *WaitImm { return &WaitImm{Cycles: cycles} }

func (i *WaitImm) Encode() uint32 {
	return encodeUType(OpcodeWaitImm, 0, (i.Cycles&0xFFFFF)<<12)
}

func (i *WaitImm) String() string {
	return fmt.Sprintf("wti %s", hexImm(int64(i.Cycles&0xFFFFF)))
}

func (i *WaitImm) isInstruction() {}

// WaitReg stalls the sequencer for the number of cycles held in a register.
type WaitReg struct {
	Reg int
}

func NewWaitReg(reg int) *WaitReg { return &WaitReg{Reg: reg} }

func (i *WaitReg) Encode() uint32 {
	return encodeUType(OpcodeWaitReg, i.Reg, 0)
}

func (i *WaitReg) String() string {
	return fmt.Sprintf("wtr r%d, 0x0", i.Reg)
}

func (i *WaitReg) isInstruction() {}

// TriggerWaitReg fires the pending trigger and stalls for the register's
// cycle count, used for variable-length pulses.
type TriggerWaitReg struct {
	Reg int
}

func NewTriggerWaitReg(reg int) *TriggerWaitReg { return &TriggerWaitReg{Reg: reg} }

func (i *TriggerWaitReg) Encode() uint32 {
	return encodeUType(OpcodeTrigWaitReg, i.Reg, 0)
}

func (i *TriggerWaitReg) String() string {
	return fmt.Sprintf("twr r%d, 0x0", i.Reg)
}

func (i *TriggerWaitReg) isInstruction() {}

// Trigger starts or chokes pulse generators. Module slots: 0 readout pulse
// (4 bits), 1 recording mode (2), 2 manipulation pulse (4), 3 and 4 coupler
// pulses (2 each), 5 digital trigger set (2). Index 0 leaves a module
// untouched.
type Trigger struct {
	Modules [6]int
	Sync    bool
	Reset   bool
}

func NewTrigger(modules [6]int) *Trigger { return &Trigger{Modules: modules} }

// NewSyncTrigger builds the NCO synchronization trigger.
func NewSyncTrigger() *Trigger { return &Trigger{Sync: true} }

func (i *Trigger) Encode() uint32 {
	var imm uint32
	if i.Reset {
		imm |= 1 << 12
	}
	if i.Sync {
		imm |= 1 << 14
	}
	imm |= uint32(i.Modules[0]&0xF) << 16
	imm |= uint32(i.Modules[1]&0x3) << 20
	imm |= uint32(i.Modules[2]&0xF) << 22
	imm |= uint32(i.Modules[3]&0x3) << 26
	imm |= uint32(i.Modules[4]&0x3) << 28
	imm |= uint32(i.Modules[5]&0x3) << 30
	return encodeUType(OpcodeTrigger, 0, imm)
}

func (i *Trigger) String() string {
	parts := make([]string, len(i.Modules))
	for n, m := range i.Modules {
		parts[n] = hexImm(int64(m))
	}
	return "tr " + strings.Join(parts, ", ")
}

func (i *Trigger) isInstruction() {}

// CellSync blocks until every cell in the mask has reached its matching
// synchronization point.
type CellSync struct {
	Cells []int
}

// NewCellSync panics unless 2 to 16 cells are given; synchronizing a single
// cell is meaningless and the mask holds 16 bits.
func NewCellSync(cells []int) *CellSync {
	if len(cells) < 2 || len(cells) > 16 {
		panic("isa: number of cells to be synchronized is out of range")
	}
	return &CellSync{Cells: append([]int(nil), cells...)}
}

func (i *CellSync) mask() uint32 {
	var mask uint32
	for _, c := range i.Cells {
		mask |= 1 << uint(c)
	}
	return mask
}

func (i *CellSync) Encode() uint32 {
	return encodeUType(OpcodeCellSync, 0, i.mask()<<16)
}

func (i *CellSync) String() string {
	return fmt.Sprintf("sync r0, %s", hexImm(int64(i.mask())<<16))
}

func (i *CellSync) isInstruction() {}

// End halts the sequencer and signals program completion.
type End struct{}

func NewEnd() *End { return &End{} }

func (i *End) Encode() uint32 {
	return encodeSType(OpcodeSynch, synchFunct3Start, 0, 0, 0)
}

func (i *End) String() string { return "end" }

func (i *End) isInstruction() {}

// AwaitQubitState blocks until the state result of the given cell arrives
// and writes it to a register.
type AwaitQubitState struct {
	Cell int
	Dst  int
}

func NewAwaitQubitState(cell, dst int) *AwaitQubitState {
	return &AwaitQubitState{Cell: cell, Dst: dst}
}

func (i *AwaitQubitState) Encode() uint32 {
	return encodeIType(OpcodeSynch, i.Dst, synchFunct3QubitState, 0, int32(i.Cell), 0)
}

func (i *AwaitQubitState) String() string {
	return fmt.Sprintf("wtq r%d, %d", i.Dst, i.Cell)
}

func (i *AwaitQubitState) isInstruction() {}

// CellRegSend transfers a register value to another cell, optionally
// synchronizing through a second register.
type CellRegSend struct {
	SendReg  int
	SyncCell int
	SyncReg  int
}

func NewCellRegSend(sendReg, syncCell, syncReg int) *CellRegSend {
	return &CellRegSend{SendReg: sendReg, SyncCell: syncCell, SyncReg: syncReg}
}

func (i *CellRegSend) Encode() uint32 {
	funct3 := uint32(regSendFunct3Single)
	if i.SyncReg != 0 {
		funct3 = regSendFunct3Multi
	}
	return encodeSType(OpcodeRegSend, funct3, i.SendReg, i.SyncReg, int32(i.SyncCell))
}

func (i *CellRegSend) String() string {
	return fmt.Sprintf("snd r%d, %d(r%d)", i.SyncReg, i.SyncCell, i.SendReg)
}

func (i *CellRegSend) isInstruction() {}

// CellRegReceive receives a register value sent by another cell.
type CellRegReceive struct {
	Sender    int
	Dst       int
	SyncCells []int
}

func NewCellRegReceive(sender, dst int, syncCells []int) *CellRegReceive {
	return &CellRegReceive{Sender: sender, Dst: dst, SyncCells: append([]int(nil), syncCells...)}
}

func (i *CellRegReceive) immediate() uint32 {
	mask := uint32(1) << uint(i.Sender)
	for _, c := range i.SyncCells {
		mask |= 1 << uint(c)
	}
	return mask<<16 | uint32(i.Sender&0xF)<<12
}

func (i *CellRegReceive) Encode() uint32 {
	return encodeUType(OpcodeRegReceive, i.Dst, i.immediate())
}

func (i *CellRegReceive) String() string {
	return fmt.Sprintf("rcv r%d, %d", i.Dst, i.immediate())
}

func (i *CellRegReceive) isInstruction() {}
