package isa

import "fmt"

func signExtend(v uint32, bits uint) int32 {
	if v&(1<<(bits-1)) != 0 {
		return int32(v | ^uint32(1<<bits-1))
	}
	return int32(v)
}

// Decode inverts Encode for every instruction format. Unknown opcodes and
// funct combinations return an error.
func Decode(word uint32) (Instruction, error) {
	op := Opcode(word & 0x7F)
	dst := int(word >> shiftDst & 0x1F)
	funct3 := word >> shiftFunct3 & 0x7
	reg1 := int(word >> shiftReg1 & 0x1F)
	reg2 := int(word >> shiftReg2 & 0x1F)
	funct7 := word >> shiftFunct7 & 0x7F

	switch op {
	case OpcodeRegImm:
		inst := &RegImm{Dst: dst, Src: reg1, Funct3: funct3}
		if funct3 == regImmFunct3Sr {
			// Shift amount in the low five immediate bits, funct7 above.
			inst.Imm = int32(word >> shiftReg2 & 0x1F)
			inst.Funct7 = funct7
		} else {
			inst.Imm = signExtend(word>>shiftReg2, 12)
		}
		return inst, nil

	case OpcodeRegReg:
		return &RegReg{Dst: dst, Reg1: reg1, Reg2: reg2, Funct3: funct3, Funct7: funct7}, nil

	case OpcodeLoadUpperImm:
		return &LoadUpperImm{Dst: dst, Value: word & 0xFFFFF000}, nil

	case OpcodeLoad:
		return &Load{Dst: dst, Base: reg1, Offset: signExtend(word>>shiftReg2, 12), Funct3: funct3}, nil

	case OpcodeStore:
		imm := word >> shiftFunct7 & 0x7F << 5
		imm |= word >> shiftDst & 0x1F
		return &Store{Src: reg2, Base: reg1, Offset: signExtend(imm, 12), Funct3: funct3}, nil

	case OpcodeBranch:
		imm := word >> shiftDst & 0x1 << 10
		imm |= word >> (shiftDst + 1) & 0xF
		imm |= word >> shiftFunct7 & 0x3F << 4
		imm |= word >> 31 << 11
		return &Branch{Funct3: funct3, Reg1: reg1, Reg2: reg2, Offset: signExtend(imm, 12)}, nil

	case OpcodeJump:
		j := word >> 12 & 0xFF << 11
		j |= word >> 20 & 0x1 << 10
		j |= word >> 21 & 0x3FF
		j |= word >> 31 << 19
		return &Jump{Offset: signExtend(j, 20)}, nil

	case OpcodeWaitImm:
		return &WaitImm{Cycles: word >> 12 & 0xFFFFF}, nil

	case OpcodeWaitReg:
		return &WaitReg{Reg: dst}, nil

	case OpcodeTrigWaitReg:
		return &TriggerWaitReg{Reg: dst}, nil

	case OpcodeTrigger:
		return &Trigger{
			Modules: [6]int{
				int(word >> 16 & 0xF),
				int(word >> 20 & 0x3),
				int(word >> 22 & 0xF),
				int(word >> 26 & 0x3),
				int(word >> 28 & 0x3),
				int(word >> 30 & 0x3),
			},
			Sync:  word>>14&0x1 != 0,
			Reset: word>>12&0x1 != 0,
		}, nil

	case OpcodeCellSync:
		var cells []int
		for c := 0; c < 16; c++ {
			if word>>16&(1<<uint(c)) != 0 {
				cells = append(cells, c)
			}
		}
		return &CellSync{Cells: cells}, nil

	case OpcodeSynch:
		switch funct3 {
		case synchFunct3Start:
			return &End{}, nil
		case synchFunct3QubitState:
			return &AwaitQubitState{Cell: int(word >> shiftReg2 & 0xFFF), Dst: dst}, nil
		}
		return nil, fmt.Errorf("isa: unknown synch funct3 %#b in word %#08x", funct3, word)

	case OpcodeRegSend:
		imm := word >> shiftFunct7 & 0x7F << 5
		imm |= word >> shiftDst & 0x1F
		return &CellRegSend{SendReg: reg1, SyncReg: reg2, SyncCell: int(signExtend(imm, 12))}, nil

	case OpcodeRegReceive:
		sender := int(word >> 12 & 0xF)
		var cells []int
		for c := 0; c < 16; c++ {
			if c != sender && word>>16&(1<<uint(c)) != 0 {
				cells = append(cells, c)
			}
		}
		return &CellRegReceive{Sender: sender, Dst: dst, SyncCells: cells}, nil
	}
	return nil, fmt.Errorf("isa: unknown opcode %#07b in word %#08x", uint32(op), word)
}
