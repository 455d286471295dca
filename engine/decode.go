package engine

// Op identifies one rv32im operation. The decoder is the sole constructor
// of Instruction values; every other component dispatches on Op instead of
// re-inspecting the raw word.
type Op int

const (
	OpLUI Op = iota
	OpAUIPC
	OpJAL
	OpJALR
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU
	OpLB
	OpLH
	OpLW
	OpLBU
	OpLHU
	OpSB
	OpSH
	OpSW
	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI
	OpADD
	OpSUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpAND
	OpMUL
	OpMULH
	OpMULHSU
	OpMULHU
	OpDIV
	OpDIVU
	OpREM
	OpREMU
	OpFENCE
	OpECALL
	OpEBREAK

	// OpDecodeFault marks a word that failed to decode. It carries the
	// fault on Instruction.Fault instead of aborting decode outright, so a
	// malformed word fetched down a path that later turns out to be
	// squashed never halts the machine — the same precise-fault discipline
	// applied to speculative memory faults.
	OpDecodeFault
)

// UnitKind names which functional unit kind executes an Op.
type UnitKind int

const (
	UnitALU UnitKind = iota
	UnitBLU
	UnitMCU
)

// UnitKindOf is grounded on the Rust original's execute.rs From<Operation>
// for UnitType mapping, extended to rv32im's FENCE/ECALL/EBREAK which that
// mapping also routed to the memory-control unit.
func UnitKindOf(op Op) UnitKind {
	switch op {
	case OpBEQ, OpBNE, OpBLT, OpBGE, OpBLTU, OpBGEU, OpJAL, OpJALR:
		return UnitBLU
	case OpLB, OpLH, OpLW, OpLBU, OpLHU, OpSB, OpSH, OpSW, OpFENCE, OpECALL, OpEBREAK:
		return UnitMCU
	default:
		return UnitALU
	}
}

// IsBranchOrJump reports whether op carries a predicted-next-PC that the
// BLU must confirm or correct.
func IsBranchOrJump(op Op) bool {
	return UnitKindOf(op) == UnitBLU
}

func IsConditionalBranch(op Op) bool {
	switch op {
	case OpBEQ, OpBNE, OpBLT, OpBGE, OpBLTU, OpBGEU:
		return true
	default:
		return false
	}
}

// Instruction is the decoded micro-op. Source/destination registers use
// HasRs1/HasRs2/HasRd instead of a sentinel value so a zero Instruction is
// never mistaken for one that reads or writes x0.
type Instruction struct {
	Op Op

	HasRs1 bool
	Rs1    uint8
	HasRs2 bool
	Rs2    uint8
	HasRd  bool
	Rd     uint8

	Imm int32

	PC     uint32
	PredPC uint32
	Tok    PredictorToken

	// Fault is set by Decode (a malformed word) for an OpDecodeFault
	// micro-op. It is never fatal by itself; retire raises it only if the
	// instruction survives to commit.
	Fault error

	// Target is the statically known taken-branch target (PC+imm for
	// branches and JAL); JALR's target depends on a register and is
	// resolved by the BLU at issue, not here.
	Target uint32
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

func immI(word uint32) int32 { return signExtend(word>>20, 12) }

func immS(word uint32) int32 {
	low := (word >> 7) & 0x1F
	hi := (word >> 25) & 0x7F
	return signExtend((hi<<5)|low, 12)
}

func immB(word uint32) int32 {
	imm := ((word>>31)&1)<<12 |
		((word>>25)&0x3F)<<5 |
		((word>>8)&0xF)<<1 |
		((word>>7)&1)<<11
	return signExtend(imm, 13)
}

func immU(word uint32) int32 { return int32(word & 0xFFFFF000) }

func immJ(word uint32) int32 {
	imm := ((word>>31)&1)<<20 |
		((word>>21)&0x3FF)<<1 |
		((word>>20)&1)<<11 |
		((word>>12)&0xFF)<<12
	return signExtend(imm, 21)
}

// Decode turns a raw word fetched at pc into a micro-op. An unrecognised
// opcode (or unrecognised funct3/funct7 within a recognised opcode) never
// fails outright: it becomes an OpDecodeFault micro-op whose fault is only
// raised if it is still live when it reaches commit.
func Decode(word uint32, pc uint32) Instruction {
	opcode := word & 0x7F
	rd := uint8((word >> 7) & 0x1F)
	f3 := (word >> 12) & 0x7
	rs1 := uint8((word >> 15) & 0x1F)
	rs2 := uint8((word >> 20) & 0x1F)
	f7 := (word >> 25) & 0x7F

	in := Instruction{PC: pc}

	switch opcode {
	case 0x37: // LUI
		in.Op = OpLUI
		in.HasRd, in.Rd = true, rd
		in.Imm = immU(word)
	case 0x17: // AUIPC
		in.Op = OpAUIPC
		in.HasRd, in.Rd = true, rd
		in.Imm = immU(word)
	case 0x6F: // JAL
		in.Op = OpJAL
		in.HasRd, in.Rd = true, rd
		in.Imm = immJ(word)
		in.Target = pc + uint32(in.Imm)
	case 0x67: // JALR
		if f3 != 0 {
			return faultInstruction(pc, word)
		}
		in.Op = OpJALR
		in.HasRd, in.Rd = true, rd
		in.HasRs1, in.Rs1 = true, rs1
		in.Imm = immI(word)
	case 0x63: // BRANCH
		switch f3 {
		case 0x0:
			in.Op = OpBEQ
		case 0x1:
			in.Op = OpBNE
		case 0x4:
			in.Op = OpBLT
		case 0x5:
			in.Op = OpBGE
		case 0x6:
			in.Op = OpBLTU
		case 0x7:
			in.Op = OpBGEU
		default:
			return faultInstruction(pc, word)
		}
		in.HasRs1, in.Rs1 = true, rs1
		in.HasRs2, in.Rs2 = true, rs2
		in.Imm = immB(word)
		in.Target = pc + uint32(in.Imm)
	case 0x03: // LOAD
		switch f3 {
		case 0x0:
			in.Op = OpLB
		case 0x1:
			in.Op = OpLH
		case 0x2:
			in.Op = OpLW
		case 0x4:
			in.Op = OpLBU
		case 0x5:
			in.Op = OpLHU
		default:
			return faultInstruction(pc, word)
		}
		in.HasRs1, in.Rs1 = true, rs1
		in.HasRd, in.Rd = true, rd
		in.Imm = immI(word)
	case 0x23: // STORE
		switch f3 {
		case 0x0:
			in.Op = OpSB
		case 0x1:
			in.Op = OpSH
		case 0x2:
			in.Op = OpSW
		default:
			return faultInstruction(pc, word)
		}
		in.HasRs1, in.Rs1 = true, rs1
		in.HasRs2, in.Rs2 = true, rs2
		in.Imm = immS(word)
	case 0x13: // OP-IMM
		in.HasRs1, in.Rs1 = true, rs1
		in.HasRd, in.Rd = true, rd
		switch f3 {
		case 0x0:
			in.Op = OpADDI
			in.Imm = immI(word)
		case 0x2:
			in.Op = OpSLTI
			in.Imm = immI(word)
		case 0x3:
			in.Op = OpSLTIU
			in.Imm = immI(word)
		case 0x4:
			in.Op = OpXORI
			in.Imm = immI(word)
		case 0x6:
			in.Op = OpORI
			in.Imm = immI(word)
		case 0x7:
			in.Op = OpANDI
			in.Imm = immI(word)
		case 0x1:
			if f7 != 0x00 {
				return faultInstruction(pc, word)
			}
			in.Op = OpSLLI
			in.Imm = int32(rs2) // shift amount in bits [24:20]
		case 0x5:
			switch f7 {
			case 0x00:
				in.Op = OpSRLI
				in.Imm = int32(rs2)
			case 0x20:
				in.Op = OpSRAI
				in.Imm = int32(rs2)
			default:
				return faultInstruction(pc, word)
			}
		default:
			return faultInstruction(pc, word)
		}
	case 0x33: // OP / MUL-DIV
		in.HasRs1, in.Rs1 = true, rs1
		in.HasRs2, in.Rs2 = true, rs2
		in.HasRd, in.Rd = true, rd
		switch {
		case f3 == 0x0 && f7 == 0x00:
			in.Op = OpADD
		case f3 == 0x0 && f7 == 0x20:
			in.Op = OpSUB
		case f3 == 0x1 && f7 == 0x00:
			in.Op = OpSLL
		case f3 == 0x2 && f7 == 0x00:
			in.Op = OpSLT
		case f3 == 0x3 && f7 == 0x00:
			in.Op = OpSLTU
		case f3 == 0x4 && f7 == 0x00:
			in.Op = OpXOR
		case f3 == 0x5 && f7 == 0x00:
			in.Op = OpSRL
		case f3 == 0x5 && f7 == 0x20:
			in.Op = OpSRA
		case f3 == 0x6 && f7 == 0x00:
			in.Op = OpOR
		case f3 == 0x7 && f7 == 0x00:
			in.Op = OpAND
		case f3 == 0x0 && f7 == 0x01:
			in.Op = OpMUL
		case f3 == 0x1 && f7 == 0x01:
			in.Op = OpMULH
		case f3 == 0x2 && f7 == 0x01:
			in.Op = OpMULHSU
		case f3 == 0x3 && f7 == 0x01:
			in.Op = OpMULHU
		case f3 == 0x4 && f7 == 0x01:
			in.Op = OpDIV
		case f3 == 0x5 && f7 == 0x01:
			in.Op = OpDIVU
		case f3 == 0x6 && f7 == 0x01:
			in.Op = OpREM
		case f3 == 0x7 && f7 == 0x01:
			in.Op = OpREMU
		default:
			return faultInstruction(pc, word)
		}
	case 0x0F: // FENCE
		in.Op = OpFENCE
	case 0x73: // SYSTEM
		switch word {
		case 0x00000073:
			in.Op = OpECALL
		case 0x00100073:
			in.Op = OpEBREAK
		default:
			return faultInstruction(pc, word)
		}
	default:
		return faultInstruction(pc, word)
	}

	return in
}

// faultInstruction synthesizes the micro-op standing in for a word that
// failed to decode: it flows through the pipeline like any other
// instruction and only halts the machine if it reaches commit.
func faultInstruction(pc, word uint32) Instruction {
	return Instruction{PC: pc, Op: OpDecodeFault, Fault: &DecodeFault{PC: pc, Word: word}}
}
