package engine

import "math"

// latencyOf pins the per-op-kind latency table spec.md §9 leaves as an
// open question in the Rust original (execute.rs/writeback.rs are
// unimplemented there). This is the single source of truth.
func latencyOf(op Op) int {
	switch op {
	case OpMUL, OpMULH, OpMULHSU, OpMULHU:
		return 3
	case OpDIV, OpDIVU, OpREM, OpREMU:
		return 6
	case OpLB, OpLH, OpLW, OpLBU, OpLHU, OpSB, OpSH, OpSW:
		return 3
	case OpFENCE, OpECALL, OpEBREAK:
		return 1
	default:
		switch UnitKindOf(op) {
		case UnitBLU:
			return 1
		default:
			return 1
		}
	}
}

// FunctionalUnit is a fixed-depth shift register holding at most one
// occupant, advanced once per cycle (spec.md §4.2). The result is computed
// eagerly at Issue and only exposed once the countdown reaches zero and
// Drain is called from writeback; this is a behavioural model, not a
// gate-level one, so nothing is lost by computing early and revealing late.
type FunctionalUnit struct {
	Kind      UnitKind
	busy      bool
	remaining int
	robSeq    uint64
	result    robResult
}

func NewFunctionalUnit(kind UnitKind) *FunctionalUnit { return &FunctionalUnit{Kind: kind} }

func (u *FunctionalUnit) Free() bool { return !u.busy }

// Issue binds a ready micro-op to this unit and computes its result now.
func (u *FunctionalUnit) Issue(uop Instruction, robSeq uint64, rs1v, rs2v uint32, mem *Memory) {
	u.busy = true
	u.remaining = latencyOf(uop.Op)
	u.robSeq = robSeq
	if uop.Fault != nil {
		u.result = robResult{Fault: uop.Fault}
		return
	}
	switch UnitKindOf(uop.Op) {
	case UnitALU:
		u.result = robResult{Value: aluExecute(uop, rs1v, rs2v)}
	case UnitBLU:
		taken, truePC, link := bluExecute(uop, rs1v, rs2v)
		u.result = robResult{
			Value:        link,
			Taken:        taken,
			TruePC:       truePC,
			Mispredicted: truePC != uop.PredPC,
		}
	case UnitMCU:
		u.result = mcuExecute(uop, rs1v, rs2v, mem)
	}
}

// Execute advances the shift register one cycle.
func (u *FunctionalUnit) Execute() {
	if u.busy && u.remaining > 0 {
		u.remaining--
	}
}

// Drain removes and returns a finished occupant's result. Called from
// writeback, before Issue can place a new occupant in the same cycle.
func (u *FunctionalUnit) Drain() (robResult, uint64, bool) {
	if u.busy && u.remaining <= 0 {
		res, seq := u.result, u.robSeq
		u.busy = false
		return res, seq, true
	}
	return robResult{}, 0, false
}

// Clear discards an in-flight occupant outright, for squash recovery.
func (u *FunctionalUnit) Clear() { u.busy = false }

func aluExecute(uop Instruction, a, b uint32) uint32 {
	imm := uint32(uop.Imm)
	switch uop.Op {
	case OpLUI:
		return imm
	case OpAUIPC:
		return uop.PC + imm
	case OpADDI:
		return a + imm
	case OpSLTI:
		if int32(a) < uop.Imm {
			return 1
		}
		return 0
	case OpSLTIU:
		if a < imm {
			return 1
		}
		return 0
	case OpXORI:
		return a ^ imm
	case OpORI:
		return a | imm
	case OpANDI:
		return a & imm
	case OpSLLI:
		return a << (imm & 0x1F)
	case OpSRLI:
		return a >> (imm & 0x1F)
	case OpSRAI:
		return uint32(int32(a) >> (imm & 0x1F))
	case OpADD:
		return a + b
	case OpSUB:
		return a - b
	case OpSLL:
		return a << (b & 0x1F)
	case OpSLT:
		if int32(a) < int32(b) {
			return 1
		}
		return 0
	case OpSLTU:
		if a < b {
			return 1
		}
		return 0
	case OpXOR:
		return a ^ b
	case OpSRL:
		return a >> (b & 0x1F)
	case OpSRA:
		return uint32(int32(a) >> (b & 0x1F))
	case OpOR:
		return a | b
	case OpAND:
		return a & b
	case OpMUL:
		return a * b
	case OpMULH:
		prod := int64(int32(a)) * int64(int32(b))
		return uint32(prod >> 32)
	case OpMULHSU:
		prod := int64(int32(a)) * int64(b)
		return uint32(prod >> 32)
	case OpMULHU:
		prod := uint64(a) * uint64(b)
		return uint32(prod >> 32)
	case OpDIV:
		if b == 0 {
			return 0xFFFFFFFF
		}
		if int32(a) == math.MinInt32 && int32(b) == -1 {
			return a
		}
		return uint32(int32(a) / int32(b))
	case OpDIVU:
		if b == 0 {
			return 0xFFFFFFFF
		}
		return a / b
	case OpREM:
		if b == 0 {
			return a
		}
		if int32(a) == math.MinInt32 && int32(b) == -1 {
			return 0
		}
		return uint32(int32(a) % int32(b))
	case OpREMU:
		if b == 0 {
			return a
		}
		return a % b
	default:
		return 0
	}
}

// bluExecute resolves a branch or jump: whether it is taken, the true
// next PC, and (for JAL/JALR) the link value written to rd.
func bluExecute(uop Instruction, rs1v, rs2v uint32) (taken bool, truePC uint32, link uint32) {
	switch uop.Op {
	case OpJAL:
		return true, uop.Target, uop.PC + 4
	case OpJALR:
		target := (rs1v + uint32(uop.Imm)) &^ 1
		return true, target, uop.PC + 4
	}

	switch uop.Op {
	case OpBEQ:
		taken = rs1v == rs2v
	case OpBNE:
		taken = rs1v != rs2v
	case OpBLT:
		taken = int32(rs1v) < int32(rs2v)
	case OpBGE:
		taken = int32(rs1v) >= int32(rs2v)
	case OpBLTU:
		taken = rs1v < rs2v
	case OpBGEU:
		taken = rs1v >= rs2v
	}
	if taken {
		truePC = uop.Target
	} else {
		truePC = uop.PC + 4
	}
	return taken, truePC, 0
}

func memWidth(op Op) (width uint32, isStore bool, isLoad bool) {
	switch op {
	case OpLB, OpLBU:
		return 1, false, true
	case OpLH, OpLHU:
		return 2, false, true
	case OpLW:
		return 4, false, true
	case OpSB:
		return 1, true, false
	case OpSH:
		return 2, true, false
	case OpSW:
		return 4, true, false
	default:
		return 0, false, false
	}
}

// mcuExecute computes the effective address for loads/stores and, for
// loads only, performs the (side-effect-free) read now. Stores carry
// address+payload through to commit, where the write actually happens;
// see SPEC_FULL.md for why this split is load-bearing for precise faults.
func mcuExecute(uop Instruction, rs1v, rs2v uint32, mem *Memory) robResult {
	width, isStore, isLoad := memWidth(uop.Op)
	if width == 0 {
		return robResult{} // FENCE, ECALL, EBREAK: no memory access
	}

	addr := rs1v + uint32(uop.Imm)
	if !mem.CheckAccess(addr, width) {
		cause := "out of bounds"
		if width > 1 && addr%width != 0 {
			cause = "misaligned access"
		}
		return robResult{
			MemAddr:  addr,
			MemWidth: int(width),
			Fault:    &MemoryFault{PC: uop.PC, Addr: addr, Width: int(width), Cause: cause},
		}
	}

	if isStore {
		return robResult{MemAddr: addr, MemData: rs2v, MemWidth: int(width)}
	}

	if isLoad {
		var value uint32
		switch width {
		case 1:
			v, _ := mem.ReadByte(addr)
			if uop.Op == OpLB {
				value = uint32(int32(int8(v)))
			} else {
				value = uint32(v)
			}
		case 2:
			v, _ := mem.ReadHalf(addr)
			if uop.Op == OpLH {
				value = uint32(int32(int16(v)))
			} else {
				value = uint32(v)
			}
		case 4:
			v, _ := mem.ReadWord(addr)
			value = v
		}
		return robResult{Value: value, MemAddr: addr, MemWidth: int(width)}
	}
	return robResult{}
}
