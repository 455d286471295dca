package engine

// Instruction-encoding helpers, in the teacher's cpu_test.go style: small
// bit-packing functions rather than an assembler, used to hand-build test
// programs.

func encR(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encI(opcode, rd, funct3, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encS(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u&0x1F)<<7 | opcode
}

func encB(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	bit12 := (u >> 12) & 1
	bit11 := (u >> 11) & 1
	bits10_5 := (u >> 5) & 0x3F
	bits4_1 := (u >> 1) & 0xF
	return bit12<<31 | bits10_5<<25 | rs2<<20 | rs1<<15 | funct3<<12 | bits4_1<<8 | bit11<<7 | opcode
}

func encU(opcode, rd uint32, imm20 int32) uint32 {
	return uint32(imm20)&0xFFFFF000 | rd<<7 | opcode
}

func encJ(opcode, rd uint32, imm int32) uint32 {
	u := uint32(imm)
	bit20 := (u >> 20) & 1
	bits10_1 := (u >> 1) & 0x3FF
	bit11 := (u >> 11) & 1
	bits19_12 := (u >> 12) & 0xFF
	return bit20<<31 | bits10_1<<21 | bit11<<20 | bits19_12<<12 | rd<<7 | opcode
}

func encADDI(rd, rs1 uint32, imm int32) uint32 { return encI(0x13, rd, 0x0, rs1, imm) }
func encADD(rd, rs1, rs2 uint32) uint32        { return encR(0x33, rd, 0x0, rs1, rs2, 0x00) }
func encSUB(rd, rs1, rs2 uint32) uint32        { return encR(0x33, rd, 0x0, rs1, rs2, 0x20) }
func encMUL(rd, rs1, rs2 uint32) uint32        { return encR(0x33, rd, 0x0, rs1, rs2, 0x01) }
func encBEQ(rs1, rs2 uint32, imm int32) uint32 { return encB(0x63, 0x0, rs1, rs2, imm) }
func encBNE(rs1, rs2 uint32, imm int32) uint32 { return encB(0x63, 0x1, rs1, rs2, imm) }
func encJAL(rd uint32, imm int32) uint32       { return encJ(0x6F, rd, imm) }
func encSW(rs1, rs2 uint32, imm int32) uint32  { return encS(0x23, 0x2, rs1, rs2, imm) }
func encLW(rd, rs1 uint32, imm int32) uint32   { return encI(0x03, rd, 0x2, rs1, imm) }
func encECALL() uint32                         { return 0x00000073 }
func encEBREAK() uint32                        { return 0x00100073 }

// writeWords places a little-endian instruction stream at addr.
func writeWords(mem *Memory, addr uint32, words []uint32) {
	for i, w := range words {
		mem.WriteWord(addr+uint32(i*4), w)
	}
}

// runUntilHalt steps eng until it halts or maxCycles is exceeded.
func runUntilHalt(eng *Engine, maxCycles uint64) {
	for i := uint64(0); i < maxCycles && !eng.Halted(); i++ {
		eng.Step()
	}
}
