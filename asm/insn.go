package asm

import "github.com/pkg/errors"

func (b *Builder) rtype(funct7, funct3, op uint32, rd, rs1, rs2 Reg) {
	b.Word(encodeR(funct7, uint32(rs2), uint32(rs1), funct3, uint32(rd), op))
}

func (b *Builder) itype(op, funct3 uint32, rd, rs1 Reg, imm int32) {
	b.emit(encodeI(imm, uint32(rs1), funct3, uint32(rd), op))
}

func (b *Builder) shift(op, funct3 uint32, arith bool, rd, rs1 Reg, shamt uint32, width uint32) {
	if shamt >= width {
		b.fail(errors.Errorf("asm: shift amount %d out of range", shamt))
		return
	}
	imm := int32(shamt)
	if arith {
		imm |= 0x400
	}
	b.itype(op, funct3, rd, rs1, imm)
}

// register-register arithmetic

func (b *Builder) Add(rd, rs1, rs2 Reg)  { b.rtype(0x00, 0x0, opReg, rd, rs1, rs2) }
func (b *Builder) Sub(rd, rs1, rs2 Reg)  { b.rtype(0x20, 0x0, opReg, rd, rs1, rs2) }
func (b *Builder) Sll(rd, rs1, rs2 Reg)  { b.rtype(0x00, 0x1, opReg, rd, rs1, rs2) }
func (b *Builder) Slt(rd, rs1, rs2 Reg)  { b.rtype(0x00, 0x2, opReg, rd, rs1, rs2) }
func (b *Builder) Sltu(rd, rs1, rs2 Reg) { b.rtype(0x00, 0x3, opReg, rd, rs1, rs2) }
func (b *Builder) Xor(rd, rs1, rs2 Reg)  { b.rtype(0x00, 0x4, opReg, rd, rs1, rs2) }
func (b *Builder) Srl(rd, rs1, rs2 Reg)  { b.rtype(0x00, 0x5, opReg, rd, rs1, rs2) }
func (b *Builder) Sra(rd, rs1, rs2 Reg)  { b.rtype(0x20, 0x5, opReg, rd, rs1, rs2) }
func (b *Builder) Or(rd, rs1, rs2 Reg)   { b.rtype(0x00, 0x6, opReg, rd, rs1, rs2) }
func (b *Builder) And(rd, rs1, rs2 Reg)  { b.rtype(0x00, 0x7, opReg, rd, rs1, rs2) }

func (b *Builder) Addw(rd, rs1, rs2 Reg) { b.rtype(0x00, 0x0, opReg32, rd, rs1, rs2) }
func (b *Builder) Subw(rd, rs1, rs2 Reg) { b.rtype(0x20, 0x0, opReg32, rd, rs1, rs2) }
func (b *Builder) Sllw(rd, rs1, rs2 Reg) { b.rtype(0x00, 0x1, opReg32, rd, rs1, rs2) }
func (b *Builder) Srlw(rd, rs1, rs2 Reg) { b.rtype(0x00, 0x5, opReg32, rd, rs1, rs2) }
func (b *Builder) Sraw(rd, rs1, rs2 Reg) { b.rtype(0x20, 0x5, opReg32, rd, rs1, rs2) }

// M extension

func (b *Builder) Mul(rd, rs1, rs2 Reg)    { b.rtype(0x01, 0x0, opReg, rd, rs1, rs2) }
func (b *Builder) Mulh(rd, rs1, rs2 Reg)   { b.rtype(0x01, 0x1, opReg, rd, rs1, rs2) }
func (b *Builder) Mulhsu(rd, rs1, rs2 Reg) { b.rtype(0x01, 0x2, opReg, rd, rs1, rs2) }
func (b *Builder) Mulhu(rd, rs1, rs2 Reg)  { b.rtype(0x01, 0x3, opReg, rd, rs1, rs2) }
func (b *Builder) Div(rd, rs1, rs2 Reg)    { b.rtype(0x01, 0x4, opReg, rd, rs1, rs2) }
func (b *Builder) Divu(rd, rs1, rs2 Reg)   { b.rtype(0x01, 0x5, opReg, rd, rs1, rs2) }
func (b *Builder) Rem(rd, rs1, rs2 Reg)    { b.rtype(0x01, 0x6, opReg, rd, rs1, rs2) }
func (b *Builder) Remu(rd, rs1, rs2 Reg)   { b.rtype(0x01, 0x7, opReg, rd, rs1, rs2) }
func (b *Builder) Mulw(rd, rs1, rs2 Reg)   { b.rtype(0x01, 0x0, opReg32, rd, rs1, rs2) }
func (b *Builder) Divw(rd, rs1, rs2 Reg)   { b.rtype(0x01, 0x4, opReg32, rd, rs1, rs2) }
func (b *Builder) Divuw(rd, rs1, rs2 Reg)  { b.rtype(0x01, 0x5, opReg32, rd, rs1, rs2) }
func (b *Builder) Remw(rd, rs1, rs2 Reg)   { b.rtype(0x01, 0x6, opReg32, rd, rs1, rs2) }
func (b *Builder) Remuw(rd, rs1, rs2 Reg)  { b.rtype(0x01, 0x7, opReg32, rd, rs1, rs2) }

// register-immediate arithmetic

func (b *Builder) Addi(rd, rs1 Reg, imm int32)  { b.itype(opImm, 0x0, rd, rs1, imm) }
func (b *Builder) Slti(rd, rs1 Reg, imm int32)  { b.itype(opImm, 0x2, rd, rs1, imm) }
func (b *Builder) Sltiu(rd, rs1 Reg, imm int32) { b.itype(opImm, 0x3, rd, rs1, imm) }
func (b *Builder) Xori(rd, rs1 Reg, imm int32)  { b.itype(opImm, 0x4, rd, rs1, imm) }
func (b *Builder) Ori(rd, rs1 Reg, imm int32)   { b.itype(opImm, 0x6, rd, rs1, imm) }
func (b *Builder) Andi(rd, rs1 Reg, imm int32)  { b.itype(opImm, 0x7, rd, rs1, imm) }
func (b *Builder) Addiw(rd, rs1 Reg, imm int32) { b.itype(opImm32, 0x0, rd, rs1, imm) }

func (b *Builder) Slli(rd, rs1 Reg, shamt uint32)  { b.shift(opImm, 0x1, false, rd, rs1, shamt, 64) }
func (b *Builder) Srli(rd, rs1 Reg, shamt uint32)  { b.shift(opImm, 0x5, false, rd, rs1, shamt, 64) }
func (b *Builder) Srai(rd, rs1 Reg, shamt uint32)  { b.shift(opImm, 0x5, true, rd, rs1, shamt, 64) }
func (b *Builder) Slliw(rd, rs1 Reg, shamt uint32) { b.shift(opImm32, 0x1, false, rd, rs1, shamt, 32) }
func (b *Builder) Srliw(rd, rs1 Reg, shamt uint32) { b.shift(opImm32, 0x5, false, rd, rs1, shamt, 32) }
func (b *Builder) Sraiw(rd, rs1 Reg, shamt uint32) { b.shift(opImm32, 0x5, true, rd, rs1, shamt, 32) }

// Lui loads imm (20 bits) into the upper bits of rd.
func (b *Builder) Lui(rd Reg, imm int32) { b.Word(encodeU(imm, uint32(rd), opLui)) }

// Auipc adds imm (20 bits) shifted up by 12 to pc.
func (b *Builder) Auipc(rd Reg, imm int32) { b.Word(encodeU(imm, uint32(rd), opAuipc)) }

// loads and stores

func (b *Builder) Lb(rd, base Reg, off int32)  { b.itype(opLoad, 0x0, rd, base, off) }
func (b *Builder) Lh(rd, base Reg, off int32)  { b.itype(opLoad, 0x1, rd, base, off) }
func (b *Builder) Lw(rd, base Reg, off int32)  { b.itype(opLoad, 0x2, rd, base, off) }
func (b *Builder) Ld(rd, base Reg, off int32)  { b.itype(opLoad, 0x3, rd, base, off) }
func (b *Builder) Lbu(rd, base Reg, off int32) { b.itype(opLoad, 0x4, rd, base, off) }
func (b *Builder) Lhu(rd, base Reg, off int32) { b.itype(opLoad, 0x5, rd, base, off) }
func (b *Builder) Lwu(rd, base Reg, off int32) { b.itype(opLoad, 0x6, rd, base, off) }

func (b *Builder) store(funct3 uint32, src, base Reg, off int32) {
	b.emit(encodeS(off, uint32(base), uint32(src), funct3, opStore))
}

func (b *Builder) Sb(src, base Reg, off int32) { b.store(0x0, src, base, off) }
func (b *Builder) Sh(src, base Reg, off int32) { b.store(0x1, src, base, off) }
func (b *Builder) Sw(src, base Reg, off int32) { b.store(0x2, src, base, off) }
func (b *Builder) Sd(src, base Reg, off int32) { b.store(0x3, src, base, off) }

// control transfer

func (b *Builder) branch(funct3 uint32, rs1, rs2 Reg, target string) {
	b.emitFixup(fixBranch, target, encodeR(0, uint32(rs2), uint32(rs1), funct3, 0, opBranch))
}

func (b *Builder) Beq(rs1, rs2 Reg, target string)  { b.branch(0x0, rs1, rs2, target) }
func (b *Builder) Bne(rs1, rs2 Reg, target string)  { b.branch(0x1, rs1, rs2, target) }
func (b *Builder) Blt(rs1, rs2 Reg, target string)  { b.branch(0x4, rs1, rs2, target) }
func (b *Builder) Bge(rs1, rs2 Reg, target string)  { b.branch(0x5, rs1, rs2, target) }
func (b *Builder) Bltu(rs1, rs2 Reg, target string) { b.branch(0x6, rs1, rs2, target) }
func (b *Builder) Bgeu(rs1, rs2 Reg, target string) { b.branch(0x7, rs1, rs2, target) }

// Jal jumps to target, linking into rd.
func (b *Builder) Jal(rd Reg, target string) {
	b.emitFixup(fixJump, target, uint32(rd)<<7|opJal)
}

// Jalr jumps to rs1+off, linking into rd.
func (b *Builder) Jalr(rd, rs1 Reg, off int32) { b.itype(opJalr, 0x0, rd, rs1, off) }

func (b *Builder) J(target string)    { b.Jal(Zero, target) }
func (b *Builder) Call(target string) { b.Jal(Ra, target) }
func (b *Builder) Ret()               { b.Jalr(Zero, Ra, 0) }

// La loads the address of a label into rd (auipc + addi).
func (b *Builder) La(rd Reg, target string) {
	b.emitFixup(fixPCRel, target,
		encodeU(0, uint32(rd), opAuipc),
		encodeR(0, 0, uint32(rd), 0x0, uint32(rd), opImm),
	)
}

func (b *Builder) Mv(rd, rs Reg) { b.Addi(rd, rs, 0) }
func (b *Builder) Nop()          { b.Addi(Zero, Zero, 0) }

// Li loads a 64-bit constant the way compilers materialise one: addi for
// 12 bits, lui+addiw for 32 bits, and shifted chunks of 12 bits beyond.
func (b *Builder) Li(rd Reg, value int64) {
	if value >= -2048 && value <= 2047 {
		b.Addi(rd, Zero, int32(value))
		return
	}
	if value >= -(1<<31) && value <= (1<<31)-1 {
		hi := (value + (1 << 11)) >> 12
		lo := value - hi<<12
		b.Lui(rd, int32(hi))
		if lo != 0 {
			b.Addiw(rd, rd, int32(lo))
		}
		return
	}

	lo := value << 52 >> 52
	hi := (value - lo) >> 12
	shift := uint32(12)
	for hi&1 == 0 {
		hi >>= 1
		shift++
	}
	b.Li(rd, hi)
	b.Slli(rd, rd, shift)
	if lo != 0 {
		b.Addi(rd, rd, int32(lo))
	}
}

// system

func (b *Builder) Ecall()  { b.Word(0x00000073) }
func (b *Builder) Ebreak() { b.Word(0x00100073) }
func (b *Builder) Fence()  { b.Word(0x0ff00000 | opMiscMem) }
