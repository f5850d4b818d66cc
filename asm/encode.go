package asm

import "github.com/pkg/errors"

// Reg is an RV64 integer register, named by its ABI role.
type Reg uint8

const (
	Zero Reg = iota
	Ra
	Sp
	Gp
	Tp
	T0
	T1
	T2
	S0 // also FP
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
)

// major opcodes
const (
	opLoad    = 0b0000011
	opMiscMem = 0b0001111
	opImm     = 0b0010011
	opAuipc   = 0b0010111
	opImm32   = 0b0011011
	opStore   = 0b0100011
	opReg     = 0b0110011
	opLui     = 0b0110111
	opReg32   = 0b0111011
	opBranch  = 0b1100011
	opJalr    = 0b1100111
	opJal     = 0b1101111
	opSystem  = 0b1110011
)

func encodeR(funct7, rs2, rs1, funct3, rd, opcode uint32) uint32 {
	return (funct7 << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

func encodeI(imm int32, rs1 uint32, funct3 uint32, rd uint32, opcode uint32) (uint32, error) {
	if imm < -2048 || imm > 2047 {
		return 0, errors.Errorf("riscv: immediate %d out of range for I-type", imm)
	}
	uimm := uint32(imm) & 0xfff
	return (uimm << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode, nil
}

func encodeS(imm int32, rs1 uint32, rs2 uint32, funct3 uint32, opcode uint32) (uint32, error) {
	if imm < -2048 || imm > 2047 {
		return 0, errors.Errorf("riscv: immediate %d out of range for S-type", imm)
	}
	uimm := uint32(imm) & 0xfff
	immHi := (uimm >> 5) & 0x7f
	immLo := uimm & 0x1f

	return (immHi << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (immLo << 7) | opcode, nil
}

func encodeU(imm int32, rd uint32, opcode uint32) uint32 {
	uimm := uint32(imm) & 0xfffff
	return (uimm << 12) | (rd << 7) | opcode
}

// branchImm scatters a B-type offset into its instruction bits.
func branchImm(offset int64) (uint32, error) {
	if offset%2 != 0 || offset < -4096 || offset > 4094 {
		return 0, errors.Errorf("riscv: branch offset %d out of range", offset)
	}
	imm := uint32(offset)
	return ((imm>>12)&0x1)<<31 |
		((imm>>5)&0x3f)<<25 |
		((imm>>1)&0xf)<<8 |
		((imm>>11)&0x1)<<7, nil
}

// jumpImm scatters a J-type offset into its instruction bits.
func jumpImm(offset int64) (uint32, error) {
	if offset%2 != 0 || offset < -(1<<20) || offset > (1<<20)-2 {
		return 0, errors.Errorf("riscv: jump offset %d out of range", offset)
	}
	imm := uint32(offset)
	return ((imm>>20)&0x1)<<31 |
		((imm>>1)&0x3ff)<<21 |
		((imm>>11)&0x1)<<20 |
		((imm>>12)&0xff)<<12, nil
}

// splitPCRel splits a pc relative offset into the auipc and addi halves.
func splitPCRel(offset int64) (hi, lo int32, err error) {
	if offset < -(1<<31) || offset >= (1<<31)-(1<<11) {
		return 0, 0, errors.Errorf("riscv: pc relative offset %d out of range", offset)
	}
	h := (offset + (1 << 11)) >> 12
	return int32(h), int32(offset - h<<12), nil
}
