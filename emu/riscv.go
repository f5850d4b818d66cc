// risc-v register file and instruction formats
package emu

// Register represents a single riscv register file
type Register uint8

// variants of the risc-v register
const (
	Zero Register = iota
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
	Pc
)

var registerNames = [...]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
	"pc",
}

func (r Register) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	return "invalid"
}

func GetReg(reg uint32) Register {
	if reg > 31 {
		return Zero
	}
	return Register(uint8(reg))
}

// major opcodes of the base and M instruction sets
const (
	OpLoad   uint8 = 0b0000011
	OpFence  uint8 = 0b0001111
	OpImm    uint8 = 0b0010011
	OpAuipc  uint8 = 0b0010111
	OpImm32  uint8 = 0b0011011
	OpStore  uint8 = 0b0100011
	OpReg    uint8 = 0b0110011
	OpLui    uint8 = 0b0110111
	OpReg32  uint8 = 0b0111011
	OpBranch uint8 = 0b1100011
	OpJalr   uint8 = 0b1100111
	OpJal    uint8 = 0b1101111
	OpSystem uint8 = 0b1110011
)

// raw encodings of the privileged instructions the emulator looks at
const (
	instEcall  uint32 = 0x00000073
	instEbreak uint32 = 0x00100073
)

// Rtype instructions represent register to register computations
type Rtype struct {
	rd     Register
	funct3 uint32
	rs1    Register
	rs2    Register
	funct7 uint32
}

func decodeR(inst uint32) Rtype {
	return Rtype{
		rd:     GetReg((inst >> 7) & 0b11111),
		funct3: (inst >> 12) & 0b111,
		rs1:    GetReg((inst >> 15) & 0b11111),
		rs2:    GetReg((inst >> 20) & 0b11111),
		funct7: (inst >> 25) & 0b1111111,
	}
}

// Itype for loads, jalr and short immediate operations
type Itype struct {
	rd     Register
	funct3 uint32
	rs1    Register
	imm    int32
}

func decodeI(inst uint32) Itype {
	return Itype{
		rd:     GetReg((inst >> 7) & 0b11111),
		funct3: (inst >> 12) & 0b111,
		rs1:    GetReg((inst >> 15) & 0b11111),
		imm:    int32(inst) >> 20,
	}
}

// Stype for stores
type Stype struct {
	funct3 uint32
	rs1    Register
	rs2    Register
	imm    int32
}

func decodeS(inst uint32) Stype {
	imm115 := (inst >> 25) & 0b1111111
	imm40 := (inst >> 7) & 0b11111
	imm := (imm115 << 5) | imm40
	return Stype{
		funct3: (inst >> 12) & 0b111,
		rs1:    GetReg((inst >> 15) & 0b11111),
		rs2:    GetReg((inst >> 20) & 0b11111),
		imm:    (int32(imm) << 20) >> 20,
	}
}

// Btype for conditional branch operation
type Btype struct {
	imm    int32
	funct3 uint32
	rs1    Register
	rs2    Register
}

func decodeB(inst uint32) Btype {
	imm12 := (inst >> 31) & 0b1
	imm105 := (inst >> 25) & 0b111111
	imm41 := (inst >> 8) & 0b1111
	imm11 := (inst >> 7) & 0b1
	imm := (imm12 << 12) | (imm11 << 11) | (imm105 << 5) | (imm41 << 1)
	return Btype{
		rs1:    GetReg((inst >> 15) & 0b11111),
		rs2:    GetReg((inst >> 20) & 0b11111),
		funct3: (inst >> 12) & 0b111,
		imm:    (int32(imm) << 19) >> 19,
	}
}

// Utype for long immediate operations. imm is already shifted into place
// and sign extended from bit 31.
type Utype struct {
	rd  Register
	imm int64
}

func decodeU(inst uint32) Utype {
	return Utype{
		rd:  GetReg((inst >> 7) & 0b11111),
		imm: int64(int32(inst & 0xfffff000)),
	}
}

// Jtype for unconditional jump operations
type Jtype struct {
	rd  Register
	imm int32
}

func decodeJ(inst uint32) Jtype {
	imm20 := (inst >> 31) & 0b1
	imm101 := (inst >> 21) & 0b1111111111
	imm11 := (inst >> 20) & 0b1
	imm1912 := (inst >> 12) & 0b11111111

	imm := (imm20 << 20) | (imm1912 << 12) | (imm11 << 11) | (imm101 << 1)
	return Jtype{
		rd:  GetReg((inst >> 7) & 0b11111),
		imm: (int32(imm) << 11) >> 11,
	}
}
