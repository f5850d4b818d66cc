// RISC-V instruction operation logic - functions that perform the operation
// of the instruction
package emu

import (
	"math/bits"

	"github.com/pkg/errors"
)

// ErrDivideByZero halts the guest on an integer division by zero.
var ErrDivideByZero = errors.New("divide by zero")

// ErrIllegalInstruction is returned for encodings the emulator does not
// implement.
var ErrIllegalInstruction = errors.New("illegal instruction")

func illegal(inst uint32) error {
	return errors.Wrapf(ErrIllegalInstruction, "%#08x", inst)
}

// Rtype register-register arithmetic operations
func (e *Emulator) execRtypeArith(ins uint32) error {
	inst := decodeR(ins)
	rs1 := e.Reg(inst.rs1)
	rs2 := e.Reg(inst.rs2)

	switch inst.funct7 {
	case 0x00:
		switch inst.funct3 {
		case 0x0:
			// ADD
			e.SetReg(inst.rd, rs1+rs2)
		case 0x1:
			// SLL
			e.SetReg(inst.rd, rs1<<(rs2&0b111111))
		case 0x2:
			// SLT
			e.SetReg(inst.rd, boolToReg(int64(rs1) < int64(rs2)))
		case 0x3:
			// SLTU
			e.SetReg(inst.rd, boolToReg(rs1 < rs2))
		case 0x4:
			// XOR
			e.SetReg(inst.rd, rs1^rs2)
		case 0x5:
			// SRL
			e.SetReg(inst.rd, rs1>>(rs2&0b111111))
		case 0x6:
			// OR
			e.SetReg(inst.rd, rs1|rs2)
		case 0x7:
			// AND
			e.SetReg(inst.rd, rs1&rs2)
		}
	case 0x20:
		switch inst.funct3 {
		case 0x0:
			// SUB
			e.SetReg(inst.rd, rs1-rs2)
		case 0x5:
			// SRA
			e.SetReg(inst.rd, uint64(int64(rs1)>>(rs2&0b111111)))
		default:
			return illegal(ins)
		}
	case 0x01:
		return e.execMul(inst, rs1, rs2)
	default:
		return illegal(ins)
	}
	return nil
}

// RV64M multiply and divide
func (e *Emulator) execMul(inst Rtype, rs1, rs2 uint64) error {
	switch inst.funct3 {
	case 0x0:
		// MUL
		e.SetReg(inst.rd, rs1*rs2)
	case 0x1:
		// MULH
		hi, _ := bits.Mul64(rs1, rs2)
		if int64(rs1) < 0 {
			hi -= rs2
		}
		if int64(rs2) < 0 {
			hi -= rs1
		}
		e.SetReg(inst.rd, hi)
	case 0x2:
		// MULHSU
		hi, _ := bits.Mul64(rs1, rs2)
		if int64(rs1) < 0 {
			hi -= rs2
		}
		e.SetReg(inst.rd, hi)
	case 0x3:
		// MULHU
		hi, _ := bits.Mul64(rs1, rs2)
		e.SetReg(inst.rd, hi)
	case 0x4:
		// DIV
		if rs2 == 0 {
			return ErrDivideByZero
		}
		if int64(rs1) == -1<<63 && int64(rs2) == -1 {
			e.SetReg(inst.rd, rs1)
			return nil
		}
		e.SetReg(inst.rd, uint64(int64(rs1)/int64(rs2)))
	case 0x5:
		// DIVU
		if rs2 == 0 {
			return ErrDivideByZero
		}
		e.SetReg(inst.rd, rs1/rs2)
	case 0x6:
		// REM
		if rs2 == 0 {
			return ErrDivideByZero
		}
		if int64(rs1) == -1<<63 && int64(rs2) == -1 {
			e.SetReg(inst.rd, 0)
			return nil
		}
		e.SetReg(inst.rd, uint64(int64(rs1)%int64(rs2)))
	case 0x7:
		// REMU
		if rs2 == 0 {
			return ErrDivideByZero
		}
		e.SetReg(inst.rd, rs1%rs2)
	}
	return nil
}

// Rtype 32-bit register-register arithmetic
func (e *Emulator) execRtype32RegArith(ins uint32) error {
	inst := decodeR(ins)
	rs1 := uint32(e.Reg(inst.rs1))
	rs2 := uint32(e.Reg(inst.rs2))

	switch inst.funct7<<3 | inst.funct3 {
	case 0x00<<3 | 0x0:
		// ADDW
		e.SetReg(inst.rd, sext32(rs1+rs2))
	case 0x20<<3 | 0x0:
		// SUBW
		e.SetReg(inst.rd, sext32(rs1-rs2))
	case 0x00<<3 | 0x1:
		// SLLW
		e.SetReg(inst.rd, sext32(rs1<<(rs2&0b11111)))
	case 0x00<<3 | 0x5:
		// SRLW
		e.SetReg(inst.rd, sext32(rs1>>(rs2&0b11111)))
	case 0x20<<3 | 0x5:
		// SRAW
		e.SetReg(inst.rd, uint64(int64(int32(rs1)>>(rs2&0b11111))))
	case 0x01<<3 | 0x0:
		// MULW
		e.SetReg(inst.rd, sext32(rs1*rs2))
	case 0x01<<3 | 0x4:
		// DIVW
		if rs2 == 0 {
			return ErrDivideByZero
		}
		if int32(rs1) == -1<<31 && int32(rs2) == -1 {
			e.SetReg(inst.rd, sext32(rs1))
			return nil
		}
		e.SetReg(inst.rd, uint64(int64(int32(rs1)/int32(rs2))))
	case 0x01<<3 | 0x5:
		// DIVUW
		if rs2 == 0 {
			return ErrDivideByZero
		}
		e.SetReg(inst.rd, sext32(rs1/rs2))
	case 0x01<<3 | 0x6:
		// REMW
		if rs2 == 0 {
			return ErrDivideByZero
		}
		if int32(rs1) == -1<<31 && int32(rs2) == -1 {
			e.SetReg(inst.rd, 0)
			return nil
		}
		e.SetReg(inst.rd, uint64(int64(int32(rs1)%int32(rs2))))
	case 0x01<<3 | 0x7:
		// REMUW
		if rs2 == 0 {
			return ErrDivideByZero
		}
		e.SetReg(inst.rd, sext32(rs1%rs2))
	default:
		return illegal(ins)
	}
	return nil
}

// Itype register-immediate arithmetic operations
func (e *Emulator) execItypeImmArith(ins uint32) error {
	inst := decodeI(ins)
	rs1 := int64(e.Reg(inst.rs1))
	imm := int64(inst.imm)

	switch inst.funct3 {
	case 0x0:
		// ADDI
		e.SetReg(inst.rd, uint64(rs1+imm))
	case 0x4:
		// XORI
		e.SetReg(inst.rd, uint64(rs1^imm))
	case 0x6:
		// ORI
		e.SetReg(inst.rd, uint64(rs1|imm))
	case 0x7:
		// ANDI
		e.SetReg(inst.rd, uint64(rs1&imm))
	case 0x1:
		// SLLI
		funct6 := (inst.imm >> 6) & 0b111111
		if funct6 != 0x0 {
			return illegal(ins)
		}
		shamt := inst.imm & 0b111111
		e.SetReg(inst.rd, uint64(rs1)<<shamt)
	case 0x5:
		funct6 := (inst.imm >> 6) & 0b111111
		shamt := inst.imm & 0b111111
		switch funct6 {
		case 0x0:
			// SRLI
			e.SetReg(inst.rd, uint64(rs1)>>shamt)
		case 0x10:
			// SRAI
			e.SetReg(inst.rd, uint64(rs1>>shamt))
		default:
			return illegal(ins)
		}
	case 0x2:
		// SLTI
		e.SetReg(inst.rd, boolToReg(rs1 < imm))
	case 0x3:
		// SLTIU
		e.SetReg(inst.rd, boolToReg(uint64(rs1) < uint64(imm)))
	}
	return nil
}

// Itype 32-bit arithmetic operations
func (e *Emulator) execItype32bitArith(ins uint32) error {
	inst := decodeI(ins)
	rs1 := uint32(e.Reg(inst.rs1))
	imm := uint32(inst.imm)

	switch inst.funct3 {
	case 0x0:
		// ADDIW
		e.SetReg(inst.rd, sext32(rs1+imm))
	case 0x1:
		// SLLIW
		funct7 := (inst.imm >> 5) & 0b1111111
		if funct7 != 0x0 {
			return illegal(ins)
		}
		shamt := inst.imm & 0b11111
		e.SetReg(inst.rd, sext32(rs1<<shamt))
	case 0x5:
		funct7 := (inst.imm >> 5) & 0b1111111
		shamt := inst.imm & 0b11111
		switch funct7 {
		case 0x0:
			// SRLIW
			e.SetReg(inst.rd, sext32(rs1>>shamt))
		case 0x20:
			// SRAIW
			e.SetReg(inst.rd, uint64(int64(int32(rs1)>>shamt)))
		default:
			return illegal(ins)
		}
	default:
		return illegal(ins)
	}
	return nil
}

// Itype perform load operations
func (e *Emulator) execItypeLoads(ins uint32) error {
	inst := decodeI(ins)
	addr := VirtAddr(e.Reg(inst.rs1) + uint64(int64(inst.imm)))

	switch inst.funct3 {
	case 0x0:
		// LB
		val, err := ReadIntoVal(e.Mmu, addr, int8(0))
		if err != nil {
			return err
		}
		e.SetReg(inst.rd, uint64(int64(val)))
	case 0x1:
		// LH
		val, err := ReadIntoVal(e.Mmu, addr, int16(0))
		if err != nil {
			return err
		}
		e.SetReg(inst.rd, uint64(int64(val)))
	case 0x2:
		// LW
		val, err := ReadIntoVal(e.Mmu, addr, int32(0))
		if err != nil {
			return err
		}
		e.SetReg(inst.rd, uint64(int64(val)))
	case 0x3:
		// LD
		val, err := ReadIntoVal(e.Mmu, addr, uint64(0))
		if err != nil {
			return err
		}
		e.SetReg(inst.rd, val)
	case 0x4:
		// LBU
		val, err := ReadIntoVal(e.Mmu, addr, uint8(0))
		if err != nil {
			return err
		}
		e.SetReg(inst.rd, uint64(val))
	case 0x5:
		// LHU
		val, err := ReadIntoVal(e.Mmu, addr, uint16(0))
		if err != nil {
			return err
		}
		e.SetReg(inst.rd, uint64(val))
	case 0x6:
		// LWU
		val, err := ReadIntoVal(e.Mmu, addr, uint32(0))
		if err != nil {
			return err
		}
		e.SetReg(inst.rd, uint64(val))
	default:
		return illegal(ins)
	}
	return nil
}

// Stype perform store operations
func (e *Emulator) execStypeStore(ins uint32) error {
	inst := decodeS(ins)
	addr := VirtAddr(e.Reg(inst.rs1) + uint64(int64(inst.imm)))
	val := e.Reg(inst.rs2)

	switch inst.funct3 {
	case 0x0:
		// SB
		return WriteFromVal(e.Mmu, addr, uint8(val))
	case 0x1:
		// SH
		return WriteFromVal(e.Mmu, addr, uint16(val))
	case 0x2:
		// SW
		return WriteFromVal(e.Mmu, addr, uint32(val))
	case 0x3:
		// SD
		return WriteFromVal(e.Mmu, addr, val)
	}
	return illegal(ins)
}

// conditional branches, reports whether the branch was taken
func (e *Emulator) execBranch(ins uint32, pc uint64) (bool, error) {
	inst := decodeB(ins)
	rs1 := e.Reg(inst.rs1)
	rs2 := e.Reg(inst.rs2)

	var taken bool
	switch inst.funct3 {
	case 0x0:
		// BEQ
		taken = rs1 == rs2
	case 0x1:
		// BNE
		taken = rs1 != rs2
	case 0x4:
		// BLT
		taken = int64(rs1) < int64(rs2)
	case 0x5:
		// BGE
		taken = int64(rs1) >= int64(rs2)
	case 0x6:
		// BLTU
		taken = rs1 < rs2
	case 0x7:
		// BGEU
		taken = rs1 >= rs2
	default:
		return false, illegal(ins)
	}
	if taken {
		e.SetReg(Pc, pc+uint64(int64(inst.imm)))
	}
	return taken, nil
}

func boolToReg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func sext32(v uint32) uint64 { return uint64(int64(int32(v))) }
