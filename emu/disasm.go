package emu

import (
	"fmt"
	"strings"
)

var (
	regMnemonics = map[uint32][8]string{
		0x00: {"add", "sll", "slt", "sltu", "xor", "srl", "or", "and"},
		0x20: {"sub", "", "", "", "", "sra", "", ""},
		0x01: {"mul", "mulh", "mulhsu", "mulhu", "div", "divu", "rem", "remu"},
	}
	reg32Mnemonics = map[uint32][8]string{
		0x00: {"addw", "sllw", "", "", "", "srlw", "", ""},
		0x20: {"subw", "", "", "", "", "sraw", "", ""},
		0x01: {"mulw", "", "", "", "divw", "divuw", "remw", "remuw"},
	}
	immMnemonics    = [8]string{"addi", "", "slti", "sltiu", "xori", "", "ori", "andi"}
	loadMnemonics   = [8]string{"lb", "lh", "lw", "ld", "lbu", "lhu", "lwu", ""}
	storeMnemonics  = [8]string{"sb", "sh", "sw", "sd", "", "", "", ""}
	branchMnemonics = [8]string{"beq", "bne", "", "", "blt", "bge", "bltu", "bgeu"}
)

// RegisterByName looks up an integer register or pc by its ABI name.
func RegisterByName(name string) (Register, bool) {
	name = strings.ToLower(name)
	if name == "fp" {
		return S0, true
	}
	for i, n := range registerNames {
		if n == name {
			return Register(i), true
		}
	}
	return Zero, false
}

// Disassemble renders the instruction at pc in assembler syntax. Branch and
// jump targets are printed as absolute addresses.
func Disassemble(inst uint32, pc uint64) string {
	if inst&0b11 != 0b11 {
		return fmt.Sprintf("c.unknown %#04x", inst&0xffff)
	}
	unknown := fmt.Sprintf("unknown %#08x", inst)

	switch uint8(inst & 0x7f) {
	case OpReg, OpReg32:
		r := decodeR(inst)
		table := regMnemonics
		if uint8(inst&0x7f) == OpReg32 {
			table = reg32Mnemonics
		}
		names, ok := table[r.funct7]
		if !ok || names[r.funct3] == "" {
			return unknown
		}
		return fmt.Sprintf("%s %s, %s, %s", names[r.funct3], r.rd, r.rs1, r.rs2)
	case OpImm:
		i := decodeI(inst)
		switch i.funct3 {
		case 1:
			return fmt.Sprintf("slli %s, %s, %d", i.rd, i.rs1, i.imm&0x3f)
		case 5:
			op := "srli"
			if i.imm&0x400 != 0 {
				op = "srai"
			}
			return fmt.Sprintf("%s %s, %s, %d", op, i.rd, i.rs1, i.imm&0x3f)
		}
		if inst == 0x13 {
			return "nop"
		}
		return fmt.Sprintf("%s %s, %s, %d", immMnemonics[i.funct3], i.rd, i.rs1, i.imm)
	case OpImm32:
		i := decodeI(inst)
		switch i.funct3 {
		case 0:
			return fmt.Sprintf("addiw %s, %s, %d", i.rd, i.rs1, i.imm)
		case 1:
			return fmt.Sprintf("slliw %s, %s, %d", i.rd, i.rs1, i.imm&0x1f)
		case 5:
			op := "srliw"
			if i.imm&0x400 != 0 {
				op = "sraiw"
			}
			return fmt.Sprintf("%s %s, %s, %d", op, i.rd, i.rs1, i.imm&0x1f)
		}
	case OpLoad:
		i := decodeI(inst)
		if loadMnemonics[i.funct3] != "" {
			return fmt.Sprintf("%s %s, %d(%s)", loadMnemonics[i.funct3], i.rd, i.imm, i.rs1)
		}
	case OpStore:
		s := decodeS(inst)
		if storeMnemonics[s.funct3] != "" {
			return fmt.Sprintf("%s %s, %d(%s)", storeMnemonics[s.funct3], s.rs2, s.imm, s.rs1)
		}
	case OpBranch:
		b := decodeB(inst)
		if branchMnemonics[b.funct3] != "" {
			return fmt.Sprintf("%s %s, %s, %#x", branchMnemonics[b.funct3], b.rs1, b.rs2, pc+uint64(int64(b.imm)))
		}
	case OpLui:
		u := decodeU(inst)
		return fmt.Sprintf("lui %s, %#x", u.rd, uint32(u.imm)>>12)
	case OpAuipc:
		u := decodeU(inst)
		return fmt.Sprintf("auipc %s, %#x", u.rd, uint32(u.imm)>>12)
	case OpJal:
		j := decodeJ(inst)
		return fmt.Sprintf("jal %s, %#x", j.rd, pc+uint64(int64(j.imm)))
	case OpJalr:
		i := decodeI(inst)
		if i.rd == Zero && i.rs1 == Ra && i.imm == 0 {
			return "ret"
		}
		return fmt.Sprintf("jalr %s, %d(%s)", i.rd, i.imm, i.rs1)
	case OpFence:
		return "fence"
	case OpSystem:
		switch inst {
		case instEcall:
			return "ecall"
		case instEbreak:
			return "ebreak"
		}
	}
	return unknown
}
