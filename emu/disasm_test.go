package emu

import (
	"encoding/binary"
	"testing"

	"github.com/Joe-Degs/rvsim/asm"
	"github.com/stretchr/testify/require"
)

func TestDisassemble(t *testing.T) {
	b := asm.NewBuilder(asm.DefaultBase)
	b.Func("main")
	want := []string{}
	add := func(s string, emit func()) {
		emit()
		want = append(want, s)
	}
	add("addi a0, zero, 1", func() { b.Li(asm.A0, 1) })
	add("nop", func() { b.Nop() })
	add("add a0, a1, a2", func() { b.Add(asm.A0, asm.A1, asm.A2) })
	add("sub s1, t0, t6", func() { b.Sub(asm.S1, asm.T0, asm.T6) })
	add("remu a0, a1, a2", func() { b.Remu(asm.A0, asm.A1, asm.A2) })
	add("mulw a0, a1, a2", func() { b.Mulw(asm.A0, asm.A1, asm.A2) })
	add("sraw a0, a1, a2", func() { b.Sraw(asm.A0, asm.A1, asm.A2) })
	add("andi a0, a0, -1", func() { b.Andi(asm.A0, asm.A0, -1) })
	add("slli a0, a1, 40", func() { b.Slli(asm.A0, asm.A1, 40) })
	add("srai a0, a1, 3", func() { b.Srai(asm.A0, asm.A1, 3) })
	add("srliw a0, a1, 31", func() { b.Srliw(asm.A0, asm.A1, 31) })
	add("addiw a0, a0, -2", func() { b.Addiw(asm.A0, asm.A0, -2) })
	add("ld a0, 8(sp)", func() { b.Ld(asm.A0, asm.Sp, 8) })
	add("lbu t0, 0(a1)", func() { b.Lbu(asm.T0, asm.A1, 0) })
	add("sd ra, -8(sp)", func() { b.Sd(asm.Ra, asm.Sp, -8) })
	add("lui a0, 0x12345", func() { b.Lui(asm.A0, 0x12345) })
	add("auipc gp, 0x1", func() { b.Auipc(asm.Gp, 1) })
	add("beq a0, a1, 0x10000", func() { b.Beq(asm.A0, asm.A1, "main") })
	add("jal ra, 0x10000", func() { b.Call("main") })
	add("jalr ra, 16(t0)", func() { b.Jalr(asm.Ra, asm.T0, 16) })
	add("ret", func() { b.Ret() })
	add("fence", func() { b.Fence() })
	add("ecall", func() { b.Ecall() })
	add("ebreak", func() { b.Ebreak() })
	add("unknown 0xffffffff", func() { b.Word(0xffffffff) })
	add("unknown 0xc0002573", func() { b.Word(0xc0002573) })

	img, err := b.Assemble("main")
	require.NoError(t, err)
	require.Len(t, img.Text, 4*len(want))

	for i, w := range want {
		pc := asm.DefaultBase + uint64(4*i)
		inst := binary.LittleEndian.Uint32(img.Text[4*i:])
		require.Equal(t, w, Disassemble(inst, pc), "at %#x", pc)
	}

	require.Contains(t, Disassemble(0x0001, 0), "c.unknown")
}

func TestRegisterByName(t *testing.T) {
	tests := []struct {
		name string
		want Register
		ok   bool
	}{
		{"a0", A0, true},
		{"SP", Sp, true},
		{"fp", S0, true},
		{"s11", S11, true},
		{"pc", Pc, true},
		{"x5", Zero, false},
	}
	for _, tt := range tests {
		reg, ok := RegisterByName(tt.name)
		require.Equal(t, tt.ok, ok, tt.name)
		require.Equal(t, tt.want, reg, tt.name)
	}
}
