package emu

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/Joe-Degs/rvsim/asm"
	"github.com/Joe-Degs/rvsim/hostcall"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.MemorySize = 4 << 20
	opts.StackSize = 64 << 10
	opts.HeapSize = 64 << 10
	opts.MaxSteps = 100000
	return opts
}

// program assembles build into an ELF and reads it back.
func program(t *testing.T, entry string, build func(b *asm.Builder)) *Executable {
	t.Helper()
	b := asm.NewBuilder(asm.DefaultBase)
	build(b)
	img, err := b.Assemble(entry)
	require.NoError(t, err)
	data, err := img.ELF()
	require.NoError(t, err)
	exe, err := ParseELF(bytes.NewReader(data))
	require.NoError(t, err)
	return exe
}

// mainOnly is a program whose main is body followed by ret.
func mainOnly(t *testing.T, body func(b *asm.Builder)) *Executable {
	return program(t, "main", func(b *asm.Builder) {
		b.Func("main")
		body(b)
		b.Ret()
	})
}

func mapped(t *testing.T, exe *Executable, opts Options, args ...string) (*Emulator, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	e := NewEmulator(hostcall.NewConsole(&out, nil), opts)
	require.NoError(t, e.Map(exe, args))
	return e, &out
}

func run(t *testing.T, exe *Executable) (*Emulator, *bytes.Buffer, error) {
	t.Helper()
	e, out := mapped(t, exe, testOptions())
	return e, out, e.Run(context.Background())
}

func requireStatus(t *testing.T, err error, want int) {
	t.Helper()
	status, ok := hostcall.Status(err)
	require.True(t, ok, "expected exit, got %v", err)
	require.Equal(t, want, status)
}

func TestArithmetic(t *testing.T) {
	binop := func(op func(b *asm.Builder, rd, rs1, rs2 asm.Reg), x, y int64) func(b *asm.Builder) {
		return func(b *asm.Builder) {
			b.Li(asm.A1, x)
			b.Li(asm.A2, y)
			op(b, asm.A0, asm.A1, asm.A2)
		}
	}
	tests := []struct {
		name string
		body func(b *asm.Builder)
		want uint64
	}{
		{"add", binop((*asm.Builder).Add, 5, 7), 12},
		{"sub", binop((*asm.Builder).Sub, 5, 7), 0xfffffffffffffffe},
		{"sll", binop((*asm.Builder).Sll, 1, 65), 2},
		{"srl", binop((*asm.Builder).Srl, -16, 60), 0xf},
		{"sra", binop((*asm.Builder).Sra, -16, 2), 0xfffffffffffffffc},
		{"slt", binop((*asm.Builder).Slt, -1, 1), 1},
		{"sltu", binop((*asm.Builder).Sltu, -1, 1), 0},
		{"xor", binop((*asm.Builder).Xor, 0xff, 0x0f), 0xf0},
		{"or", binop((*asm.Builder).Or, 0xf0, 0x0f), 0xff},
		{"and", binop((*asm.Builder).And, 0xff, 0x0f), 0x0f},
		{"mul", binop((*asm.Builder).Mul, -3, 7), 0xffffffffffffffeb},
		{"mulh", binop((*asm.Builder).Mulh, -1, -1), 0},
		{"mulhsu", binop((*asm.Builder).Mulhsu, -1, -1), 0xffffffffffffffff},
		{"mulhu", binop((*asm.Builder).Mulhu, -1, -1), 0xfffffffffffffffe},
		{"div", binop((*asm.Builder).Div, -7, 2), 0xfffffffffffffffd},
		{"divu", binop((*asm.Builder).Divu, 7, 2), 3},
		{"rem", binop((*asm.Builder).Rem, -7, 2), 0xffffffffffffffff},
		{"remu", binop((*asm.Builder).Remu, 7, 2), 1},
		{"div overflow", binop((*asm.Builder).Div, math.MinInt64, -1), 1 << 63},
		{"rem overflow", binop((*asm.Builder).Rem, math.MinInt64, -1), 0},
		{"addw", binop((*asm.Builder).Addw, 0x7fffffff, 1), 0xffffffff80000000},
		{"subw", binop((*asm.Builder).Subw, 0, 1), 0xffffffffffffffff},
		{"sllw", binop((*asm.Builder).Sllw, 1, 31), 0xffffffff80000000},
		{"srlw", binop((*asm.Builder).Srlw, -1, 4), 0x0fffffff},
		{"sraw", binop((*asm.Builder).Sraw, 0x80000000, 4), 0xfffffffff8000000},
		{"mulw", binop((*asm.Builder).Mulw, 0x10000, 0x10000), 0},
		{"divw", binop((*asm.Builder).Divw, -7, 2), 0xfffffffffffffffd},
		{"divuw", binop((*asm.Builder).Divuw, -1, 2), 0x7fffffff},
		{"remw", binop((*asm.Builder).Remw, -7, 2), 0xffffffffffffffff},
		{"remuw", binop((*asm.Builder).Remuw, 7, 4), 3},
		{"addi", func(b *asm.Builder) { b.Li(asm.A1, 10); b.Addi(asm.A0, asm.A1, -11) }, 0xffffffffffffffff},
		{"slti", func(b *asm.Builder) { b.Li(asm.A1, -5); b.Slti(asm.A0, asm.A1, -4) }, 1},
		{"sltiu", func(b *asm.Builder) { b.Li(asm.A1, 3); b.Sltiu(asm.A0, asm.A1, -1) }, 1},
		{"xori", func(b *asm.Builder) { b.Li(asm.A1, 0); b.Xori(asm.A0, asm.A1, -1) }, 0xffffffffffffffff},
		{"ori", func(b *asm.Builder) { b.Li(asm.A1, 0x100); b.Ori(asm.A0, asm.A1, 1) }, 0x101},
		{"andi", func(b *asm.Builder) { b.Li(asm.A1, -1); b.Andi(asm.A0, asm.A1, 0x7f) }, 0x7f},
		{"slli", func(b *asm.Builder) { b.Li(asm.A1, 1); b.Slli(asm.A0, asm.A1, 63) }, 1 << 63},
		{"srli", func(b *asm.Builder) { b.Li(asm.A1, -1); b.Srli(asm.A0, asm.A1, 60) }, 0xf},
		{"srai", func(b *asm.Builder) { b.Li(asm.A1, -256); b.Srai(asm.A0, asm.A1, 4) }, 0xfffffffffffffff0},
		{"addiw", func(b *asm.Builder) { b.Li(asm.A1, 0x7fffffff); b.Addiw(asm.A0, asm.A1, 1) }, 0xffffffff80000000},
		{"slliw", func(b *asm.Builder) { b.Li(asm.A1, 3); b.Slliw(asm.A0, asm.A1, 31) }, 0xffffffff80000000},
		{"srliw", func(b *asm.Builder) { b.Li(asm.A1, -1); b.Srliw(asm.A0, asm.A1, 28) }, 0xf},
		{"sraiw", func(b *asm.Builder) { b.Li(asm.A1, 0x80000000); b.Sraiw(asm.A0, asm.A1, 4) }, 0xfffffffff8000000},
		{"lui", func(b *asm.Builder) { b.Lui(asm.A0, 0x80000) }, 0xffffffff80000000},
		{"li 64", func(b *asm.Builder) { b.Li(asm.A0, 0x123456789abcdef0) }, 0x123456789abcdef0},
		{"li deadbeef", func(b *asm.Builder) { b.Li(asm.A0, 0xdeadbeef) }, 0xdeadbeef},
		{"zero is hardwired", func(b *asm.Builder) { b.Li(asm.Zero, 5); b.Mv(asm.A0, asm.Zero) }, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, err := run(t, mainOnly(t, tt.body))
			requireStatus(t, err, int(int32(tt.want)))
			require.Equal(t, tt.want, e.Reg(A0))
		})
	}
}

func TestAuipc(t *testing.T) {
	e, _, err := run(t, mainOnly(t, func(b *asm.Builder) {
		b.Nop()
		b.Auipc(asm.A0, 1)
	}))
	requireStatus(t, err, asm.DefaultBase+4+0x1000)
	require.Equal(t, uint64(asm.DefaultBase+4+0x1000), e.Reg(A0))
}

func TestLoadsAndStores(t *testing.T) {
	load := func(op func(b *asm.Builder, rd, base asm.Reg, off int32)) func(b *asm.Builder) {
		return func(b *asm.Builder) {
			b.Addi(asm.Sp, asm.Sp, -16)
			b.Li(asm.T0, -2)
			b.Sd(asm.T0, asm.Sp, 0)
			op(b, asm.A0, asm.Sp, 0)
			b.Addi(asm.Sp, asm.Sp, 16)
		}
	}
	tests := []struct {
		name string
		body func(b *asm.Builder)
		want uint64
	}{
		{"lb", load((*asm.Builder).Lb), 0xfffffffffffffffe},
		{"lbu", load((*asm.Builder).Lbu), 0xfe},
		{"lh", load((*asm.Builder).Lh), 0xfffffffffffffffe},
		{"lhu", load((*asm.Builder).Lhu), 0xfffe},
		{"lw", load((*asm.Builder).Lw), 0xfffffffffffffffe},
		{"lwu", load((*asm.Builder).Lwu), 0xfffffffe},
		{"ld", load((*asm.Builder).Ld), 0xfffffffffffffffe},
		{"store widths", func(b *asm.Builder) {
			b.Addi(asm.Sp, asm.Sp, -16)
			b.Sd(asm.Zero, asm.Sp, 0)
			b.Li(asm.T0, 0x11223344)
			b.Sw(asm.T0, asm.Sp, 0)
			b.Li(asm.T0, 0x55)
			b.Sh(asm.T0, asm.Sp, 4)
			b.Li(asm.T0, 0x66)
			b.Sb(asm.T0, asm.Sp, 7)
			b.Ld(asm.A0, asm.Sp, 0)
			b.Addi(asm.Sp, asm.Sp, 16)
		}, 0x6600005511223344},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, err := run(t, mainOnly(t, tt.body))
			requireStatus(t, err, int(int32(tt.want)))
			require.Equal(t, tt.want, e.Reg(A0))
		})
	}
}

func TestMemoryFaults(t *testing.T) {
	t.Run("store to text", func(t *testing.T) {
		_, _, err := run(t, mainOnly(t, func(b *asm.Builder) {
			b.La(asm.T0, "main")
			b.Sw(asm.Zero, asm.T0, 0)
		}))
		var mmuErr MMUError
		require.True(t, errors.As(err, &mmuErr))
		require.Equal(t, ErrPermission, mmuErr.Kind)
		require.Equal(t, PERM_WRITE, mmuErr.Perm)

		var exit EmuExit
		require.True(t, errors.As(err, &exit))
		require.Equal(t, uint64(asm.DefaultBase+8), exit.PC())
	})

	t.Run("load unmapped", func(t *testing.T) {
		_, _, err := run(t, mainOnly(t, func(b *asm.Builder) {
			b.Li(asm.T0, 0x300000)
			b.Lw(asm.A0, asm.T0, 0)
		}))
		var mmuErr MMUError
		require.True(t, errors.As(err, &mmuErr))
		require.Equal(t, VirtAddr(0x300000), mmuErr.Addr)
	})

	t.Run("load out of bounds", func(t *testing.T) {
		_, _, err := run(t, mainOnly(t, func(b *asm.Builder) {
			b.Li(asm.T0, 8<<20)
			b.Ld(asm.A0, asm.T0, 0)
		}))
		var mmuErr MMUError
		require.True(t, errors.As(err, &mmuErr))
		require.Equal(t, ErrOutOfBounds, mmuErr.Kind)
	})

	t.Run("execute data", func(t *testing.T) {
		_, _, err := run(t, program(t, "main", func(b *asm.Builder) {
			b.Func("main")
			b.La(asm.T0, "blob")
			b.Jalr(asm.Zero, asm.T0, 0)
			b.Bytes("blob", []byte{0x13, 0, 0, 0})
		}))
		var mmuErr MMUError
		require.True(t, errors.As(err, &mmuErr))
		require.Equal(t, PERM_EXEC, mmuErr.Perm)
	})
}

func TestHeapIsReadAfterWrite(t *testing.T) {
	mmap := func(b *asm.Builder) {
		b.Li(asm.A7, 222)
		b.Ecall()
		b.Mv(asm.T0, asm.A0)
		b.Li(asm.A7, 0)
	}

	e, _, err := run(t, mainOnly(t, func(b *asm.Builder) {
		mmap(b)
		b.Li(asm.T1, 5)
		b.Sd(asm.T1, asm.T0, 0)
		b.Ld(asm.A0, asm.T0, 0)
	}))
	requireStatus(t, err, 5)
	require.Equal(t, uint64(1), e.Stats().Ecalls)

	_, _, err = run(t, mainOnly(t, func(b *asm.Builder) {
		mmap(b)
		b.Ld(asm.A0, asm.T0, 0)
	}))
	var mmuErr MMUError
	require.True(t, errors.As(err, &mmuErr))
	require.Equal(t, PERM_READ, mmuErr.Perm)
}

func TestBranches(t *testing.T) {
	// each taken branch sets one bit of a0
	e, _, err := run(t, mainOnly(t, func(b *asm.Builder) {
		b.Li(asm.A0, 0)
		b.Li(asm.T0, -1)
		b.Li(asm.T1, 1)

		check := func(bit int32, branch func(string)) {
			skip := "skip" + string(rune('a'+bit))
			set := "set" + string(rune('a'+bit))
			branch(set)
			b.J(skip)
			b.Label(set)
			b.Ori(asm.A0, asm.A0, 1<<bit)
			b.Label(skip)
		}
		check(0, func(l string) { b.Beq(asm.T0, asm.T0, l) })
		check(1, func(l string) { b.Bne(asm.T0, asm.T1, l) })
		check(2, func(l string) { b.Blt(asm.T0, asm.T1, l) })  // -1 < 1
		check(3, func(l string) { b.Bge(asm.T1, asm.T0, l) })  // 1 >= -1
		check(4, func(l string) { b.Bltu(asm.T1, asm.T0, l) }) // 1 < max
		check(5, func(l string) { b.Bgeu(asm.T0, asm.T1, l) }) // max >= 1
		check(6, func(l string) { b.Beq(asm.T0, asm.T1, l) })  // not taken
		check(7, func(l string) { b.Bltu(asm.T0, asm.T1, l) }) // not taken
	}))
	requireStatus(t, err, 0x3f)
	require.Equal(t, uint64(0x3f), e.Reg(A0))
}

func TestLoop(t *testing.T) {
	e, _, err := run(t, mainOnly(t, func(b *asm.Builder) {
		b.Li(asm.A0, 0)
		b.Li(asm.T0, 10)
		b.Label("loop")
		b.Add(asm.A0, asm.A0, asm.T0)
		b.Addi(asm.T0, asm.T0, -1)
		b.Bne(asm.T0, asm.Zero, "loop")
	}))
	requireStatus(t, err, 55)
	// 2 li, 10 * 3 loop, ret
	require.Equal(t, uint64(33), e.Stats().Steps)
}

func TestCallAndReturn(t *testing.T) {
	_, _, err := run(t, program(t, "main", func(b *asm.Builder) {
		b.Func("main")
		b.Addi(asm.Sp, asm.Sp, -16)
		b.Sd(asm.Ra, asm.Sp, 8)
		b.Li(asm.A0, 20)
		b.Call("double")
		b.Call("double")
		b.Ld(asm.Ra, asm.Sp, 8)
		b.Addi(asm.Sp, asm.Sp, 16)
		b.Ret()

		b.Func("double")
		b.Add(asm.A0, asm.A0, asm.A0)
		b.Ret()
	}))
	requireStatus(t, err, 80)
}

func TestEcallHostService(t *testing.T) {
	e, out, err := run(t, mainOnly(t, func(b *asm.Builder) {
		b.Li(asm.A0, int64(hostcall.Print))
		b.Li(asm.A1, 0xdeadbeef)
		b.Ecall()
		b.Li(asm.A0, int64(hostcall.Exit))
		b.Li(asm.A1, 3)
		b.Ecall()
		b.Ebreak()
	}))
	requireStatus(t, err, 3)
	require.Equal(t, "0xdeadbeef\n", out.String())
	require.Equal(t, uint64(2), e.Stats().Ecalls)
}

func TestEcallUnknownCode(t *testing.T) {
	_, out, err := run(t, mainOnly(t, func(b *asm.Builder) {
		b.Li(asm.A0, 7)
		b.Ecall()
	}))
	require.True(t, errors.Is(err, hostcall.ErrUnknownCode))
	require.Empty(t, out.String())
}

func TestNewlibSyscalls(t *testing.T) {
	_, out, err := run(t, program(t, "main", func(b *asm.Builder) {
		b.Func("main")
		b.Li(asm.A0, 1)
		b.La(asm.A1, "msg")
		b.Li(asm.A2, 6)
		b.Li(asm.A7, 64)
		b.Ecall()
		b.Li(asm.A0, 9)
		b.Li(asm.A7, 93)
		b.Ecall()
		b.Ebreak()
		b.String("msg", "hello\n")
	}))
	requireStatus(t, err, 9)
	require.Equal(t, "hello\n", out.String())

	_, _, err = run(t, mainOnly(t, func(b *asm.Builder) {
		b.Li(asm.A7, 63)
		b.Ecall()
	}))
	require.True(t, errors.Is(err, ErrUnsimulated))
	require.ErrorContains(t, err, "read()")

	// a length larger than memory is a fault, not a host allocation
	require.NotPanics(t, func() {
		_, out, err = run(t, mainOnly(t, func(b *asm.Builder) {
			b.Li(asm.A0, 1)
			b.Li(asm.A1, 0x10000)
			b.Li(asm.A2, -1)
			b.Li(asm.A7, 64)
			b.Ecall()
		}))
	})
	var mmuErr MMUError
	require.True(t, errors.As(err, &mmuErr), "got %v", err)
	require.Equal(t, ErrOutOfBounds, mmuErr.Kind)
	require.Equal(t, VirtAddr(0x10000), mmuErr.Addr)
	require.Empty(t, out.String())
}

func withLibrary(b *asm.Builder, body func()) {
	b.Func("main")
	b.Addi(asm.Sp, asm.Sp, -16)
	b.Sd(asm.Ra, asm.Sp, 8)
	body()
	b.Ld(asm.Ra, asm.Sp, 8)
	b.Addi(asm.Sp, asm.Sp, 16)
	b.Ret()

	b.Func("puts")
	b.Ret()
	b.Func("printf")
	b.Ret()
}

func TestLibraryCalls(t *testing.T) {
	exe := program(t, "main", func(b *asm.Builder) {
		withLibrary(b, func() {
			b.La(asm.A0, "msg")
			b.Call("puts")
			b.Mv(asm.S1, asm.A0)
			b.La(asm.A0, "fmt")
			b.Call("printf")
			b.Add(asm.A0, asm.A0, asm.S1)
		})
		b.String("msg", "hello")
		b.String("fmt", "n=%d\n")
	})

	e, out := mapped(t, exe, testOptions())
	err := e.Run(context.Background())
	requireStatus(t, err, 6+5)
	require.Equal(t, "hello\nn=%d\n", out.String())
	require.Equal(t, uint64(2), e.Stats().LibraryCalls)

	// without hooks the stubs just return
	opts := testOptions()
	opts.Hooks = nil
	e, out = mapped(t, exe, opts)
	err = e.Run(context.Background())
	_, ok := hostcall.Status(err)
	require.True(t, ok)
	require.Empty(t, out.String())
	require.Zero(t, e.Stats().LibraryCalls)
}

func TestUnknownHook(t *testing.T) {
	opts := testOptions()
	opts.Hooks = []string{"malloc"}
	e := NewEmulator(hostcall.NewConsole(&bytes.Buffer{}, nil), opts)
	require.ErrorContains(t, e.Map(mainOnly(t, func(b *asm.Builder) {}), nil), "malloc")
}

func TestHaltStatus(t *testing.T) {
	_, _, err := run(t, mainOnly(t, func(b *asm.Builder) { b.Li(asm.A0, -1) }))
	requireStatus(t, err, -1)

	var exit EmuExit
	require.True(t, errors.As(err, &exit))
	require.Equal(t, HaltAddr, exit.PC())
}

func TestArgs(t *testing.T) {
	exe := mainOnly(t, func(b *asm.Builder) {
		// a0 = argc * 1000 + argv[1][0]
		b.Ld(asm.T0, asm.A1, 8)
		b.Lbu(asm.T0, asm.T0, 0)
		b.Li(asm.T1, 1000)
		b.Mul(asm.A0, asm.A0, asm.T1)
		b.Add(asm.A0, asm.A0, asm.T0)
	})
	e, _ := mapped(t, exe, testOptions(), "x", "yz")
	require.Zero(t, e.Reg(Sp)%16)
	requireStatus(t, e.Run(context.Background()), 3000+'x')
}

func TestStartAndCount(t *testing.T) {
	exe := program(t, "_start", func(b *asm.Builder) {
		b.Func("_start")
		b.Nop()
		b.Nop()
		b.J("main")
		b.Func("main")
		b.Li(asm.A0, 4)
		b.Ret()
	})

	opts := testOptions()
	e, _ := mapped(t, exe, opts)
	requireStatus(t, e.Run(context.Background()), 4)
	require.Equal(t, uint64(2), e.Stats().Steps)

	opts.StartAtMain = false
	opts.CountFromMain = true
	e, _ = mapped(t, exe, opts)
	requireStatus(t, e.Run(context.Background()), 4)
	require.Equal(t, uint64(5), e.Stats().Steps)
	require.Equal(t, uint64(2), e.Stats().Instructions)

	opts.CountFromMain = false
	e, _ = mapped(t, exe, opts)
	requireStatus(t, e.Run(context.Background()), 4)
	require.Equal(t, uint64(5), e.Stats().Instructions)
}

func TestStepLimit(t *testing.T) {
	exe := mainOnly(t, func(b *asm.Builder) {
		b.Label("spin")
		b.J("spin")
	})
	opts := testOptions()
	opts.MaxSteps = 100
	e, _ := mapped(t, exe, opts)

	err := e.Run(context.Background())
	require.True(t, errors.Is(err, ErrStepLimit))
	require.Equal(t, uint64(100), e.Stats().Steps)
}

func TestRunCanceled(t *testing.T) {
	exe := mainOnly(t, func(b *asm.Builder) {
		b.Label("spin")
		b.J("spin")
	})
	opts := testOptions()
	opts.MaxSteps = 0
	e, _ := mapped(t, exe, opts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, e.Run(ctx), context.Canceled)

	// cancellation is noticed whatever the step count left by Step
	opts.MaxSteps = 0x800
	e, _ = mapped(t, exe, opts)
	for i := 0; i < 5; i++ {
		require.NoError(t, e.Step())
	}
	require.ErrorIs(t, e.Run(ctx), context.Canceled)
	require.Equal(t, uint64(5), e.Stats().Steps)
}

func TestIllegalInstructions(t *testing.T) {
	tests := []struct {
		name string
		body func(b *asm.Builder)
		want error
	}{
		{"ebreak", func(b *asm.Builder) { b.Ebreak() }, ErrBreakpoint},
		{"compressed", func(b *asm.Builder) { b.Word(0x00000001) }, ErrIllegalInstruction},
		{"unknown opcode", func(b *asm.Builder) { b.Word(0xffffffff) }, ErrIllegalInstruction},
		{"csr", func(b *asm.Builder) { b.Word(0xc0002573) }, ErrIllegalInstruction}, // rdcycle a0
		{"divide by zero", func(b *asm.Builder) {
			b.Li(asm.A1, 1)
			b.Div(asm.A0, asm.A1, asm.Zero)
		}, ErrDivideByZero},
		{"divw by zero", func(b *asm.Builder) {
			b.Li(asm.A1, 1)
			b.Remuw(asm.A0, asm.A1, asm.Zero)
		}, ErrDivideByZero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, mainOnly(t, tt.body))
			require.True(t, errors.Is(err, tt.want), "got %v", err)
			_, ok := hostcall.Status(err)
			require.False(t, ok)
		})
	}
}

func TestFence(t *testing.T) {
	_, _, err := run(t, mainOnly(t, func(b *asm.Builder) {
		b.Fence()
		b.Li(asm.A0, 1)
	}))
	requireStatus(t, err, 1)
}

func TestForkReset(t *testing.T) {
	exe := program(t, "main", func(b *asm.Builder) {
		withLibrary(b, func() {
			b.La(asm.A0, "msg")
			b.Call("puts")
			b.Li(asm.A0, 0)
		})
		b.String("msg", "again")
	})

	pristine, _ := mapped(t, exe, testOptions())
	slot := VirtAddr(pristine.Reg(Sp) - 8)
	before, err := ReadIntoVal(pristine.Mmu, slot, uint64(0))
	require.NoError(t, err)

	var first bytes.Buffer
	vm := pristine.Fork(hostcall.NewConsole(&first, nil))
	requireStatus(t, vm.Run(context.Background()), 0)
	stats := vm.Stats()

	// main saved ra into the slot
	saved, err := ReadIntoVal(vm.Mmu, slot, uint64(0))
	require.NoError(t, err)
	require.Equal(t, HaltAddr, saved)

	vm.Reset(pristine)
	restored, err := ReadIntoVal(vm.Mmu, slot, uint64(0))
	require.NoError(t, err)
	require.Equal(t, before, restored)
	require.Equal(t, pristine.Reg(Pc), vm.Reg(Pc))
	require.Zero(t, vm.Stats().Steps)

	var second bytes.Buffer
	vm.SetHost(hostcall.NewConsole(&second, nil))
	requireStatus(t, vm.Run(context.Background()), 0)
	require.Equal(t, "again\n", first.String())
	require.Equal(t, first.String(), second.String())
	require.Equal(t, stats, vm.Stats())
}

func TestTraceLogging(t *testing.T) {
	var logs bytes.Buffer
	opts := testOptions()
	opts.Logger = hclog.New(&hclog.LoggerOptions{Output: &logs, Level: hclog.Trace})

	e, _ := mapped(t, mainOnly(t, func(b *asm.Builder) { b.Li(asm.A0, 0) }), opts)
	requireStatus(t, e.Run(context.Background()), 0)
	require.Contains(t, logs.String(), "func=main")
	require.Equal(t, 2, strings.Count(logs.String(), "step:"))
}

func TestDump(t *testing.T) {
	e, _, err := run(t, mainOnly(t, func(b *asm.Builder) { b.Li(asm.A0, 0x2a) }))
	requireStatus(t, err, 0x2a)

	dump := e.Dump()
	require.Contains(t, dump, "Registers")
	require.Contains(t, dump, `"a0": (string) (len=4) "0x2a"`)
	require.Contains(t, e.String(), "a0\t: 000000000000002a")
}
