package debugger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/Joe-Degs/rvsim/asm"
	"github.com/Joe-Degs/rvsim/emu"
	"github.com/Joe-Degs/rvsim/hostcall"
	"github.com/stretchr/testify/require"
	"golang.org/x/term"
)

const message = "hello world, rvsim!"

// guest computes 1+2 in main and returns it. msg is the address of a
// string in read-only data.
func guest(t *testing.T) (vm *emu.Emulator, msg uint64) {
	t.Helper()
	b := asm.NewBuilder(asm.DefaultBase)
	b.Func("main") // at 0x10000, one instruction per word
	b.Li(asm.A0, 1)
	b.Li(asm.A1, 2)
	b.Add(asm.A0, asm.A0, asm.A1)
	b.Ret()
	b.String("msg", message)

	img, err := b.Assemble("main")
	require.NoError(t, err)
	data, err := img.ELF()
	require.NoError(t, err)
	exe, err := emu.ParseELF(bytes.NewReader(data))
	require.NoError(t, err)

	opts := emu.DefaultOptions()
	opts.MemorySize = 4 << 20
	opts.StackSize = 64 << 10
	opts.HeapSize = 64 << 10
	vm = emu.NewEmulator(hostcall.NewConsole(io.Discard, nil), opts)
	require.NoError(t, vm.Map(exe, nil))
	// msg is the only read-only data
	return vm, img.DataAddr
}

// session runs the guest under a debugger fed with script.
func session(t *testing.T, script string) (string, error) {
	t.Helper()
	vm, _ := guest(t)
	var out bytes.Buffer
	d := New(vm, Lines(strings.NewReader(script)), &out, nil)
	err := d.Run(context.Background())
	return out.String(), err
}

func requireStatus(t *testing.T, err error, want int) {
	t.Helper()
	status, ok := hostcall.Status(err)
	require.True(t, ok, "expected exit, got %v", err)
	require.Equal(t, want, status)
}

func TestStepping(t *testing.T) {
	out, err := session(t, "si\np a0\nsi 2\np A0\npc\nc\n")
	requireStatus(t, err, 3)
	require.Contains(t, out, Prompt)
	require.Contains(t, out, "\ta0\t: 0000000000000001\n")
	require.Contains(t, out, "\ta0\t: 0000000000000003\n")
	require.Contains(t, out, "0x1000c:\tret\n")

	// an empty line executes one instruction
	out, err = session(t, "\n\npc\nq\n")
	require.ErrorIs(t, err, ErrQuit)
	require.Contains(t, out, "0x10008:\tadd a0, a0, a1\n")
}

func TestBreakpoints(t *testing.T) {
	out, err := session(t, strings.Join([]string{
		"b 0x10008",
		"b main",
		"b main",
		"ib",
		"d 2",
		"ib",
		"c",
		"p a0",
		"p a1",
		"c",
	}, "\n"))
	requireStatus(t, err, 3)
	require.Contains(t, out, "Breakpoint 1 at 0x10008\n")
	require.Contains(t, out, "Breakpoint 2 at 0x10000\n")
	require.Contains(t, out, "Breakpoint 2 already at 0x10000\n")
	require.Contains(t, out, "Breakpoints:\n 1 - 0x10008\n 2 - 0x10000\n")
	require.Contains(t, out, "Breakpoints:\n 1 - 0x10008\n"+Prompt)
	require.Contains(t, out, "Hit breakpoint 1 at 0x10008\n")
	require.Contains(t, out, "\ta0\t: 0000000000000001\n")
	require.Contains(t, out, "\ta1\t: 0000000000000002\n")
}

func TestBreakpointWithoutInput(t *testing.T) {
	vm, _ := guest(t)
	var out bytes.Buffer
	d := New(vm, Lines(strings.NewReader("b 0x1000c\n")), &out, nil)
	require.Equal(t, []uint64(nil), d.Breakpoints())

	// input ends after the breakpoint is set, the guest still finishes
	requireStatus(t, d.Run(context.Background()), 3)
	require.Equal(t, []uint64{0x1000c}, d.Breakpoints())
	require.Contains(t, out.String(), "Hit breakpoint 1 at 0x1000c\n")
}

func TestExamine(t *testing.T) {
	vm, msg := guest(t)
	var out bytes.Buffer
	script := fmt.Sprintf("x/20 %#x\nx/2 %x\nq\n", msg, msg)
	d := New(vm, Lines(strings.NewReader(script)), &out, nil)
	require.ErrorIs(t, d.Run(context.Background()), ErrQuit)

	want := fmt.Sprintf("%x:\t68 65 6c 6c 6f 20 77 6f  72 6c 64 2c 20 72 76 73 \n%x:\t69 6d 21 00 \n", msg, msg+16)
	require.Contains(t, out.String(), want)
	require.Contains(t, out.String(), fmt.Sprintf("%x:\t68 65 \n", msg))
}

func TestDisassembly(t *testing.T) {
	out, err := session(t, "si\ndisass\ndisass main\ndisass nothing\nq\n")
	require.ErrorIs(t, err, ErrQuit)
	listing := "\nDisassembly of main:\n" +
		"    \t10000:\taddi a0, zero, 1\n" +
		"===>\t10004:\taddi a1, zero, 2\n" +
		"    \t10008:\tadd a0, a0, a1\n" +
		"    \t1000c:\tret\n"
	require.Equal(t, 2, strings.Count(out, listing))
	require.Contains(t, out, "Bad function name.\n")
}

func TestCommandErrors(t *testing.T) {
	out, err := session(t, strings.Join([]string{
		"p",
		"p x9",
		"x/abc 0x10",
		"x/4",
		"x/4 zz",
		"x/4 0x0",
		"si two",
		"b",
		"b nowhere",
		"d",
		"d one",
		"d 7",
		"ib",
		"frob",
		"q",
	}, "\n"))
	require.ErrorIs(t, err, ErrQuit)
	for _, msg := range []string{
		"No register specified.\n",
		"Unknown register name.\n",
		"Bad length.\n",
		"No address specified.\n",
		"Bad address format.\n",
		"Cannot access memory at 0x0\n",
		"Bad number.\n",
		"Bad address.\n",
		"No breakpoint specified.\n",
		"No breakpoint number 7.\n",
		"No breakpoints.\n",
		`Unknown command "frob", try h.` + "\n",
	} {
		require.Contains(t, out, msg)
	}
}

func TestHelpAndRegisters(t *testing.T) {
	out, err := session(t, "h\npa\nstats\nc\n")
	requireStatus(t, err, 3)
	require.Contains(t, out, "disass [func]")
	require.Contains(t, out, "zero\t: 0000000000000000")
	require.Contains(t, out, "pc\t: 0000000000010000\n")
	require.Contains(t, out, "steps 0, instructions 0, cycles 0, CPI 0.000\n")
}

func TestRunCanceled(t *testing.T) {
	vm, _ := guest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := New(vm, Lines(strings.NewReader("")), io.Discard, nil)
	require.ErrorIs(t, d.Run(ctx), context.Canceled)
}

func TestTerminal(t *testing.T) {
	vm, _ := guest(t)
	var out bytes.Buffer
	tty := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{strings.NewReader("si 3\rp a0\rc\r"), &out}, "")
	d := New(vm, tty, tty, nil)
	requireStatus(t, d.Run(context.Background()), 3)
	require.Contains(t, out.String(), Prompt)
	require.Contains(t, out.String(), "a0\t: 0000000000000003")
}
