// Package benchmark holds the guest programs run against the host: the
// syscall smoke test and the switch fallthrough benchmark. Each exists as a Go
// program on the hostcall guest runtime and as an RV64 image for the
// emulator, and both forms must produce the same output.
package benchmark

import (
	"github.com/Joe-Degs/rvsim/asm"
	"github.com/Joe-Degs/rvsim/hostcall"
)

// PrintValue is the value the syscall smoke test asks the host to print.
const PrintValue = 0xdeadbeef

// Unreachable is printed by the smoke test after its exit request. A conforming
// host never lets it through.
const Unreachable = "Should not see this!"

// Ecall prints PrintValue through the host, then exits with status 0.
func Ecall(g *hostcall.Guest) int {
	g.Ecall(hostcall.Print, PrintValue)
	g.Ecall(hostcall.Exit, 0)
	g.Puts(Unreachable)
	return 0
}

// EcallImage is Ecall compiled for RV64: an ecall helper taking the
// operation code in a0 and the argument in a1, called from main.
func EcallImage() (*asm.Image, error) {
	b := asm.NewBuilder(asm.DefaultBase)

	b.Func("main")
	prologue(b)
	b.Li(asm.A0, int64(hostcall.Print))
	b.Li(asm.A1, PrintValue)
	b.Call("ecall")
	b.Li(asm.A0, int64(hostcall.Exit))
	b.Li(asm.A1, 0)
	b.Call("ecall")
	b.La(asm.A0, "msg")
	b.Call("puts")
	b.Li(asm.A0, 0)
	epilogue(b)

	// void ecall(int code, long arg)
	b.Func("ecall")
	b.Ecall()
	b.Ret()

	putsStub(b)
	b.String("msg", Unreachable)

	return b.Assemble("main")
}

func prologue(b *asm.Builder) {
	b.Addi(asm.Sp, asm.Sp, -16)
	b.Sd(asm.Ra, asm.Sp, 8)
}

func epilogue(b *asm.Builder) {
	b.Ld(asm.Ra, asm.Sp, 8)
	b.Addi(asm.Sp, asm.Sp, 16)
	b.Ret()
}

// putsStub gives puts an address; the emulator services calls to it.
func putsStub(b *asm.Builder) {
	b.Func("puts")
	b.Ret()
}
