package benchmark

import (
	"fmt"

	"github.com/Joe-Degs/rvsim/asm"
	"github.com/Joe-Degs/rvsim/dispatch"
	"github.com/Joe-Degs/rvsim/hostcall"
)

// Seed is the selector the switch benchmark dispatches on.
const Seed = 5

func seed() int64 { return Seed }

// switchCases are the cases of the benchmark's switch statement. The
// literals do not follow the labels and are kept exactly as they are.
var switchCases = dispatch.MustTable(
	dispatch.Case[string]{Label: 0, Action: "0"},
	dispatch.Case[string]{Label: 1, Action: "1"},
	dispatch.Case[string]{Label: 2, Action: "3"},
	dispatch.Case[string]{Label: 3, Action: "4"},
	dispatch.Case[string]{Label: 4, Action: "0"},
	dispatch.Case[string]{Label: 5, Action: "foo", Fallthrough: true},
	dispatch.Case[string]{Label: 6, Action: "bar", Fallthrough: true},
	dispatch.Case[string]{Label: 7, Action: "7"},
)

// SwitchTable returns the benchmark's case table.
func SwitchTable() *dispatch.Table[string] { return switchCases }

// Switch runs the benchmark with the fixed seed.
func Switch(g *hostcall.Guest) int {
	return SwitchWith(seed())(g)
}

// SwitchWith returns the benchmark dispatching on selector instead of the
// fixed seed.
func SwitchWith(selector int64) hostcall.Program {
	return func(g *hostcall.Guest) int {
		switchCases.Dispatch(selector, g.Puts)
		return 0
	}
}

// SwitchImage compiles the benchmark for RV64 with seed() returning
// selector. Cases are lowered in label order: a compare chain picks the
// entry case, every case body calls puts and jumps to the end unless it
// falls through into the next body.
func SwitchImage(selector int64) (*asm.Image, error) {
	b := asm.NewBuilder(asm.DefaultBase)
	cases := switchCases.Cases()

	b.Func("main")
	prologue(b)
	b.Call("seed")
	for i, c := range cases {
		b.Li(asm.T0, c.Label)
		b.Beq(asm.A0, asm.T0, caseLabel(i))
	}
	b.J("end")

	for i, c := range cases {
		b.Label(caseLabel(i))
		b.La(asm.A0, stringLabel(i))
		b.Call("puts")
		if !c.Fallthrough {
			b.J("end")
		}
	}

	b.Label("end")
	b.Li(asm.A0, 0)
	epilogue(b)

	b.Func("seed")
	b.Li(asm.A0, selector)
	b.Ret()

	putsStub(b)
	for i, c := range cases {
		b.String(stringLabel(i), c.Action)
	}

	return b.Assemble("main")
}

func caseLabel(i int) string   { return fmt.Sprintf(".case%d", i) }
func stringLabel(i int) string { return fmt.Sprintf(".str%d", i) }
