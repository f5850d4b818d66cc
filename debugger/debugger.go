// Package debugger is the interactive front end of the emulator: it single
// steps a mapped guest under breakpoints and inspects its registers, memory
// and code between steps.
package debugger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Joe-Degs/rvsim/emu"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Prompt is shown before every command.
const Prompt = "(rvsim) "

// ErrQuit is returned by Run when the user quits before the guest exits.
var ErrQuit = errors.New("debugger: quit")

// LineReader yields one command per call and io.EOF once input ends.
// *term.Terminal is one.
type LineReader interface {
	ReadLine() (string, error)
}

type scanLines struct{ s *bufio.Scanner }

// Lines reads commands from a plain stream such as a pipe.
func Lines(r io.Reader) LineReader {
	return scanLines{bufio.NewScanner(r)}
}

func (l scanLines) ReadLine() (string, error) {
	if l.s.Scan() {
		return l.s.Text(), nil
	}
	if err := l.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Debugger drives an emulator one instruction at a time.
type Debugger struct {
	vm          *emu.Emulator
	in          LineReader
	out         io.Writer
	log         hclog.Logger
	breakpoints []uint64
	steps       int  // instructions left before the next prompt, negative runs free
	eof         bool // input ended, keep running without prompting
}

// New returns a debugger for vm, which must already be mapped. Commands
// are read from in and answered on out.
func New(vm *emu.Emulator, in LineReader, out io.Writer, logger hclog.Logger) *Debugger {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Debugger{vm: vm, in: in, out: out, log: logger}
}

// Breakpoints returns the breakpoint addresses in the order they were set.
func (d *Debugger) Breakpoints() []uint64 {
	return append([]uint64(nil), d.breakpoints...)
}

// Run prompts before the first instruction and then steps the guest as
// told until it stops. The guest's stopping error is returned as is, so a
// clean exit carries a hostcall.Done.
func (d *Debugger) Run(ctx context.Context) error {
	prompter, ownPrompt := d.in.(interface{ SetPrompt(string) })
	if ownPrompt {
		prompter.SetPrompt(Prompt)
	}

	for iter := uint64(0); ; iter++ {
		if iter&0xfff == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		pc := d.vm.Reg(emu.Pc)
		if n := d.breakpointAt(pc); n > 0 && iter > 0 {
			fmt.Fprintf(d.out, "Hit breakpoint %d at %#x\n", n, pc)
			d.steps = 0
		}

		for d.steps == 0 && !d.eof {
			if !ownPrompt {
				io.WriteString(d.out, Prompt)
			}
			line, err := d.in.ReadLine()
			if err == io.EOF {
				d.log.Debug("command input ended, running to completion")
				d.eof = true
				d.steps = -1
				break
			}
			if err != nil {
				return errors.Wrap(err, "reading command")
			}
			if err := d.exec(strings.Fields(line)); err != nil {
				return err
			}
		}

		if d.steps > 0 {
			d.steps--
		}
		if err := d.vm.Step(); err != nil {
			return err
		}
	}
}

// breakpointAt returns the 1-based number of the breakpoint at addr, or 0.
func (d *Debugger) breakpointAt(addr uint64) int {
	for i, b := range d.breakpoints {
		if b == addr {
			return i + 1
		}
	}
	return 0
}

// exec runs one command. Commands that resume the guest set d.steps.
func (d *Debugger) exec(args []string) error {
	if len(args) == 0 {
		d.steps = 1
		return nil
	}

	cmd, rest := args[0], args[1:]
	switch {
	case cmd == "h" || cmd == "help":
		io.WriteString(d.out, usage)
	case cmd == "q" || cmd == "quit":
		return ErrQuit
	case cmd == "pc":
		d.printPC()
	case cmd == "pa":
		io.WriteString(d.out, d.vm.String())
	case cmd == "p":
		d.printReg(rest)
	case cmd == "x" || strings.HasPrefix(cmd, "x/"):
		d.examine(cmd, rest)
	case cmd == "si":
		d.stepInto(rest)
	case cmd == "c":
		d.steps = -1
	case cmd == "b":
		d.setBreakpoint(rest)
	case cmd == "ib":
		d.listBreakpoints()
	case cmd == "d":
		d.deleteBreakpoint(rest)
	case cmd == "disass":
		d.disassemble(rest)
	case cmd == "stats":
		d.printStats()
	default:
		fmt.Fprintf(d.out, "Unknown command %q, try h.\n", cmd)
	}
	return nil
}

const usage = `Commands:
  <enter>         execute one instruction
  si [n]          execute n instructions
  c               continue to the next breakpoint
  b addr|func     set a breakpoint
  ib              list breakpoints
  d n             delete breakpoint n
  pc              show pc and the instruction there
  p reg           print a register
  pa              print all registers
  x/n addr        dump n bytes of memory
  disass [func]   disassemble func, or the function at pc
  stats           show instruction and cycle counts
  q               quit
`

func (d *Debugger) printPC() {
	pc := d.vm.Reg(emu.Pc)
	inst, err := d.vm.InstAt(pc)
	if err != nil {
		fmt.Fprintf(d.out, "%#x:\tCannot access memory at %#x\n", pc, pc)
		return
	}
	fmt.Fprintf(d.out, "%#x:\t%s\n", pc, emu.Disassemble(inst, pc))
}

func (d *Debugger) printReg(args []string) {
	if len(args) == 0 {
		io.WriteString(d.out, "No register specified.\n")
		return
	}
	reg, ok := emu.RegisterByName(args[0])
	if !ok {
		io.WriteString(d.out, "Unknown register name.\n")
		return
	}
	fmt.Fprintf(d.out, "\t%s\t: %016x\n", reg, d.vm.Reg(reg))
}

// examine dumps memory sixteen bytes per line, split in two groups of
// eight.
func (d *Debugger) examine(cmd string, args []string) {
	n := 1
	if _, count, ok := strings.Cut(cmd, "/"); ok {
		v, err := strconv.Atoi(count)
		if err != nil || v <= 0 {
			io.WriteString(d.out, "Bad length.\n")
			return
		}
		n = v
	}
	if len(args) == 0 {
		io.WriteString(d.out, "No address specified.\n")
		return
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		io.WriteString(d.out, "Bad address format.\n")
		return
	}
	if uint64(n) > uint64(d.vm.Len()) {
		fmt.Fprintf(d.out, "Cannot access memory at %#x\n", addr)
		return
	}

	buf := make([]byte, n)
	if err := d.vm.ReadInto(emu.VirtAddr(addr), buf); err != nil {
		fmt.Fprintf(d.out, "Cannot access memory at %#x\n", addr)
		return
	}

	var sb strings.Builder
	for i, b := range buf {
		switch {
		case i%16 == 0:
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "%x:\t", addr+uint64(i))
		case i%8 == 0:
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%02x ", b)
	}
	sb.WriteString("\n")
	io.WriteString(d.out, sb.String())
}

func (d *Debugger) stepInto(args []string) {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			io.WriteString(d.out, "Bad number.\n")
			return
		}
		if v > 1 {
			n = v
		}
	}
	d.steps = n
}

// resolve reads a function name or a hex address.
func (d *Debugger) resolve(arg string) (uint64, bool) {
	if sym, ok := d.vm.Symbols().Lookup(arg); ok {
		return sym.Addr, true
	}
	addr, err := parseAddr(arg)
	return addr, err == nil
}

func (d *Debugger) setBreakpoint(args []string) {
	if len(args) == 0 {
		io.WriteString(d.out, "No address specified.\n")
		return
	}
	addr, ok := d.resolve(args[0])
	if !ok {
		io.WriteString(d.out, "Bad address.\n")
		return
	}
	if n := d.breakpointAt(addr); n > 0 {
		fmt.Fprintf(d.out, "Breakpoint %d already at %#x\n", n, addr)
		return
	}
	d.breakpoints = append(d.breakpoints, addr)
	fmt.Fprintf(d.out, "Breakpoint %d at %#x\n", len(d.breakpoints), addr)
}

func (d *Debugger) listBreakpoints() {
	if len(d.breakpoints) == 0 {
		io.WriteString(d.out, "No breakpoints.\n")
		return
	}
	io.WriteString(d.out, "Breakpoints:\n")
	for i, b := range d.breakpoints {
		fmt.Fprintf(d.out, " %d - %#x\n", i+1, b)
	}
}

func (d *Debugger) deleteBreakpoint(args []string) {
	if len(args) == 0 {
		io.WriteString(d.out, "No breakpoint specified.\n")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		io.WriteString(d.out, "Bad number.\n")
		return
	}
	if n < 1 || n > len(d.breakpoints) {
		fmt.Fprintf(d.out, "No breakpoint number %d.\n", n)
		return
	}
	d.breakpoints = append(d.breakpoints[:n-1], d.breakpoints[n:]...)
}

// disassemble lists a whole function, marking the instruction at pc.
func (d *Debugger) disassemble(args []string) {
	pc := d.vm.Reg(emu.Pc)

	var (
		sym emu.Symbol
		ok  bool
	)
	if len(args) == 0 {
		if sym, ok = d.vm.Symbols().Resolve(pc); !ok {
			fmt.Fprintf(d.out, "No function contains %#x.\n", pc)
			return
		}
	} else if sym, ok = d.vm.Symbols().Lookup(args[0]); !ok {
		io.WriteString(d.out, "Bad function name.\n")
		return
	}

	end := sym.Addr + sym.Size
	if sym.Size == 0 {
		end = sym.Addr + 4
	}
	fmt.Fprintf(d.out, "\nDisassembly of %s:\n", sym.Name)
	for addr := sym.Addr; addr < end; addr += 4 {
		marker := "    "
		if addr == pc {
			marker = "===>"
		}
		inst, err := d.vm.InstAt(addr)
		if err != nil {
			fmt.Fprintf(d.out, "Cannot access memory at %#x\n", addr)
			return
		}
		fmt.Fprintf(d.out, "%s\t%x:\t%s\n", marker, addr, emu.Disassemble(inst, addr))
	}
}

func (d *Debugger) printStats() {
	s := d.vm.Stats()
	fmt.Fprintf(d.out, "steps %d, instructions %d, cycles %d, CPI %.3f\n",
		s.Steps, s.Instructions, s.Cycles, s.CPI())
	fmt.Fprintf(d.out, "data hazards %d, control hazards %d\n", s.DataHazards, s.ControlHazards)
}

func parseAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}
