// emulator logic - maps executables into memory and runs the
// fetch-decode-execute loop
package emu

import (
	"context"
	"fmt"
	"strings"

	"github.com/Joe-Degs/rvsim/hostcall"
	"github.com/davecgh/go-spew/spew"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// HaltAddr is placed in ra before the program starts. Fetching from it
// means the entry function returned and ends the run with status a0.
const HaltAddr uint64 = 0xFFFFFFFFFFFFFFFE

var (
	// ErrStepLimit is returned when Options.MaxSteps instructions ran
	// without the guest exiting.
	ErrStepLimit = errors.New("step limit reached")

	// ErrBreakpoint is returned when the guest executes ebreak.
	ErrBreakpoint = errors.New("ebreak")
)

// Options configure a new Emulator.
type Options struct {
	MemorySize uint
	StackSize  uint
	HeapSize   uint

	// MaxSteps bounds the number of executed instructions, 0 is unlimited.
	MaxSteps uint64

	// StartAtMain starts execution at the main symbol instead of the ELF
	// entry point, skipping libc start up code.
	StartAtMain bool

	// CountFromMain only counts instructions once main was fetched.
	CountFromMain bool

	// Hooks names the library functions simulated by the host.
	Hooks []string

	// Timing prices counted instructions in Stats.Cycles.
	Timing Timing

	Logger hclog.Logger
}

// DefaultOptions suit the statically linked newlib binaries the benchmarks are
// built as.
func DefaultOptions() Options {
	return Options{
		MemorySize:  32 * 1024 * 1024,
		StackSize:   1024 * 1024,
		HeapSize:    1024 * 1024,
		StartAtMain: true,
		Hooks:       []string{"puts", "printf"},
	}
}

// Stats counts what a run did.
type Stats struct {
	Steps        uint64 // instructions executed
	Instructions uint64 // instructions counted, see Options.CountFromMain
	Ecalls       uint64
	LibraryCalls uint64

	Cycles         uint64 // cycles spent on counted instructions
	DataHazards    uint64 // cycles Decode stalled on a register
	ControlHazards uint64 // taken branches and jumps that flushed Fetch and Decode
}

// Emulator keeps the state of the emulated system in this case a machine of
// RV64IM architecture running a single user program
type Emulator struct {
	*Mmu
	opts      Options
	log       hclog.Logger
	host      hostcall.Host
	exe       *Executable
	registers [33]uint64
	stack     VirtAddr
	heap      VirtAddr
	symbols   *SymbolTable
	hooks     map[uint64]string
	stats     Stats
	countFrom uint64
	counting  bool
	pipe      pipeline
}

// create a new emulator whose traps are serviced by host
func NewEmulator(host hostcall.Host, opts Options) *Emulator {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Emulator{
		Mmu:     NewMmu(opts.MemorySize),
		opts:    opts,
		log:     logger,
		host:    host,
		symbols: NewSymbolTable(nil),
		hooks:   make(map[uint64]string),
		pipe:    newPipeline(opts.Timing),
	}
}

// Fork creates a copy of the emulator, memory included, whose traps go to
// host. The copy can later be rewound with Reset.
func (e *Emulator) Fork(host hostcall.Host) *Emulator {
	forked := *e
	forked.Mmu = e.Mmu.Fork()
	forked.host = host
	forked.stats = Stats{}
	forked.pipe = newPipeline(e.opts.Timing)
	return &forked
}

// Reset restores memory and registers to those of other, the emulator
// this one was forked from.
func (e *Emulator) Reset(other *Emulator) {
	e.Mmu.Reset(other.Mmu)
	e.registers = other.registers
	e.stats = Stats{}
	e.counting = other.counting
	e.pipe = newPipeline(e.opts.Timing)
}

// SetHost replaces the host servicing traps.
func (e *Emulator) SetHost(host hostcall.Host) { e.host = host }

// Stats returns the counters of the current run.
func (e *Emulator) Stats() Stats { return e.stats }

// Symbols returns the symbol table of the mapped program.
func (e *Emulator) Symbols() *SymbolTable { return e.symbols }

// Stack is the initial stack pointer, Heap the base of the heap.
func (e *Emulator) Stack() VirtAddr { return e.stack }
func (e *Emulator) Heap() VirtAddr  { return e.heap }

// Set the specified registers value
func (e *Emulator) SetReg(reg Register, val uint64) {
	if reg == Zero {
		return
	}
	e.registers[reg] = val
}

// Reg returns the value in the specified register.
func (e *Emulator) Reg(reg Register) uint64 { return e.registers[reg] }

// IncPc moves the program counter to the next instruction
func (e *Emulator) IncPc() { e.SetReg(Pc, e.Reg(Pc)+4) }

// NextInstAndOpcode gets the next instruction and opcode from executable
// memory at pc
func (e *Emulator) NextInstAndOpcode() (inst uint32, opcode uint8, err error) {
	inst, err = e.InstAt(e.Reg(Pc))
	opcode = uint8(inst & 0b1111111)
	return
}

// InstAt reads the instruction word at addr, which must be executable.
func (e *Emulator) InstAt(addr uint64) (uint32, error) {
	return ReadIntoValPerms(e.Mmu, VirtAddr(addr), uint32(0), PERM_EXEC)
}

// EmuExit signals a pause or end of execution by the emulator
type EmuExit struct {
	cause  error
	opcode uint8
	pc     uint64
}

func (e EmuExit) Error() string {
	return fmt.Sprintf("%s (pc: %#x, opcode: %#09b)", e.cause.Error(), e.pc, e.opcode)
}

// Cause is the error that stopped the guest.
func (e EmuExit) Cause() error  { return e.cause }
func (e EmuExit) Unwrap() error { return e.cause }

// PC is the address of the instruction that stopped the guest.
func (e EmuExit) PC() uint64 { return e.pc }

// Run is the fetch - decode - execute loop. It returns once the guest
// exits, faults or ctx is done; a clean exit is an EmuExit whose cause is
// a hostcall.Done.
func (e *Emulator) Run(ctx context.Context) error {
	for iter := uint64(0); ; iter++ {
		if e.opts.MaxSteps != 0 && e.stats.Steps >= e.opts.MaxSteps {
			return EmuExit{cause: ErrStepLimit, pc: e.Reg(Pc)}
		}
		if iter&0xfff == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := e.Step(); err != nil {
			return err
		}
	}
}

// Step executes a single instruction, or a simulated library call when pc
// sits on a hooked function.
func (e *Emulator) Step() error {
	pc := e.Reg(Pc)

	if pc == HaltAddr {
		status := int(int32(e.Reg(A0)))
		e.log.Debug("halt from fetching halt address", "status", status)
		return EmuExit{cause: hostcall.Done{Status: status}, pc: pc}
	}

	if name, ok := e.hooks[pc]; ok {
		e.stats.LibraryCalls++
		if err := libraryFuncs[name](e); err != nil {
			return EmuExit{cause: err, pc: pc}
		}
		// return straight to the caller
		e.SetReg(Pc, e.Reg(Ra))
		return nil
	}

	inst, opcode, err := e.NextInstAndOpcode()
	if err != nil {
		return EmuExit{cause: errors.Wrap(err, "fetch"), opcode: opcode, pc: pc}
	}

	if !e.counting && pc == e.countFrom {
		e.counting = true
	}
	e.stats.Steps++
	if e.counting {
		e.stats.Instructions++
	}

	if e.log.IsTrace() {
		fn, _ := e.symbols.Resolve(pc)
		e.log.Trace("step", "pc", fmt.Sprintf("%#x", pc), "inst", fmt.Sprintf("%08x", inst), "func", fn.Name)
	}

	err = e.execute(inst, opcode, pc)
	if e.counting {
		e.account(inst, err == nil && e.Reg(Pc) != pc+4)
	}
	if err != nil {
		return EmuExit{cause: err, opcode: opcode, pc: pc}
	}
	return nil
}

// account prices a counted instruction on the configured timing model.
func (e *Emulator) account(inst uint32, redirected bool) {
	cycles, stalls, flushed := e.pipe.retire(inst, redirected)
	e.stats.Cycles += cycles
	e.stats.DataHazards += stalls
	if flushed {
		e.stats.ControlHazards++
	}
}

func (e *Emulator) execute(inst uint32, opcode uint8, pc uint64) error {
	if inst&0b11 != 0b11 {
		return errors.Wrapf(ErrIllegalInstruction, "compressed instruction %#04x", inst&0xffff)
	}

	var err error
	switch opcode {
	case OpReg:
		// rtype - register - register arithmetic
		err = e.execRtypeArith(inst)
	case OpImm:
		// itype - register - immediate arithmetic
		err = e.execItypeImmArith(inst)
	case OpLoad:
		// itype - memory loads
		err = e.execItypeLoads(inst)
	case OpStore:
		// stype - memory stores
		err = e.execStypeStore(inst)
	case OpLui:
		// LUI
		u := decodeU(inst)
		e.SetReg(u.rd, uint64(u.imm))
	case OpAuipc:
		// AUIPC
		u := decodeU(inst)
		e.SetReg(u.rd, pc+uint64(u.imm))
	case OpJal:
		// JAL
		j := decodeJ(inst)
		e.SetReg(j.rd, pc+4)
		e.SetReg(Pc, pc+uint64(int64(j.imm)))
		return nil
	case OpJalr:
		// JALR, target is computed before rd is written as rd may be rs1
		i := decodeI(inst)
		target := (e.Reg(i.rs1) + uint64(int64(i.imm))) &^ 1
		e.SetReg(i.rd, pc+4)
		e.SetReg(Pc, target)
		return nil
	case OpBranch:
		taken, err := e.execBranch(inst, pc)
		if err != nil {
			return err
		}
		if taken {
			return nil
		}
	case OpImm32:
		// itype 32bit register-immediate arithmetic
		err = e.execItype32bitArith(inst)
	case OpReg32:
		// rtype 32bit register-register arithmetic
		err = e.execRtype32RegArith(inst)
	case OpFence:
		// FENCE, a single hart has nothing to order
	case OpSystem:
		switch inst {
		case instEcall:
			e.stats.Ecalls++
			err = e.TrapIntoSystem()
		case instEbreak:
			err = ErrBreakpoint
		default:
			err = illegal(inst)
		}
	default:
		err = illegal(inst)
	}
	if err != nil {
		return err
	}
	e.IncPc()
	return nil
}

// String renders the register file two registers per line.
func (e *Emulator) String() string {
	var sb strings.Builder
	for r := Zero; r <= T6; r++ {
		fmt.Fprintf(&sb, "%s\t: %016x  ", r, e.Reg(r))
		if r%2 == 1 {
			sb.WriteString("\n")
		}
	}
	fmt.Fprintf(&sb, "pc\t: %016x\n", e.Reg(Pc))
	return sb.String()
}

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	SortKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Dump renders registers, stats and layout for post mortem debugging.
func (e *Emulator) Dump() string {
	regs := make(map[string]string, len(e.registers))
	for r := Zero; r <= Pc; r++ {
		regs[r.String()] = fmt.Sprintf("%#x", e.Reg(r))
	}
	return dumpConfig.Sdump(struct {
		Registers map[string]string
		Stats     Stats
		Stack     VirtAddr
		Heap      VirtAddr
	}{regs, e.stats, e.stack, e.heap})
}
