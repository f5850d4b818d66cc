package emu

import (
	"debug/elf"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Segment is a loadable region of an executable.
type Segment struct {
	Addr    uint64
	Data    []byte
	MemSize uint64 // bytes past len(Data) are zero filled
	Perm    Perm
}

// Symbol is a function of an executable.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// Executable holds data necessary to succefully prepare program for
// execution.
type Executable struct {
	Name     string
	Entry    uint64
	Segments []Segment
	Symbols  []Symbol
}

// ErrNotRISCV is returned for ELF files built for another machine or
// class, or that are not executables.
var ErrNotRISCV = errors.New("not a riscv64 executable")

// ReadELF loads the executable at path.
func ReadELF(path string) (*Executable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	exe, err := ParseELF(f)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	exe.Name = filepath.Base(path)
	return exe, nil
}

// ParseELF reads PT_LOAD segments and function symbols of a riscv64
// ET_EXEC image.
func ParseELF(r io.ReaderAt) (*Executable, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, errors.Wrap(err, "parsing elf")
	}
	defer f.Close()

	switch {
	case f.Class != elf.ELFCLASS64:
		return nil, errors.Wrapf(ErrNotRISCV, "class %s", f.Class)
	case f.Machine != elf.EM_RISCV:
		return nil, errors.Wrapf(ErrNotRISCV, "machine %s", f.Machine)
	case f.Type != elf.ET_EXEC:
		return nil, errors.Wrapf(ErrNotRISCV, "type %s", f.Type)
	}

	exe := &Executable{Entry: f.Entry}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), data); err != nil {
			return nil, errors.Wrapf(err, "reading segment at %#x", prog.Vaddr)
		}
		exe.Segments = append(exe.Segments, Segment{
			Addr:    prog.Vaddr,
			Data:    data,
			MemSize: prog.Memsz,
			Perm:    permFromFlags(prog.Flags),
		})
	}
	if len(exe.Segments) == 0 {
		return nil, errors.New("no loadable segments")
	}

	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, errors.Wrap(err, "reading symbols")
	}
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Name == "" {
			continue
		}
		exe.Symbols = append(exe.Symbols, Symbol{Name: s.Name, Addr: s.Value, Size: s.Size})
	}
	return exe, nil
}

// elf and the mmu do not agree on which bit means what
func permFromFlags(flags elf.ProgFlag) Perm {
	var p Perm
	if flags&elf.PF_R != 0 {
		p |= PERM_READ
	}
	if flags&elf.PF_W != 0 {
		p |= PERM_WRITE
	}
	if flags&elf.PF_X != 0 {
		p |= PERM_EXEC
	}
	return p
}

// This is what a program looks like in memory
//
//	SP<-+---------------+->(end)
//	    |               |
//	    |     stack     |
//	    |               |
//	    +---------------+
//	    |    (unused)   |
//	    +---------------+
//	    |     heap      |
//	    +---------------+
//	    |  static data  |
//	    +---------------+
//	    | section .text |
//	    +---------------+->0x0(start)
//
// Map loads exe into memory to create a process image, sets up heap and
// stack, registers simulated library calls and points pc at the start
// function. args become argv, after the executable name.
func (e *Emulator) Map(exe *Executable, args []string) error {
	for _, seg := range exe.Segments {
		if err := e.loadSegment(seg); err != nil {
			return errors.Wrapf(err, "mapping segment at %#x", seg.Addr)
		}
	}
	if err := e.allocStackAndHeap(); err != nil {
		return err
	}

	e.exe = exe
	e.symbols = NewSymbolTable(exe.Symbols)
	for _, name := range e.opts.Hooks {
		if _, ok := libraryFuncs[name]; !ok {
			return errors.Errorf("no simulation for library function %q", name)
		}
		if sym, ok := e.symbols.Lookup(name); ok {
			e.hooks[sym.Addr] = name
			e.log.Debug("simulating library call", "func", name, "addr", sym.Addr)
		}
	}

	start := exe.Entry
	main, hasMain := e.symbols.Lookup("main")
	if e.opts.StartAtMain && hasMain {
		start = main.Addr
	}
	e.countFrom = start
	if e.opts.CountFromMain && hasMain {
		e.countFrom = main.Addr
	}

	name := exe.Name
	if name == "" {
		name = "a.out"
	}
	if err := e.setupStack(append([]string{name}, args...)); err != nil {
		return errors.Wrap(err, "setting up stack")
	}

	e.SetReg(Ra, HaltAddr)
	e.SetReg(Pc, start)
	e.log.Debug("mapped program", "name", name, "entry", start, "sp", e.Reg(Sp))
	return nil
}

func (e *Emulator) loadSegment(seg Segment) error {
	size := seg.MemSize
	if size < uint64(len(seg.Data)) {
		size = uint64(len(seg.Data))
	}
	addr := VirtAddr(seg.Addr)

	// set memory as writable
	if err := e.SetPermissions(addr, uint(size), PERM_WRITE); err != nil {
		return err
	}
	if err := e.WriteFrom(addr, seg.Data); err != nil {
		return err
	}
	// fill-in any pads with zeros
	if pad := size - uint64(len(seg.Data)); pad > 0 {
		if err := e.WriteFrom(addr+VirtAddr(len(seg.Data)), make([]byte, pad)); err != nil {
			return err
		}
	}
	// demote permissions to originals
	if err := e.SetPermissions(addr, uint(size), seg.Perm); err != nil {
		return err
	}
	e.AllocateAt(addr + VirtAddr(size))
	return nil
}

// reserve space in memory for the stack at the top of memory and the heap
// right after the loaded segments
func (e *Emulator) allocStackAndHeap() error {
	// stack starts at a 16-byte address 255 steps away from last address.
	top := VirtAddr(uint(e.Len()-0xff) &^ 0xf)
	bottom := top - VirtAddr(e.opts.StackSize)
	if e.opts.StackSize >= uint(top) || bottom < e.curAlloc {
		return errors.Errorf("stack of %#x bytes does not fit in memory", e.opts.StackSize)
	}
	if err := e.SetPermissions(bottom, uint(e.Len())-uint(bottom), PERM_READ|PERM_WRITE); err != nil {
		return err
	}
	e.stack = top
	e.SetReg(Sp, uint64(top))

	e.heap = e.Allocate(e.opts.HeapSize)
	if e.heap == 0 || e.curAlloc > bottom {
		return errors.Errorf("heap of %#x bytes does not fit in memory", e.opts.HeapSize)
	}
	return nil
}

// setupStack lays out argc, argv, envp and an empty auxv the way the
// kernel hands them to _start, and passes argc and argv in a0 and a1 for
// programs started at main.
func (e *Emulator) setupStack(args []string) error {
	ptrs := make([]uint64, len(args))
	sp := e.Reg(Sp)
	for i, arg := range args {
		s := append([]byte(arg), 0)
		sp -= uint64(len(s))
		if err := e.WriteFrom(VirtAddr(sp), s); err != nil {
			return err
		}
		ptrs[i] = sp
	}
	e.SetReg(Sp, sp&^0xf)

	// argc, argv..., NULL, envp NULL, AT_NULL pair
	words := 1 + len(ptrs) + 1 + 1 + 2
	if words%2 != 0 {
		if err := push(e, uint64(0)); err != nil {
			return err
		}
	}
	for i := 0; i < 4; i++ {
		if err := push(e, uint64(0)); err != nil {
			return err
		}
	}
	for i := len(ptrs) - 1; i >= 0; i-- {
		if err := push(e, ptrs[i]); err != nil {
			return err
		}
	}
	if err := push(e, uint64(len(args))); err != nil {
		return err
	}

	sp = e.Reg(Sp)
	e.SetReg(A0, uint64(len(args)))
	e.SetReg(A1, sp+8)
	e.SetReg(A2, sp+8+uint64(len(args)+1)*8)
	return nil
}

// push is a routine for pushing values onto the stack
func push[T Primitive](emu *Emulator, val T) error {
	size := uint64(len(ValToBytes(val)))
	sp := emu.Reg(Sp) - size
	if err := WriteFromVal(emu.Mmu, VirtAddr(sp), val); err != nil {
		return err
	}
	emu.SetReg(Sp, sp)
	return nil
}
