package benchmark

import (
	"sort"

	"github.com/Joe-Degs/rvsim/asm"
	"github.com/Joe-Degs/rvsim/emu"
	"github.com/Joe-Degs/rvsim/hostcall"
	"github.com/pkg/errors"
)

// ErrUnknownProgram is returned by Lookup for names that are not builtins.
var ErrUnknownProgram = errors.New("unknown builtin program")

// Program pairs a guest's Go form with its RV64 form.
type Program struct {
	Name string

	// Native runs on the hostcall guest runtime.
	Native hostcall.Program

	// Image assembles the RV64 form.
	Image func() (*asm.Image, error)
}

// Executable assembles the program's image into something the emulator
// can map.
func (p Program) Executable() (*emu.Executable, error) {
	img, err := p.Image()
	if err != nil {
		return nil, errors.Wrapf(err, "assembling %s", p.Name)
	}
	exe := FromImage(img)
	exe.Name = p.Name
	return exe, nil
}

var programs = map[string]Program{
	"ecall": {
		Name:   "ecall",
		Native: Ecall,
		Image:  EcallImage,
	},
	"switch": {
		Name:   "switch",
		Native: Switch,
		Image:  func() (*asm.Image, error) { return SwitchImage(Seed) },
	},
}

// Lookup returns the builtin program called name.
func Lookup(name string) (Program, error) {
	p, ok := programs[name]
	if !ok {
		return Program{}, errors.Wrapf(ErrUnknownProgram, "%q", name)
	}
	return p, nil
}

// WithSeed returns the switch benchmark dispatching on selector.
func WithSeed(selector int64) Program {
	return Program{
		Name:   "switch",
		Native: SwitchWith(selector),
		Image:  func() (*asm.Image, error) { return SwitchImage(selector) },
	}
}

// Names lists the builtin programs in order.
func Names() []string {
	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromImage converts an assembled image to an executable without going
// through an ELF file: text is mapped read and execute, data read only.
func FromImage(img *asm.Image) *emu.Executable {
	exe := &emu.Executable{Entry: img.Entry}
	exe.Segments = append(exe.Segments, emu.Segment{
		Addr:    img.TextAddr,
		Data:    img.Text,
		MemSize: uint64(len(img.Text)),
		Perm:    emu.PERM_READ | emu.PERM_EXEC,
	})
	if len(img.Data) > 0 {
		exe.Segments = append(exe.Segments, emu.Segment{
			Addr:    img.DataAddr,
			Data:    img.Data,
			MemSize: uint64(len(img.Data)),
			Perm:    emu.PERM_READ,
		})
	}
	for _, s := range img.Symbols {
		exe.Symbols = append(exe.Symbols, emu.Symbol{Name: s.Name, Addr: s.Addr, Size: s.Size})
	}
	return exe
}
