package emu

import (
	"fmt"

	"github.com/pkg/errors"
)

// longest string a simulated library call reads out of guest memory
const maxCString = 1 << 16

// LibraryFunc simulates a C library function on the host. Arguments are in
// the argument registers; the caller's ra is where control goes next.
type LibraryFunc func(e *Emulator) error

// libraryFuncs are the functions Options.Hooks may name. Library code is
// full of compressed instructions, so the calls the benchmarks make are
// serviced by the host instead of being executed.
var libraryFuncs = map[string]LibraryFunc{
	"puts":   puts,
	"printf": printf,
}

// int puts(const char *s);
func puts(e *Emulator) error {
	s, err := e.ReadCString(VirtAddr(e.Reg(A0)), maxCString)
	if err != nil {
		return errors.Wrap(err, "puts")
	}
	if _, err := fmt.Fprintln(e.host, s); err != nil {
		return errors.Wrap(err, "puts")
	}
	e.SetReg(A0, uint64(len(s)+1))
	return nil
}

// int printf(const char *format, ...); the format is written as is,
// conversions are not expanded.
func printf(e *Emulator) error {
	s, err := e.ReadCString(VirtAddr(e.Reg(A0)), maxCString)
	if err != nil {
		return errors.Wrap(err, "printf")
	}
	if _, err := fmt.Fprint(e.host, s); err != nil {
		return errors.Wrap(err, "printf")
	}
	e.SetReg(A0, uint64(len(s)))
	return nil
}
