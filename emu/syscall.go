package emu

import (
	"fmt"

	"github.com/Joe-Degs/rvsim/hostcall"
	"github.com/pkg/errors"
)

// syscalls is the newlib syscall table, it maps the number in a7 to the
// function servicing it. Anything not in here is a host service request.
var syscalls = map[uint64]func(e *Emulator, s SysCall) error{
	222: mmap,
	64:  write,
	94:  exit, // exit_group
	93:  exit,

	57:  unsimulated("close"),
	62:  unsimulated("lseek"),
	63:  unsimulated("read"),
	80:  unsimulated("fstat"),
	214: unsimulated("brk"),
}

// SysCall contains the syscall number and arguments. It also double as an
// error for when the syscall is not implemented.
type SysCall struct {
	num, a0, a1, a2, a3, a4, a5, a6 uint64
}

func (s SysCall) Error() string {
	return fmt.Sprintf(
		"Syscall{num: %d, a0: %d, a1: %d, a2: %d, a3: %d, a4: %d, a5: %d, a6: %d}",
		s.num, s.a0, s.a1, s.a2, s.a3, s.a4, s.a5, s.a6,
	)
}

// ErrUnsimulated is returned for newlib syscalls the host knows about but
// does not implement.
var ErrUnsimulated = errors.New("syscall not simulated")

// TrapIntoSystem services an ecall. Newlib syscalls are recognised by a7;
// everything else follows the host service convention of an operation
// code in a0 and its argument in a1.
func (e *Emulator) TrapIntoSystem() error {
	s := SysCall{
		e.Reg(A7), e.Reg(A0), e.Reg(A1), e.Reg(A2),
		e.Reg(A3), e.Reg(A4), e.Reg(A5), e.Reg(A6),
	}
	if syscall, ok := syscalls[s.num]; ok {
		return syscall(e, s)
	}

	req := hostcall.Request{Code: hostcall.Code(s.a0), Arg: s.a1}
	e.log.Debug("ecall", "code", req.Code, "arg", fmt.Sprintf("%#x", req.Arg))
	return e.host.Invoke(req)
}

func unsimulated(name string) func(e *Emulator, s SysCall) error {
	return func(e *Emulator, s SysCall) error {
		e.log.Warn("syscall is not simulated", "a7", s.num, "name", name)
		return errors.Wrapf(ErrUnsimulated, "ecall (a7=%d) is %s()", s.num, name)
	}
}

// mmap syscall number 222, hands out the heap
func mmap(e *Emulator, s SysCall) error {
	e.SetReg(A0, uint64(e.Heap()))
	return nil
}

// ssize_t write(int fd, const void *buf, size_t count)
func write(e *Emulator, s SysCall) error {
	if s.a2 > uint64(e.Len()) {
		return errors.Wrap(MMUError{Kind: ErrOutOfBounds, Addr: VirtAddr(s.a1), Size: uint(s.a2), Perm: PERM_READ}, "write")
	}
	buf := make([]byte, s.a2)
	if err := e.ReadInto(VirtAddr(s.a1), buf); err != nil {
		return errors.Wrap(err, "write")
	}
	n, err := e.host.Write(buf)
	if err != nil {
		return errors.Wrap(err, "write")
	}
	e.SetReg(A0, uint64(n))
	return nil
}

// void _exit(int status);
func exit(e *Emulator, s SysCall) error {
	return e.host.Invoke(hostcall.Request{Code: hostcall.Exit, Arg: s.a0})
}
