// Package hostcall defines the contract between a guest program and the host
// servicing its traps: an operation code and one 64-bit argument, passed in
// fixed locations and handed over by a single trapping instruction.
package hostcall

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Code selects the host service a trap invokes.
type Code uint64

// Operation codes understood by the host.
const (
	Print Code = 1  // emit the argument, returns to the caller
	Exit  Code = 10 // terminate the guest, argument is the exit status
)

func (c Code) String() string {
	switch c {
	case Print:
		return "print"
	case Exit:
		return "exit"
	}
	return fmt.Sprintf("code(%d)", uint64(c))
}

// Returns reports whether control comes back to the guest after the host
// serviced c.
func (c Code) Returns() bool { return c != Exit }

// Request is a single trap: built right before the trap instruction and
// consumed by it.
type Request struct {
	Code Code
	Arg  uint64
}

// ErrUnknownCode is returned by hosts for codes outside the enumeration.
// The guest does not recover from it.
var ErrUnknownCode = errors.New("hostcall: unknown operation code")

// Done signals that the guest asked to be terminated.
type Done struct{ Status int }

func (d Done) Error() string {
	return fmt.Sprintf("exited with %d", d.Status)
}

// Host services guest traps. Library output (puts, write) goes through the
// io.Writer side.
type Host interface {
	io.Writer

	// Invoke performs req. A nil error means control returns to the guest,
	// Done means the guest is finished, anything else is fatal.
	Invoke(req Request) error
}

// Status extracts the exit status from err when it carries a Done.
func Status(err error) (int, bool) {
	var d Done
	if errors.As(err, &d) {
		return d.Status, true
	}
	return 0, false
}
