package hostcall

import (
	"fmt"
	"io"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

type flusher interface {
	Flush() error
}

// Console is a Host writing print requests and library output to a stream.
type Console struct {
	out io.Writer
	log hclog.Logger

	prints int
	exited bool
	status int
}

// NewConsole creates a console host on out. A nil logger discards logs.
func NewConsole(out io.Writer, logger hclog.Logger) *Console {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Console{out: out, log: logger}
}

func (c *Console) Write(p []byte) (int, error) {
	if c.exited {
		return 0, errors.New("hostcall: write after exit")
	}
	return c.out.Write(p)
}

// Invoke services req.
func (c *Console) Invoke(req Request) error {
	if c.exited {
		return errors.Errorf("hostcall: %s after exit", req.Code)
	}

	switch req.Code {
	case Print:
		c.log.Debug("ecall print", "arg", fmt.Sprintf("%#x", req.Arg))
		c.prints++
		if _, err := fmt.Fprintf(c.out, "%#x\n", req.Arg); err != nil {
			return errors.Wrap(err, "hostcall: print")
		}
		return nil
	case Exit:
		// whatever was printed must be visible before the guest is gone
		if f, ok := c.out.(flusher); ok {
			if err := f.Flush(); err != nil {
				return errors.Wrap(err, "hostcall: flush before exit")
			}
		}
		c.exited = true
		c.status = int(int32(req.Arg))
		c.log.Debug("ecall exit", "status", c.status)
		return Done{Status: c.status}
	}

	c.log.Warn("unknown ecall, aborting", "code", uint64(req.Code))
	return errors.Wrapf(ErrUnknownCode, "code %d", uint64(req.Code))
}

// Prints is the number of print requests serviced.
func (c *Console) Prints() int { return c.prints }

// Exited reports whether an exit was serviced and with which status.
func (c *Console) Exited() (bool, int) { return c.exited, c.status }
