package hostcall

import (
	"fmt"
	"runtime"
)

// Guest is the trap interface handed to a Go-native guest program.
type Guest struct {
	host Host
	err  error
}

// Program is a guest entry point. The return value is the status used when
// the program returns instead of exiting through a trap.
type Program func(g *Guest) int

// Ecall traps into the host with code and arg. When the host ends the guest
// (exit, or a fatal error) Ecall does not return: the guest's goroutine is
// terminated and nothing after the call runs.
func (g *Guest) Ecall(code Code, arg uint64) {
	if err := g.host.Invoke(Request{Code: code, Arg: arg}); err != nil {
		g.err = err
		runtime.Goexit()
	}
}

// Puts writes s and a newline to the host's output stream.
func (g *Guest) Puts(s string) {
	if _, err := fmt.Fprintln(g.host, s); err != nil {
		g.err = err
		runtime.Goexit()
	}
}

// Run executes prog against host on its own goroutine and waits for it.
// The result is Done with the exit status, either from an exit trap or from
// prog returning, or the fatal error that stopped the guest.
func Run(host Host, prog Program) error {
	g := &Guest{host: host}

	var (
		status   int
		returned bool
		done     = make(chan struct{})
	)
	go func() {
		defer close(done)
		status = prog(g)
		returned = true
	}()
	<-done

	if !returned {
		return g.err
	}
	return Done{Status: status}
}
