package log

import (
	"io"
	"os"

	hclog "github.com/hashicorp/go-hclog"
	"golang.org/x/term"
)

// L is the process wide logger. Components take an hclog.Logger so tests
// can hand them a null logger instead.
var L hclog.Logger

func init() {
	L = New(os.Stderr, hclog.Info)

	if str := os.Getenv("TRACE"); str != "" {
		L.SetLevel(hclog.Trace)
	}
}

// New builds a named logger writing to out, colored when out is a
// terminal.
func New(out io.Writer, level hclog.Level) hclog.Logger {
	color := hclog.ColorOff
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		color = hclog.ForceColor
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "rvsim",
		Level:  level,
		Output: out,
		Color:  color,
	})
}

// SetLevel parses level ("trace", "debug", "info", "warn", "error") and
// applies it to L. Unknown names leave the level unchanged.
func SetLevel(level string) {
	if lvl := hclog.LevelFromString(level); lvl != hclog.NoLevel {
		L.SetLevel(lvl)
	}
}
