package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/Joe-Degs/rvsim/benchmark"
	"github.com/Joe-Degs/rvsim/config"
	"github.com/Joe-Degs/rvsim/debugger"
	"github.com/Joe-Degs/rvsim/emu"
	"github.com/Joe-Degs/rvsim/hostcall"
	"github.com/Joe-Degs/rvsim/log"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/term"
)

var (
	fConfig        = pflag.StringP("config", "c", "", "yaml file with emulator settings")
	fQuiet         = pflag.BoolP("quiet", "q", false, "only log errors")
	fVerbose       = pflag.BoolP("verbose", "v", false, "debug logging")
	fTrace         = pflag.Bool("trace", false, "log every executed instruction")
	fCountFromMain = pflag.Bool("count-from-main", false, "only count instructions from main on")
	fMaxSteps      = pflag.Uint64("max-steps", 0, "stop after this many instructions, 0 is unlimited")
	fRuns          = pflag.IntP("runs", "n", 0, "run this many times from a snapshot, outputs must match")
	fNative        = pflag.Bool("native", false, "run the Go form of a builtin instead of emulating it")
	fEmit          = pflag.String("emit", "", "write the builtin as a riscv64 ELF to this path and exit")
	fSeed          = pflag.Int64("seed", benchmark.Seed, "selector of the switch builtin")
	fDump          = pflag.Bool("dump", false, "dump emulator state when the guest stops")
	fStats         = pflag.Bool("stats", false, "log instruction and cycle counts when the guest stops")
	fInteractive   = pflag.BoolP("interactive", "i", false, "run once under the interactive debugger")
	fForward       = pflag.BoolP("forward", "f", false, "price cycles with operand forwarding")
	fSequential    = pflag.BoolP("sequential", "s", false, "price cycles without pipelining")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: rvsim [flags] <elf-path | builtin>\n\nbuiltins: %v\n\n", benchmark.Names())
	pflag.PrintDefaults()
}

func main() {
	pflag.Usage = usage
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.L.Error("configuration", "error", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	status, err := run(ctx, cfg, pflag.Arg(0), pflag.Args()[1:])
	if err != nil {
		log.L.Error("run failed", "error", err)
		os.Exit(1)
	}
	os.Exit(status)
}

// loadConfig layers the config file and then the flags over the defaults.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *fConfig != "" {
		var err error
		if cfg, err = config.Load(*fConfig); err != nil {
			return cfg, err
		}
	}

	flags := pflag.CommandLine
	if flags.Changed("count-from-main") {
		cfg.CountFromMain = *fCountFromMain
	}
	if flags.Changed("max-steps") {
		cfg.MaxSteps = *fMaxSteps
	}
	if flags.Changed("runs") {
		cfg.Runs = *fRuns
	}
	if flags.Changed("forward") {
		cfg.Forwarding = *fForward
	}
	if flags.Changed("sequential") {
		cfg.Sequential = *fSequential
	}

	log.SetLevel(cfg.LogLevel)
	switch {
	case *fTrace:
		log.SetLevel("trace")
	case *fVerbose:
		log.EnableDebug()
	case *fQuiet:
		log.SetLevel("error")
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, target string, args []string) (int, error) {
	if _, err := os.Stat(target); err == nil {
		if *fNative || *fEmit != "" {
			return 0, errors.Errorf("%s is a file, --native and --emit need a builtin", target)
		}
		exe, err := emu.ReadELF(target)
		if err != nil {
			return 0, err
		}
		return launch(ctx, cfg, exe, args)
	}

	prog, err := benchmark.Lookup(target)
	if err != nil {
		return 0, err
	}
	if prog.Name == "switch" && pflag.CommandLine.Changed("seed") {
		prog = benchmark.WithSeed(*fSeed)
	}

	switch {
	case *fEmit != "":
		return 0, emit(prog, *fEmit)
	case *fNative:
		if *fInteractive {
			return 0, errors.New("--interactive needs an emulated guest, not --native")
		}
		return native(cfg, prog)
	}

	exe, err := prog.Executable()
	if err != nil {
		return 0, err
	}
	return launch(ctx, cfg, exe, args)
}

func launch(ctx context.Context, cfg config.Config, exe *emu.Executable, args []string) (int, error) {
	if *fInteractive {
		return interactive(ctx, cfg, exe, args)
	}
	return emulate(ctx, cfg, exe, args)
}

func emit(prog benchmark.Program, path string) error {
	img, err := prog.Image()
	if err != nil {
		return err
	}
	data, err := img.ELF()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o755); err != nil {
		return errors.Wrap(err, "emit")
	}
	log.L.Info("wrote executable", "path", path, "entry", fmt.Sprintf("%#x", img.Entry))
	return nil
}

func native(cfg config.Config, prog benchmark.Program) (int, error) {
	var want [blake2b.Size256]byte
	status := 0
	for i := 0; i < cfg.Runs; i++ {
		var out bytes.Buffer
		console := hostcall.NewConsole(&out, log.L.Named("host"))

		err := hostcall.Run(console, prog.Native)
		st, ok := hostcall.Status(err)
		if !ok {
			os.Stdout.Write(out.Bytes())
			return 0, err
		}
		if err := checkRun(i, &want, out.Bytes()); err != nil {
			return 0, err
		}
		status = st
	}
	return status, nil
}

// emulate maps exe once and runs it cfg.Runs times, resetting a fork of
// the mapped emulator between runs.
func emulate(ctx context.Context, cfg config.Config, exe *emu.Executable, args []string) (int, error) {
	pristine := emu.NewEmulator(nil, cfg.Options(log.L.Named("emu")))
	if err := pristine.Map(exe, args); err != nil {
		return 0, err
	}
	vm := pristine.Fork(nil)

	var want [blake2b.Size256]byte
	status := 0
	for i := 0; i < cfg.Runs; i++ {
		if i > 0 {
			vm.Reset(pristine)
		}
		var out bytes.Buffer
		vm.SetHost(hostcall.NewConsole(&out, log.L.Named("host")))

		err := vm.Run(ctx)
		report(vm)

		st, ok := hostcall.Status(err)
		if !ok {
			os.Stdout.Write(out.Bytes())
			handleErrors(vm, err)
			return 0, err
		}
		if err := checkRun(i, &want, out.Bytes()); err != nil {
			return 0, err
		}
		status = st
	}
	return status, nil
}

// interactive runs exe once under the debugger, with line editing when
// stdin is a terminal.
func interactive(ctx context.Context, cfg config.Config, exe *emu.Executable, args []string) (int, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return debug(ctx, cfg, exe, args, debugger.Lines(os.Stdin), os.Stdout)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return 0, errors.Wrap(err, "enable raw mode")
	}
	defer term.Restore(fd, oldState)

	tty := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, debugger.Prompt)
	return debug(ctx, cfg, exe, args, tty, tty)
}

// debug maps exe and hands it to the debugger. Guest output shares out
// with the debugger. Quitting is a clean exit with status 0.
func debug(ctx context.Context, cfg config.Config, exe *emu.Executable, args []string,
	in debugger.LineReader, out io.Writer) (int, error) {
	vm := emu.NewEmulator(hostcall.NewConsole(out, log.L.Named("host")), cfg.Options(log.L.Named("emu")))
	if err := vm.Map(exe, args); err != nil {
		return 0, err
	}

	err := debugger.New(vm, in, out, log.L.Named("debugger")).Run(ctx)
	report(vm)
	if errors.Is(err, debugger.ErrQuit) {
		return 0, nil
	}
	status, ok := hostcall.Status(err)
	if !ok {
		handleErrors(vm, err)
		return 0, err
	}
	return status, nil
}

// checkRun prints the first run's output and requires every later run to
// produce output with the same digest.
func checkRun(i int, want *[blake2b.Size256]byte, got []byte) error {
	sum := blake2b.Sum256(got)
	log.L.Debug("run finished", "run", i+1, "bytes", len(got), "digest", fmt.Sprintf("%x", sum[:8]))
	if i == 0 {
		*want = sum
		os.Stdout.Write(got)
		return nil
	}
	if sum != *want {
		return errors.Errorf("run %d output %q differs from first run", i+1, got)
	}
	return nil
}

func report(vm *emu.Emulator) {
	if *fStats {
		s := vm.Stats()
		log.L.Info("stats", "steps", s.Steps, "instructions", s.Instructions,
			"ecalls", s.Ecalls, "library_calls", s.LibraryCalls)
		log.L.Info("timing", "cycles", s.Cycles, "cpi", fmt.Sprintf("%.3f", s.CPI()),
			"data_hazards", s.DataHazards, "control_hazards", s.ControlHazards)
	}
	if *fDump {
		fmt.Fprint(os.Stderr, vm.Dump())
	}
}

// handle emulator execution errors
func handleErrors(vm *emu.Emulator, err error) {
	var exit emu.EmuExit
	if !errors.As(err, &exit) {
		return
	}
	log.L.Error("guest stopped", "pc", fmt.Sprintf("%#x", exit.PC()), "cause", exit.Cause())

	var mmuErr emu.MMUError
	if errors.As(exit.Cause(), &mmuErr) {
		size := mmuErr.Size
		if size == 0 {
			size = 1
		}
		fmt.Fprint(os.Stderr, vm.Inspect(mmuErr.Addr, size))
		fmt.Fprint(os.Stderr, vm.InspectPerms(mmuErr.Addr, size))
	}
	if log.L.IsDebug() {
		fmt.Fprint(os.Stderr, vm.String())
	}
}
