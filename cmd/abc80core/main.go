// Command abc80core is a minimal harness around the core package: it
// builds an ABC80 or ABC802 machine, runs it, and offers a tiny
// liner-driven console for poking at it while it runs. Full emulator
// options (disk/cassette image paths, printer spooling, directory
// listings) are the surrounding application's job, not this package's —
// this binary only exists to exercise the core the way a developer
// would from a debugger.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	getopt "github.com/pborman/getopt/v2"
	"github.com/peterh/liner"

	"abc80/disasm"
	"abc80/internal/tracelog"
	"abc80/machine"
)

func main() {
	optModel := getopt.StringLong("model", 'm', "abc80", "Machine model: abc80 or abc802")
	optMHz := getopt.StringLong("mhz", 'z', "3.0", "Simulated CPU clock in MHz (0 selects the model's default clock)")
	optRAM := getopt.StringLong("ram", 'r', "16", "ABC80 RAM size in KiB (1-32, or 64)")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Mirror debug-level log records to stderr")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	mhz, _ := strconv.ParseFloat(*optMHz, 64)
	ramKiB, _ := strconv.Atoi(*optRAM)

	var logWriter io.Writer
	if *optLogFile != "" {
		logFile, err := os.Create(*optLogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "abc80core: ", err)
			os.Exit(1)
		}
		logWriter = logFile
	}
	log := slog.New(tracelog.NewHandler(logWriter, &slog.HandlerOptions{Level: slog.LevelDebug}, *optDebug))
	slog.SetDefault(log)

	var m *machine.Machine
	var keyboard interface {
		PostDown(byte)
		PostUp()
	}

	switch strings.ToLower(*optModel) {
	case "abc802":
		a := machine.NewABC802(machine.ABC802Config{MHz: mhz})
		m, keyboard = a.Machine, a.Keyboard
	default:
		a := machine.NewABC80(machine.ABC80Config{MHz: mhz, RAMSize: ramKiB})
		a.IO.Bell = func() { fmt.Print("\a") }
		m, keyboard = a.Machine, a.Keyboard
	}
	if *optDebug {
		m.SetTraceLogger(log)
		m.Mem.SetTracing(true)
	}
	log.Info("machine started", "model", *optModel, "mhz", mhz)

	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		cancel()
	}()

	m.Run(ctx)
	defer m.Stop()

	runConsole(m, keyboard, log)
	cancel()
}

// runConsole offers a tiny REPL: typed characters are queued as
// keyboard events; "dis [hexaddr]" lists the next instructions;
// "quit" ends the session. It is deliberately not a full terminal
// emulator — console redirection proper is out of scope.
func runConsole(m *machine.Machine, keyboard interface {
	PostDown(byte)
	PostUp()
}, log *slog.Logger) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	var disAddr uint16
	for {
		text, err := line.Prompt("abc80> ")
		if err != nil {
			return
		}
		line.AppendHistory(text)
		trimmed := strings.TrimSpace(text)
		switch {
		case trimmed == "quit":
			return
		case trimmed == "dis" || strings.HasPrefix(trimmed, "dis "):
			if arg := strings.TrimSpace(strings.TrimPrefix(trimmed, "dis")); arg != "" {
				a, err := strconv.ParseUint(arg, 16, 16)
				if err != nil {
					fmt.Println("dis: bad address:", arg)
					continue
				}
				disAddr = uint16(a)
			}
			lines := disasm.List(m.Mem.Fetch, disAddr, 16)
			for _, l := range lines {
				fmt.Printf("%04X  %-11s  %s\n", l.Address, l.HexBytes, l.Mnemonic)
				disAddr = l.Address + uint16(l.Size)
			}
		default:
			for _, r := range text {
				if r > 0x7F {
					continue
				}
				keyboard.PostDown(byte(r))
				keyboard.PostUp()
			}
			keyboard.PostDown(0x0D)
			keyboard.PostUp()
			log.Debug("console input", "text", text)
		}
	}
}
