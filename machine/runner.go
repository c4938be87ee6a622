package machine

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"abc80/disasm"
	"abc80/event"
	"abc80/irq"
	"abc80/mmu"
	"abc80/sched"
	"abc80/z80"
)

// Machine owns one model's CPU, memory map, interrupt controller and
// scheduler, and drives the CPU's fetch/execute loop against the
// scheduler's T-state-vs-wall-clock reconciliation. Run/Stop use an
// errgroup so a second goroutine (the event bridge's input pump) can
// share the same cancellation.
type Machine struct {
	CPU   *z80.CPU
	Mem   *mmu.MMU
	IRQ   *irq.Controller
	Sched *sched.Scheduler
	Bus   *Bus

	// Logger, if set, receives one register-diff record per retired
	// instruction plus the drained memory-access trace when the mmu
	// has tracing enabled, disassembled against the instruction that
	// just ran. SetTraceLogger attaches it everywhere at once.
	Logger *slog.Logger

	// Requests, if set, is drained between instructions: quit, reset
	// and NMI are handled here; everything else goes to OnHotkey.
	Requests *event.Requests

	// OnHotkey handles the requests the run loop doesn't act on
	// itself (screenshot, memory dumps, fake-type toggle), which need
	// host facilities this package doesn't own.
	OnHotkey func(event.Hotkey)

	group   *errgroup.Group
	cancel  context.CancelFunc
	running bool

	prevRegs  regFileSnapshot
	traceable []traceTarget
}

// traceTarget is a device that can emit its own trace lines once a
// logger is attached (disk controllers, the cassette reader).
type traceTarget interface {
	SetLogger(*slog.Logger)
}

// regFileSnapshot is the register file as the per-instruction trace
// diffs it; PC is carried separately on every line.
type regFileSnapshot struct {
	af, bc, de, hl     uint16
	ix, iy, sp         uint16
	af2, bc2, de2, hl2 uint16
}

func snapshotRegs(c *z80.CPU) regFileSnapshot {
	return regFileSnapshot{
		af: c.AF(), bc: c.BC(), de: c.DE(), hl: c.HL(),
		ix: c.IX, iy: c.IY, sp: c.SP,
		af2: c.AF2(), bc2: c.BC2(), de2: c.DE2(), hl2: c.HL2(),
	}
}

// New assembles a Machine from its already-wired parts. Model-specific
// construction (memory layout, device tables, timers) lives in
// NewABC80/NewABC802.
func New(cpu *z80.CPU, mem *mmu.MMU, ic *irq.Controller, scheduler *sched.Scheduler, bus *Bus) *Machine {
	return &Machine{CPU: cpu, Mem: mem, IRQ: ic, Sched: scheduler, Bus: bus}
}

// Run starts the CPU's execution goroutine if it isn't already
// running. It returns immediately; call Stop (or cancel ctx) to end
// the run and wait for the goroutine to exit.
func (m *Machine) Run(ctx context.Context) {
	if m.running {
		return
	}
	m.running = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	m.group = g

	m.CPU.SetRunning(true)
	g.Go(func() error {
		<-gctx.Done()
		m.Sched.Quit()
		m.CPU.SetRunning(false)
		return nil
	})
	g.Go(func() error {
		for m.CPU.Running() {
			pc := m.CPU.PC
			m.CPU.Step()
			m.traceStep(pc)
			if m.serviceRequests() || m.Sched.PollExternal() {
				m.CPU.SetRunning(false)
				break
			}
		}
		return nil
	})
}

// serviceRequests drains the event bridge's control queue, reporting
// true when a quit was requested.
func (m *Machine) serviceRequests() bool {
	if m.Requests == nil {
		return false
	}
	for {
		h, ok := m.Requests.Poll()
		if !ok {
			return false
		}
		switch h {
		case event.HotkeyQuit:
			return true
		case event.HotkeyReset:
			m.CPU.Reset()
		case event.HotkeyNMI:
			m.CPU.SetNMILine(true)
			m.CPU.SetNMILine(false)
		default:
			if m.OnHotkey != nil {
				m.OnHotkey(h)
			}
		}
	}
}

// traceStep emits the per-instruction trace: one line diffing the
// register file against the previous instruction, then one line per
// recorded memory access, all annotated with the instruction that
// just ran. The memory ring is drained and reset either way.
// DrainTrace is cheap (an empty slice) when the mmu isn't tracing, so
// this is safe to call unconditionally from the hot loop.
func (m *Machine) traceStep(pc uint16) {
	entries, overflowed := m.Mem.DrainTrace()
	if m.Logger == nil {
		return
	}
	var code [4]byte
	for i := range code {
		code[i] = m.Mem.Fetch(pc + uint16(i))
	}
	_, mnemonic := disasm.Decode(code[:], pc)

	cur := snapshotRegs(m.CPU)
	prev := m.prevRegs
	m.prevRegs = cur
	args := []any{"pc", hex16(pc), "insn", mnemonic}
	for _, d := range []struct {
		name     string
		old, new uint16
	}{
		{"AF", prev.af, cur.af}, {"BC", prev.bc, cur.bc},
		{"DE", prev.de, cur.de}, {"HL", prev.hl, cur.hl},
		{"IX", prev.ix, cur.ix}, {"IY", prev.iy, cur.iy},
		{"SP", prev.sp, cur.sp},
		{"AF'", prev.af2, cur.af2}, {"BC'", prev.bc2, cur.bc2},
		{"DE'", prev.de2, cur.de2}, {"HL'", prev.hl2, cur.hl2},
	} {
		if d.old != d.new {
			args = append(args, d.name, hex16(d.new))
		}
	}
	m.Logger.Debug("cpu", args...)

	for _, e := range entries {
		m.Logger.Debug("mem", "pc", hex16(pc), "insn", mnemonic, "addr", hex16(e.Addr),
			"data", e.Data, "size", e.Size, "written", e.Written)
	}
	if overflowed {
		m.Logger.Warn("mem trace overflow", "pc", hex16(pc), "insn", mnemonic)
	}
}

func hex16(v uint16) string { return fmt.Sprintf("0x%04X", v) }

// SetTraceLogger attaches log to every trace producer at once: the
// per-instruction and memory trace, the I/O port trace, and the
// devices that narrate their own commands. Pass nil to silence them
// all again.
func (m *Machine) SetTraceLogger(log *slog.Logger) {
	m.Logger = log
	m.Bus.Log = log
	for _, t := range m.traceable {
		t.SetLogger(log)
	}
}

// addTraceTarget registers a device for SetTraceLogger fan-out.
func (m *Machine) addTraceTarget(t traceTarget) {
	m.traceable = append(m.traceable, t)
}

// Stop signals the run loop to end and blocks until it has.
func (m *Machine) Stop() {
	if !m.running {
		return
	}
	m.cancel()
	m.group.Wait()
	m.running = false
}
