// Package machine assembles the CPU, MMU, interrupt controller, and
// scheduler into a runnable ABC80 or ABC802 machine, and implements
// each model's I/O port dispatch: the ABCbus
// device-select latch, the ABC80 bell/page-latch/keyboard ports, and
// the ABC802 port-canonicalization table plus DART/CTC/RTC dispatch.
package machine

import (
	"log/slog"

	"abc80/internal/tracelog"
	"abc80/irq"
	"abc80/mmu"
	"abc80/z80"
)

// Device is anything addressable through the ABCbus select latch or a
// model's port table.
type Device interface {
	In(port int) byte
	Out(port int, value byte)
}

// Bus wires a Z80 core to its memory map and an IODispatch, and
// implements z80.Bus.
type Bus struct {
	Mem *mmu.MMU
	IO  IODispatch

	// Log, when set, receives one record per port access: direction,
	// port, current device select, value, and the PC it came from.
	Log      *slog.Logger
	Selected func() int8  // current ABCbus device-select code
	PC       func() uint16 // the running CPU's program counter
}

// IODispatch resolves port numbers to device handlers for one
// machine model.
type IODispatch interface {
	In(port uint16) byte
	Out(port uint16, value byte)
}

func (b *Bus) Read(addr uint16) byte         { return b.Mem.Read(addr) }
func (b *Bus) Write(addr uint16, value byte) { b.Mem.Write(addr, value) }
func (b *Bus) Fetch(addr uint16) byte        { return b.Mem.Fetch(addr) }
func (b *Bus) FetchM1(addr uint16) byte      { return b.Mem.FetchM1(addr) }
func (b *Bus) Tick(cycles int)               {}

func (b *Bus) In(port uint16) byte {
	v := b.IO.In(port)
	if b.Log != nil {
		tracelog.IOTrace(b.Log, false, port, b.selected(), v, b.pc())
	}
	return v
}

func (b *Bus) Out(port uint16, value byte) {
	if b.Log != nil {
		tracelog.IOTrace(b.Log, true, port, b.selected(), value, b.pc())
	}
	b.IO.Out(port, value)
}

func (b *Bus) selected() int {
	if b.Selected == nil {
		return -1
	}
	return int(b.Selected())
}

func (b *Bus) pc() uint16 {
	if b.PC == nil {
		return 0
	}
	return b.PC()
}

var _ z80.Bus = (*Bus)(nil)

// ABCBusController is the shared device-select latch every model's
// I/O dispatch forwards ports 0-7 through: a write to port 1 latches
// a 6-bit device-select code, and subsequent accesses on ports 0-7 go
// to whichever Device currently owns that code. A read of port 7
// resets the latch and every registered device.
type ABCBusController struct {
	selected int8 // -1 when no device is selected
	devices  map[int8]Device
	onReset  func()
}

// NewABCBusController returns a controller with no device selected.
func NewABCBusController() *ABCBusController {
	return &ABCBusController{selected: -1, devices: map[int8]Device{}}
}

// Selected reports the device-select code last latched on port 1, or
// -1 when no device is selected.
func (c *ABCBusController) Selected() int8 { return c.selected }

// Register attaches dev to the given 6-bit select code (e.g. 36 for
// the hard disk, 44/45/46 for the floppy types, 60 for the printer,
// 55 for the RTC).
func (c *ABCBusController) Register(code int8, dev Device) {
	c.devices[code] = dev
}

// OnReset installs a callback invoked when a read of port 7 triggers
// a bus reset, so attached drives and spoolers can drop back to their
// power-on state.
func (c *ABCBusController) OnReset(fn func()) { c.onReset = fn }

func (c *ABCBusController) Out(port int, value byte) {
	if port == 1 {
		c.selected = int8(value & 0x3f)
		return
	}
	if dev, ok := c.devices[c.selected]; ok {
		dev.Out(port, value)
	}
}

func (c *ABCBusController) In(port int) byte {
	if port == 7 {
		c.selected = -1
		if c.onReset != nil {
			c.onReset()
		}
		return 0xFF
	}
	if dev, ok := c.devices[c.selected]; ok {
		return dev.In(port)
	}
	return 0xFF
}

// InterruptSource adapts an *irq.Controller to z80.InterruptSource
// and traces acknowledge and end-of-interrupt cycles. Log is read at
// acknowledge time so a logger attached after construction (the usual
// order: machine first, trace flags later) still takes effect.
type InterruptSource struct {
	IC  *irq.Controller
	Log func() *slog.Logger
}

func (s InterruptSource) IntAck() (vector byte, ok bool) {
	vector, ok = s.IC.IntAck()
	if ok && s.Log != nil {
		if log := s.Log(); log != nil {
			log.Debug("intack", "vector", vector)
		}
	}
	return vector, ok
}

func (s InterruptSource) EOI() {
	s.IC.EOI()
	if s.Log != nil {
		if log := s.Log(); log != nil {
			log.Debug("eoi")
		}
	}
}

var _ z80.InterruptSource = InterruptSource{}
