package machine

import (
	"abc80/event"
	"abc80/irq"
)

// ABC80 priority slots, lowest number wins arbitration.
const (
	irq80PIOA = 0 // keyboard
	irq80PIOB = 1 // cassette + misc
)

// ABC80IO implements IODispatch for the original ABC80: only the low
// bits of the port are decoded (0x17, matching the real hardware's
// partial address decode — bit 3 is never examined), and the bus
// controller, bell, 64KB page latch, video-mode strobes, and keyboard
// IM2 vector write all live directly off this one table rather than
// behind the ABC802-style canonicalization.
type ABC80IO struct {
	Bus      *ABCBusController
	Keyboard *event.Keyboard
	KeybIRQ  *irq.Source
	PIOB     *PIOB

	SetMap   func(page byte) // 64KB page latch, only meaningful if RAM size == 64KB
	Set40Col func(on bool)   // in 3 selects 40-column mode, in 4 selects 80-column
	Bell     func()
}

const abc80PortMask = 0x17

func (io *ABC80IO) Out(port uint16, value byte) {
	p := byte(port) & abc80PortMask

	switch {
	case p <= 5:
		io.Bus.Out(int(p), value)
	case p == 6:
		if value == 131 && io.Bell != nil {
			io.Bell()
		}
	case p == 7:
		if io.SetMap != nil {
			io.SetMap(value & 3)
		}
	case p == (57 & abc80PortMask):
		if value&1 == 0 && io.KeybIRQ != nil {
			io.KeybIRQ.Vector = value
		}
	case p == (58 & abc80PortMask):
		io.PIOB.OutData(value)
	case p == (59 & abc80PortMask):
		io.PIOB.OutControl(value)
	}
}

func (io *ABC80IO) In(port uint16) byte {
	p := byte(port) & abc80PortMask

	switch p {
	case 0, 1, 7:
		return byte(io.Bus.In(int(p)))
	case 3:
		if io.Set40Col != nil {
			io.Set40Col(true)
		}
		return 0xFF
	case 4:
		if io.Set40Col != nil {
			io.Set40Col(false)
		}
		return 0xFF
	case (56 & abc80PortMask):
		code, isNew, down := io.Keyboard.ConsumeCode()
		v := code
		if io.Keyboard.FakeType() {
			// Fake-type delivers each key as one strobe: the high bit is
			// set only on the first read after the key was posted.
			if isNew {
				v |= 0x80
			}
		} else if down {
			v |= 0x80
		}
		return v
	case (58 & abc80PortMask):
		return io.PIOB.In()
	default:
		return 0xFF
	}
}

var _ IODispatch = (*ABC80IO)(nil)
