package machine

import (
	"abc80/event"
	"abc80/sched"
)

// ABC802 interrupt priority slots, in daisy-chain order: the DARTs sit
// closest to the CPU, then the SIO, then the CTC channels.
const (
	irq800DartA = 0 // printer
	irq800DartB = 1 // keyboard
	irq800SIOA  = 2
	irq800SIOB  = 3 // cassette
	irq800CTC0  = 4
	irq800CTC1  = 5
	irq800CTC2  = 6
	irq800CTC3  = 7
)

// abc800ManglePort canonicalizes a port number the way the real
// hardware's partial address decode does, so that every alias of a
// device's port range collapses onto the same handler.
func abc800ManglePort(port byte) byte {
	switch {
	case port&0xe0 == 0x00:
		return port & 0xe7
	case port&0xf0 == 0x20:
		return port & 0xf3
	case port&0xf8 == 0x28:
		return port & 0xf9
	case port&0xc0 == 0x40:
		return port & 0xe3
	default:
		return port
	}
}

// KeyboardDART models just enough of the keyboard DART (registers
// 0-7, the vsync/reset/IRQ-enable side effects of writing register 0,
// and the vector-computation modes of register 1) to serve IM2
// dispatch and the keyboard data port — transmit/receive framing
// beyond that is not exercised by anything in scope.
type KeyboardDART struct {
	Keyboard *event.Keyboard

	ctl   [8]byte
	vsync bool
	vec   byte
	vecOK bool

	// VsyncPending is set by the machine's vsync timer and consumed
	// (and cleared) the next time register-0 bit pattern 2 is written.
	VsyncPending *bool
}

func (d *KeyboardDART) Out(port int, value byte) {
	if port&1 == 0 {
		return // data out: not modeled
	}

	reg := d.ctl[0] & 7
	d.ctl[0] &^= 7
	d.ctl[reg] = value

	switch reg {
	case 0:
		switch (value >> 3) & 7 {
		case 2:
			if d.VsyncPending != nil {
				d.vsync = *d.VsyncPending
				*d.VsyncPending = false
			}
		case 3:
			d.ctl = [8]byte{}
		}
	}

	switch {
	case d.ctl[1]&0x18 == 0:
		d.vecOK = false // Rx interrupts disabled: an acknowledge is spurious
	case d.ctl[1]&0x04 != 0:
		d.vec, d.vecOK = (d.ctl[2]&^0x0f)|0x04, true
	default:
		d.vec, d.vecOK = d.ctl[2]&^0x01, true
	}
}

// AckVector answers an interrupt-acknowledge cycle for the keyboard
// line with whatever vector mode register 1 last selected.
func (d *KeyboardDART) AckVector() (byte, bool) {
	return d.vec, d.vecOK
}

func (d *KeyboardDART) In(port int) byte {
	if port&1 == 0 {
		code, _, down := d.Keyboard.ConsumeCode()
		v := code
		if down {
			v |= 0x80
		}
		return v
	}

	reg := d.ctl[0] & 7
	d.ctl[0] &^= 7
	switch reg {
	case 0:
		v := byte(1<<2) | byte(1<<5) // Tx buffer empty, CTS->60Hz
		if d.vsync {
			v |= 1 << 4
		}
		return v
	case 1:
		return 1 << 0 // all sent
	case 2:
		return d.ctl[2]
	default:
		return 0
	}
}

var _ Device = (*KeyboardDART)(nil)

// ABC802IO implements IODispatch for the ABC802: ports are first
// collapsed through the partial-decode canonicalization table, then
// dispatched by range.
type ABC802IO struct {
	Bus      *ABCBusController
	Keyboard *KeyboardDART
	Printer  Device // DART-A, port 32/33
	RTC      Device // port 54/55
	CRTC     Device // port 56/57
	Cassette Device // SIO, port 66/67
	CTC      *sched.CTC
}

func (io *ABC802IO) Out(port uint16, value byte) {
	p := abc800ManglePort(byte(port))

	switch {
	case p <= 5:
		io.Bus.Out(int(p), value)
	case p == 32, p == 33:
		if io.Printer != nil {
			io.Printer.Out(int(p), value)
		}
	case p == 34, p == 35:
		io.Keyboard.Out(int(p), value)
	case p == 54, p == 55:
		if io.RTC != nil {
			io.RTC.Out(int(p), value)
		}
	case p == 56, p == 57:
		if io.CRTC != nil {
			io.CRTC.Out(int(p), value)
		}
	case p == 66, p == 67:
		if io.Cassette != nil {
			io.Cassette.Out(int(p), value)
		}
	case p >= 96 && p <= 99:
		io.CTC.Out(p, value)
	}
}

func (io *ABC802IO) In(port uint16) byte {
	p := abc800ManglePort(byte(port))

	switch {
	case p == 0, p == 1, p == 2, p == 7:
		return io.Bus.In(int(p))
	case p == 32, p == 33:
		if io.Printer != nil {
			return io.Printer.In(int(p))
		}
	case p == 34, p == 35:
		return io.Keyboard.In(int(p))
	case p == 54, p == 55:
		if io.RTC != nil {
			return io.RTC.In(int(p))
		}
	case p == 56, p == 57:
		if io.CRTC != nil {
			return io.CRTC.In(int(p))
		}
	case p == 66, p == 67:
		if io.Cassette != nil {
			return io.Cassette.In(int(p))
		}
	case p >= 96 && p <= 99:
		return io.CTC.In(p)
	}
	return 0xFF
}

var _ IODispatch = (*ABC802IO)(nil)
