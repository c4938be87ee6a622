package sched

import (
	"sync"

	"abc80/irq"
)

// CTC emulates the four channels of the Z80 CTC chip that ABC802 uses
// to derive its system clock tick, enough of it to serve as an
// interrupt source and answer down-counter reads: channel control and
// time-constant registers, interrupt-vector assignment across all four
// channels from a single write, and down-counter interpolation for
// channel reads between ticks. Counter/timer modes beyond "channel 3
// drives the system tick" are out of scope — no other ABC802 channel
// is wired to anything.
type CTC struct {
	sched *Scheduler

	mu   sync.Mutex
	ctl  [4]byte
	div  [4]byte
	line [4]*ctcLine
}

type ctcLine struct {
	src   *irq.Source
	timer *Timer
	raise func()
}

// NewCTC returns a CTC bound to sched's T-state and wall clocks.
func NewCTC(sched *Scheduler) *CTC {
	return &CTC{sched: sched}
}

// BindChannel attaches channel (0-3) to an interrupt source registered
// with an irq.Controller and, for the channel that actually drives a
// timer (channel 3 on ABC802), the Timer whose ticks feed it.
func (c *CTC) BindChannel(channel int, src *irq.Source, raise func(), timer *Timer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.line[channel] = &ctcLine{src: src, raise: raise, timer: timer}
}

// Tick runs the system-clock tick for channel: it only actually raises
// an interrupt when the channel's control register has been
// programmed for interrupt-on-zero counting (bits 6-7 == 0x80),
// matching how the real tick handler defers to the chip's own enable
// state rather than assuming the channel always wants the tick.
func (c *CTC) Tick(channel int) {
	c.mu.Lock()
	fire := (c.ctl[channel] & 0xc0) == 0x80
	line := c.line[channel]
	c.mu.Unlock()

	if fire && line != nil && line.raise != nil {
		line.raise()
	}
}

// Out writes the CTC channel register addressed by the low 2 bits of
// port. A control byte with bit 2 set primes the channel for a
// time-constant byte on the next write instead of being interpreted
// itself. A byte with bit 0 clear is instead an interrupt-vector
// write: it sets the base vector for every channel at once (channel N
// responds with vector | N*2), which is why it's handled before the
// per-channel control-register path.
func (c *CTC) Out(port byte, v byte) {
	ch := int(port & 3)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctl[ch]&4 != 0 {
		c.div[ch] = v
		c.ctl[ch] &^= 4
		return
	}

	if v&1 == 0 {
		v &^= 7
		for i := 0; i < 4; i++ {
			if c.line[i] != nil && c.line[i].src != nil {
				c.line[i].src.Vector = v | byte(i<<1)
			}
		}
		return
	}

	if v&2 != 0 {
		v = 1 // software reset of the channel
	}
	c.ctl[ch] = v
}

// In reads channel (port&3)'s down-counter, interpolated between the
// last tick and now rather than tracked tick-by-tick, since nothing
// else in the emulation needs the counter's exact value between reads.
func (c *CTC) In(port byte) byte {
	ch := int(port & 3)
	c.mu.Lock()
	line := c.line[ch]
	div := int64(c.div[ch])
	c.mu.Unlock()

	if line == nil || line.timer == nil {
		return 0xFF
	}
	t := line.timer
	periodNs := t.period.Nanoseconds()
	if periodNs == 0 {
		return 0xFF
	}

	if c.sched.limitSpeed {
		elapsed := int64(float64(c.sched.tstate()-t.ltst) * c.sched.nsPerTstate)
		return byte((periodNs - elapsed) * div / periodNs)
	}
	now := c.sched.now()
	return byte((periodNs - (now - int64(t.last))) * div / periodNs)
}
