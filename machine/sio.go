package machine

import (
	"abc80/cassette"
	"abc80/irq"
)

// SIOCassette is channel B of the SIO/2, the ABC802's cassette
// interface. The chip is modeled down to what the cassette driver in
// ROM actually touches: the WR0-WR7 register file, hunt mode, the
// first-Rx interrupt arming, and the vector synthesis on a receive
// interrupt. The serial bit clocking itself is skipped — a whole
// frame is available as soon as the reader has one.
type SIOCassette struct {
	rdr   *cassette.Reader
	src   *irq.Source
	raise func()
	clear func()
	snoop func() (name string, ok bool)

	ctl          [8]byte
	firstRxArmed bool
	frame        []byte
	pos          int
}

// NewSIOCassette wires the SIO to a cassette reader, its interrupt
// slot, and the memory snoop used to find the filename the guest
// asked for.
func NewSIOCassette(rdr *cassette.Reader, src *irq.Source, raise, clear func(), snoop func() (string, bool)) *SIOCassette {
	return &SIOCassette{
		rdr:          rdr,
		src:          src,
		raise:        raise,
		clear:        clear,
		snoop:        snoop,
		firstRxArmed: true,
	}
}

func (s *SIOCassette) idle() bool {
	return s.rdr.State() == cassette.Idle && s.frame == nil
}

func (s *SIOCassette) haveSync() bool {
	return !s.idle() && s.ctl[3]&1 != 0
}

func (s *SIOCassette) haveData() bool {
	return s.haveSync() && s.ctl[3]&0x10 == 0
}

func (s *SIOCassette) rxInterrupt(huntOK bool) bool {
	return s.haveSync() && (huntOK || s.ctl[3]&0x10 == 0) &&
		(s.ctl[1]&0x10 != 0 || (s.ctl[1]&0x08 != 0 && s.firstRxArmed))
}

// nextFrame advances the reader by one block; an exhausted reader
// leaves frame nil, which reads as idle.
func (s *SIOCassette) nextFrame() {
	if blk, ok := s.rdr.NextBlock(); ok {
		s.frame = blk.Frame()
	} else {
		s.frame = nil
	}
	s.pos = 0
}

func (s *SIOCassette) pollInterrupt() {
	if !s.rxInterrupt(true) {
		if s.clear != nil {
			s.clear()
		}
		return
	}
	s.ctl[3] &^= 0x10 // sync found, not hunting anymore
	s.firstRxArmed = false
	s.src.Vector = (s.ctl[2] &^ 0x0F) | 0x04
	if s.raise != nil {
		s.raise()
	}
}

// EOI re-evaluates the receive interrupt once the previous one has
// been serviced, so a multi-block read chains one interrupt per byte
// group the way the real chip does.
func (s *SIOCassette) EOI() {
	s.pollInterrupt()
}

func (s *SIOCassette) Out(port int, value byte) {
	if port&1 == 1 {
		r := s.ctl[0] & 7
		s.ctl[0] &^= 7
		s.ctl[r] = value

		switch r {
		case 0:
			switch (value >> 3) & 7 {
			case 3: // channel reset
				s.ctl = [8]byte{}
				s.firstRxArmed = true
			case 4: // enable interrupt on next Rx character
				s.firstRxArmed = true
			}
		case 3:
			if value&0x10 != 0 {
				// Entering hunt mode mid-block skips to the next sync.
				if s.pos > 0 {
					s.nextFrame()
				}
				s.pos = 0
			}
		case 5:
			if value&0x80 != 0 && s.idle() {
				s.rdr.EnableMotor(s.snoop)
				s.frame = nil
				s.pos = 0
			}
		}
	}
	s.pollInterrupt()
}

func (s *SIOCassette) In(port int) byte {
	v := byte(0xFF)

	if port&1 == 0 {
		// Data port.
		if s.haveData() {
			if s.frame == nil {
				s.nextFrame()
			}
			if s.frame != nil {
				v = s.frame[s.pos]
				s.pos++
				if s.pos >= len(s.frame) {
					s.nextFrame()
					s.ctl[3] |= 0x10 // back to hunting between blocks
				}
			}
		}
	} else {
		r := s.ctl[0] & 7
		s.ctl[0] &^= 7

		switch r {
		case 0:
			v = s.ctl[3] & 0x10 // hunting
			v |= 0x20           // CTS
			v |= 0x04           // transmit buffer empty
			if s.haveSync() {
				if s.haveData() {
					v |= 1 // Rx character available
				} else {
					// Hunting with a block ready: sync is established.
					if s.pos > 0 {
						s.nextFrame()
					}
					s.ctl[3] &^= 0x10
				}
			}
		case 1:
			v = 0x01 // all sent
		case 2:
			v = s.ctl[2] &^ 0x0E
			if s.rxInterrupt(false) {
				v |= 0x04
			} else {
				v |= 0x06
			}
		}
	}

	s.pollInterrupt()
	return v
}

var _ Device = (*SIOCassette)(nil)
