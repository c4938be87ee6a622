package machine

import "sync"

// CRTC is the 6845 register file as seen through its two-port
// interface: the even port latches a register address, the odd port
// reads or writes the addressed register. Only the register contents
// matter to the rest of the system — cursor shape and position for the
// renderer — so the dot-clock side of the chip is not modeled.
type CRTC struct {
	mu   sync.Mutex
	addr byte
	regs [32]byte
}

func (c *CRTC) Out(port int, value byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if port&1 == 0 {
		c.addr = value & 0x1F
		return
	}
	c.regs[c.addr] = value
}

func (c *CRTC) In(port int) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if port&1 == 0 {
		return 0xFF
	}
	return c.regs[c.addr]
}

// Snapshot copies the register file out under the lock, for the
// renderer to read cursor state without racing guest writes.
func (c *CRTC) Snapshot() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs
}

var _ Device = (*CRTC)(nil)
