// Package diskctl emulates the ABCbus disk controller shared by all
// four drive types (moving-head MO, mini-floppy MF, 8" floppy SF, and
// hard disk HD): a four-byte command latch (K0-K3) that, once fully
// written, drives a 256-byte sector transfer to or from the host.
// Opening and mapping the backing file is host-filesystem territory
// and stays out of this package; Controller talks to it only through
// the Storage interface.
package diskctl

import "log/slog"

// Geometry describes one drive type's addressing scheme.
type Geometry struct {
	SecPerClust uint32
	Sectors     uint32
	New         bool // "new addressing": sector = k2<<8 | k3 directly
	ILMsk       byte // interleave mask, 0 for no interleaving
	ILFac       byte // interleave factor
}

var (
	MO = Geometry{SecPerClust: 1, Sectors: 40 * 1 * 16}
	MF = Geometry{SecPerClust: 4, Sectors: 80 * 2 * 16}
	SF = Geometry{SecPerClust: 4, Sectors: (77*2 - 1) * 26}
	HD = Geometry{SecPerClust: 32, New: true, Sectors: 238 * 8 * 32}
)

// Storage performs the actual 256-byte sector I/O for one unit
// (0-7) at a byte offset, and reports readiness/write-protect state.
// Implementations live outside the core, backed by whatever the host
// layer uses for persisted disk images.
type Storage interface {
	ReadSector(unit int, offset int64, buf []byte) error
	WriteSector(unit int, offset int64, buf []byte) error
	Ready(unit int) bool
	WriteProtected(unit int) bool
}

type ctlState int

const (
	needInit ctlState = iota
	k0
	k1
	k2
	k3
	upload
	download
)

// Controller is one drive's command/status state machine.
type Controller struct {
	geom    Geometry
	storage Storage
	log     *slog.Logger

	state ctlState
	k     [4]byte
	buf   [4][256]byte

	outPtr, inPtr     int
	status, auxStatus byte
	notReadyCounter   int
}

// SetLogger attaches (or, with nil, detaches) a logger that narrates
// each latched command.
func (c *Controller) SetLogger(log *slog.Logger) { c.log = log }

// New returns a controller for a drive of the given geometry, backed
// by storage. It starts uninitialized, matching disk_need_init: the
// first access resets it to the ready K0 state.
func New(geom Geometry, storage Storage) *Controller {
	return &Controller{geom: geom, storage: storage, state: needInit}
}

// Reset clears the command latch and status and arms the
// notReadyCounter, matching disk_reset_state — a drive reports "not
// ready" on its first four status reads after reset.
func (c *Controller) Reset() {
	c.state = k0
	c.status, c.auxStatus = 0, 0
	c.inPtr = -1
	c.outPtr = 0
	c.notReadyCounter = 4
}

func (c *Controller) curSector() uint32 {
	k2, k3 := uint32(c.k[2]), uint32(c.k[3])
	if c.geom.New {
		return k2<<8 | k3
	}
	return (k2<<3+(k3>>5))*c.geom.SecPerClust + (k3 & 31)
}

func (c *Controller) filePosValid() bool { return c.curSector() < c.geom.Sectors }

func (c *Controller) filePos() int64 {
	ilmsk := uint32(c.geom.ILMsk)
	sector := c.curSector()
	sector = (sector &^ ilmsk) | ((sector * uint32(c.geom.ILFac)) & ilmsk)
	return int64(sector) << 8
}

func (c *Controller) doNextCommand() {
	unit := int(c.k[1] & 7)
	buf := &c.buf[c.k[1]>>6]

	if c.log != nil {
		c.log.Debug("disk", "cmd", c.k[0], "unit", unit,
			"sector", c.curSector(), "offset", c.filePos())
	}

	if c.k[0]&0x01 != 0 { // READ SECTOR
		if err := c.storage.ReadSector(unit, c.filePos(), buf[:]); err != nil {
			c.status = 0x08
			c.auxStatus = 0x10
		}
		c.k[0] &^= 0x01
	}
	if c.k[0]&0x02 != 0 { // SECTOR TO HOST
		c.inPtr = 0
		c.state = download
		c.k[0] &^= 0x02
		return
	}
	if c.k[0]&0x04 != 0 { // SECTOR FROM HOST
		c.state = upload
		c.outPtr = 0
		c.k[0] &^= 0x04
		return
	}
	if c.k[0]&0x08 != 0 { // WRITE SECTOR
		if c.storage.WriteProtected(unit) {
			c.status = 0x80
			c.auxStatus = 0x40
		} else if err := c.storage.WriteSector(unit, c.filePos(), buf[:]); err != nil {
			c.status = 0x08
			c.auxStatus = 0x40
		}
		c.k[0] &^= 0x08
	}
	c.state = k0
}

// Out handles an out-to-this-drive access; port is the low 3 bits of
// the decoded ABCbus port (0 = command/data, 2/4 = reset).
func (c *Controller) Out(port int, value byte) {
	if c.state == needInit {
		c.Reset()
	}

	switch port {
	case 0:
		switch c.state {
		case k0, k1, k2:
			c.status, c.auxStatus = 0, 0
			c.k[c.state-k0] = value
			c.state++
		case k3:
			c.status, c.auxStatus = 0, 0
			c.k[3] = value
			c.state = k0

			unit := int(c.k[1] & 7)
			if !c.storage.Ready(unit) {
				c.status = 0x08
				c.auxStatus = 0x80
			} else if !c.filePosValid() {
				c.status = 0x08
				c.auxStatus = 0x10
			} else {
				c.doNextCommand()
			}
		case upload:
			c.buf[c.k[1]>>6][c.outPtr] = value
			c.outPtr++
			if c.outPtr >= 256 {
				c.doNextCommand()
			}
		case download:
			// ignored: host writes nothing during a download
		}
	case 2, 4:
		c.Reset()
	}
}

// In handles an in-from-this-drive access.
func (c *Controller) In(port int) byte {
	if c.state == needInit {
		c.Reset()
	}

	switch port {
	case 0:
		if c.inPtr >= 0 {
			v := c.buf[c.k[1]>>6][c.inPtr]
			c.inPtr++
			if c.inPtr >= 256 {
				c.inPtr = -1
				c.doNextCommand()
			}
			return v
		}
		return c.auxStatus
	case 1:
		if c.notReadyCounter > 0 {
			c.notReadyCounter--
			return 0x80
		}
		v := byte(0x01) | c.status
		if c.state == k0 {
			v |= 0x80
		}
		return v
	}
	return 0xFF
}
