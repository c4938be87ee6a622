package machine

import (
	"log/slog"
	"time"

	"abc80/cassette"
	"abc80/event"
	"abc80/irq"
	"abc80/mmu"
	"abc80/sched"
	"abc80/z80"
)

// ABC80ROMSet holds the four BASIC ROM images (16KiB each, the 40- and
// 80-column variants of old and new BASIC) plus the 16KiB device ROM
// window. Supplying the actual image bytes is a host-filesystem
// concern; an unfilled image reads as all-zero ROM.
type ABC80ROMSet struct {
	Basic40Old, Basic40New [0x4000]byte
	Basic80Old, Basic80New [0x4000]byte
	Device                 [0x4000]byte
}

// ABC80Config parameterizes one machine instance.
type ABC80Config struct {
	ROM      ABC80ROMSet
	OldBasic bool // run the old-BASIC ROM images instead of the new ones
	RAMSize  int  // 1..32, or 64 for the bank-switched variant
	MHz      float64

	// Cassette, when non-nil, resolves the filenames the guest asks
	// the cassette for. Leaving it nil models a machine with no tape
	// inserted.
	Cassette cassette.FileSource
	Disks    DiskSet
}

// ABC80 bundles a running machine together with the host-facing seams
// (keyboard input, video snapshot).
type ABC80 struct {
	*Machine
	IO       *ABC80IO
	Keyboard *event.Keyboard
	Video    *event.VideoSnapshot
	Cassette *cassette.Reader
	ram      *[0x10000]byte

	mapIdx int // bit 0: 40-column flag, bits 1-2: the out-7 map latch
	has64K bool
}

// NewABC80 builds an ABC80. The memory map index combines the
// 40-column flag (bit 0) with the out-to-port-7 latch (bits 1-2, 64KiB
// models only):
//
//	maps 0/1: BASIC ROM low, device ROM at 16K, video RAM in the 29-32K
//	          window (80-column models use both the 0x7400 and 0x7C00
//	          kilobyte; 40-column only 0x7C00)
//	maps 2/3: RAM over the ROM areas, video RAM kept at the top of 32K
//	maps 4/5: video RAM moved to the top of the 64K space
//	maps 6/7: all RAM
//
// Map 7 doubling as the raw-RAM view is what makes an unfiltered RAM
// dump possible no matter which map the guest has latched.
func NewABC80(cfg ABC80Config) *ABC80 {
	ram := &[0x10000]byte{}
	mem := mmu.New(ram)

	basic80 := &cfg.ROM.Basic80New
	basic40 := &cfg.ROM.Basic40New
	if cfg.OldBasic {
		basic80 = &cfg.ROM.Basic80Old
		basic40 = &cfg.ROM.Basic40Old
	}

	video := event.NewVideoSnapshot(2048)
	vram := video.CPUBuffer()

	// Maps 0 (80-column) and 1 (40-column): ROM low, video high.
	mem.MapPages(0, 0, 0x4000, basic80[:], mmu.PolicyROM, nil)
	mem.MapPages(1, 0, 0x4000, basic40[:], mmu.PolicyROM, nil)
	for idx := 0; idx < 2; idx++ {
		// The device ROM area is writable on real hardware.
		mem.MapPages(idx, 0x4000, 0x4000, cfg.ROM.Device[:], mmu.PolicyRAM, nil)
	}
	mem.MapPages(0, 0x7400, 0x400, vram[:0x400], mmu.PolicyRAM, nil)
	mem.MapPages(0, 0x7C00, 0x400, vram[0x400:], mmu.PolicyRAM, nil)
	mem.MapPages(1, 0x7C00, 0x400, vram[0x400:], mmu.PolicyRAM, nil)

	// Maps 2/3: RAM shadows the ROM areas, video stays below 32K.
	mem.MapPages(2, 0x7800, 0x800, vram, mmu.PolicyRAM, nil)
	mem.MapPages(3, 0x7C00, 0x400, vram[0x400:], mmu.PolicyRAM, nil)

	// Maps 4/5: video at the very top of the address space.
	mem.MapPages(4, 0xF800, 0x800, vram, mmu.PolicyRAM, nil)
	mem.MapPages(5, 0xFC00, 0x400, vram[0x400:], mmu.PolicyRAM, nil)

	// Maps 6 and 7 stay all-RAM.

	ramSize := cfg.RAMSize
	has64K := ramSize == 64
	if ramSize <= 0 || (ramSize > 32 && ramSize != 64) {
		ramSize = 32
	}
	if ramSize < 32 {
		// RAM grows downward from the top of the address space; the
		// space between 32K and the first real RAM byte reads 0xFF and
		// swallows writes, like floating bus lines.
		gap := uint32(32-ramSize) * 1024
		missing := make([]byte, gap)
		for i := range missing {
			missing[i] = 0xFF
		}
		for idx := 0; idx < 2; idx++ {
			mem.MapPages(idx, 0x8000, gap, missing, mmu.PolicyROM, nil)
		}
	}

	keyboard := &event.Keyboard{}

	var cpu *z80.CPU
	ic := irq.New(func(asserted bool) { cpu.SetIRQLine(asserted) })
	keybIRQ := &irq.Source{Vector: 0xF8}
	ic.Register(irq80PIOA, keybIRQ)

	a := &ABC80{ram: ram, has64K: has64K}

	busCtl := NewABCBusController()
	diskCtls := registerDisks(busCtl, cfg.Disks)
	busCtl.Register(55, &BusRTC{})

	var cas *cassette.Reader
	if cfg.Cassette != nil {
		cas = cassette.NewReader(cfg.Cassette)
	}
	piobSrc := &irq.Source{Vector: 0xFF}
	// The guest leaves a pointer to the wanted filename at SP+4 when
	// it starts the cassette driver.
	piob := NewPIOB(cas, piobSrc,
		func() { ic.Raise(irq80PIOB) },
		func() { ic.Lower(irq80PIOB) },
		func() (string, bool) { return snoopFilename(mem, mem.FetchWord(cpu.SP+4)) })
	piobSrc.EOI = piob.EOI
	ic.Register(irq80PIOB, piobSrc)

	io := &ABC80IO{
		Bus:      busCtl,
		Keyboard: keyboard,
		KeybIRQ:  keybIRQ,
		PIOB:     piob,
		SetMap:   a.setMapLatch,
		Set40Col: a.set40Col,
	}

	bus := &Bus{
		Mem:      mem,
		IO:       io,
		Selected: busCtl.Selected,
		PC:       func() uint16 { return cpu.PC },
	}
	cpu = z80.NewCPU(bus, InterruptSource{IC: ic, Log: func() *slog.Logger {
		if a.Machine == nil {
			return nil
		}
		return a.Machine.Logger
	}})

	mhz := cfg.MHz
	if mhz == 0 {
		mhz = 3.0
	}
	scheduler := sched.New(mhz, func() uint64 { return cpu.Cycles })
	// Vertical retrace: publish the frame and pulse NMI, the guest's
	// 50Hz time base.
	scheduler.AddTimer(20*time.Millisecond, func() {
		video.Publish()
		cpu.SetNMILine(true)
		cpu.SetNMILine(false)
	})
	keyboard.Notify = func() { ic.Raise(irq80PIOA) }

	a.Machine = New(cpu, mem, ic, scheduler, bus)
	for _, c := range diskCtls {
		a.Machine.addTraceTarget(c)
	}
	if cas != nil {
		a.Machine.addTraceTarget(cas)
	}
	a.IO = io
	a.Keyboard = keyboard
	a.Video = video
	a.Cassette = cas
	a.selectCurrentMap()
	return a
}

// set40Col flips the low bit of the map index: the video mode and the
// memory layout change together on a real ABC80.
func (a *ABC80) set40Col(on bool) {
	a.mapIdx &^= 1
	if on {
		a.mapIdx |= 1
	}
	a.selectCurrentMap()
}

// setMapLatch applies an out-to-port-7 page latch write. Only 64KiB
// models decode the port at all.
func (a *ABC80) setMapLatch(m byte) {
	if !a.has64K {
		return
	}
	a.mapIdx = int(m&3)<<1 | (a.mapIdx & 1)
	a.selectCurrentMap()
}

func (a *ABC80) selectCurrentMap() {
	a.Mem.SelectMap(a.mapIdx, a.mapIdx)
}

// RawRAM returns the flat 64KiB RAM array behind every map, the view a
// raw-RAM dump reads regardless of the current map latch.
func (a *ABC80) RawRAM() *[0x10000]byte { return a.ram }
