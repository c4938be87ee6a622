package machine

import (
	"log/slog"
	"time"

	"abc80/cassette"
	"abc80/event"
	"abc80/fsname"
	"abc80/irq"
	"abc80/mmu"
	"abc80/sched"
	"abc80/z80"
)

// ABC802ROMSet holds the fixed 24KiB BASIC ROM, the 6KiB device ROM
// window, and the option ROM that can be banked into the 0x7800
// window in place of video RAM.
type ABC802ROMSet struct {
	Basic  [0x6000]byte
	Device [0x1800]byte
	Option [0x800]byte
}

// ABC802Config parameterizes one machine instance.
type ABC802Config struct {
	ROM ABC802ROMSet
	MHz float64

	// Cassette, when non-nil, resolves the filenames the guest asks
	// the cassette for. Leaving it nil models a machine with no tape
	// inserted.
	Cassette cassette.FileSource
	Disks    DiskSet
}

// ABC802 bundles a running machine with its host-facing seams.
type ABC802 struct {
	*Machine
	IO       *ABC802IO
	Keyboard *event.Keyboard
	Video    *event.VideoSnapshot
	CRTC     *CRTC
	Cassette *cassette.Reader
	ram      *[0x10000]byte
}

// NewABC802 builds an ABC802: a fixed ROM layout (no bank-switched
// BASIC flavours, unlike ABC80) with the option ROM aliased over video
// RAM via the MMU's last-M1-address window, a MEM-open map that
// uncovers RAM under the whole ROM area, and four CTC channels plus
// the keyboard DART as interrupt sources.
//
//	map 0: BASIC ROM 0-24K, device ROM 24-30K, video RAM at 0x7800
//	map 1: all RAM except the option ROM at 0x7800; selected only while
//	       the CPU is fetching opcodes out of that window
//	map 2: all RAM except video RAM at 0x7800 (the MEM: device open)
func NewABC802(cfg ABC802Config) *ABC802 {
	ram := &[0x10000]byte{}
	mem := mmu.New(ram)

	video := event.NewVideoSnapshot(2048)
	vram := video.CPUBuffer()

	mem.MapPages(0, 0, 0x6000, cfg.ROM.Basic[:], mmu.PolicyROM, nil)
	mem.MapPages(0, 0x6000, 0x1800, cfg.ROM.Device[:], mmu.PolicyROM, nil)
	mem.MapPages(0, 0x7800, 0x800, vram, mmu.PolicyRAM, nil)

	optionWindow := make([]byte, 0x800)
	copy(optionWindow, cfg.ROM.Option[:])
	mem.MapPages(1, 0x7800, 0x800, optionWindow, mmu.PolicyROM, nil)

	mem.MapPages(2, 0x7800, 0x800, vram, mmu.PolicyRAM, nil)

	mem.SetAltWindow(0x7800, 0xF800)
	mem.SelectMap(0, 1)

	a := &ABC802{ram: ram}
	keyboard := &event.Keyboard{}

	var cpu *z80.CPU
	ic := irq.New(func(asserted bool) { cpu.SetIRQLine(asserted) })

	vsyncPending := new(bool)
	dart := &KeyboardDART{Keyboard: keyboard, VsyncPending: vsyncPending}
	dartB := &irq.Source{Ack: dart.AckVector}
	ic.Register(irq800DartB, dartB)

	busCtl := NewABCBusController()
	diskCtls := registerDisks(busCtl, cfg.Disks)
	busCtl.Register(55, &BusRTC{})
	scheduler := sched.New(valueOrDefault(cfg.MHz, 5.0125), func() uint64 { return cpu.Cycles })
	ctc := sched.NewCTC(scheduler)

	ctcSlots := [4]int{irq800CTC0, irq800CTC1, irq800CTC2, irq800CTC3}
	ctcSources := [4]*irq.Source{}
	for i, slot := range ctcSlots {
		src := &irq.Source{Vector: 0xFF}
		ic.Register(slot, src)
		ctcSources[i] = src
	}

	tickTimer := scheduler.AddTimer(10666667*time.Nanosecond, func() {
		ctc.Tick(3)
	})
	ctc.BindChannel(3, ctcSources[3], func() { ic.Raise(irq800CTC3) }, tickTimer)

	scheduler.AddTimer(20*time.Millisecond, func() {
		*vsyncPending = true
		video.Publish()
	})
	keyboard.Notify = func() { ic.Raise(irq800DartB) }

	crtc := &CRTC{}

	var cas *cassette.Reader
	var sio *SIOCassette
	if cfg.Cassette != nil {
		cas = cassette.NewReader(cfg.Cassette)
		sioSrc := &irq.Source{Vector: 0xFF}
		// The guest leaves a pointer to the wanted filename in DE when
		// it starts the cassette driver.
		sio = NewSIOCassette(cas, sioSrc,
			func() { ic.Raise(irq800SIOB) },
			func() { ic.Lower(irq800SIOB) },
			func() (string, bool) { return snoopFilename(mem, cpu.DE()) })
		sioSrc.EOI = sio.EOI
		ic.Register(irq800SIOB, sioSrc)
	}

	io := &ABC802IO{Bus: busCtl, Keyboard: dart, RTC: &RTC806{}, CRTC: crtc, CTC: ctc}
	if sio != nil {
		io.Cassette = sio
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
	a.CRTC = crtc
	a.Cassette = cas
	return a
}

// snoopFilename reads the 11-byte directory-entry name the guest left
// at fnaddr. Any byte outside the ABC filename alphabet, or an address
// wrap, means the pointer was stale and there is nothing to open.
func snoopFilename(mem *mmu.MMU, fnaddr uint16) (string, bool) {
	var raw [fsname.Len]byte
	addr := fnaddr
	for i := 0; i < fsname.Len; i++ {
		c := mem.Fetch(addr)
		addr++
		if addr == 0 || (c != ' ' && (c < '0' || c > '9') && (c < 'A' || c > ']')) {
			return "", false
		}
		raw[i] = c
	}
	if raw[0] == ' ' {
		return "", false
	}
	return fsname.Unmangle(raw), true
}

// OpenMem opens or closes the MEM: device's view of the address space:
// open replaces everything below video RAM with plain RAM, including
// the option-ROM alias, so a memory-resident program can use the full
// 64KiB.
func (a *ABC802) OpenMem(open bool) {
	if open {
		a.Mem.SelectMap(2, 2)
	} else {
		a.Mem.SelectMap(0, 1)
	}
}

// RawRAM returns the flat 64KiB RAM array behind every map, the view a
// raw-RAM dump reads regardless of which map is selected.
func (a *ABC802) RawRAM() *[0x10000]byte { return a.ram }

func valueOrDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
