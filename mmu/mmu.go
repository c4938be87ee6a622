// Package mmu implements the 64KB paged address space shared by the
// Z80 core and the rest of a machine: a bank of named memory maps, each
// built from 1KB pages that are either plain RAM, read-only ROM, or
// backed by a device (video RAM, an option ROM, bank-switched work
// RAM). Only one map pair is "current" at a time; which one a given
// address sees can itself depend on where the CPU last fetched an
// opcode, which is how the option-ROM execute-in-place window works.
package mmu

import "fmt"

const (
	// PageShift is the log2 of the page size: every map is built from
	// 1KB windows, matching the granularity the ROM/RAM/video layouts
	// of both machine models are expressed in.
	PageShift = 10
	PageSize  = 1 << PageShift
	PageMask  = PageSize - 1
	PageCount = 0x10000 / PageSize

	MaxMaps = 8
)

// Policy controls what happens on a write to a page.
type Policy int

const (
	PolicyRAM    Policy = iota // ordinary read/write storage
	PolicyROM                  // writes are discarded
	PolicyDevice               // writes are routed to OnWrite
)

// Page is one 1KB window of a memory map.
type Page struct {
	Data    []byte // len must be exactly PageSize
	Policy  Policy
	OnWrite func(offset int, value byte) // required when Policy == PolicyDevice
}

// TraceEntry is one recorded bus access, kept for a post-mortem
// instruction trace the way a hardware logic analyzer would show it.
type TraceEntry struct {
	Addr    uint16
	Data    uint16
	Size    uint8
	Written bool
}

const maxTraceEntries = 16

// MMU owns MaxMaps independent page tables and the "current" map pair
// the CPU actually sees. Map selection between the pair is driven by
// the address of the last M1 (opcode fetch) cycle, so that code
// executing out of a particular window can see different data/write
// behavior than code executing everywhere else — the trick the ABC802
// uses for its option-ROM window, where what an address shows depends
// on whether the CPU is running from that window.
type MMU struct {
	maps    [MaxMaps][PageCount]Page
	current [2]int // indices into maps[], selected per windowed/unwindowed

	lastM1Addr  uint16
	windowBase  uint16
	windowMask  uint16
	hasWindow   bool
	tracingOn   bool
	traceRing   [maxTraceEntries]TraceEntry
	traceCount  int
	traceFailed bool
}

// New returns an MMU with all MaxMaps maps pointing at ram (a full 64KB
// RAM backing store the caller owns), matching the common "everything
// is RAM until configured otherwise" reset state.
func New(ram *[0x10000]byte) *MMU {
	m := &MMU{}
	for mapIdx := 0; mapIdx < MaxMaps; mapIdx++ {
		for p := 0; p < PageCount; p++ {
			m.maps[mapIdx][p] = Page{Data: ram[p*PageSize : (p+1)*PageSize], Policy: PolicyRAM}
		}
	}
	return m
}

// SetAltWindow configures the execute-in-place aliasing window: while
// the CPU's last opcode fetch address, masked by mask, equals base,
// reads and writes go through the alternate current map instead of the
// primary one. Call with mask == 0 to disable windowing entirely
// (ABC80 never sets a window).
func (m *MMU) SetAltWindow(base, mask uint16) {
	m.windowBase = base
	m.windowMask = mask
	m.hasWindow = mask != 0
}

// MapPages installs data as consecutive pages of maps[idx] starting at
// byte address base, covering length bytes. base and length must be
// page-aligned. A nil OnWrite with PolicyDevice is a programming error.
func (m *MMU) MapPages(idx int, base uint32, length uint32, data []byte, policy Policy, onWrite func(offset int, value byte)) {
	if base&PageMask != 0 || length&PageMask != 0 {
		panic(fmt.Sprintf("mmu: unaligned map request base=%#x length=%#x", base, length))
	}
	if policy == PolicyDevice && onWrite == nil {
		panic("mmu: PolicyDevice requires OnWrite")
	}
	pages := length / PageSize
	for p := uint32(0); p < pages; p++ {
		m.maps[idx][(base/PageSize)+p] = Page{
			Data:    data[p*PageSize : (p+1)*PageSize],
			Policy:  policy,
			OnWrite: onWrite,
		}
	}
}

// SelectMap sets which of MaxMaps page tables the primary (slot 0) and
// alternate (slot 1, used only inside the aliasing window) current
// views point to. Most machine setup selects the same index for both.
func (m *MMU) SelectMap(primary, alt int) {
	m.current[0] = primary
	m.current[1] = alt
}

func (m *MMU) page(addr uint16) *Page {
	slot := 0
	if m.hasWindow && m.lastM1Addr&m.windowMask == m.windowBase {
		slot = 1
	}
	return &m.maps[m.current[slot]][addr>>PageShift]
}

func (m *MMU) rawRead(addr uint16) byte {
	p := m.page(addr)
	return p.Data[addr&PageMask]
}

func (m *MMU) rawWrite(addr uint16, value byte) {
	p := m.page(addr)
	switch p.Policy {
	case PolicyROM:
		// discarded
	case PolicyDevice:
		p.OnWrite(int(addr&PageMask), value)
	default:
		p.Data[addr&PageMask] = value
	}
}

// Read returns the byte at addr, recording a trace entry if tracing is
// enabled.
func (m *MMU) Read(addr uint16) byte {
	v := m.rawRead(addr)
	m.record(addr, uint16(v), 1, false)
	return v
}

// Fetch reads an instruction byte without recording a trace entry;
// instruction fetches are deliberately excluded from the memory trace
// to keep it useful for data-flow debugging.
func (m *MMU) Fetch(addr uint16) byte {
	return m.rawRead(addr)
}

// FetchM1 reads the first opcode byte of an instruction (the M1 cycle)
// and latches addr as the last M1 address, which drives alt-window
// selection for every access until the next M1 cycle.
func (m *MMU) FetchM1(addr uint16) byte {
	m.lastM1Addr = addr
	return m.rawRead(addr)
}

// Write stores value at addr, honoring the page's write policy and
// recording a trace entry if tracing is enabled.
func (m *MMU) Write(addr uint16, value byte) {
	m.record(addr, uint16(value), 1, true)
	m.rawWrite(addr, value)
}

// ReadWord reads a little-endian word, wrapping at the top of the
// address space (reading at 0xFFFF returns bytes at 0xFFFF and 0x0000).
func (m *MMU) ReadWord(addr uint16) uint16 {
	lo := m.rawRead(addr)
	hi := m.rawRead(addr + 1)
	v := uint16(hi)<<8 | uint16(lo)
	m.record(addr, v, 2, false)
	return v
}

// FetchWord reads a little-endian word for instruction decode, without
// recording a trace entry.
func (m *MMU) FetchWord(addr uint16) uint16 {
	lo := m.rawRead(addr)
	hi := m.rawRead(addr + 1)
	return uint16(hi)<<8 | uint16(lo)
}

// WriteWord stores a little-endian word, wrapping at the top of the
// address space.
func (m *MMU) WriteWord(addr uint16, value uint16) {
	m.record(addr, value, 2, true)
	m.rawWrite(addr, byte(value))
	m.rawWrite(addr+1, byte(value>>8))
}

// SetTracing enables or disables memory trace recording.
func (m *MMU) SetTracing(on bool) {
	m.tracingOn = on
	if !on {
		m.traceCount = 0
		m.traceFailed = false
	}
}

func (m *MMU) record(addr uint16, data uint16, size uint8, written bool) {
	if !m.tracingOn {
		return
	}
	if m.traceCount >= maxTraceEntries {
		m.traceFailed = true
		return
	}
	m.traceRing[m.traceCount] = TraceEntry{Addr: addr, Data: data, Size: size, Written: written}
	m.traceCount++
}

// DrainTrace returns the entries recorded since the last drain (or
// since tracing was enabled) and clears the ring. overflowed reports
// whether any entries were dropped because the ring filled up.
func (m *MMU) DrainTrace() (entries []TraceEntry, overflowed bool) {
	entries = append([]TraceEntry(nil), m.traceRing[:m.traceCount]...)
	overflowed = m.traceFailed
	m.traceCount = 0
	m.traceFailed = false
	return entries, overflowed
}
