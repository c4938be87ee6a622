package z80

import "testing"

func TestLDISingleStep(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0xED, 0xA0}) // LDI
	rig.cpu.SetHL(0x4000)
	rig.cpu.SetDE(0x5000)
	rig.cpu.SetBC(2)
	rig.bus.mem[0x4000] = 0x7E

	rig.cpu.Step()

	requireZ80EqualU8(t, "(DE)", rig.bus.mem[0x5000], 0x7E)
	requireZ80EqualU16(t, "HL", rig.cpu.HL(), 0x4001)
	requireZ80EqualU16(t, "DE", rig.cpu.DE(), 0x5001)
	requireZ80EqualU16(t, "BC", rig.cpu.BC(), 1)
	// BC still nonzero: P/V flags more to come.
	requireFlags(t, rig.cpu.F, flagPV, flagH|flagN)
	if rig.cpu.Cycles != 16 {
		t.Fatalf("Cycles = %d, want 16", rig.cpu.Cycles)
	}
}

func TestLDIRCopiesAndRepeats(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0xED, 0xB0}) // LDIR
	rig.cpu.SetHL(0x4000)
	rig.cpu.SetDE(0x5000)
	rig.cpu.SetBC(3)
	copy(rig.bus.mem[0x4000:], []byte{0x11, 0x22, 0x33})

	rig.cpu.Step() // first iteration repeats: PC rewinds over ED B0
	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x0100)
	if rig.cpu.Cycles != 21 {
		t.Fatalf("repeating iteration Cycles = %d, want 21", rig.cpu.Cycles)
	}

	rig.run(2) // remaining iterations; the last one falls through
	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x0102)
	requireZ80EqualU16(t, "BC", rig.cpu.BC(), 0)
	requireFlags(t, rig.cpu.F, 0, flagPV|flagH|flagN)
	for i, want := range []byte{0x11, 0x22, 0x33} {
		requireZ80EqualU8(t, "copied", rig.bus.mem[0x5000+i], want)
	}
	if rig.cpu.Cycles != 21+21+16 {
		t.Fatalf("Cycles = %d, want 58", rig.cpu.Cycles)
	}
}

func TestLDIRSourceWrapsAddressSpace(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0xED, 0xB0}) // LDIR
	rig.cpu.SetHL(0xFFFF)
	rig.cpu.SetDE(0x0000)
	rig.cpu.SetBC(3)
	rig.bus.mem[0xFFFF] = 0xAA

	// HL wraps to 0x0000/0x0001, reading back the bytes the first two
	// iterations just wrote there.
	rig.run(3)

	requireZ80EqualU8(t, "0x0000", rig.bus.mem[0x0000], 0xAA)
	requireZ80EqualU8(t, "0x0001", rig.bus.mem[0x0001], 0xAA)
	requireZ80EqualU8(t, "0x0002", rig.bus.mem[0x0002], 0xAA)
	requireZ80EqualU16(t, "BC", rig.cpu.BC(), 0)
	requireFlags(t, rig.cpu.F, 0, flagPV)
}

func TestLDIRWithZeroBCRunsFullCircle(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0xED, 0xB0}) // LDIR
	rig.cpu.SetHL(0x2000)
	rig.cpu.SetDE(0x2000) // copy in place so memory stays put
	rig.cpu.SetBC(0)      // decrement-then-test: 0 means 65536 iterations

	iterations := 0
	for rig.cpu.PC != 0x0102 {
		rig.cpu.Step()
		iterations++
		if iterations > 0x10000 {
			break
		}
	}

	if iterations != 0x10000 {
		t.Fatalf("iterations = %d, want 65536", iterations)
	}
	requireZ80EqualU16(t, "BC", rig.cpu.BC(), 0)
}

func TestLDDRCopiesDownward(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0xED, 0xB8}) // LDDR
	rig.cpu.SetHL(0x4002)
	rig.cpu.SetDE(0x5002)
	rig.cpu.SetBC(3)
	copy(rig.bus.mem[0x4000:], []byte{0x11, 0x22, 0x33})

	rig.run(3)

	for i, want := range []byte{0x11, 0x22, 0x33} {
		requireZ80EqualU8(t, "copied", rig.bus.mem[0x5000+i], want)
	}
	requireZ80EqualU16(t, "HL", rig.cpu.HL(), 0x3FFF)
	requireZ80EqualU16(t, "DE", rig.cpu.DE(), 0x4FFF)
}

func TestCPIComparesAndAdvances(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0xED, 0xA1}) // CPI
	rig.cpu.A = 0x42
	rig.cpu.SetHL(0x4000)
	rig.cpu.SetBC(2)
	rig.bus.mem[0x4000] = 0x42
	rig.cpu.F = flagC // block compares never touch carry

	rig.cpu.Step()

	requireZ80EqualU16(t, "HL", rig.cpu.HL(), 0x4001)
	requireZ80EqualU16(t, "BC", rig.cpu.BC(), 1)
	requireFlags(t, rig.cpu.F, flagZ|flagN|flagPV|flagC, 0)
	if rig.cpu.Cycles != 16 {
		t.Fatalf("Cycles = %d, want 16", rig.cpu.Cycles)
	}
}

func TestCPIRStopsOnMatch(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0xED, 0xB1}) // CPIR
	rig.cpu.A = 0x33
	rig.cpu.SetHL(0x4000)
	rig.cpu.SetBC(5)
	copy(rig.bus.mem[0x4000:], []byte{0x11, 0x22, 0x33, 0x44, 0x55})

	rig.run(3) // finds the match on the third byte

	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x0102)
	requireZ80EqualU16(t, "HL", rig.cpu.HL(), 0x4003)
	requireZ80EqualU16(t, "BC", rig.cpu.BC(), 2)
	requireFlags(t, rig.cpu.F, flagZ|flagPV, 0)
}

func TestCPIRExhaustsWithoutMatch(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0xED, 0xB1}) // CPIR
	rig.cpu.A = 0xEE
	rig.cpu.SetHL(0x4000)
	rig.cpu.SetBC(2)

	rig.run(2)

	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x0102)
	requireZ80EqualU16(t, "BC", rig.cpu.BC(), 0)
	requireFlags(t, rig.cpu.F, 0, flagZ|flagPV)
}
