package z80

import "testing"

func TestJumpAbsolute(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0xC3, 0x00, 0x20}) // JP nn

	rig.cpu.Step()

	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x2000)
	if rig.cpu.Cycles != 10 {
		t.Fatalf("Cycles = %d, want 10", rig.cpu.Cycles)
	}
}

func TestJumpConditional(t *testing.T) {
	// Condition codes in opcode order with a flag byte that satisfies
	// exactly half of them.
	cases := []struct {
		name  string
		op    byte
		f     byte
		taken bool
	}{
		{"NZ with Z clear", 0xC2, 0, true},
		{"NZ with Z set", 0xC2, flagZ, false},
		{"Z with Z set", 0xCA, flagZ, true},
		{"NC with C set", 0xD2, flagC, false},
		{"C with C set", 0xDA, flagC, true},
		{"PO with PV set", 0xE2, flagPV, false},
		{"PE with PV set", 0xEA, flagPV, true},
		{"P with S clear", 0xF2, 0, true},
		{"M with S clear", 0xFA, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rig := newCPUZ80TestRig()
			rig.resetAndLoad(0x0100, []byte{tc.op, 0x00, 0x30})
			rig.cpu.F = tc.f

			rig.cpu.Step()

			want := uint16(0x0103)
			if tc.taken {
				want = 0x3000
			}
			requireZ80EqualU16(t, "PC", rig.cpu.PC, want)
			if rig.cpu.Cycles != 10 {
				t.Fatalf("Cycles = %d, want 10 either way", rig.cpu.Cycles)
			}
		})
	}
}

func TestJumpRelative(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0x18, 0x10}) // JR +0x10

	rig.cpu.Step()

	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x0112)
	if rig.cpu.Cycles != 12 {
		t.Fatalf("Cycles = %d, want 12", rig.cpu.Cycles)
	}
}

func TestJumpRelativeBackward(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0x18, 0xFE}) // JR -2: jump to itself

	rig.cpu.Step()

	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x0100)
}

func TestJumpRelativeConditionalTiming(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0x28, 0x05}) // JR Z,+5
	rig.cpu.F = 0                                // not taken

	rig.cpu.Step()

	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x0102)
	if rig.cpu.Cycles != 7 {
		t.Fatalf("untaken JR cc Cycles = %d, want 7", rig.cpu.Cycles)
	}

	rig.resetAndLoad(0x0100, []byte{0x28, 0x05})
	rig.cpu.F = flagZ // taken

	rig.cpu.Step()

	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x0107)
	if rig.cpu.Cycles != 12 {
		t.Fatalf("taken JR cc Cycles = %d, want 12", rig.cpu.Cycles)
	}
}

func TestDJNZ(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0x10, 0xFE}) // DJNZ -2: count B down in place
	rig.cpu.B = 3

	rig.cpu.Step()
	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x0100)
	requireZ80EqualU8(t, "B", rig.cpu.B, 2)
	if rig.cpu.Cycles != 13 {
		t.Fatalf("looping DJNZ Cycles = %d, want 13", rig.cpu.Cycles)
	}

	rig.run(2) // B: 2 -> 1 -> 0, last iteration falls through
	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x0102)
	requireZ80EqualU8(t, "B", rig.cpu.B, 0)
	if rig.cpu.Cycles != 13+13+8 {
		t.Fatalf("Cycles = %d, want 34", rig.cpu.Cycles)
	}
}

func TestCallAndReturn(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0xCD, 0x00, 0x40}) // CALL 0x4000
	rig.bus.mem[0x4000] = 0xC9                         // RET
	rig.cpu.SP = 0x8000

	rig.cpu.Step()
	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x4000)
	requireZ80EqualU16(t, "SP", rig.cpu.SP, 0x7FFE)
	requireZ80EqualU8(t, "ret lo", rig.bus.mem[0x7FFE], 0x03)
	requireZ80EqualU8(t, "ret hi", rig.bus.mem[0x7FFF], 0x01)
	if rig.cpu.Cycles != 17 {
		t.Fatalf("CALL Cycles = %d, want 17", rig.cpu.Cycles)
	}

	rig.cpu.Step()
	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x0103)
	requireZ80EqualU16(t, "SP", rig.cpu.SP, 0x8000)
	if rig.cpu.Cycles != 17+10 {
		t.Fatalf("RET Cycles = %d, want 27 total", rig.cpu.Cycles)
	}
}

func TestCallConditionalTiming(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0xC4, 0x00, 0x40}) // CALL NZ,nn
	rig.cpu.F = flagZ
	rig.cpu.SP = 0x8000

	rig.cpu.Step()

	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x0103)
	requireZ80EqualU16(t, "SP", rig.cpu.SP, 0x8000)
	if rig.cpu.Cycles != 10 {
		t.Fatalf("untaken CALL cc Cycles = %d, want 10", rig.cpu.Cycles)
	}
}

func TestReturnConditionalTiming(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{
		0xC0, // RET NZ: not taken
		0xC0, // RET NZ: taken
	})
	rig.cpu.SP = 0x8000
	rig.bus.mem[0x8000] = 0x00
	rig.bus.mem[0x8001] = 0x50
	rig.cpu.F = flagZ

	rig.cpu.Step()
	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x0101)
	if rig.cpu.Cycles != 5 {
		t.Fatalf("untaken RET cc Cycles = %d, want 5", rig.cpu.Cycles)
	}

	rig.cpu.F = 0
	rig.cpu.Step()
	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x5000)
	if rig.cpu.Cycles != 5+11 {
		t.Fatalf("taken RET cc Cycles = %d, want 16 total", rig.cpu.Cycles)
	}
}

func TestJumpThroughHL(t *testing.T) {
	rig := newCPUZ80TestRig()
	rig.resetAndLoad(0x0100, []byte{0xE9}) // JP (HL)
	rig.cpu.SetHL(0x7000)

	rig.cpu.Step()

	requireZ80EqualU16(t, "PC", rig.cpu.PC, 0x7000)
	if rig.cpu.Cycles != 4 {
		t.Fatalf("Cycles = %d, want 4", rig.cpu.Cycles)
	}
}

func TestRestartVectors(t *testing.T) {
	for _, target := range []uint16{0x00, 0x08, 0x10, 0x18, 0x20, 0x28, 0x30, 0x38} {
		op := byte(0xC7 | target)
		rig := newCPUZ80TestRig()
		rig.resetAndLoad(0x0100, []byte{op})
		rig.cpu.SP = 0x8000

		rig.cpu.Step()

		requireZ80EqualU16(t, "PC", rig.cpu.PC, target)
		requireZ80EqualU8(t, "ret lo", rig.bus.mem[0x7FFE], 0x01)
		if rig.cpu.Cycles != 11 {
			t.Fatalf("RST Cycles = %d, want 11", rig.cpu.Cycles)
		}
	}
}
