package machine

import "testing"

func TestABC80VideoRAMFollowsColumnMode(t *testing.T) {
	a := NewABC80(ABC80Config{RAMSize: 16})

	// 80-column reset state: 0x7400 is the primary video kilobyte.
	a.Mem.Write(0x7400, 0x55)
	if a.Video.CPUBuffer()[0] != 0x55 {
		t.Fatalf("0x7400 write did not land in video RAM")
	}

	// 40-column mode drops the 0x7400 window; only 0x7C00 stays video.
	a.IO.In(3)
	a.Mem.Write(0x7400, 0xAA)
	if a.Video.CPUBuffer()[0] != 0x55 {
		t.Fatalf("0x7400 should be plain RAM in 40-column mode")
	}
	a.Mem.Write(0x7C00, 0x77)
	if a.Video.CPUBuffer()[0x400] != 0x77 {
		t.Fatalf("0x7C00 write did not land in video RAM in 40-column mode")
	}

	// Back to 80 columns.
	a.IO.In(4)
	a.Mem.Write(0x7400, 0x66)
	if a.Video.CPUBuffer()[0] != 0x66 {
		t.Fatalf("0x7400 should be video RAM again in 80-column mode")
	}
}

func TestABC80MissingRAMReadsAllOnes(t *testing.T) {
	a := NewABC80(ABC80Config{RAMSize: 16})

	// 16KiB of RAM grows down from the top; 0x8000 is unpopulated.
	if got := a.Mem.Read(0x8000); got != 0xFF {
		t.Fatalf("unpopulated RAM = 0x%02X, want 0xFF", got)
	}
	a.Mem.Write(0x8000, 0x12)
	if got := a.Mem.Read(0x8000); got != 0xFF {
		t.Fatalf("write to unpopulated RAM should be discarded")
	}

	a.Mem.Write(0xC000, 0x34)
	if got := a.Mem.Read(0xC000); got != 0x34 {
		t.Fatalf("populated RAM = 0x%02X, want 0x34", got)
	}
}

func TestABC80MapLatchNeeds64K(t *testing.T) {
	small := NewABC80(ABC80Config{RAMSize: 16})
	small.IO.Out(7, 3) // map latch write, must be ignored on a 16K model
	small.Mem.Write(0x0100, 0x99)
	if got := small.Mem.Read(0x0100); got == 0x99 {
		t.Fatalf("BASIC ROM became writable after an ignored latch write")
	}

	big := NewABC80(ABC80Config{RAMSize: 64})
	big.IO.Out(7, 3) // map 3<<1 | 80col = map 6: all RAM
	big.Mem.Write(0x0100, 0x99)
	if got := big.Mem.Read(0x0100); got != 0x99 {
		t.Fatalf("map 6 should expose RAM under the ROM area, got 0x%02X", got)
	}
}

func TestABC80KeyboardReadAndFakeType(t *testing.T) {
	a := NewABC80(ABC80Config{RAMSize: 16})

	a.Keyboard.PostDown(0x41)
	if got := a.IO.In(56 & abc80PortMask); got != 0xC1 {
		t.Fatalf("key down read = 0x%02X, want 0xC1 (code | held)", got)
	}
	a.Keyboard.PostUp()
	if got := a.IO.In(56 & abc80PortMask); got != 0x41 {
		t.Fatalf("key up read = 0x%02X, want bare code 0x41", got)
	}

	a.Keyboard.SetFakeType(true)
	a.Keyboard.PostDown(0x42)
	if got := a.IO.In(56 & abc80PortMask); got != 0xC2 {
		t.Fatalf("fake-type first read = 0x%02X, want 0xC2", got)
	}
	if got := a.IO.In(56 & abc80PortMask); got != 0x42 {
		t.Fatalf("fake-type second read = 0x%02X, want strobe cleared", got)
	}
}

func TestABC80KeyPostRaisesKeyboardIRQ(t *testing.T) {
	a := NewABC80(ABC80Config{RAMSize: 16})
	a.Keyboard.PostDown(0x20)
	if !a.IRQ.Pending() {
		t.Fatalf("key-down should raise the keyboard interrupt")
	}
}
