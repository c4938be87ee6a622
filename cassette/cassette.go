// Package cassette models the logical state of the ABC cassette
// reader used by PIO-B (ABC80) and SIO channel 2 (ABC802): a state
// machine over Idle/Loading/Emitting-block/EOF, and the block framing
// (leadin, sync, STX/ETX, block number, checksum) both models wrap
// around a payload from the block package. The actual FM bit encoding
// a real cassette motor would produce is out of scope — a logical bit
// edge suffices, so this package only ever hands out whole frames.
package cassette

import (
	"log/slog"

	"abc80/block"
	"abc80/fsname"
)

// State is the cassette reader's position in its lifecycle.
type State int

const (
	Idle State = iota
	Loading
	Emitting
	EOF
)

// Block is one formatted cassette frame, matching the on-tape layout
// byte for byte except that the 32-byte leadin and 3-byte sync field
// are represented as lengths rather than literal zero/0x16 arrays —
// any consumer that needs the literal bytes can use LeadinLen/SyncLen.
type Block struct {
	STX      byte
	BlkType  byte // 0x00 data, 0xFF filename block
	BlkNo    uint16
	Data     [block.DataSize]byte
	ETX      byte
	Checksum uint16
}

const (
	LeadinLen = 32
	SyncLen   = 3
)

// FrameLen is the byte count Frame serializes.
const FrameLen = 1 + 2 + block.DataSize + 1 + 2

// Frame serializes the receiver-visible bytes of the block: block
// type, little-endian block number, payload, ETX, and little-endian
// checksum. The leadin, sync and STX fields ahead of them are eaten
// by the receiving chip's hunt logic and never reach software.
func (b *Block) Frame() []byte {
	out := make([]byte, 0, FrameLen)
	out = append(out, b.BlkType, byte(b.BlkNo), byte(b.BlkNo>>8))
	out = append(out, b.Data[:]...)
	out = append(out, b.ETX, byte(b.Checksum), byte(b.Checksum>>8))
	return out
}

// TapeLen is the byte count Tape serializes: the literal on-tape block
// including leadin, sync and STX.
const TapeLen = LeadinLen + SyncLen + 1 + FrameLen

// Tape serializes the complete on-tape block, leadin and sync bytes
// included, for a consumer that hunts for the sync sequence itself
// (the ABC80 PIO reads the tape bit by bit and sees everything).
func (b *Block) Tape() []byte {
	out := make([]byte, 0, TapeLen)
	for i := 0; i < LeadinLen; i++ {
		out = append(out, 0x00)
	}
	out = append(out, 0x16, 0x16, 0x16, b.STX)
	return append(out, b.Frame()...)
}

func formatBlock(blkNo int, data [block.DataSize]byte) Block {
	b := Block{STX: 0x02, ETX: 0x03, Data: data}
	if blkNo < 0 {
		b.BlkType = 0xFF
	}
	b.BlkNo = uint16(blkNo)

	sum := uint16(b.BlkType) + uint16(byte(b.BlkNo)) + uint16(byte(b.BlkNo>>8))
	for _, d := range b.Data {
		sum += uint16(d)
	}
	sum += uint16(b.ETX)
	b.Checksum = sum
	return b
}

// FileSource resolves a filename to its contents. The actual
// filesystem access is host-layer territory; the reader only needs
// the bytes.
type FileSource interface {
	Open(name string) (data []byte, ok bool)
}

// Reader drives the cassette state machine for a single drive.
type Reader struct {
	src FileSource
	log *slog.Logger

	state   State
	blockNo int // -1 sentinel: about to emit the filename block
	names   []string

	filenameData [block.DataSize]byte
	payload      *block.Reader
}

// SetLogger attaches (or, with nil, detaches) a logger that narrates
// motor and block events.
func (r *Reader) SetLogger(log *slog.Logger) { r.log = log }

// NewReader returns an idle reader backed by src.
func NewReader(src FileSource) *Reader {
	return &Reader{src: src, state: Idle, blockNo: -1}
}

// QueueName appends a filename to the list popped on the next
// EnableMotor, matching a command-line "insert these files in order"
// cassette list.
func (r *Reader) QueueName(name string) {
	r.names = append(r.names, name)
}

// State reports the reader's current lifecycle state.
func (r *Reader) State() State { return r.state }

// EnableMotor turns the cassette motor on: it first tries the queued
// filename list, and if that's empty or exhausted, falls back to
// snoop, which the caller implements by reading the filename the
// guest program left in memory (SP+4 on ABC80, DE on ABC802). It
// reports whether a file was found and loading began.
func (r *Reader) EnableMotor(snoop func() (name string, ok bool)) bool {
	r.blockNo = -1
	r.payload = nil

	for len(r.names) > 0 {
		name := r.names[0]
		r.names = r.names[1:]
		if data, ok := r.src.Open(name); ok {
			return r.startFile(name, data)
		}
	}

	if snoop != nil {
		if name, ok := snoop(); ok {
			if data, ok := r.src.Open(name); ok {
				return r.startFile(name, data)
			}
			// A compiled program saved as .bac may only exist as .bas
			// source on the host. The guest still gets the .bac name in
			// the filename block, or its loader won't match the file it
			// asked for.
			if alt, isBac := bacToBas(name); isBac {
				if data, ok := r.src.Open(alt); ok {
					return r.startFile(name, data)
				}
			}
		}
	}

	if r.log != nil {
		r.log.Debug("cas", "motor", true, "file", "none")
	}
	r.state = Idle
	return false
}

func bacToBas(name string) (alt string, isBac bool) {
	n := len(name)
	if n < 4 {
		return "", false
	}
	switch name[n-4:] {
	case ".bac":
		return name[:n-1] + "s", true
	case ".BAC":
		return name[:n-1] + "S", true
	}
	return "", false
}

func (r *Reader) startFile(name string, data []byte) bool {
	mangled := fsname.Mangle(name)
	copy(r.filenameData[:], mangled[:])

	n := block.Count(data)
	r.filenameData[251] = byte(n)
	r.filenameData[252] = byte(n >> 8)

	r.payload = block.NewReader(data)
	r.state = Loading
	if r.log != nil {
		r.log.Debug("cas", "motor", true, "file", name, "blocks", n)
	}
	return true
}

// DisableMotor turns the motor off, closing whatever file was open
// and returning the reader to Idle.
func (r *Reader) DisableMotor() {
	r.state = Idle
	r.blockNo = -1
	r.payload = nil
}

// NextBlock produces the next frame: the filename block first
// (BlkType 0xFF), then successive data blocks until the payload is
// exhausted, after which the reader transitions to EOF. The call
// after that closes the file and returns the reader to Idle with
// ok false, as does any call while Idle.
func (r *Reader) NextBlock() (blk Block, ok bool) {
	if r.state == Idle {
		return Block{}, false
	}
	if r.state == EOF {
		r.DisableMotor()
		return Block{}, false
	}

	if r.blockNo == -1 {
		blk = formatBlock(-1, r.filenameData)
		r.blockNo = 0
		r.state = Emitting
		return blk, true
	}

	var data [block.DataSize]byte
	done := r.payload.NextBlock(data[:])
	blk = formatBlock(r.blockNo, data)
	if r.log != nil {
		r.log.Debug("cas", "block", r.blockNo, "last", done)
	}
	r.blockNo++
	if done {
		r.state = EOF
	}
	return blk, true
}
