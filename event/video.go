package event

import "sync"

// VideoSnapshot is the three-copy video buffer the CPU and the
// render/event threads share: the CPU owns cpu, the CPU publishes
// into transfer under the lock, and the render side copies transfer
// into its own render buffer under the same lock. Only transfer is
// ever touched by both sides, so a renderer read never races a CPU
// write to cpu or render.
type VideoSnapshot struct {
	mu       sync.Mutex
	cpu      []byte
	transfer []byte
	render   []byte

	refresh chan struct{}
}

// NewVideoSnapshot allocates all three buffers at size bytes, the
// video RAM extent of whichever model is running.
func NewVideoSnapshot(size int) *VideoSnapshot {
	return &VideoSnapshot{
		cpu:      make([]byte, size),
		transfer: make([]byte, size),
		render:   make([]byte, size),
		refresh:  make(chan struct{}, 1),
	}
}

// CPUBuffer returns the CPU-owned buffer for the CPU goroutine to
// write video RAM contents into directly; it is never touched by any
// other goroutine.
func (v *VideoSnapshot) CPUBuffer() []byte { return v.cpu }

// Publish copies the CPU buffer into transfer under the lock and
// signals a refresh event, called by the CPU goroutine after it's
// done mutating CPUBuffer() for this frame. A full channel (a refresh
// already pending) is not an error — the renderer will pick up the
// latest transfer contents regardless of how many refreshes coalesce.
func (v *VideoSnapshot) Publish() {
	v.mu.Lock()
	copy(v.transfer, v.cpu)
	v.mu.Unlock()

	select {
	case v.refresh <- struct{}{}:
	default:
	}
}

// Refresh blocks until a Publish has occurred, then returns the
// render-owned buffer with transfer's contents copied in, for the
// render goroutine to paint from.
func (v *VideoSnapshot) Refresh() []byte {
	<-v.refresh
	v.mu.Lock()
	copy(v.render, v.transfer)
	v.mu.Unlock()
	return v.render
}
