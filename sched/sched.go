// Package sched binds simulated CPU time to wall-clock time: a small
// set of periodic timers (vertical retrace, the system clock tick) are
// checked on a cadence driven by T-state count rather than by the host
// OS's own timer resolution, and the scheduler naps the calling
// goroutine when the emulation has gotten far enough ahead of real time
// that sleeping won't cost accuracy.
package sched

import (
	"sync"
	"sync/atomic"
	"time"
)

// MaxTimers bounds the number of periodic timers a Scheduler can host,
// matching the two the real machines ever need: ABC80's single 50Hz
// NMI/vsync tick, or ABC802's CTC channel-3 tick plus its separate
// 50Hz vsync.
const MaxTimers = 2

// TStateFunc reports the CPU's cumulative T-state counter. The
// scheduler never advances this itself — it only reads it to relate
// simulated and real time.
type TStateFunc func() uint64

// Timer is one periodic event: its callback is called at most once per
// PollExternal call, no matter how many periods have actually elapsed
// meanwhile (a long stall skips straight to the next boundary instead
// of replaying missed ticks).
type Timer struct {
	period time.Duration
	fn     func()

	last uint64 // last fire time, in ns on the Scheduler's clock
	ltst uint64 // T-state value corresponding to last
}

// Scheduler reconciles a free-running T-state counter against a
// monotonic nanosecond clock. Every machine model gets its own
// Scheduler instance; its timers drive NMI/CTC ticks and vsync.
type Scheduler struct {
	mu sync.Mutex

	mhz         float64
	nsPerTstate float64
	tstatePerNs float64
	limitSpeed  bool

	pollTstatePeriod uint64
	nextCheckTstate  uint64
	next             uint64 // ns of the next timer deadline

	refTime   uint64
	refTstate uint64

	timers [MaxTimers]*Timer
	ntimer int

	tstate TStateFunc
	now    func() int64
	sleep  func(untilNs, nowNs int64)

	quit atomic.Bool
}

const maxTstatePeriod = 512

// New returns a Scheduler ticking at mhz simulated clock cycles per
// microsecond of real time (pass 0 to run unthrottled — a debugger
// single-stepping the core, for instance). tstate reports the running
// CPU's cumulative cycle count.
func New(mhz float64, tstate TStateFunc) *Scheduler {
	s := &Scheduler{tstate: tstate}
	if mhz <= 0.001 || mhz >= 1.0e6 {
		s.limitSpeed = false
		s.nsPerTstate = 1000.0 / 3.0
		s.tstatePerNs = 3.0 / 1000.0
	} else {
		s.limitSpeed = true
		s.nsPerTstate = 1000.0 / mhz
		s.tstatePerNs = mhz / 1000.0
	}
	s.mhz = mhz

	// Limit polling to once every microsecond of simulated time.
	period := uint64(1000 * s.tstatePerNs)
	if !s.limitSpeed || period > maxTstatePeriod {
		period = maxTstatePeriod
	}
	s.pollTstatePeriod = period

	s.now = func() int64 { return time.Now().UnixNano() }
	s.sleep = func(untilNs, nowNs int64) {
		if d := time.Duration(untilNs - nowNs); d > 0 {
			time.Sleep(d)
		}
	}
	return s
}

// AddTimer registers a periodic callback, firing roughly every period
// of real time as observed through PollExternal. Panics once MaxTimers
// are already registered — every model needs at most two.
func (s *Scheduler) AddTimer(period time.Duration, fn func()) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ntimer >= MaxTimers {
		panic("sched: too many timers")
	}
	t := &Timer{period: period, fn: fn}
	s.timers[s.ntimer] = t
	s.ntimer++
	return t
}

// Quit asks PollExternal to report true on its next call, ending the
// CPU's run loop.
func (s *Scheduler) Quit() { s.quit.Store(true) }

// considerNapping sleeps the caller when the emulation is running
// ahead of real time, and otherwise resets its reference point when it
// has drifted far enough (a debugger suspend, a clock step, or just
// falling badly behind) that trying to catch up would be meaningless.
func (s *Scheduler) considerNapping(now, next uint64) {
	if now <= s.refTime || s.tstate() <= s.refTstate {
		s.refTime, s.refTstate = now, s.tstate()
		return
	}

	when := s.refTime + uint64(float64(s.tstate()-s.refTstate)*s.nsPerTstate)
	behind := int64(now) - int64(when)
	ahead := int64(when) - int64(next)

	const (
		ms200 = 200 * int64(time.Millisecond)
		ms100 = 100 * int64(time.Millisecond)
	)
	if behind >= ms200 || ahead >= ms100 {
		s.refTime, s.refTstate = now, s.tstate()
		return
	}

	if ahead >= 0 {
		s.sleep(int64(next), int64(now))
	}
}

// PollExternal checks whether any timer has come due and, if so, fires
// it, and otherwise naps the caller a little when simulation has
// pulled ahead of real time. It returns true once Quit has been
// called, signaling the caller's run loop to stop. Call it from the
// CPU's fetch/execute loop at roughly instruction granularity — the
// T-state fast path below makes that cheap even at high call rates.
func (s *Scheduler) PollExternal() bool {
	if s.quit.Load() {
		return true
	}

	tstate := s.tstate()
	if tstate < s.nextCheckTstate {
		return false
	}

	now := uint64(s.now())
	sleepy := s.limitSpeed

	if now >= s.next {
		s.next = ^uint64(0)
		for i := 0; i < s.ntimer; i++ {
			t := s.timers[i]
			if t.period == 0 {
				continue
			}
			period := uint64(t.period)
			tnext := t.last + period
			if now >= tnext {
				t.last += period
				if now >= t.last+period {
					// Missed tick(s): skip straight to the next boundary.
					t.last = now - (now-t.last)%period
				}
				tnext = t.last + period
				t.ltst = tstate - uint64(float64(now-t.last)*s.tstatePerNs)
				t.fn()
				sleepy = false
			}
			if s.next > tnext {
				s.next = tnext
			}
		}
	}

	s.nextCheckTstate = tstate + s.pollTstatePeriod
	if s.limitSpeed {
		nextEvent := tstate + uint64(float64(s.next-now)*s.tstatePerNs)
		if nextEvent < s.nextCheckTstate {
			s.nextCheckTstate = nextEvent
		}
	}

	if sleepy {
		s.considerNapping(now, s.next)
	}

	return false
}
