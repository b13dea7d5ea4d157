// Package autosave implements the per-state autosave policy (spec §4.12):
// a trailing debounce with a hard cap, combined with an op-count
// threshold that flushes immediately once enough writes have
// accumulated. Neither the teacher nor the rest of the pack carries a
// debounce primitive, so this is built directly on `time.Timer` guarded
// by a `sync.Mutex` — the smallest construct that expresses "reset a
// timer on every op, but never let it be reset forever" idiomatically.
package autosave

import (
	"sync"
	"time"
)

// Policy configures the thresholds that trigger a flush.
type Policy struct {
	// Ops is the accumulated write-op count that triggers an immediate
	// flush. Zero disables the op-count trigger.
	Ops int

	// WaitMs is the trailing debounce window: a flush fires this many
	// milliseconds after the most recent op, provided no further op
	// resets the timer first. Zero disables the debounce trigger.
	WaitMs int64

	// MaxWaitMs caps how long a steady stream of ops can keep resetting
	// the debounce timer before a flush is forced anyway. Zero disables
	// the cap (the debounce timer may be reset indefinitely).
	MaxWaitMs int64
}

// Debouncer tracks pending-op state for one vector store and fires
// onFlush when Policy's thresholds are met. onFlush is called with the
// debouncer's internal lock released, so it may itself call RecordOp.
type Debouncer struct {
	mu       sync.Mutex
	policy   Policy
	onFlush  func()
	pending  int
	timer    *time.Timer
	firstOp  time.Time
	disposed bool
}

// New returns a Debouncer that invokes onFlush whenever policy's
// op-count or debounce thresholds are crossed.
func New(policy Policy, onFlush func()) *Debouncer {
	return &Debouncer{policy: policy, onFlush: onFlush}
}

// RecordOp registers one write op. It flushes immediately if the
// op-count threshold is reached, otherwise it (re)arms the debounce
// timer, respecting MaxWaitMs.
func (d *Debouncer) RecordOp() {
	d.mu.Lock()

	if d.disposed {
		d.mu.Unlock()
		return
	}

	d.pending++

	if d.pending == 1 {
		d.firstOp = time.Now()
	}

	if d.policy.Ops > 0 && d.pending >= d.policy.Ops {
		d.pending = 0
		d.stopTimerLocked()
		d.mu.Unlock()
		d.onFlush()

		return
	}

	d.armLocked()
	d.mu.Unlock()
}

// armLocked (re)starts the debounce timer for WaitMs, but never pushes
// the deadline past firstOp+MaxWaitMs. Must be called with mu held.
func (d *Debouncer) armLocked() {
	if d.policy.WaitMs <= 0 {
		return
	}

	wait := time.Duration(d.policy.WaitMs) * time.Millisecond

	if d.policy.MaxWaitMs > 0 {
		elapsed := time.Since(d.firstOp)
		remaining := time.Duration(d.policy.MaxWaitMs)*time.Millisecond - elapsed

		if remaining < wait {
			wait = remaining
		}

		if wait < 0 {
			wait = 0
		}
	}

	d.stopTimerLocked()
	d.timer = time.AfterFunc(wait, d.fire)
}

func (d *Debouncer) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire() {
	d.mu.Lock()

	if d.disposed || d.pending == 0 {
		d.mu.Unlock()
		return
	}

	d.pending = 0
	d.timer = nil
	d.mu.Unlock()

	d.onFlush()
}

// Flush forces an immediate flush of any pending ops, as if the
// debounce timer had just fired. No-op if nothing is pending.
func (d *Debouncer) Flush() {
	d.mu.Lock()

	if d.pending == 0 {
		d.mu.Unlock()
		return
	}

	d.pending = 0
	d.stopTimerLocked()
	d.mu.Unlock()

	d.onFlush()
}

// Pending reports the number of ops accumulated since the last flush.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.pending
}

// Dispose cancels any armed timer and flushes pending ops best-effort
// (spec §4.12: "dispose() cancels timers and flushes any pending ops
// best-effort"). Safe to call more than once.
func (d *Debouncer) Dispose() {
	d.mu.Lock()

	if d.disposed {
		d.mu.Unlock()
		return
	}

	d.disposed = true
	pending := d.pending
	d.pending = 0
	d.stopTimerLocked()
	d.mu.Unlock()

	if pending > 0 {
		d.onFlush()
	}
}
