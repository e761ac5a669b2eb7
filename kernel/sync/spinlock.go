// Package sync provides the kernel's mutual-exclusion primitive: a spinlock
// that wraps critical-region entry/exit around the lock acquisition so that
// a held lock is never contended by the interrupt handler that would
// otherwise preempt the holder.
package sync

import (
	"sync/atomic"

	"github.com/nucloid-os/nucloid/kernel/critical"
)

func critEnter() { critical.Enter() }
func critLeave() { critical.Leave() }

var (
	// enterCriticalFn and leaveCriticalFn are used by tests to mock the
	// interrupt-disable discipline that wraps lock acquisition. When
	// compiling the kernel these are automatically inlined.
	enterCriticalFn = critEnter
	leaveCriticalFn = critLeave

	// yieldFn gives the spin loop a place to let another goroutine run
	// while host-testing the lock under contention.
	// TODO: replace with a real yield/pause hint once context-switching
	// is implemented.
	yieldFn func()
)

const (
	unlocked uint32 = 0
	locked   uint32 = 1
)

// Spinlock implements a lock where the current CPU busy-waits until the
// lock becomes available. Acquiring the lock always enters a critical
// region first: interrupts are off for as long as the lock might be held,
// so the only contention a holder can ever see comes from another CPU, not
// from the interrupt handler it is itself blocking.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the current CPU. Any
// attempt to re-acquire a lock already held by the current CPU deadlocks.
//
// While spinning, the lock periodically leaves and re-enters its critical
// region so that a pending interrupt can still be serviced; the critical
// region is only guaranteed held for the duration of each individual
// acquisition attempt, never across the whole spin wait.
func (l *Spinlock) Acquire() {
	enterCriticalFn()
	for !atomic.CompareAndSwapUint32(&l.state, unlocked, locked) {
		leaveCriticalFn()
		if yieldFn != nil {
			yieldFn()
		}
		enterCriticalFn()
	}
}

// TryToAcquire attempts to acquire the lock without spinning and returns
// true if it succeeded. On success the caller holds a critical region that
// must be released via Release; on failure no critical region is held.
func (l *Spinlock) TryToAcquire() bool {
	enterCriticalFn()
	if atomic.CompareAndSwapUint32(&l.state, unlocked, locked) {
		return true
	}
	leaveCriticalFn()
	return false
}

// Release relinquishes a held lock and leaves the critical region that was
// entered when the lock was acquired. Calling Release while the lock is
// free has no effect beyond leaving the critical region.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, unlocked)
	leaveCriticalFn()
}
