// Package critical implements the kernel's nested interrupt-disable counter.
//
// Entering a critical region disables interrupts on the current CPU the
// first time the nesting depth transitions from zero to one; leaving it
// re-enables them only when the depth returns to zero. This is the sole
// mechanism the kernel uses to keep a code path safe against interrupt
// handlers: anything that must not be interrupted by an IRQ runs inside a
// critical region.
package critical

import (
	"github.com/nucloid-os/nucloid/kernel/cpu"
)

var (
	// enableInterruptsFn and disableInterruptsFn are seams so tests can
	// exercise the counter logic without touching real hardware state.
	enableInterruptsFn  = cpu.EnableInterrupts
	disableInterruptsFn = cpu.DisableInterrupts

	// depth tracks the current nesting level. While SMP is disabled a
	// single global counter is correct; CpuLocal exists so this can
	// become per-CPU without changing any call site.
	depth uint32
)

// CpuLocal is a placeholder for a future per-CPU value indexed by the
// current CPU's index. The index is only stable for the duration of a
// critical region (no preemption can move the code to another CPU while
// interrupts are disabled), so any CpuLocal lookup must happen inside one.
// Only a single static instance of each value is needed while SMP is
// disabled; this type documents the seam where per-CPU expansion plugs in.
type CpuLocal[T any] struct {
	value T
}

// Get returns a pointer to the per-CPU value. Callers must already be
// inside a critical region.
func (c *CpuLocal[T]) Get() *T {
	return &c.value
}

// Enter increases the nesting depth by one, disabling interrupts on the
// current CPU if this is the outermost entry.
func Enter() {
	if depth == 0 {
		disableInterruptsFn()
	}
	depth++
}

// Leave decreases the nesting depth by one, re-enabling interrupts on the
// current CPU once the outermost region has been left. Calling Leave more
// times than Enter is a programmer error; Leave only guards against
// underflowing past zero.
func Leave() {
	if depth == 0 {
		return
	}

	depth--
	if depth == 0 {
		enableInterruptsFn()
	}
}

// Depth returns the current nesting depth. Exposed for tests and for
// assertions in code that must run inside (or outside) a critical region.
func Depth() uint32 {
	return depth
}
