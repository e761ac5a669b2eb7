package kernel

import (
	"sync/atomic"

	"github.com/nucloid-os/nucloid/kernel/backtrace"
	"github.com/nucloid-os/nucloid/kernel/cpu"
	"github.com/nucloid-os/nucloid/kernel/kfmt/early"
	"github.com/nucloid-os/nucloid/kernel/serial"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	// disableInterruptsFn ensures the halted CPU never services another
	// interrupt after a panic. Mocked by tests.
	disableInterruptsFn = cpu.DisableInterrupts

	// serialWriteFn and backtracePrintFn are mocked by tests.
	serialWriteFn    = serial.WriteString
	backtracePrintFn = func() { backtrace.PrintFn() }

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}

	// panicked is CAS'd from false to true by the first caller to reach
	// Panic. Any later caller (including a nested panic from inside the
	// first panic's own output path) halts immediately without printing
	// anything, so concurrent or re-entrant panics never interleave their
	// output.
	panicked uint32
)

// Panic outputs the supplied error (if not nil) to the serial channel (if
// initialized) and the terminal, prints a backtrace, and halts the CPU with
// interrupts off. Calls to Panic never return. Panic also works as a
// redirection target for calls to panic() (resolved via runtime.gopanic).
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	if !atomic.CompareAndSwapUint32(&panicked, 0, 1) {
		disableInterruptsFn()
		cpuHaltFn()
		return
	}

	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	early.Printf("\n-----------------------------------\n")
	serialWriteFn("\n-----------------------------------\n")
	if err != nil {
		early.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
		serialWriteFn(err.Module + ": " + err.Message + "\n")
	}
	early.Printf("*** kernel panic: system halted ***")
	serialWriteFn("*** kernel panic: system halted ***\n")
	early.Printf("\n-----------------------------------\n")
	serialWriteFn("-----------------------------------\n")

	backtracePrintFn()

	disableInterruptsFn()
	cpuHaltFn()
}
