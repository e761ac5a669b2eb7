package kernel

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/nucloid-os/nucloid/kernel/cpu"
	"github.com/nucloid-os/nucloid/kernel/driver/video/console"
	"github.com/nucloid-os/nucloid/kernel/hal"
)

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = cpu.Halt
		disableInterruptsFn = cpu.DisableInterrupts
		serialWriteFn = func(string) {}
		backtracePrintFn = func() {}
		panicked = 0
	}()

	var cpuHaltCalled bool
	cpuHaltFn = func() {
		cpuHaltCalled = true
	}
	disableInterruptsFn = func() {}
	serialWriteFn = func(string) {}
	backtracePrintFn = func() {}

	t.Run("with error", func(t *testing.T) {
		cpuHaltCalled = false
		panicked = 0
		fb := mockTTY()
		err := &Error{Module: "test", Message: "panic test"}

		Panic(err)

		exp := "\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------"

		if got := readTTY(fb); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt() to be called by Panic")
		}
	})

	t.Run("without error", func(t *testing.T) {
		cpuHaltCalled = false
		panicked = 0
		fb := mockTTY()

		Panic(nil)

		exp := "\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------"

		if got := readTTY(fb); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt() to be called by Panic")
		}
	})
}

func TestPanicIsSingleWriter(t *testing.T) {
	defer func() {
		cpuHaltFn = cpu.Halt
		disableInterruptsFn = cpu.DisableInterrupts
		serialWriteFn = func(string) {}
		backtracePrintFn = func() {}
		panicked = 0
	}()

	var haltCalls int
	cpuHaltFn = func() { haltCalls++ }
	disableInterruptsFn = func() {}
	backtracePrintFn = func() {}
	panicked = 0

	fb := mockTTY()

	var serialWrites int
	serialWriteFn = func(string) { serialWrites++ }

	Panic(&Error{Module: "test", Message: "first"})
	firstOutput := readTTY(fb)
	firstSerialWrites := serialWrites

	fb2 := mockTTY()
	Panic(&Error{Module: "test", Message: "second"})

	if got := readTTY(fb2); got != "" {
		t.Fatalf("expected second panic to produce no terminal output; got %q", got)
	}
	if serialWrites != firstSerialWrites {
		t.Fatalf("expected second panic to produce no serial output; wrote %d more lines", serialWrites-firstSerialWrites)
	}
	if haltCalls != 2 {
		t.Fatalf("expected cpu.Halt to be called by both the winning and losing panicker; got %d calls", haltCalls)
	}
	if firstOutput == "" {
		t.Fatal("expected the first panic to produce output")
	}
}

func readTTY(fb []byte) string {
	var buf bytes.Buffer
	for i := 0; i < len(fb); i += 2 {
		ch := fb[i]
		if ch == 0 {
			if i+2 < len(fb) && fb[i+2] != 0 {
				buf.WriteByte('\n')
			}
			continue
		}

		buf.WriteByte(ch)
	}

	return buf.String()
}

func mockTTY() []byte {
	// Mock a tty to handle early.Printf output
	mockConsoleFb := make([]byte, 160*25)
	mockConsole := &console.Ega{}
	mockConsole.Init(80, 25, uintptr(unsafe.Pointer(&mockConsoleFb[0])))
	hal.ActiveTerminal.AttachTo(mockConsole)

	return mockConsoleFb
}
