package vmm

import (
	"github.com/nucloid-os/nucloid/kernel/cpu"
	"github.com/nucloid-os/nucloid/kernel/mem"
)

// flushTLBEntryFn is mocked by tests to avoid issuing a real INVLPG, which
// faults outside ring 0.
var flushTLBEntryFn = func(virtAddr mem.VAddr) {
	cpu.FlushTLBEntry(virtAddr.Pointer())
}
