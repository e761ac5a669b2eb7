package vmm

import (
	"unsafe"

	"github.com/nucloid-os/nucloid/kernel/cpu"
	"github.com/nucloid-os/nucloid/kernel/mem"
)

var (
	// activePDTFn is used by tests to avoid reading the real CR3
	// register, which is only valid when running on the target CPU.
	activePDTFn = func() mem.PAddr { return mem.PAddr(cpu.ActivePDT()) }

	// ptePtrFn resolves a page-table entry's physical address to a
	// pointer at which it can be read or written. On real hardware this
	// is always the identity-mapped low-memory alias of the entry's
	// physical address; tests override it to point into a fake
	// in-process table so the walker can be exercised without mapped
	// memory.
	ptePtrFn = func(entryPAddr mem.PAddr) *pageTableEntry {
		va, ok := entryPAddr.IntoVAddr()
		if !ok {
			panic("vmm: page table entry lies outside the low-memory window")
		}
		return (*pageTableEntry)(unsafe.Pointer(va.Pointer()))
	}
)

// pageTableWalker is called once per paging level reached while resolving a
// virtual address. Returning false aborts the walk.
type pageTableWalker func(level uint8, pte *pageTableEntry) bool

// walk resolves virtAddr level by level starting at the currently active
// root table, invoking walkFn with the entry found at each level. The walk
// stops as soon as walkFn returns false or a non-present entry is reached at
// any level, the root included.
func walk(virtAddr mem.VAddr, walkFn pageTableWalker) {
	tableAddr := activePDTFn()

	for level := uint8(0); level < pageLevels; level++ {
		entryIndex := (uintptr(virtAddr) >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr := tableAddr.Offset(uint64(entryIndex) * 8)

		pte := ptePtrFn(entryAddr)
		if !walkFn(level, pte) {
			return
		}

		if !pte.HasFlags(FlagPresent) {
			return
		}

		tableAddr = pte.Frame()
	}
}
