//go:build 386

package highmem

import (
	"github.com/nucloid-os/nucloid/kernel"
	"github.com/nucloid-os/nucloid/kernel/mem"
	"github.com/nucloid-os/nucloid/kernel/mem/vmm"
)

var errAlreadyMapped = &kernel.Error{Module: "highmem", Message: "virtual address is already mapped"}

// MapHighmemVAddr installs a single RW- mapping at va to pa, allocating and
// zero-filling any missing intermediate table via allocFn. Panics if va is
// already mapped (double-map).
func MapHighmemVAddr(va mem.VAddr, pa mem.PAddr, allocFn vmm.FrameAllocatorFn) {
	if vmm.PagePermissionsOf(va).Accessible {
		panicFn(errAlreadyMapped)
		return
	}

	if err := vmm.Map(vmm.PageFromAddress(va), pa, vmm.FlagRW|vmm.FlagNoExecute, allocFn); err != nil {
		panicFn(err)
	}
}

// UnmapHighmemVAddr clears the leaf mapping installed by MapHighmemVAddr and
// invalidates the TLB for the single page.
func UnmapHighmemVAddr(va mem.VAddr) {
	if err := vmm.Unmap(vmm.PageFromAddress(va)); err != nil {
		panicFn(err)
	}
}
