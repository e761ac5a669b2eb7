// Package pmm implements the kernel's physical frame allocator: a
// descriptor covering every 4 KiB frame of physical RAM, built in two
// phases from the bootloader's memory map and then used to hand out
// contiguous runs of frames for the rest of the kernel to map.
package pmm

import (
	"github.com/nucloid-os/nucloid/kernel"
	"github.com/nucloid-os/nucloid/kernel/mem"
)

// State describes what a physical frame is currently used for.
type State uint8

const (
	// Unusable frames never transition; they cover holes in the
	// physical address space the memory map reports as absent or
	// damaged.
	Unusable State = iota
	// FreeRAM frames are available to Allocate.
	FreeRAM
	// AllocatedRAM frames are in use by a caller that went through
	// Allocate.
	AllocatedRAM
	// UnclaimedReserved frames are reserved by firmware/hardware (ACPI
	// tables, MMIO holes) and have not yet been claimed by a driver.
	UnclaimedReserved
	// ClaimedReserved frames are a reserved region a driver has taken
	// ownership of via Claim.
	ClaimedReserved
)

var (
	errMisaligned = &kernel.Error{Module: "pmm", Message: "address or length is not frame-aligned"}
	errDoubleFree = &kernel.Error{Module: "pmm", Message: "frame is not in a freeable state"}
	errNotClaimed = &kernel.Error{Module: "pmm", Message: "frame is not in a claimable state"}
	errOutOfRange = &kernel.Error{Module: "pmm", Message: "frame index outside the declared descriptor array"}

	// panicFn is mocked by tests so a programmer-error path can be
	// observed without halting the test binary.
	panicFn = kernel.Panic
)

func framesIn(length mem.Size) uint32 {
	return length.Pages()
}

func requireAligned(pa mem.PAddr, length mem.Size) {
	if !pa.Valid() || uint64(length)&uint64(mem.PageSize-1) != 0 {
		panicFn(errMisaligned)
	}
}
