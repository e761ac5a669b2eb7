// Package goruntime contains code for bootstrapping Go runtime features such
// as the memory allocator.
package goruntime

import (
	"unsafe"

	"github.com/nucloid-os/nucloid/kernel"
	"github.com/nucloid-os/nucloid/kernel/mem"
	"github.com/nucloid-os/nucloid/kernel/mem/pmm"
	"github.com/nucloid-os/nucloid/kernel/mem/vmm"
)

// Allocator is the frame source sysMap/sysAlloc draw from. Kmain sets it
// once the kernel's physical frame allocator has been built from the
// memory map; nothing in this package touches it before then.
var Allocator *pmm.Allocator

var (
	mapFn   = vmm.Map
	allocFn = func() (mem.PAddr, *kernel.Error) { return Allocator.AllocateFrames().Allocate() }

	// reserveCursor hands out low-memory virtual addresses for sysReserve.
	// The entire low-memory window is already page-mapped by
	// vmm.SetupKernelPaging, so "reserving" address space here never
	// needs new page-table entries of its own; only sysMap/sysAlloc back
	// a reserved range with real frames.
	reserveCursor mem.VAddr
)

// Init sets the virtual address sysReserve starts handing out space from.
// Kmain passes the bump pointer vmm.SetupKernelPaging returned, advanced
// past the frame-allocator descriptor array placed there, so the runtime's
// arena begins immediately after the pages the bootstrap and that array
// already claimed.
func Init(heapFrontier mem.VAddr) {
	reserveCursor = heapFrontier
}

func roundToPageSize(size uintptr) mem.Size {
	return mem.Size((mem.Size(size) + mem.PageSize - 1) &^ (mem.PageSize - 1))
}

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings.
//
// This function replaces runtime.sysReserve and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	regionSize := roundToPageSize(size)
	start := reserveCursor
	reserveCursor = reserveCursor.Offset(uintptr(regionSize))

	*reserved = true
	return unsafe.Pointer(start.Pointer())
}

// sysMap establishes a backing mapping for a region previously reserved via
// sysReserve.
//
// This function replaces runtime.sysMap and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap should only be called with reserved=true")
	}

	regionStartAddr := mem.VAddr((uintptr(virtAddr) + uintptr(mem.PageSize-1)) &^ uintptr(mem.PageSize-1))
	regionSize := roundToPageSize(size)
	pageCount := regionSize.Pages()

	page := vmm.PageFromAddress(regionStartAddr)
	for ; pageCount > 0; pageCount, page = pageCount-1, page+1 {
		frame, err := allocFn()
		if err != nil {
			return unsafe.Pointer(uintptr(0))
		}
		if err := mapFn(page, frame, vmm.FlagRW|vmm.FlagNoExecute, allocFn); err != nil {
			return unsafe.Pointer(uintptr(0))
		}
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStartAddr.Pointer())
}

// sysAlloc reserves enough physical frames to satisfy the allocation request
// and establishes a contiguous virtual page mapping for them, returning the
// pointer to the virtual region start.
//
// This function replaces runtime.sysAlloc and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	var reserved bool
	regionPtr := sysReserve(nil, size, &reserved)
	return sysMap(regionPtr, size, reserved, sysStat)
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var (
		reserved bool
		stat     uint64
		zeroPtr  = unsafe.Pointer(uintptr(0))
	)

	sysReserve(zeroPtr, 0, &reserved)
	sysMap(zeroPtr, 0, reserved, &stat)
	sysAlloc(0, &stat)
}
