// Package kmain wires the memory-management core into the boot sequence
// the arch layer drives after the rt0 assembly hands control to Go: parse
// the Multiboot block, grow paging, build the frame and (on 32-bit)
// high-memory allocators, then bring up the heap and the Go runtime's own
// allocator on top of them.
package kmain

import (
	"github.com/nucloid-os/nucloid/kernel"
	"github.com/nucloid-os/nucloid/kernel/critical"
	"github.com/nucloid-os/nucloid/kernel/fault"
	"github.com/nucloid-os/nucloid/kernel/goruntime"
	"github.com/nucloid-os/nucloid/kernel/hal"
	"github.com/nucloid-os/nucloid/kernel/hal/multiboot"
	"github.com/nucloid-os/nucloid/kernel/kfmt"
	"github.com/nucloid-os/nucloid/kernel/mem"
	"github.com/nucloid-os/nucloid/kernel/mem/heap"
	"github.com/nucloid-os/nucloid/kernel/mem/pmm"
	"github.com/nucloid-os/nucloid/kernel/mem/vmm"
	"github.com/nucloid-os/nucloid/kernel/serial"
)

// PhysMemSize and LowMemVAEnd are process-wide, set once during boot and
// read-only thereafter; see DATA MODEL's note on global mutable state.
var (
	PhysMemSize mem.Size
	LowMemVAEnd mem.VAddr
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// alignRegionToFrames shrinks a raw BIOS-reported memory-map region to the
// page-aligned subset it fully contains. The builder requires every
// declared range to be frame-aligned; a BIOS region's bounds frequently
// aren't (the canonical EBDA boundary at 0x9FC00 is a standing example), so
// this rounds inward rather than claim memory the region doesn't actually
// cover.
func alignRegionToFrames(base, length uint64) (uint64, uint64) {
	frameSize := uint64(mem.PageSize)
	alignedBase := (base + frameSize - 1) &^ (frameSize - 1)
	shrunkBy := alignedBase - base
	if shrunkBy >= length {
		return alignedBase, 0
	}
	alignedLength := (length - shrunkBy) &^ (frameSize - 1)
	return alignedBase, alignedLength
}

// region is a deep copy of a single Multiboot memory-map entry. Kmain
// copies every entry into a slice of these before calling
// vmm.SetupKernelPaging, which invalidates the bootloader's own memory map.
type region struct {
	base, length uint64
	available    bool
}

// Kmain is the only Go symbol visible to the rt0 initialization code. It is
// invoked after the boot assembly has entered long mode (or PAE protected
// mode), enabled a minimal higher-half mapping reaching the kernel image
// end, and placed the boot stack guard word. The addresses below are the
// linker symbols that assembly caller supplies as plain arguments, per
// kernel/mem/vmm.LinkerSymbols' contract.
//
// Kmain is not expected to return. If it does, the caller halts the CPU.
//
//go:noinline
func Kmain(
	multibootInfoPtr uintptr,
	kernelImageStart, kernelImageEnd uintptr,
	kernelTextStart, kernelTextEnd uintptr,
	kernelRodataStart, kernelRodataEnd uintptr,
	bootStackGuardAddr uintptr,
) {
	// Step 1: enter_critical_region(). Nothing below may be interrupted
	// until the allocators it builds are safe to use from a handler.
	critical.Enter()

	// Step 2: initialize the serial logger.
	serial.Init()
	fault.Init()

	// Step 3: parse the Multiboot block. Its memory map must be deep
	// copied here; SetupKernelPaging invalidates every pointer into it.
	multiboot.SetInfoPtr(multibootInfoPtr)

	var regions []region
	multiboot.VisitMemRegions(func(e *multiboot.MemoryMapEntry) bool {
		regions = append(regions, region{
			base:      e.PhysAddress,
			length:    e.Length,
			available: e.Type == multiboot.MemAvailable,
		})
		return true
	})

	// Step 4: set PHYS_MEM_SIZE and LOWMEM_VA_END from the memory map.
	var physEnd uint64
	for _, r := range regions {
		if end := r.base + r.length; end > physEnd {
			physEnd = end
		}
	}
	PhysMemSize = mem.Size(physEnd)

	lowMemBytes := PhysMemSize
	if uint64(lowMemBytes) > mem.LowMemCapacity {
		lowMemBytes = mem.Size(mem.LowMemCapacity)
	}
	LowMemVAEnd = mem.LowMemBase.Offset(uintptr(lowMemBytes))

	// Step 5: GDT/IDT construction is owned by the arch layer, outside
	// this core's scope; fault.Init above only wires the handlers this
	// package is responsible for into whatever IDT that layer builds.

	// Step 6: setup_kernel_paging(). After this call pointers into the
	// Multiboot memory map are no longer valid; the regions slice copied
	// from it above is the only memory-map data still usable.
	syms := vmm.LinkerSymbols{
		KernelImageStart:   mem.VAddr(kernelImageStart),
		KernelImageEnd:     mem.VAddr(kernelImageEnd),
		KernelTextStart:    mem.VAddr(kernelTextStart),
		KernelTextEnd:      mem.VAddr(kernelTextEnd),
		KernelRodataStart:  mem.VAddr(kernelRodataStart),
		KernelRodataEnd:    mem.VAddr(kernelRodataEnd),
		BootStackGuardAddr: mem.VAddr(bootStackGuardAddr),
	}

	bumpPtr, err := vmm.SetupKernelPaging(syms, PhysMemSize)
	if err != nil {
		kernel.Panic(err)
	}

	// Step 7: construct the frame allocator from the deep-copied memory
	// map. The descriptor array is placed at the bootstrap's bump
	// pointer, which the bootstrap guarantees is already backed by a
	// mapped, zeroed low-memory page.
	builder := pmm.New(bumpPtr, PhysMemSize)
	for _, r := range regions {
		base, length := alignRegionToFrames(r.base, r.length)
		if length == 0 {
			continue
		}

		switch {
		case r.available:
			builder = builder.DeclareUnusedRAM(mem.PAddr(base), mem.Size(length))
		default:
			builder = builder.DeclareReserved(mem.PAddr(base), mem.Size(length))
		}
	}

	// Everything from the kernel image start through the bootstrap's
	// final bump pointer is already in use: the kernel image itself,
	// plus every page-table frame the bootstrap bump-allocated while
	// growing the map.
	if kernelImagePA, ok := mem.VAddr(kernelImageStart).IntoPAddr(); ok {
		builder = builder.DeclareAllocatedRAM(kernelImagePA, mem.Size(bumpPtr-mem.VAddr(kernelImageStart)))
	}

	frameAllocator := builder.Build()
	goruntime.Allocator = frameAllocator

	// Step 8 (32-bit): construct the high-memory allocator. On 32-bit
	// this is just the package-level bitmap in kernel/mem/highmem,
	// already zero-valued and ready; nothing else to build here.

	// The descriptor array itself occupies whole pages starting at
	// bumpPtr (one byte per frame); the Go runtime's own arena must
	// start past it.
	descriptorBytes := mem.Size(PhysMemSize.Pages())
	heapFrontier := bumpPtr.Offset(uintptr(descriptorBytes.Pages()) * uintptr(mem.PageSize))

	heap.Init(frameAllocator)
	goruntime.Init(heapFrontier)

	// The bootstrap's invalidation only covers the memory-map tag we
	// already deep-copied above; the framebuffer tag's physical bytes
	// are untouched, so it's still safe to read here.
	hal.InitTerminal()
	hal.ActiveTerminal.Clear()
	kfmt.SetOutputSink(hal.ActiveTerminal)

	// Step 9: leave_critical_region().
	critical.Leave()

	// Step 10: hand off to higher-level init. There is none yet; use
	// kernel.Panic instead of panic to prevent the compiler from treating
	// it as dead code and eliminating this call along with everything
	// that built it.
	kernel.Panic(errKmainReturned)
}
