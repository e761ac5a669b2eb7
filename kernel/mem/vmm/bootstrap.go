package vmm

import (
	"unsafe"

	"github.com/nucloid-os/nucloid/kernel"
	"github.com/nucloid-os/nucloid/kernel/cpu"
	"github.com/nucloid-os/nucloid/kernel/mem"
)

// FlagNoExecute marks a page as unfetchable. Exported so callers of Map can
// request R-- or RW- mappings instead of the default R-X.
const FlagNoExecute = flagNoExecute

// GuardMagic is the literal value the boot stack guard page must contain
// before the bootstrap will trust it enough to unmap it.
const GuardMagic = 0xDEADBEEF

// LinkerSymbols carries the addresses SetupKernelPaging needs from the
// kernel image; the boot assembly that enters the kernel is responsible for
// supplying them as bare addresses, never as readable bytes, since the
// bootstrap invalidates the bootloader's own view of memory before it runs.
type LinkerSymbols struct {
	KernelImageStart, KernelImageEnd   mem.VAddr
	KernelTextStart, KernelTextEnd     mem.VAddr
	KernelRodataStart, KernelRodataEnd mem.VAddr
	BootStackGuardAddr                 mem.VAddr
}

var (
	errBootstrapRange = &kernel.Error{Module: "vmm", Message: "bootstrap bump pointer ran outside the low-memory window"}
	errGuardCorrupted = &kernel.Error{Module: "vmm", Message: "boot stack guard page does not contain the expected magic value"}

	// flushFullTLBFn is mocked by tests. It calls cpu.SwitchPDT, which
	// reloads CR3 with its current value purely to force a full TLB
	// invalidation.
	flushFullTLBFn = func(rootPAddr mem.PAddr) {
		cpu.SwitchPDT(uintptr(rootPAddr))
	}

	// readGuardWordFn is mocked by tests so the magic-value check can run
	// without a mapped guard page.
	readGuardWordFn = func(va mem.VAddr) uint32 {
		return *(*uint32)(unsafe.Pointer(va.Pointer()))
	}
)

// permissionsForRange returns the Map flags that apply to va given the
// kernel's text/rodata bounds: text is R-X, rodata is R--, everything else
// low-memory is RW-.
func permissionsForRange(va mem.VAddr, syms LinkerSymbols) PageTableEntryFlag {
	switch {
	case va >= syms.KernelTextStart && va < syms.KernelTextEnd:
		return 0
	case va >= syms.KernelRodataStart && va < syms.KernelRodataEnd:
		return FlagNoExecute
	default:
		return FlagRW | FlagNoExecute
	}
}

// SetupKernelPaging grows the bootloader's minimal mapping into the full
// low-memory map, covering min(physMemSize, mem.LowMemCapacity) bytes of
// physical RAM with the permissions required by the kernel image, then
// clears the boot stack guard page and flushes the TLB. It is its own
// allocator: new page-table frames are bump-allocated from the end of the
// kernel image. The returned address is the final bump pointer, the
// frontier the frame allocator builder should treat as already in use.
//
// Precondition: runs exactly once, with interrupts off, before any other
// memory-touching code. Every pointer into the bootloader's memory map is
// invalid once this returns.
func SetupKernelPaging(syms LinkerSymbols, physMemSize mem.Size) (mem.VAddr, *kernel.Error) {
	bumpPtr := syms.KernelImageEnd
	if !bumpPtr.Valid() {
		bumpPtr = mem.VAddr((uintptr(bumpPtr) + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1))
	}

	allocFn := func() (mem.PAddr, *kernel.Error) {
		frameVA := bumpPtr
		bumpPtr = bumpPtr.Offset(uintptr(mem.PageSize))

		pa, ok := frameVA.IntoPAddr()
		if !ok {
			return 0, errBootstrapRange
		}
		return pa, nil
	}

	lowMemBytes := physMemSize
	if uint64(lowMemBytes) > mem.LowMemCapacity {
		lowMemBytes = mem.Size(mem.LowMemCapacity)
	}

	for frame := uint32(0); frame < lowMemBytes.Pages(); frame++ {
		pa := mem.PAddrFromFrame(uint64(frame))
		va, ok := pa.IntoVAddr()
		if !ok {
			return 0, errBootstrapRange
		}

		flags := permissionsForRange(va, syms)
		if err := Map(PageFromAddress(va), pa, flags, allocFn); err != nil {
			return 0, err
		}
	}

	if syms.BootStackGuardAddr != 0 {
		if readGuardWordFn(syms.BootStackGuardAddr) != GuardMagic {
			return 0, errGuardCorrupted
		}
		if err := Unmap(PageFromAddress(syms.BootStackGuardAddr)); err != nil {
			return 0, err
		}
	}

	flushFullTLBFn(activePDTFn())

	return bumpPtr, nil
}
