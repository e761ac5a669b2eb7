package vmm

import (
	"testing"

	"github.com/nucloid-os/nucloid/kernel/mem"
)

func TestSetupKernelPagingMapsLowMemory(t *testing.T) {
	withFakeMem(t, func(fm *fakePhysMem) {
		var flushed int
		savedFlush := flushFullTLBFn
		defer func() { flushFullTLBFn = savedFlush }()
		flushFullTLBFn = func(mem.PAddr) { flushed++ }

		syms := LinkerSymbols{
			KernelImageEnd: mem.LowMemBase.Offset(0x400000),
		}

		physMemSize := mem.Size(2 * mem.PageSize)
		bumpPtr, err := SetupKernelPaging(syms, physMemSize)
		if err != nil {
			t.Fatalf("unexpected error: %s", err.Message)
		}
		if bumpPtr <= syms.KernelImageEnd {
			t.Fatalf("expected the bump pointer to advance past %#x; got %#x", syms.KernelImageEnd, bumpPtr)
		}
		if flushed != 1 {
			t.Fatalf("expected exactly one full TLB flush; got %d", flushed)
		}

		for frame := uint32(0); frame < physMemSize.Pages(); frame++ {
			pa := mem.PAddrFromFrame(uint64(frame))
			va, _ := pa.IntoVAddr()
			perms := PagePermissionsOf(va)
			if !perms.Accessible {
				t.Fatalf("expected frame %d (va %#x) to be mapped", frame, va)
			}
		}
	})
}

func TestSetupKernelPagingRejectsBumpPointerOutsideLowMem(t *testing.T) {
	withFakeMem(t, func(fm *fakePhysMem) {
		syms := LinkerSymbols{KernelImageEnd: mem.VAddr(0)}

		_, err := SetupKernelPaging(syms, mem.Size(mem.PageSize))
		if err != errBootstrapRange {
			t.Fatalf("expected errBootstrapRange; got %v", err)
		}
	})
}

func TestSetupKernelPagingRejectsCorruptGuard(t *testing.T) {
	withFakeMem(t, func(fm *fakePhysMem) {
		savedGuard := readGuardWordFn
		defer func() { readGuardWordFn = savedGuard }()
		readGuardWordFn = func(mem.VAddr) uint32 { return 0 }

		syms := LinkerSymbols{
			KernelImageEnd:     mem.LowMemBase.Offset(0x400000),
			BootStackGuardAddr: mem.LowMemBase,
		}

		_, err := SetupKernelPaging(syms, mem.Size(mem.PageSize))
		if err != errGuardCorrupted {
			t.Fatalf("expected errGuardCorrupted; got %v", err)
		}
	})
}

func TestSetupKernelPagingUnmapsValidGuard(t *testing.T) {
	withFakeMem(t, func(fm *fakePhysMem) {
		savedGuard := readGuardWordFn
		defer func() { readGuardWordFn = savedGuard }()
		readGuardWordFn = func(mem.VAddr) uint32 { return GuardMagic }

		guardVA := mem.LowMemBase
		syms := LinkerSymbols{
			KernelImageEnd:     mem.LowMemBase.Offset(0x400000),
			BootStackGuardAddr: guardVA,
		}

		_, err := SetupKernelPaging(syms, mem.Size(mem.PageSize))
		if err != nil {
			t.Fatalf("unexpected error: %s", err.Message)
		}

		perms := PagePermissionsOf(guardVA)
		if perms.Accessible {
			t.Fatal("expected the guard page to be unmapped")
		}
	})
}

func TestPermissionsForRange(t *testing.T) {
	syms := LinkerSymbols{
		KernelTextStart:   mem.LowMemBase.Offset(0x1000),
		KernelTextEnd:     mem.LowMemBase.Offset(0x2000),
		KernelRodataStart: mem.LowMemBase.Offset(0x2000),
		KernelRodataEnd:   mem.LowMemBase.Offset(0x3000),
	}

	if got := permissionsForRange(syms.KernelTextStart, syms); got != 0 {
		t.Fatalf("expected text range to carry no extra flags (R-X); got %#x", got)
	}
	if got := permissionsForRange(syms.KernelRodataStart, syms); got != FlagNoExecute {
		t.Fatalf("expected rodata range to be R--; got %#x", got)
	}
	if got := permissionsForRange(mem.LowMemBase.Offset(0x5000), syms); got != FlagRW|FlagNoExecute {
		t.Fatalf("expected everything else to be RW-; got %#x", got)
	}
}
