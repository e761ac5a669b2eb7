package pmm

import (
	"testing"

	"github.com/nucloid-os/nucloid/kernel"
	"github.com/nucloid-os/nucloid/kernel/mem"
)

func freshAllocator(nrFrames uint32) *Allocator {
	return &Allocator{descriptors: make([]State, nrFrames)}
}

func fill(a *Allocator, state State) {
	for i := range a.descriptors {
		a.descriptors[i] = state
	}
}

func TestAllocateContiguousRun(t *testing.T) {
	a := freshAllocator(16)
	fill(a, FreeRAM)

	pa, err := a.Allocate(4, true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}
	if pa.Frame() != 0 {
		t.Fatalf("expected first-fit to start at frame 0; got %d", pa.Frame())
	}
	for f := uint64(0); f < 4; f++ {
		if a.descriptors[f] != AllocatedRAM {
			t.Fatalf("frame %d: expected AllocatedRAM; got %v", f, a.descriptors[f])
		}
	}
	for f := uint64(4); f < 16; f++ {
		if a.descriptors[f] != FreeRAM {
			t.Fatalf("frame %d: expected untouched FreeRAM; got %v", f, a.descriptors[f])
		}
	}
}

func TestAllocateSkipsNonFreeRuns(t *testing.T) {
	a := freshAllocator(16)
	fill(a, FreeRAM)
	a.descriptors[2] = AllocatedRAM

	pa, err := a.Allocate(3, true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}
	if pa.Frame() != 3 {
		t.Fatalf("expected the run to restart at index 3, after the allocated frame at index 2; got %d", pa.Frame())
	}
}

func TestAllocateFailsWhenNoRunFits(t *testing.T) {
	a := freshAllocator(4)
	fill(a, FreeRAM)
	a.descriptors[1] = AllocatedRAM

	_, err := a.Allocate(3, true)
	if err != errOutOfMemory {
		t.Fatalf("expected errOutOfMemory; got %v", err)
	}
}

func TestAllocateHighmemDiscipline(t *testing.T) {
	savedLimit := lowMemLimit
	defer func() { lowMemLimit = savedLimit }()
	lowMemLimit = mem.PAddrFromFrame(8)

	a := freshAllocator(16)
	fill(a, FreeRAM)
	// Allocate frames 0-5 so the first free 4-frame run (frames 6-9)
	// straddles the boundary at frame 8.
	for f := 0; f < 6; f++ {
		a.descriptors[f] = AllocatedRAM
	}

	if _, err := a.Allocate(4, false); err != errHighmemNotAllowed {
		t.Fatalf("expected errHighmemNotAllowed; got %v", err)
	}

	pa, err := a.Allocate(4, true)
	if err != nil {
		t.Fatalf("unexpected error with allowHighmem=true: %s", err.Message)
	}
	if pa.Frame() != 6 {
		t.Fatalf("expected the run at frame 6; got %d", pa.Frame())
	}
}

func TestFreeRestoresFreeRAM(t *testing.T) {
	a := freshAllocator(8)
	fill(a, FreeRAM)
	pa, _ := a.Allocate(4, true)

	a.Free(pa, 4)
	for f := uint64(0); f < 4; f++ {
		if a.descriptors[f] != FreeRAM {
			t.Fatalf("frame %d: expected FreeRAM after Free; got %v", f, a.descriptors[f])
		}
	}
}

func TestFreeRestoresUnclaimedReserved(t *testing.T) {
	a := freshAllocator(4)
	fill(a, UnclaimedReserved)
	pa := mem.PAddrFromFrame(0)

	a.Claim(pa, 4)
	for _, s := range a.descriptors {
		if s != ClaimedReserved {
			t.Fatalf("expected ClaimedReserved after Claim; got %v", s)
		}
	}

	a.Free(pa, 4)
	for _, s := range a.descriptors {
		if s != UnclaimedReserved {
			t.Fatalf("expected UnclaimedReserved after Free; got %v", s)
		}
	}
}

func TestDoubleFreePanics(t *testing.T) {
	a := freshAllocator(4)
	fill(a, FreeRAM)

	var caught *kernel.Error
	savedPanic := panicFn
	defer func() { panicFn = savedPanic }()
	panicFn = func(e interface{}) {
		caught = e.(*kernel.Error)
		panic("test: stop unwinding past the mocked panic")
	}

	defer func() {
		recover()
		if caught != errDoubleFree {
			t.Fatalf("expected errDoubleFree; got %v", caught)
		}
	}()

	a.Free(mem.PAddrFromFrame(0), 1)
}

func TestClaimRejectsNonReservedRange(t *testing.T) {
	a := freshAllocator(4)
	fill(a, FreeRAM)

	var caught *kernel.Error
	savedPanic := panicFn
	defer func() { panicFn = savedPanic }()
	panicFn = func(e interface{}) {
		caught = e.(*kernel.Error)
		panic("test: stop unwinding past the mocked panic")
	}

	defer func() {
		recover()
		if caught != errNotClaimed {
			t.Fatalf("expected errNotClaimed; got %v", caught)
		}
	}()

	a.Claim(mem.PAddrFromFrame(0), 1)
}

func TestRequestZeroMemUsesZeroFn(t *testing.T) {
	a := freshAllocator(4)
	fill(a, FreeRAM)

	var zeroedAddr uintptr
	var zeroedSize mem.Size
	savedZero := zeroFn
	defer func() { zeroFn = savedZero }()
	zeroFn = func(addr uintptr, value byte, size mem.Size) {
		zeroedAddr, zeroedSize = addr, size
	}

	pa, err := a.AllocateFrames().NrFrames(2).ZeroMem().Allocate()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}

	va, _ := pa.IntoVAddr()
	if zeroedAddr != va.Pointer() {
		t.Fatalf("expected zeroFn to be called at %#x; got %#x", va.Pointer(), zeroedAddr)
	}
	if zeroedSize != mem.Size(2)*mem.PageSize {
		t.Fatalf("expected zeroFn to cover 2 pages; got %d bytes", zeroedSize)
	}
}

func TestRequestMapLowmemFailsForHighmemFrame(t *testing.T) {
	savedLimit := lowMemLimit
	defer func() { lowMemLimit = savedLimit }()
	lowMemLimit = mem.PAddrFromFrame(2)

	a := freshAllocator(4)
	fill(a, FreeRAM)
	a.descriptors[0] = AllocatedRAM
	a.descriptors[1] = AllocatedRAM

	_, err := a.AllocateFrames().NrFrames(1).AllowHighmem().MapLowmem()
	if err != errNeedsExplicitMapping {
		t.Fatalf("expected errNeedsExplicitMapping; got %v", err)
	}
	// The rolled-back frame must be free again.
	if a.descriptors[2] != FreeRAM {
		t.Fatal("expected MapLowmem to free the frame it could not map")
	}
}
