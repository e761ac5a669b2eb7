package pmm

import (
	"github.com/nucloid-os/nucloid/kernel"
	"github.com/nucloid-os/nucloid/kernel/mem"
	"github.com/nucloid-os/nucloid/kernel/sync"
)

var (
	errOutOfMemory       = &kernel.Error{Module: "pmm", Message: "no contiguous run of free frames satisfies the request"}
	errHighmemNotAllowed = &kernel.Error{Module: "pmm", Message: "candidate run crosses into high memory but the caller disallowed it"}

	// errNeedsExplicitMapping is returned by the facade when a caller
	// asked for zeroing or a low-memory VA but the chosen frame requires
	// an on-demand high-memory mapping the caller must install itself
	// (see kernel/mem/highmem).
	errNeedsExplicitMapping = &kernel.Error{Module: "pmm", Message: "frame lies in high memory and requires an explicit mapping"}

	// lowMemLimit is the first physical address considered high-memory.
	// It defaults to the arch's real low-memory capacity but is a package
	// var, not a constant, so host tests can exercise the 32-bit
	// scenarios from the testable-properties spec regardless of which
	// architecture go test actually runs on.
	lowMemLimit = mem.PAddr(mem.LowMemCapacity)

	// zeroFn performs the actual zero-fill; tests mock it since the
	// low-memory addresses a host test works with are not backed by any
	// real mapped page.
	zeroFn = mem.Memset
)

// Allocator hands out contiguous runs of physical frames. All operations
// are serialized by a single spinlock, matching the "frame allocator is a
// single process-wide resource" resource-model rule.
type Allocator struct {
	lock        sync.Spinlock
	descriptors []State
}

// Allocate scans for a contiguous run of nFrames FreeRAM descriptors,
// first-fit from index 0, and marks them AllocatedRAM. If allowHighmem is
// false, any candidate run that contains a frame at or past lowMemLimit
// fails the whole attempt rather than being skipped.
func (a *Allocator) Allocate(nFrames uint32, allowHighmem bool) (mem.PAddr, *kernel.Error) {
	if nFrames == 0 {
		return 0, errOutOfMemory
	}

	a.lock.Acquire()
	defer a.lock.Release()

	run := uint32(0)
	for i := 0; i < len(a.descriptors); i++ {
		if a.descriptors[i] != FreeRAM {
			run = 0
			continue
		}

		run++
		if run < nFrames {
			continue
		}

		start := uint64(i+1) - uint64(nFrames)
		startPA := mem.PAddrFromFrame(start)
		if !allowHighmem && runCrossesHighmem(startPA, nFrames) {
			return 0, errHighmemNotAllowed
		}

		for f := start; f < start+uint64(nFrames); f++ {
			a.descriptors[f] = AllocatedRAM
		}
		return startPA, nil
	}

	return 0, errOutOfMemory
}

func runCrossesHighmem(startPA mem.PAddr, nFrames uint32) bool {
	endPA := startPA.Offset(uint64(nFrames) * uint64(mem.PageSize))
	return endPA > lowMemLimit
}

// Free transitions AllocatedRAM descriptors back to FreeRAM and
// ClaimedReserved descriptors back to UnclaimedReserved. Freeing a frame
// that is in neither state is a programmer error and panics.
func (a *Allocator) Free(pa mem.PAddr, nFrames uint32) {
	requireAligned(pa, mem.Size(nFrames)*mem.PageSize)

	a.lock.Acquire()
	defer a.lock.Release()

	start := pa.Frame()
	for f := start; f < start+uint64(nFrames); f++ {
		if f >= uint64(len(a.descriptors)) {
			panicFn(errOutOfRange)
			return
		}
		switch a.descriptors[f] {
		case AllocatedRAM:
			a.descriptors[f] = FreeRAM
		case ClaimedReserved:
			a.descriptors[f] = UnclaimedReserved
		default:
			panicFn(errDoubleFree)
			return
		}
	}
}

// Claim transitions UnclaimedReserved descriptors to ClaimedReserved,
// giving a driver ownership of a firmware-reserved region. Claiming a
// region that is not entirely UnclaimedReserved panics.
func (a *Allocator) Claim(pa mem.PAddr, nFrames uint32) {
	requireAligned(pa, mem.Size(nFrames)*mem.PageSize)

	a.lock.Acquire()
	defer a.lock.Release()

	start := pa.Frame()
	for f := start; f < start+uint64(nFrames); f++ {
		if f >= uint64(len(a.descriptors)) || a.descriptors[f] != UnclaimedReserved {
			panicFn(errNotClaimed)
			return
		}
	}
	for f := start; f < start+uint64(nFrames); f++ {
		a.descriptors[f] = ClaimedReserved
	}
}

// Request is the builder-style facade over Allocate: AllocateFrames().
// NrFrames(n).ZeroMem().AllowHighmem().Allocate() or .MapLowmem().
type Request struct {
	alloc        *Allocator
	nrFrames     uint32
	zeroMem      bool
	allowHighmem bool
}

// AllocateFrames starts a new allocation request against this allocator.
func (a *Allocator) AllocateFrames() *Request {
	return &Request{alloc: a, nrFrames: 1}
}

// NrFrames sets how many contiguous frames the request needs.
func (r *Request) NrFrames(n uint32) *Request {
	r.nrFrames = n
	return r
}

// ZeroMem requests that the allocation be zero-filled before being handed
// back. Zeroing requires a low-memory virtual address: if the chosen run
// starts in high memory, Allocate frees it again and returns an error.
func (r *Request) ZeroMem() *Request {
	r.zeroMem = true
	return r
}

// AllowHighmem permits the request to be satisfied by high-memory frames.
func (r *Request) AllowHighmem() *Request {
	r.allowHighmem = true
	return r
}

// Allocate satisfies the request and returns the physical address of the
// first frame in the run.
func (r *Request) Allocate() (mem.PAddr, *kernel.Error) {
	pa, err := r.alloc.Allocate(r.nrFrames, r.allowHighmem)
	if err != nil {
		return 0, err
	}

	if r.zeroMem {
		if zerr := r.zero(pa); zerr != nil {
			r.alloc.Free(pa, r.nrFrames)
			return 0, zerr
		}
	}

	return pa, nil
}

// MapLowmem satisfies the request and returns the low-memory virtual
// address aliasing it. It fails if the chosen frame is high-memory.
func (r *Request) MapLowmem() (mem.VAddr, *kernel.Error) {
	pa, err := r.Allocate()
	if err != nil {
		return 0, err
	}

	va, ok := pa.IntoVAddr()
	if !ok || pa >= lowMemLimit {
		r.alloc.Free(pa, r.nrFrames)
		return 0, errNeedsExplicitMapping
	}
	return va, nil
}

func (r *Request) zero(pa mem.PAddr) *kernel.Error {
	va, ok := pa.IntoVAddr()
	if !ok || pa >= lowMemLimit {
		return errNeedsExplicitMapping
	}
	zeroFn(va.Pointer(), 0, mem.Size(r.nrFrames)*mem.PageSize)
	return nil
}
