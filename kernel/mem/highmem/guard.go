package highmem

import "github.com/nucloid-os/nucloid/kernel/mem"

// Guard owns a virtual address returned by some physical-to-virtual mapping
// operation. Callers hold a Guard for as long as they use the mapping and
// call Release when done; what Release actually does depends on how the
// address was produced:
//
//   - a low-memory address is already permanently mapped by the identity
//     map, so releasing it is a no-op;
//   - a high-memory address was carved out of the bitmap and backed by
//     freshly installed PTEs, so releasing it unmaps those PTEs and returns
//     the pages to the bitmap.
//
// This lets callers treat "give me a
// window onto this physical range" uniformly regardless of which arch or
// code path produced it.
type Guard struct {
	va        mem.VAddr
	pageCount uint32
	isHighmem bool
}

// NewLowmemGuard wraps a virtual address that needs no release step.
func NewLowmemGuard(va mem.VAddr) Guard {
	return Guard{va: va}
}

// NewHighmemGuard wraps a virtual address carved out of the high-memory
// window. Release unmaps all pageCount pages and frees their bitmap bits.
func NewHighmemGuard(va mem.VAddr, pageCount uint32) Guard {
	return Guard{va: va, pageCount: pageCount, isHighmem: true}
}

// Addr returns the virtual address the guard owns.
func (g Guard) Addr() mem.VAddr {
	return g.va
}

// Release tears down the mapping backing the guard, if any.
func (g Guard) Release() {
	if !g.isHighmem {
		return
	}
	releaseFn(g.va, g.pageCount)
}

// releaseFn performs the actual unmap-and-free for a highmem guard. On amd64
// nothing ever constructs a highmem guard, so this stays the no-op zero
// value; the 386 build overrides it in an init().
var releaseFn = func(mem.VAddr, uint32) {}
