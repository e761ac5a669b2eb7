//go:build 386

// Package highmem implements the 32-bit high-memory virtual-address
// allocator: a bitmap over the fixed-size high-memory window plus the
// mapping primitive and scoped guard that sit on top of it. None of this
// exists on amd64, where the low-memory identity map already covers every
// physical address.
package highmem

import (
	"github.com/nucloid-os/nucloid/kernel"
	"github.com/nucloid-os/nucloid/kernel/mem"
	"github.com/nucloid-os/nucloid/kernel/sync"
)

const (
	totalPages  = uint32(mem.HighMemCapacity / uint64(mem.PageSize))
	bitmapWords = (totalPages + 63) / 64
)

var (
	errOutOfMemory = &kernel.Error{Module: "highmem", Message: "no contiguous run of free virtual pages satisfies the request"}
	errDoubleFree  = &kernel.Error{Module: "highmem", Message: "virtual page is not currently allocated"}
	errOutOfRange  = &kernel.Error{Module: "highmem", Message: "virtual page range crosses the high-memory window boundary"}

	// panicFn is mocked by tests so the double-free/out-of-range paths can
	// be observed without halting the test binary.
	panicFn = kernel.Panic

	lock   sync.Spinlock
	bitmap [bitmapWords]uint64
)

// bitmapWordAndMask returns the word index and bit mask for page, using the
// same big-endian-within-word convention as the teacher's frame bitmap: bit
// (63 - page%64) of word page/64.
func bitmapWordAndMask(page uint32) (uint32, uint64) {
	word := page >> 6
	mask := uint64(1) << (63 - (page & 63))
	return word, mask
}

func pageFree(page uint32) bool {
	word, mask := bitmapWordAndMask(page)
	return bitmap[word]&mask == 0
}

func setPage(page uint32, used bool) {
	word, mask := bitmapWordAndMask(page)
	if used {
		bitmap[word] |= mask
	} else {
		bitmap[word] &^= mask
	}
}

// Allocate reserves the first contiguous run of nPages free virtual pages
// in the high-memory window and returns its base address. No paging is
// performed; callers are responsible for installing the PTEs via
// MapHighmemVAddr.
func Allocate(nPages uint32) (mem.VAddr, *kernel.Error) {
	if nPages == 0 || nPages > totalPages {
		return 0, errOutOfMemory
	}

	lock.Acquire()
	defer lock.Release()

	run := uint32(0)
	for page := uint32(0); page < totalPages; page++ {
		if !pageFree(page) {
			run = 0
			continue
		}

		run++
		if run < nPages {
			continue
		}

		start := page + 1 - nPages
		for p := start; p < start+nPages; p++ {
			setPage(p, true)
		}
		return mem.HighMemBase.Offset(uintptr(start) * uintptr(mem.PageSize)), nil
	}

	return 0, errOutOfMemory
}

// Free clears the bitmap bits owned by the nPages virtual pages starting at
// va. Freeing any page that was not allocated, or a range that straddles
// the window boundary, is a programmer error and panics.
func Free(va mem.VAddr, nPages uint32) {
	if va < mem.HighMemBase {
		panicFn(errOutOfRange)
		return
	}

	lock.Acquire()
	defer lock.Release()

	start := uint32(uintptr(va-mem.HighMemBase) / uintptr(mem.PageSize))
	if uint64(start)+uint64(nPages) > uint64(totalPages) {
		panicFn(errOutOfRange)
		return
	}

	for p := start; p < start+nPages; p++ {
		if pageFree(p) {
			panicFn(errDoubleFree)
			return
		}
	}
	for p := start; p < start+nPages; p++ {
		setPage(p, false)
	}
}
