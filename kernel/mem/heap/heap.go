// Package heap implements the kernel's general-purpose allocator: a
// free-list allocator with boundary-tag headers interleaved with user
// memory, backed by whole pages pulled from the physical frame allocator on
// demand.
package heap

import (
	"unsafe"

	"github.com/nucloid-os/nucloid/kernel"
	"github.com/nucloid-os/nucloid/kernel/mem"
	"github.com/nucloid-os/nucloid/kernel/mem/pmm"
	"github.com/nucloid-os/nucloid/kernel/sync"
)

const (
	blockMagic = uint32(0xB10CC0DE)

	// blockAlign is the strongest alignment Alloc guarantees; callers
	// asking for more fail outright.
	blockAlign = uintptr(16)

	// growPages is the minimum number of frames pulled from the frame
	// allocator each time the heap needs a new arena.
	growPages = uint32(1)
)

type blockFlags uint8

const (
	flagAllocated blockFlags = 1 << iota
)

// blockHeader sits at the start of every block, allocated or free. prev and
// next thread every block of a single arena in address order; a block's end
// address always equals its next's header address. nextFree threads only
// the free blocks, address-ordered across every arena, independent of prev
// and next.
type blockHeader struct {
	prev, next *blockHeader
	nextFree   *blockHeader
	usableSize uintptr
	flags      blockFlags
	magic      uint32
}

var (
	headerSize = unsafe.Sizeof(blockHeader{})
	dataOffset = alignUp(headerSize, blockAlign)
)

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

func (b *blockHeader) dataPtr() unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(b)) + dataOffset)
}

func blockFromData(ptr unsafe.Pointer) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(uintptr(ptr) - dataOffset))
}

func (b *blockHeader) allocated() bool {
	return b.flags&flagAllocated != 0
}

func (b *blockHeader) checkMagic() {
	if b.magic != blockMagic {
		panicFn(errCorrupt)
	}
}

var (
	errOutOfMemory = &kernel.Error{Module: "heap", Message: "frame allocator could not satisfy a heap growth request"}
	errDoubleFree  = &kernel.Error{Module: "heap", Message: "pointer does not reference a currently allocated heap block"}
	errCorrupt     = &kernel.Error{Module: "heap", Message: "block header magic is invalid"}
	errAlignment   = &kernel.Error{Module: "heap", Message: "requested alignment exceeds what the heap supports"}

	// panicFn is mocked by tests so the corruption/double-free paths can
	// be observed without halting the test binary.
	panicFn = kernel.Panic
)

// Heap is a process-wide general-purpose allocator. All operations are
// serialized by a single spinlock, matching the "heap allocator is single
// process-wide" resource-model rule.
type Heap struct {
	lock sync.Spinlock
	free *blockHeader

	// frameAllocFn pulls nFrames zeroed, low-memory-mapped frames from
	// the physical allocator and returns the virtual address of the
	// first one. Tests mock it with a host-backed buffer.
	frameAllocFn func(nFrames uint32) (mem.VAddr, *kernel.Error)
}

// global is the process-wide heap installed by Init.
var global *Heap

// Init builds the process-wide heap on top of alloc and installs it as the
// target of Alloc, Dealloc and Realloc.
func Init(alloc *pmm.Allocator) {
	global = New(alloc)
}

// New builds a Heap with no arenas yet; its first Alloc call grows it.
func New(alloc *pmm.Allocator) *Heap {
	return &Heap{
		frameAllocFn: func(n uint32) (mem.VAddr, *kernel.Error) {
			return alloc.AllocateFrames().NrFrames(n).ZeroMem().MapLowmem()
		},
	}
}

// Alloc allocates from the process-wide heap installed by Init.
func Alloc(size, align uintptr) unsafe.Pointer { return global.Alloc(size, align) }

// Dealloc frees a pointer previously returned by Alloc from the
// process-wide heap.
func Dealloc(ptr unsafe.Pointer) { global.Dealloc(ptr) }

// Realloc resizes a pointer previously returned by Alloc from the
// process-wide heap.
func Realloc(ptr unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	return global.Realloc(ptr, newSize)
}

// MustAlloc behaves like Alloc but panics instead of returning nil. Callers
// at the allocation boundary that have no fallback for a failed allocation
// use this instead of checking Alloc's result themselves.
func MustAlloc(size, align uintptr) unsafe.Pointer {
	ptr := Alloc(size, align)
	if ptr == nil {
		panicFn(errOutOfMemory)
	}
	return ptr
}

// Alloc returns a pointer to at least size bytes aligned to align, or nil
// if the request cannot be satisfied even after growing the heap. align
// must be a power of two no greater than blockAlign.
func (h *Heap) Alloc(size, align uintptr) unsafe.Pointer {
	if align == 0 || align&(align-1) != 0 || align > blockAlign {
		panicFn(errAlignment)
		return nil
	}

	need := alignUp(size, blockAlign)
	if need == 0 {
		need = blockAlign
	}

	h.lock.Acquire()
	defer h.lock.Release()

	b := h.findFit(need)
	if b == nil {
		if !h.grow(need) {
			return nil
		}
		b = h.findFit(need)
		if b == nil {
			return nil
		}
	}

	h.unlinkFree(b)
	b.flags |= flagAllocated
	h.trimTo(b, need)

	return b.dataPtr()
}

// Dealloc returns a block to the free list, coalescing it with any
// immediately adjacent free neighbor in the same arena. Deallocating a
// pointer that is not currently allocated, or whose header magic has been
// corrupted, panics.
func (h *Heap) Dealloc(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	b := blockFromData(ptr)
	b.checkMagic()

	h.lock.Acquire()
	defer h.lock.Release()

	if !b.allocated() {
		panicFn(errDoubleFree)
		return
	}

	b.flags &^= flagAllocated
	h.insertFree(b)
	h.coalesce(b)
}

// Realloc resizes the block backing ptr, growing in place into an adjacent
// free block when possible and falling back to allocate-copy-free
// otherwise. A nil ptr behaves like Alloc; a nil return means the request
// could not be satisfied and ptr is left untouched.
func (h *Heap) Realloc(ptr unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	if ptr == nil {
		return h.Alloc(newSize, blockAlign)
	}

	b := blockFromData(ptr)
	b.checkMagic()

	need := alignUp(newSize, blockAlign)

	h.lock.Acquire()

	if need <= b.usableSize {
		h.trimTo(b, need)
		h.lock.Release()
		return ptr
	}

	if next := b.next; next != nil && !next.allocated() && b.usableSize+dataOffset+next.usableSize >= need {
		h.mergeNext(b)
		h.trimTo(b, need)
		h.lock.Release()
		return ptr
	}

	oldSize := b.usableSize
	h.lock.Release()

	newPtr := h.Alloc(newSize, blockAlign)
	if newPtr == nil {
		return nil
	}

	copySize := oldSize
	if newSize < copySize {
		copySize = newSize
	}
	mem.Memcopy(uintptr(newPtr), uintptr(ptr), mem.Size(copySize))

	h.Dealloc(ptr)
	return newPtr
}

// findFit returns the first free block (address order) whose usableSize is
// at least need, or nil if none qualifies.
func (h *Heap) findFit(need uintptr) *blockHeader {
	for b := h.free; b != nil; b = b.nextFree {
		if b.usableSize >= need {
			return b
		}
	}
	return nil
}

// insertFree splices b into the address-ordered free list.
func (h *Heap) insertFree(b *blockHeader) {
	if h.free == nil || uintptr(unsafe.Pointer(b)) < uintptr(unsafe.Pointer(h.free)) {
		b.nextFree = h.free
		h.free = b
		return
	}

	p := h.free
	for p.nextFree != nil && uintptr(unsafe.Pointer(p.nextFree)) < uintptr(unsafe.Pointer(b)) {
		p = p.nextFree
	}
	b.nextFree = p.nextFree
	p.nextFree = b
}

// unlinkFree removes b from the free list. b must currently be in it.
func (h *Heap) unlinkFree(b *blockHeader) {
	if h.free == b {
		h.free = b.nextFree
		b.nextFree = nil
		return
	}
	for p := h.free; p != nil; p = p.nextFree {
		if p.nextFree == b {
			p.nextFree = b.nextFree
			b.nextFree = nil
			return
		}
	}
}

// coalesce merges b with an adjacent free block on either side within the
// same arena.
func (h *Heap) coalesce(b *blockHeader) {
	if next := b.next; next != nil && !next.allocated() {
		h.mergeNext(b)
	}
	if prev := b.prev; prev != nil && !prev.allocated() {
		h.mergeNext(prev)
	}
}

// mergeNext absorbs x.next into x, retiring x.next's header.
func (h *Heap) mergeNext(x *blockHeader) {
	absorbed := x.next
	h.unlinkFree(absorbed)

	x.usableSize += dataOffset + absorbed.usableSize
	x.next = absorbed.next
	if x.next != nil {
		x.next.prev = x
	}
	absorbed.magic = 0
}

// trimTo shrinks b to exactly need usable bytes, splitting the remainder
// off as a new free block when it is large enough to host its own header
// plus a minimal payload. b may be allocated or free; the caller is
// responsible for b's own free-list membership.
func (h *Heap) trimTo(b *blockHeader, need uintptr) {
	if b.usableSize <= need {
		return
	}

	remainder := b.usableSize - need
	if remainder < dataOffset+blockAlign {
		return
	}

	newAddr := uintptr(unsafe.Pointer(b)) + dataOffset + need
	nb := (*blockHeader)(unsafe.Pointer(newAddr))
	nb.magic = blockMagic
	nb.flags = 0
	nb.usableSize = remainder - dataOffset
	nb.prev = b
	nb.next = b.next
	if nb.next != nil {
		nb.next.prev = nb
	}
	b.next = nb
	b.usableSize = need

	h.insertFree(nb)
	h.coalesce(nb)
}

// grow pulls enough fresh frames to satisfy a request for need usable
// bytes, installs them as a new, standalone arena, and adds it to the free
// list.
func (h *Heap) grow(need uintptr) bool {
	total := dataOffset + need
	nFrames := mem.Size(total).Pages()
	if nFrames < growPages {
		nFrames = growPages
	}

	va, err := h.frameAllocFn(nFrames)
	if err != nil {
		return false
	}

	b := (*blockHeader)(unsafe.Pointer(va.Pointer()))
	b.prev = nil
	b.next = nil
	b.nextFree = nil
	b.flags = 0
	b.magic = blockMagic
	b.usableSize = uintptr(mem.Size(nFrames)*mem.PageSize) - dataOffset

	h.insertFree(b)
	return true
}
