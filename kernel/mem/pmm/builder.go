package pmm

import (
	"reflect"
	"unsafe"

	"github.com/nucloid-os/nucloid/kernel/mem"
)

// Builder sequences the frame allocator's construction: the descriptor
// array needs somewhere to live before any dynamic allocator exists, so the
// caller supplies a VA (typically the paging bootstrap's bump pointer) and
// paints ranges onto it before Build returns the live Allocator.
type Builder struct {
	descriptors    []State
	descriptorsHdr reflect.SliceHeader
	arrayVA        mem.VAddr
	physBytes      mem.Size
}

// New claims ceil(physBytes/PAGE_SIZE) frame descriptors at arrayVA. Every
// descriptor starts Unusable; declare_* calls paint the real state over
// this blank canvas.
func New(arrayVA mem.VAddr, physBytes mem.Size) *Builder {
	nrFrames := physBytes.Pages()

	b := &Builder{arrayVA: arrayVA, physBytes: physBytes}
	b.descriptorsHdr = reflect.SliceHeader{
		Data: arrayVA.Pointer(),
		Len:  int(nrFrames),
		Cap:  int(nrFrames),
	}
	b.descriptors = *(*[]State)(unsafe.Pointer(&b.descriptorsHdr))

	mem.Memset(arrayVA.Pointer(), byte(Unusable), mem.Size(nrFrames)*mem.Size(unsafe.Sizeof(State(0))))

	return b
}

func (b *Builder) paint(pa mem.PAddr, length mem.Size, state State) *Builder {
	requireAligned(pa, length)

	start := pa.Frame()
	count := uint64(framesIn(length))
	for i := uint64(0); i < count; i++ {
		frame := start + i
		if frame >= uint64(len(b.descriptors)) {
			panicFn(errOutOfRange)
			return b
		}
		b.descriptors[frame] = state
	}
	return b
}

// DeclareUnusedRAM paints [pa, pa+length) as FreeRAM.
func (b *Builder) DeclareUnusedRAM(pa mem.PAddr, length mem.Size) *Builder {
	return b.paint(pa, length, FreeRAM)
}

// DeclareReserved paints [pa, pa+length) as UnclaimedReserved.
func (b *Builder) DeclareReserved(pa mem.PAddr, length mem.Size) *Builder {
	return b.paint(pa, length, UnclaimedReserved)
}

// DeclareUnusable paints [pa, pa+length) as Unusable. Ranges never
// explicitly declared are already Unusable from New, so this is only
// needed to carve a hole out of a range declared earlier.
func (b *Builder) DeclareUnusable(pa mem.PAddr, length mem.Size) *Builder {
	return b.paint(pa, length, Unusable)
}

// DeclareAllocatedRAM paints [pa, pa+length) as AllocatedRAM: memory that
// is usable RAM but already spoken for (the kernel image, the bump-allocated
// page tables, the descriptor array's own eventual backing frames).
func (b *Builder) DeclareAllocatedRAM(pa mem.PAddr, length mem.Size) *Builder {
	return b.paint(pa, length, AllocatedRAM)
}

// Build paints the descriptor array's own backing frames as AllocatedRAM
// and returns the live allocator.
func (b *Builder) Build() *Allocator {
	descriptorBytes := mem.Size(len(b.descriptors)) * mem.Size(unsafe.Sizeof(State(0)))
	if arrayPA, ok := b.arrayVA.IntoPAddr(); ok {
		b.paint(arrayPA, mem.Size(descriptorBytes.Pages())*mem.PageSize, AllocatedRAM)
	}

	return &Allocator{descriptors: b.descriptors}
}
