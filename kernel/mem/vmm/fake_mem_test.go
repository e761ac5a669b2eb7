package vmm

import (
	"github.com/nucloid-os/nucloid/kernel"
	"github.com/nucloid-os/nucloid/kernel/mem"
)

// fakePhysMem backs ptePtrFn during tests. Real hardware backs every page
// table physical address with the identity-mapped low-memory alias; a test
// has no such window, so this stands in for it: any physical address handed
// to it gets a stable pageTableEntry the first time it is touched and the
// same one on every later touch, which is all the walker requires of real
// memory.
type fakePhysMem struct {
	entries map[mem.PAddr]*pageTableEntry
	nextPA  mem.PAddr
}

func newFakePhysMem() *fakePhysMem {
	return &fakePhysMem{
		entries: make(map[mem.PAddr]*pageTableEntry),
		nextPA:  mem.PAddr(0x1000),
	}
}

func (f *fakePhysMem) ptePtr(entryPAddr mem.PAddr) *pageTableEntry {
	if pte, ok := f.entries[entryPAddr]; ok {
		return pte
	}
	pte := new(pageTableEntry)
	f.entries[entryPAddr] = pte
	return pte
}

// allocTable hands out a fresh page-aligned physical address for use as an
// intermediate table frame, distinct from any address already in use.
func (f *fakePhysMem) allocTable() mem.PAddr {
	pa := f.nextPA
	f.nextPA += mem.PAddr(mem.PageSize)
	return pa
}

func (f *fakePhysMem) allocFrame() (mem.PAddr, *kernel.Error) {
	return f.allocTable(), nil
}
