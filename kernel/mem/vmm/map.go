package vmm

import (
	"github.com/nucloid-os/nucloid/kernel"
	"github.com/nucloid-os/nucloid/kernel/mem"
)

var (
	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}

	// ErrInvalidMapping is returned when an operation targets a virtual
	// address that does not currently resolve to a mapped physical page.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// FrameAllocatorFn supplies a freshly zeroed physical frame to back a new
// intermediate page table. Map calls it only when the walk needs to create a
// table that does not yet exist.
type FrameAllocatorFn func() (mem.PAddr, *kernel.Error)

// Map installs a mapping from page to frame in the currently active page
// tables, creating any missing intermediate tables via allocFn along the
// way. Newly created tables are zero-filled before being linked in.
func Map(page Page, frame mem.PAddr, flags PageTableEntryFlag, allocFn FrameAllocatorFn) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(level uint8, pte *pageTableEntry) bool {
		if level == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			newTableFrame, allocErr := allocFn()
			if allocErr != nil {
				err = allocErr
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)

			if _, ok := newTableFrame.IntoVAddr(); !ok {
				err = ErrInvalidMapping
				return false
			}
			for off := uint64(0); off < uint64(mem.PageSize); off += 8 {
				*ptePtrFn(newTableFrame.Offset(off)) = 0
			}
		}

		return true
	})

	return err
}

// Unmap clears the leaf mapping for page. It is an error to unmap a page
// whose intermediate tables are not present.
func Unmap(page Page) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(level uint8, pte *pageTableEntry) bool {
		if level == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	return err
}
