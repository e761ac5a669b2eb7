package vmm

import "github.com/nucloid-os/nucloid/kernel/mem"

// Page identifies a 4 KiB block of virtual address space by its index.
type Page uintptr

// Address returns the virtual address at the start of this page.
func (p Page) Address() mem.VAddr {
	return mem.VAddr(uintptr(p) << mem.PageShift)
}

// PageFromAddress returns the Page that contains the supplied virtual
// address, rounding down if the address is not page-aligned.
func PageFromAddress(virtAddr mem.VAddr) Page {
	return Page((uintptr(virtAddr) &^ (uintptr(mem.PageSize) - 1)) >> mem.PageShift)
}
