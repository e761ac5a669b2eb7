// Package vmm implements the kernel's virtual-memory mapping layer: typed
// views over the hardware page tables, the walker that resolves a virtual
// address down to its leaf entry, and the bootstrap that promotes the
// bootloader's minimal mapping into the kernel's full low-memory map.
package vmm

import "github.com/nucloid-os/nucloid/kernel/mem"

// PageTableEntryFlag describes a flag that can be set on a page table entry.
type PageTableEntryFlag uint64

// Flags shared by every paging level this package supports. The physical
// address mask and the no-execute bit are arch-specific and defined
// alongside the per-level shift tables.
const (
	FlagPresent  PageTableEntryFlag = 1 << 0
	FlagRW       PageTableEntryFlag = 1 << 1
	FlagUser     PageTableEntryFlag = 1 << 2
	FlagHugePage PageTableEntryFlag = 1 << 7
)

// pageTableEntry is a single entry at any level of the page-table tree. PAE
// and long-mode entries are always 64 bits wide, even on a 32-bit kernel, so
// this type does not track uintptr's width.
type pageTableEntry uint64

// HasFlags reports whether all of the supplied flags are set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return uint64(pte)&uint64(flags) == uint64(flags)
}

// SetFlags sets the supplied flags on the entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uint64(*pte) | uint64(flags))
}

// ClearFlags clears the supplied flags on the entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uint64(*pte) &^ uint64(flags))
}

// Executable reports whether code may be fetched from the page this entry
// maps. The hardware expresses this as a negated no-execute bit.
func (pte pageTableEntry) Executable() bool {
	return !pte.HasFlags(flagNoExecute)
}

// SetExecutable sets or clears the entry's no-execute bit so that the page
// is (or is not) fetchable.
func (pte *pageTableEntry) SetExecutable(executable bool) {
	if executable {
		pte.ClearFlags(flagNoExecute)
	} else {
		pte.SetFlags(flagNoExecute)
	}
}

// Frame returns the physical frame this entry points to.
func (pte pageTableEntry) Frame() mem.PAddr {
	return mem.PAddr(uint64(pte) & ptePhysAddrMask)
}

// SetFrame updates the entry to point at the supplied physical frame,
// preserving its flag bits.
func (pte *pageTableEntry) SetFrame(frame mem.PAddr) {
	*pte = pageTableEntry((uint64(*pte) &^ ptePhysAddrMask) | uint64(frame))
}
