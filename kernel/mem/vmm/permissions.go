package vmm

import "github.com/nucloid-os/nucloid/kernel/mem"

// PagePermissions describes what a virtual address currently allows.
// Accessible is false for every other field when the address is unmapped.
type PagePermissions struct {
	Accessible bool
	Readable   bool
	Writable   bool
	Executable bool
}

// PagePermissionsOf walks the active page tables and reports what access a
// program is allowed at virtAddr. An absent intermediate entry at any level
// yields the all-false zero value.
func PagePermissionsOf(virtAddr mem.VAddr) PagePermissions {
	var (
		leaf    *pageTableEntry
		present bool
	)

	walk(virtAddr, func(level uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if level == pageLevels-1 || pte.HasFlags(FlagHugePage) {
			leaf = pte
			present = true
			return false
		}

		return true
	})

	if !present || leaf == nil {
		return PagePermissions{}
	}

	return PagePermissions{
		Accessible: true,
		Readable:   true,
		Writable:   leaf.HasFlags(FlagRW),
		Executable: leaf.Executable(),
	}
}
