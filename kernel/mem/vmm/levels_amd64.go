//go:build amd64

package vmm

// On amd64 the hardware walks a 4-level tree: PML4, PDPT, PD, PT. Each table
// has 512 entries (9 bits of index); the low 12 bits of a virtual address
// are the in-page byte offset.
const (
	pageLevels = 4

	// flagNoExecute is bit 63 of a PTE; it is only meaningful when the
	// CPU has NX enabled, which the boot assembly is required to do
	// before entering long mode.
	flagNoExecute PageTableEntryFlag = 1 << 63

	// ptePhysAddrMask isolates the physical frame address bits, excluding
	// both the low flag bits and the high NX bit.
	ptePhysAddrMask uint64 = 0x000ffffffffff000
)

var (
	pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}
	pageLevelBits   = [pageLevels]uint8{9, 9, 9, 9}
)
