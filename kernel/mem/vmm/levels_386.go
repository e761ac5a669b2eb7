//go:build 386

package vmm

// On 32-bit the kernel requires PAE so that mem.PAddr's 64-bit physical
// addresses stay meaningful: a 3-level tree of PDPT (4 entries), PD (512
// entries) and PT (512 entries).
const (
	pageLevels = 3

	flagNoExecute PageTableEntryFlag = 1 << 63

	ptePhysAddrMask uint64 = 0x000ffffffffff000
)

var (
	pageLevelShifts = [pageLevels]uint8{30, 21, 12}
	pageLevelBits   = [pageLevels]uint8{2, 9, 9}
)
