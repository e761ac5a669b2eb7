//go:build 386

package highmem

import "github.com/nucloid-os/nucloid/kernel/mem"

func init() {
	releaseFn = func(va mem.VAddr, pageCount uint32) {
		page := va
		for i := uint32(0); i < pageCount; i, page = i+1, page.Offset(uintptr(mem.PageSize)) {
			UnmapHighmemVAddr(page)
		}
		Free(va, pageCount)
	}
}
