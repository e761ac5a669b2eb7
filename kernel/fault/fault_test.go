package fault

import (
	"testing"
	"unsafe"

	"github.com/nucloid-os/nucloid/kernel/driver/video/console"
	"github.com/nucloid-os/nucloid/kernel/hal"
	"github.com/nucloid-os/nucloid/kernel/mem"
	"github.com/nucloid-os/nucloid/kernel/mem/vmm"
)

func TestClassify(t *testing.T) {
	specs := []struct {
		errorCode uint64
		exp       Access
	}{
		{0, AccessRead},
		{errPresent, AccessRead},
		{errWrite, AccessWrite},
		{errPresent | errWrite, AccessWrite},
		{errFetch, AccessExecute},
		{errPresent | errFetch, AccessExecute},
		{errUser | errWrite, AccessWrite},
	}

	for specIndex, spec := range specs {
		if got := classify(spec.errorCode); got != spec.exp {
			t.Errorf("[spec %d] expected access %v; got %v", specIndex, spec.exp, got)
		}
	}
}

func TestReason(t *testing.T) {
	specs := []struct {
		perm   vmm.PagePermissions
		access Access
		exp    string
	}{
		{vmm.PagePermissions{}, AccessRead, "page is not mapped"},
		{vmm.PagePermissions{}, AccessWrite, "page is not mapped"},
		{
			vmm.PagePermissions{Accessible: true, Readable: true, Writable: false, Executable: true},
			AccessWrite,
			"page is read-only",
		},
		{
			vmm.PagePermissions{Accessible: true, Readable: true, Writable: false, Executable: false},
			AccessExecute,
			"page is non-executable",
		},
		{
			vmm.PagePermissions{Accessible: true, Readable: true, Writable: true, Executable: false},
			AccessRead,
			"unknown error",
		},
	}

	for specIndex, spec := range specs {
		if got := reason(spec.perm, spec.access); got != spec.exp {
			t.Errorf("[spec %d] expected reason %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestHandlePageFault(t *testing.T) {
	defer func() {
		readFaultAddressFn = func() uint64 { return 0 }
		panicFn = func(interface{}) {}
		pagePermissionsFn = vmm.PagePermissionsOf
	}()

	// HandlePageFault reports through early.Printf, which writes to
	// hal.ActiveTerminal; give it a console backed by a plain buffer.
	mockConsoleFb := make([]byte, 160*25)
	mockConsole := &console.Ega{}
	mockConsole.Init(80, 25, uintptr(unsafe.Pointer(&mockConsoleFb[0])))
	hal.ActiveTerminal.AttachTo(mockConsole)

	readFaultAddressFn = func() uint64 { return 0xdeadb000 }
	pagePermissionsFn = func(mem.VAddr) vmm.PagePermissions {
		return vmm.PagePermissions{}
	}

	var panicErr interface{}
	panicFn = func(e interface{}) { panicErr = e }

	HandlePageFault(0, &Frame{}, &Regs{})

	if panicErr != errPageFault {
		t.Fatalf("expected panic with errPageFault; got %v", panicErr)
	}
}
