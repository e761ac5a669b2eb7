// Package fault classifies and dispatches hardware faults. The only fault
// with a recovery path in this kernel is the kernel page fault, and even
// that path never recovers: every classification in this package ends in a
// panic carrying the captured machine state.
package fault

import (
	"github.com/nucloid-os/nucloid/kernel"
	"github.com/nucloid-os/nucloid/kernel/cpu"
	"github.com/nucloid-os/nucloid/kernel/kfmt/early"
	"github.com/nucloid-os/nucloid/kernel/mem"
	"github.com/nucloid-os/nucloid/kernel/mem/vmm"
)

// Page-fault hardware error code bits (Intel SDM, vol 3, section 4.7).
const (
	errPresent  = 1 << 0
	errWrite    = 1 << 1
	errUser     = 1 << 2
	errReserved = 1 << 3
	errFetch    = 1 << 4
)

// Access classifies the kind of memory access that triggered a fault.
type Access uint8

const (
	AccessRead Access = iota
	AccessWrite
	AccessExecute
)

var (
	// readFaultAddressFn and panicFn are mocked by tests and are
	// automatically inlined by the compiler when compiling the kernel.
	readFaultAddressFn = cpu.ReadCR2
	panicFn            = kernel.Panic
	pagePermissionsFn  = vmm.PagePermissionsOf

	errPageFault = &kernel.Error{Module: "fault", Message: "page fault"}
	errGPFault   = &kernel.Error{Module: "fault", Message: "general protection fault"}
)

// classify derives the access kind the CPU was attempting from the raw
// page-fault error code.
func classify(errorCode uint64) Access {
	switch {
	case errorCode&errFetch != 0:
		return AccessExecute
	case errorCode&errWrite != 0:
		return AccessWrite
	default:
		return AccessRead
	}
}

// reason implements the classification table from the page-fault handler's
// contract: given the page's permissions and the access that was attempted,
// it picks the textual explanation to report.
func reason(perm vmm.PagePermissions, access Access) string {
	switch {
	case !perm.Accessible:
		return "page is not mapped"
	case access == AccessWrite && !perm.Writable:
		return "page is read-only"
	case access == AccessExecute && !perm.Executable:
		return "page is non-executable"
	default:
		return "unknown error"
	}
}

// HandlePageFault is installed as the IDT's #PF handler. It never returns: a
// kernel fault is always escalated to a panic once the faulting access has
// been classified and reported.
func HandlePageFault(errorCode uint64, frame *Frame, regs *Regs) {
	var (
		faultAddress = mem.VAddr(readFaultAddressFn())
		access       = classify(errorCode)
		perm         = pagePermissionsFn(faultAddress)
	)

	early.Printf("\npage fault at %16x: %s\n", uintptr(faultAddress), reason(perm, access))
	early.Printf("registers:\n")
	regs.Print()
	frame.Print()

	panicFn(errPageFault)
}

// HandleGeneralProtectionFault is installed as the IDT's #GP handler.
func HandleGeneralProtectionFault(_ uint64, frame *Frame, regs *Regs) {
	early.Printf("\ngeneral protection fault\n")
	early.Printf("registers:\n")
	regs.Print()
	frame.Print()

	panicFn(errGPFault)
}

var (
	// installHandlerFn wires a fault handler into the IDT. It defaults to
	// a no-op because GDT/IDT construction is handled by the arch layer,
	// not by the memory-management core; Init only needs somewhere to
	// record that it was called.
	installHandlerFn = func(vector uint8, handler func(uint64, *Frame, *Regs)) {}
)

// Vector numbers for the exceptions this package dispatches.
const (
	VectorPageFault         uint8 = 14
	VectorGeneralProtection uint8 = 13
)

// Init installs the page-fault and general-protection-fault handlers.
func Init() {
	installHandlerFn(VectorPageFault, HandlePageFault)
	installHandlerFn(VectorGeneralProtection, HandleGeneralProtectionFault)
}
