// Package backtrace is the seam between the panic path and the DWARF
// .eh_frame unwinder. The unwinder itself walks call-frame information that
// the linker emits and is out of scope here; this package only defines the
// shape the panic path expects so it can be plugged in later without
// touching kernel.Panic.
package backtrace

// PrintFn is called by the panic path to print a backtrace of the faulting
// call stack. It defaults to a no-op; the arch layer installs a real
// unwinder over the kernel's .eh_frame section once one exists.
var PrintFn = func() {}
