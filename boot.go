package main

import "github.com/nucloid-os/nucloid/kernel/kmain"

// The rt0 assembly passes each of these as a plain argument; a package-level
// var (rather than a literal 0) keeps the compiler from inlining the call
// below and eliminating kmain.Kmain, and everything it reaches, from the
// generated object file.
var (
	multibootInfoPtr                   uintptr
	kernelImageStart, kernelImageEnd   uintptr
	kernelTextStart, kernelTextEnd     uintptr
	kernelRodataStart, kernelRodataEnd uintptr
	bootStackGuardAddr                 uintptr
)

// main is the only Go symbol that is visible (exported) from the rt0
// initialization code. It works as a trampoline for calling the actual
// kernel entrypoint, kmain.Kmain.
//
// main is invoked by the rt0 assembly code after setting up the GDT and a
// minimal g0 struct that allows Go code to run using the 4K stack the
// assembly allocated.
//
// main is not expected to return. If it does, the rt0 code halts the CPU.
func main() {
	kmain.Kmain(
		multibootInfoPtr,
		kernelImageStart, kernelImageEnd,
		kernelTextStart, kernelTextEnd,
		kernelRodataStart, kernelRodataEnd,
		bootStackGuardAddr,
	)
}
