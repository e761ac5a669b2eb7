// Package serial exposes the kernel's serial-port logging channel as a seam
// that the arch layer wires up during boot. Nucloid's memory-management core
// only needs a place to send panic and early diagnostic output to; it does
// not own the UART itself.
package serial

var (
	// initFn is replaced by the arch layer once the UART has been
	// programmed. It defaults to a no-op so that code paths exercised
	// before serial is wired up (and all host tests) do not need a real
	// port.
	initFn = func() {}

	// writeStringFn sends a line to the serial channel. It stays nil, and
	// WriteString is a no-op, until SetBackend installs a writer, matching the panic path's requirement that
	// serial output only happens "if initialized".
	writeStringFn func(string)
)

// Init configures the serial port. Calling it more than once is harmless;
// the underlying driver is expected to be idempotent.
func Init() {
	initFn()
}

// SetBackend installs the function used to write a line to the serial port
// and marks the channel initialized. Called once by the arch layer after the
// UART has been programmed.
func SetBackend(write func(string)) {
	writeStringFn = write
}

// WriteString sends s to the serial channel if one has been installed.
// It is a silent no-op otherwise.
func WriteString(s string) {
	if writeStringFn == nil {
		return
	}
	writeStringFn(s)
}
