package hal

import (
	"github.com/nucloid-os/nucloid/kernel/driver/tty"
	"github.com/nucloid-os/nucloid/kernel/driver/video/console"
	"github.com/nucloid-os/nucloid/kernel/hal/multiboot"
	"github.com/nucloid-os/nucloid/kernel/mem"
)

var (
	egaConsole = &console.Ega{}

	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal = &tty.Vt{}
)

// InitTerminal provides a basic terminal to allow the kernel to emit some output
// till everything is properly setup
func InitTerminal() {
	fbInfo := multiboot.GetFramebufferInfo()

	fbVAddr, ok := mem.PAddr(fbInfo.PhysAddr).IntoVAddr()
	if !ok {
		return
	}

	egaConsole.Init(uint16(fbInfo.Width), uint16(fbInfo.Height), fbVAddr.Pointer())
	ActiveTerminal.AttachTo(egaConsole)
}
