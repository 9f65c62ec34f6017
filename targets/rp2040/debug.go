//go:build rp2040 && debuguart

package main

import (
	"machine"

	"servostep/core"
)

// initDebug routes core debug output to UART1 (TX=GPIO8, RX=GPIO9) at
// 115200 baud. Build with -tags debuguart.
func initDebug() {
	uart := machine.UART1
	err := uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO8,
		RX:       machine.GPIO9,
	})
	if err != nil {
		return
	}

	core.SetDebugWriter(func(s string) {
		uart.Write([]byte(s))
		uart.Write([]byte("\r\n"))
	})
	core.SetDebugEnabled(true)
	core.InitAsyncDebug()
	core.DebugPrintln("servostep rp2040 debug uart")
}
