//go:build rp2040

package main

import (
	"machine"
	"time"

	"servostep/a4954"
	"servostep/core"
	"servostep/protocol"
	"servostep/sensor"
	"servostep/servo"
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	msgerrors uint32

	// USB connection state
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Clear any watchdog state left over from a previous reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()
	initDebug()

	InitClock()
	core.TimerInit()

	core.InitCoreCommands()
	core.InitSPICommands()
	core.RegisterStepperCommands()
	a4954.InitCommands()
	servo.InitCommands()
	sensor.InitCommands()

	// Pin enumeration must be in place before BuildDictionary
	registerPins()

	core.SetGPIODriver(NewRPGPIODriver())
	pwmDriver := NewRP2040PWMDriver()
	core.SetPWMDriver(pwmDriver)
	core.RegisterConstant("PWM_MAX", pwmDriver.GetMaxValue())
	core.SetSPIDriver(NewRP2040SPIDriver())
	core.RegisterEnumeration("spi_bus", spiBusNames())

	core.RegisterShutdownHook(core.DumpTimingRing)

	core.GetGlobalDictionary().BuildDictionary()

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, core.DispatchCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.ResetFirmwareState()
	})
	// The host expects the ACK before any response
	transport.SetFlushCallback(writeUSB)
	transport.SetErrorCallback(func(cmdID uint16, err error) {
		msgerrors++
		core.DebugAsync("command " + itoa(int(cmdID)) + ": " + err.Error())
	})
	core.SetGlobalTransport(transport)

	core.SetResetHandler(func() {
		// Watchdog reset re-enumerates USB more reliably than SYSRESETREQ
		if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1}); err != nil {
			return
		}
		if err := machine.Watchdog.Start(); err != nil {
			return
		}
		for {
			time.Sleep(time.Millisecond)
		}
	})

	go usbReaderLoop()

	for {
		runOnce()
		time.Sleep(10 * time.Microsecond)
	}
}

// runOnce handles pending host input, flushes output and runs due timers.
func runOnce() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			inputBuffer.Reset()
			outputBuffer.Reset()
		}
	}()

	UpdateSystemTime()

	if inputBuffer.Available() > 0 {
		data := inputBuffer.Data()
		input := protocol.NewSliceInputBuffer(data)
		transport.Receive(input)
		if consumed := len(data) - input.Available(); consumed > 0 {
			inputBuffer.Pop(consumed)
		}
	}

	if len(outputBuffer.Result()) > 0 {
		writeUSB()
	}

	// Only after the ACK for the reset command went out
	core.CheckPendingReset()

	// The servo loop runs from the position sensor timer
	core.ProcessTimers()
}

func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			b, err := USBRead()
			if err != nil {
				msgerrors++
				time.Sleep(time.Millisecond)
				continue
			}

			if usbWasDisconnected {
				usbWasDisconnected = false
				inputBuffer.Reset()
				outputBuffer.Reset()
				transport.Reset()
				core.ResetFirmwareState()
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{b}) == 0 {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// registerPins registers gpio0-gpio29 as the "pin" enumeration
func registerPins() {
	names := make([]string, 30)
	for i := range names {
		names[i] = "gpio" + itoa(i)
	}
	core.RegisterEnumeration("pin", names)
}

// itoa converts int to string without strconv
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	negative := i < 0
	if negative {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if negative {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// writeUSB drains the output buffer to USB. Repeated failures mark the
// link as disconnected and drop stale data.
func writeUSB() {
	result := outputBuffer.Result()
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}
