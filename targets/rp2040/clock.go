//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"servostep/core"
)

// RP2040 timer peripheral: a free running 64-bit microsecond counter
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x08
	timerTIMERAWL = timerBase + 0x0C
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// InitClock registers the MCU name. The timer already runs at
// core.TimerFreq out of reset.
func InitClock() {
	core.RegisterConstant("MCU", "rp2040")
}

// GetHardwareTime returns the low 32 bits of the microsecond counter
func GetHardwareTime() uint32 {
	return timerRAWL.Get()
}

// GetHardwareUptime reads the full 64-bit counter, retrying across a
// high word rollover.
func GetHardwareUptime() uint64 {
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		if high1 == high2 {
			return (uint64(high1) << 32) | uint64(low)
		}
	}
}

// UpdateSystemTime copies the hardware time into the scheduler clock
func UpdateSystemTime() {
	core.SetTime(GetHardwareTime())
}
