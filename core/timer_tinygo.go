//go:build tinygo

package core

import "sync/atomic"

// The main loop writes the tick count while the USB goroutine may read it
var systemTicksValue atomic.Uint32

func getSystemTicks() uint32      { return systemTicksValue.Load() }
func setSystemTicks(ticks uint32) { systemTicksValue.Store(ticks) }
