//go:build !tinygo

package core

// Host builds have no interrupt context; a plain variable is enough.
func getSystemTicks() uint32      { return systemTicks }
func setSystemTicks(ticks uint32) { systemTicks = ticks }
