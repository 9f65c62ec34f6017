//go:build !tinygo

package core

import "sync"

// IRQState is the saved state returned by IRQDisable
type IRQState uintptr

// irqMu stands in for interrupt masking on regular Go. It is not
// re-entrant: code holding it must not call ScheduleTimer or IRQDisable.
var irqMu sync.Mutex

// IRQDisable enters the critical section
func IRQDisable() IRQState {
	irqMu.Lock()
	return 0
}

// IRQRestore leaves the critical section
func IRQRestore(state IRQState) {
	irqMu.Unlock()
}
