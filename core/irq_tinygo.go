//go:build tinygo

package core

import "runtime/interrupt"

// IRQState is the saved interrupt state returned by IRQDisable
type IRQState = interrupt.State

// IRQDisable disables interrupts and returns the previous state
func IRQDisable() IRQState {
	return interrupt.Disable()
}

// IRQRestore restores the interrupt state
func IRQRestore(state IRQState) {
	interrupt.Restore(state)
}
