package servo

const (
	// FullStep is the number of phase units in one full motor step
	FullStep = 256
	// PhaseBits is the width of the phase space
	PhaseBits = 24
	// PhaseModulus is the size of the phase space; phases wrap at it
	PhaseModulus = 1 << PhaseBits
	// PhaseMask masks a value into the phase space
	PhaseMask = PhaseModulus - 1
	// PhaseChangeMax bounds genuine motion between two samples: one
	// revolution of a 200 step motor. Larger jumps are wraparound.
	PhaseChangeMax = 200 * FullStep
)

// PositionToPhase converts a sensor position to phase units:
// round(fsr * position / FullStep) in wrapping 32-bit arithmetic.
func PositionToPhase(fullStepsPerRotation, position uint32) uint32 {
	return ((fullStepsPerRotation*position + FullStep/2) / FullStep) & PhaseMask
}

// PhaseDiff returns now-last as a signed delta, undoing phase wraparound
func PhaseDiff(now, last uint32) int32 {
	diff := int32(now&PhaseMask) - int32(last&PhaseMask)
	if diff > PhaseChangeMax {
		diff -= PhaseModulus
	} else if diff < -PhaseChangeMax {
		diff += PhaseModulus
	}
	return diff
}

// CommandedPhase converts a commanded step position to phase units
func CommandedPhase(position, stepMultiplier uint32) uint32 {
	return (position * stepMultiplier) & PhaseMask
}
