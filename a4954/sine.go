package a4954

import "math"

// SineMax is the amplitude of Sine
const SineMax = 1 << 15

// quarterWave holds one quarter of a sine wave, inclusive of both ends
var quarterWave [PhasePerCycle/4 + 1]uint16

func init() {
	for i := range quarterWave {
		v := math.Sin(float64(i) * math.Pi / 2 / (PhasePerCycle / 4))
		quarterWave[i] = uint16(math.Round(v * SineMax))
	}
}

// Sine returns the sine of phase scaled to +/-SineMax, with one electrical
// cycle spanning PhasePerCycle phase units
func Sine(phase uint32) int32 {
	idx := phase % PhasePerCycle
	quarter := idx / (PhasePerCycle / 4)
	off := idx % (PhasePerCycle / 4)
	switch quarter {
	case 0:
		return int32(quarterWave[off])
	case 1:
		return int32(quarterWave[PhasePerCycle/4-off])
	case 2:
		return -int32(quarterWave[off])
	}
	return -int32(quarterWave[PhasePerCycle/4-off])
}
