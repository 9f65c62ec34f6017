package servo

import (
	"strconv"

	"servostep/core"
)

// calReference is the current estimate of the rest position
func (s *ServoStepper) calReference() uint32 {
	p := &s.pid
	if p.initCount == 0 {
		return p.calFirst
	}
	if s.cfg.Average == AverageMoving {
		return p.calFirst + uint32(p.calAvg)
	}
	return p.calFirst + uint32(int32(DivRoundClosest(p.calSum, int64(p.initCount))))
}

// calibrate collects one calibration sample. The commanded phase is held
// at run current so the rotor settles where the commanded frame says.
func (s *ServoStepper) calibrate(position, now uint32) {
	p := &s.pid
	commanded := s.source.GetPosition()
	s.setPhase(CommandedPhase(commanded, s.stepMultiplier), s.runCurrentScale)

	if p.holdCountdown > 0 {
		p.holdCountdown--
		return
	}

	if p.initCount == 0 {
		p.calFirst = position
		p.calSum = 0
		p.calAvg = 0
	} else {
		dev := int32(position - s.calReference())
		devPhase := DivRoundClosest(int64(dev)*int64(s.fullStepsPerRotation), FullStep)
		if abs64(devPhase) > FullStep {
			core.TryShutdown("encoder variance too large")
			return
		}
		offset := int32(position - p.calFirst)
		if s.cfg.Average == AverageMoving {
			p.calAvg += int32(DivRoundClosest(int64(offset-p.calAvg), int64(p.initCount)+1))
		} else {
			p.calSum += int64(offset)
		}
	}
	p.initCount++
	if p.initCount < s.cfg.CalibrationSamples {
		return
	}

	avg := s.calReference()
	p.encoderOffset = avg
	p.phaseOffset = (PositionToPhase(s.fullStepsPerRotation, avg) -
		CommandedPhase(commanded, s.stepMultiplier)) & PhaseMask
	p.error = 0
	p.integral = 0
	p.lastSampleTime = now
	p.lastPhase = (PositionToPhase(s.fullStepsPerRotation, position) - p.phaseOffset) & PhaseMask
	p.lastCommanded = commanded
	s.mode = ModeHpid

	core.DebugPrintln("[servo] oid=" + strconv.Itoa(int(s.oid)) +
		" encoder offset=" + strconv.FormatUint(uint64(p.encoderOffset), 10) +
		" phase offset=" + strconv.FormatUint(uint64(p.phaseOffset), 10))
	core.RecordTiming(core.EvtCalibrated, s.oid, now, p.encoderOffset, p.phaseOffset)
}
