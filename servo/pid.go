package servo

// PidState is the closed loop controller state
type PidState struct {
	kp, ki, kd Q10

	integral int32
	error    int32

	encoderOffset uint32 // calibrated sensor position, sensor units
	phaseOffset   uint32 // sensor phase minus commanded phase at calibration

	lastPhase      uint32
	lastCommanded  uint32
	lastSampleTime uint32

	// calibration progress
	holdCountdown uint16
	initCount     uint16
	calFirst      uint32
	calSum        int64 // cumulative: sum of deviations from calFirst
	calAvg        int32 // moving: mean deviation from calFirst

	maxLoopTime uint32
}

// reset loads new gains and clears every accumulator
func (p *PidState) reset(kp, ki, kd Q10, holdDelay uint16) {
	maxLoop := p.maxLoopTime
	*p = PidState{kp: kp, ki: ki, kd: kd, holdCountdown: holdDelay, maxLoopTime: maxLoop}
}

// hpidUpdate runs the hybrid PID law for one tick
func (s *ServoStepper) hpidUpdate(position, now uint32) {
	p := &s.pid

	timeDiff := int32((now - p.lastSampleTime) >> s.cfg.TimeScaleShift)
	if timeDiff < 1 {
		timeDiff = 1
	}

	phase := (PositionToPhase(s.fullStepsPerRotation, position) - p.phaseOffset) & PhaseMask
	phaseDiff := PhaseDiff(phase, p.lastPhase)

	commanded := s.source.GetPosition()
	moveDiff := int32(commanded-p.lastCommanded) * int32(s.stepMultiplier)

	p.error += moveDiff - phaseDiff
	if s.cfg.ErrorClamp == ClampStored {
		p.error = int32(Clamp(int64(p.error), FullStep))
	}
	e := int32(Clamp(int64(p.error), FullStep))

	p.integral = int32(Clamp(int64(p.integral)+int64(e)*int64(timeDiff), FullStep))

	sum := int64(p.kp)*int64(e) + int64(p.ki)*int64(p.integral) -
		int64(p.kd)*int64(phaseDiff/timeDiff)
	co := Clamp(DivRoundClosest(sum, Q10One), FullStep)

	if abs64(int64(e)) < int64(s.cfg.AllowableError) && moveDiff == 0 {
		// Converged and not moving: hold the commanded phase
		s.setPhase(CommandedPhase(commanded, s.stepMultiplier), s.holdCurrentScale)
	} else {
		run, hold := int64(s.runCurrentScale), int64(s.holdCurrentScale)
		current := uint32(hold + abs64(co)*(run-hold)/FullStep)
		target := (phase + uint32(int32(co))) & PhaseMask
		if s.cfg.SmoothOutput {
			s.moveToPhase(target, current)
		} else {
			s.setPhase(target, current)
		}
	}

	lastTime := p.lastSampleTime
	p.lastPhase = phase
	p.lastCommanded = commanded
	p.lastSampleTime = now

	if s.sampleRequested {
		s.sampleRequested = false
		if s.report != nil {
			s.report(Sample{PhaseDiff: phaseDiff, TimeDiff: timeDiff, LastTime: lastTime, Time: now})
		}
	}
}
