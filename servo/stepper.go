// Package servo implements the closed loop control of a servo stepper:
// a stepper motor whose commanded phase is corrected from a rotary
// position sensor.
package servo

import (
	"servostep/core"
)

// Mode is the operating mode of a servo stepper
type Mode uint8

const (
	ModeDisabled Mode = 0
	ModeOpenLoop Mode = 1
	ModeTorque   Mode = 2
	ModeHpid     Mode = 3
	ModePidInit  Mode = 4
)

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeOpenLoop:
		return "open_loop"
	case ModeTorque:
		return "torque"
	case ModeHpid:
		return "hpid"
	case ModePidInit:
		return "pid_init"
	}
	return "unknown"
}

// modeFromCode maps a set_mode wire code to the mode it enters. Both
// closed loop codes start with calibration; Hpid is only reached from it.
func modeFromCode(code uint8) (Mode, bool) {
	switch Mode(code) {
	case ModeDisabled, ModeOpenLoop, ModeTorque:
		return Mode(code), true
	case ModeHpid, ModePidInit:
		return ModePidInit, true
	}
	return 0, false
}

// Driver energizes the motor coils
type Driver interface {
	Enable()
	Disable()
	// Reset makes the current electrical position phase zero
	Reset()
	// SetPhase writes phase and current immediately
	SetPhase(phase, currentScale uint32)
	// MoveToPhase writes with driver side ramping
	MoveToPhase(phase, currentScale uint32)
	// UpdateLastPhase tells the driver where to resume without energizing
	UpdateLastPhase(phase uint32)
}

// PositionSource supplies the commanded step position
type PositionSource interface {
	GetPosition() uint32
	SetPosition(position uint32)
}

// Sample is a one-shot debug record of a closed loop tick
type Sample struct {
	PhaseDiff int32
	TimeDiff  int32
	LastTime  uint32
	Time      uint32
}

// ServoStepper is the control state of one motor axis.
// Update runs in timer context; every other method enters the critical
// section before touching the state.
type ServoStepper struct {
	oid    uint8
	driver Driver
	source PositionSource
	cfg    Config

	fullStepsPerRotation uint32
	stepMultiplier       uint32
	exciteAngle          uint32
	runCurrentScale      uint32
	holdCurrentScale     uint32

	mode       Mode
	pid        PidState
	lastOutput uint32 // last phase written to the driver

	sampleRequested bool
	report          func(Sample)
	now             func() uint32
}

// NewServoStepper creates a disabled servo stepper
func NewServoStepper(oid uint8, driver Driver, source PositionSource, fullStepsPerRotation, stepMultiplier uint32, cfg Config) *ServoStepper {
	if stepMultiplier == 0 {
		stepMultiplier = 1
	}
	if cfg.CalibrationSamples == 0 {
		cfg.CalibrationSamples = 1
	}
	return &ServoStepper{
		oid:                  oid,
		driver:               driver,
		source:               source,
		cfg:                  cfg,
		fullStepsPerRotation: fullStepsPerRotation,
		stepMultiplier:       stepMultiplier,
		now:                  core.GetTime,
	}
}

// SetSampleSink sets the receiver of debug samples armed by Stats
func (s *ServoStepper) SetSampleSink(report func(Sample)) {
	state := core.IRQDisable()
	defer core.IRQRestore(state)
	s.report = report
}

// Mode returns the current mode
func (s *ServoStepper) Mode() Mode {
	state := core.IRQDisable()
	defer core.IRQRestore(state)
	return s.mode
}

// SetMode handles a mode change request. flex is the hold current scale,
// or the excite angle for torque mode. Gains only matter for closed loop.
// Invalid requests shut the firmware down and leave the state untouched.
func (s *ServoStepper) SetMode(code uint8, runCurrentScale, flex uint32, kp, ki, kd Q10) error {
	mode, ok := modeFromCode(code)
	if !ok {
		return core.Shutdown("unknown servo mode")
	}

	state := core.IRQDisable()
	defer core.IRQRestore(state)

	old := s.mode
	if mode == ModePidInit && s.cfg.EntryGuard == GuardFromOpenLoop && old != ModeOpenLoop {
		return core.Shutdown("PID mode must transition from open-loop")
	}

	switch mode {
	case ModeDisabled:
		if old != ModeDisabled {
			s.driver.UpdateLastPhase(s.lastOutput)
		}
		s.driver.Disable()
	case ModeOpenLoop:
		s.driver.Enable()
		s.source.SetPosition(0)
		s.driver.Reset()
		s.lastOutput = 0
		s.runCurrentScale = runCurrentScale
		s.holdCurrentScale = flex
	case ModeTorque:
		s.driver.Enable()
		s.exciteAngle = flex
		s.runCurrentScale = runCurrentScale
	case ModePidInit:
		s.driver.Enable()
		s.runCurrentScale = runCurrentScale
		s.holdCurrentScale = flex
		s.pid.reset(kp, ki, kd, s.cfg.HoldDelayTicks)
		if s.cfg.ResetReference {
			s.source.SetPosition(0)
			s.driver.Reset()
			s.lastOutput = 0
		}
	}
	s.mode = mode

	core.RecordTiming(core.EvtModeChange, s.oid, s.now(), uint32(old), uint32(mode))
	return nil
}

// Update runs one control tick with a fresh sensor position.
// Must be called from timer context.
func (s *ServoStepper) Update(position uint32) {
	switch s.mode {
	case ModeOpenLoop:
		s.setPhase(CommandedPhase(s.source.GetPosition(), s.stepMultiplier), s.runCurrentScale)
	case ModeTorque:
		var phase uint32
		if s.cfg.Torque == TorqueFromCommanded {
			phase = CommandedPhase(s.source.GetPosition(), s.stepMultiplier)
		} else {
			phase = PositionToPhase(s.fullStepsPerRotation, position)
		}
		s.setPhase((phase+s.exciteAngle)&PhaseMask, s.runCurrentScale)
	case ModePidInit:
		s.calibrate(position, s.now())
	case ModeHpid:
		start := s.now()
		s.hpidUpdate(position, start)
		elapsed := s.now() - start
		if elapsed > s.pid.maxLoopTime {
			s.pid.maxLoopTime = elapsed
			core.RecordTiming(core.EvtLoopTime, s.oid, start, elapsed, 0)
		}
	}
}

// Stats returns the running error and the worst closed loop tick time,
// and arms a debug sample for the next closed loop tick.
func (s *ServoStepper) Stats() (int32, uint32) {
	state := core.IRQDisable()
	defer core.IRQRestore(state)
	s.sampleRequested = true
	return s.pid.error, s.pid.maxLoopTime
}

// Offsets returns the calibration result: encoder offset in sensor units
// and phase offset in phase units.
func (s *ServoStepper) Offsets() (uint32, uint32) {
	state := core.IRQDisable()
	defer core.IRQRestore(state)
	return s.pid.encoderOffset, s.pid.phaseOffset
}

func (s *ServoStepper) setPhase(phase, currentScale uint32) {
	s.lastOutput = phase
	s.driver.SetPhase(phase, currentScale)
}

func (s *ServoStepper) moveToPhase(phase, currentScale uint32) {
	s.lastOutput = phase
	s.driver.MoveToPhase(phase, currentScale)
}
