// Package a4954 drives the two full bridges of an Allegro A4954 as a
// microstepping coil driver. Coil polarity is set on the IN pins and
// coil current on the VREF pins through PWM.
package a4954

import (
	"servostep/core"
	"servostep/servo"
)

const (
	// PhasePerCycle is the number of phase units in one electrical cycle
	PhasePerCycle = 4 * servo.FullStep
	// MaxPhaseStep bounds how far MoveToPhase moves the output per call
	MaxPhaseStep = servo.FullStep / 4
	// PWMCycleTicks is the VREF PWM period in timer ticks
	PWMCycleTicks = 100
)

// Pins holds the six outputs of one driver
type Pins struct {
	IN1, IN2, IN3, IN4 core.GPIOPin
	VREF12, VREF34     core.PWMPin
}

// Driver is one A4954. It runs from timer and command context with the
// critical section already held, so none of its methods take it.
type Driver struct {
	OID  uint8
	pins Pins
	gpio core.GPIODriver
	pwm  core.PWMDriver

	enabled   bool
	offset    uint32 // electrical phase of logical phase zero
	lastPhase uint32 // logical phase of the last write
}

// New configures the outputs and returns a disabled driver
func New(oid uint8, pins Pins, gpio core.GPIODriver, pwm core.PWMDriver) (*Driver, error) {
	for _, pin := range []core.GPIOPin{pins.IN1, pins.IN2, pins.IN3, pins.IN4} {
		if err := gpio.ConfigureOutput(pin); err != nil {
			return nil, err
		}
	}
	for _, pin := range []core.PWMPin{pins.VREF12, pins.VREF34} {
		if _, err := pwm.ConfigureHardwarePWM(pin, PWMCycleTicks); err != nil {
			return nil, err
		}
	}
	d := &Driver{OID: oid, pins: pins, gpio: gpio, pwm: pwm}
	d.off()
	return d, nil
}

// Enable allows phase writes to reach the coils
func (d *Driver) Enable() {
	d.enabled = true
}

// Disable de-energizes both coils
func (d *Driver) Disable() {
	d.enabled = false
	d.off()
}

// Reset makes the electrical position of the last write logical phase zero
func (d *Driver) Reset() {
	d.offset = (d.offset + d.lastPhase) & servo.PhaseMask
	d.lastPhase = 0
}

// SetPhase energizes the coils for phase at currentScale PWM units
func (d *Driver) SetPhase(phase, currentScale uint32) {
	d.lastPhase = phase & servo.PhaseMask
	if !d.enabled {
		return
	}
	d.write((d.lastPhase+d.offset)&servo.PhaseMask, currentScale)
}

// MoveToPhase steps from the last written phase towards phase, at most
// MaxPhaseStep per call
func (d *Driver) MoveToPhase(phase, currentScale uint32) {
	diff := servo.PhaseDiff(phase, d.lastPhase)
	if diff > MaxPhaseStep {
		diff = MaxPhaseStep
	} else if diff < -MaxPhaseStep {
		diff = -MaxPhaseStep
	}
	d.SetPhase(uint32(int32(d.lastPhase)+diff), currentScale)
}

// UpdateLastPhase sets where the next MoveToPhase starts from
func (d *Driver) UpdateLastPhase(phase uint32) {
	d.lastPhase = phase & servo.PhaseMask
}

// LastPhase returns the logical phase of the last write
func (d *Driver) LastPhase() uint32 {
	return d.lastPhase
}

// OnShutdown turns the bridges off
func (d *Driver) OnShutdown() {
	d.Disable()
}

func (d *Driver) write(electrical, currentScale uint32) {
	a := Sine(electrical)
	b := Sine(electrical + PhasePerCycle/4)
	d.coil(d.pins.IN1, d.pins.IN2, d.pins.VREF12, a, currentScale)
	d.coil(d.pins.IN3, d.pins.IN4, d.pins.VREF34, b, currentScale)
}

func (d *Driver) coil(inA, inB core.GPIOPin, vref core.PWMPin, sine int32, currentScale uint32) {
	mag := sine
	if mag < 0 {
		mag = -mag
	}
	duty := (uint64(mag)*uint64(currentScale) + SineMax/2) / SineMax
	if limit := uint64(d.pwm.GetMaxValue()); duty > limit {
		duty = limit
	}
	d.check(d.gpio.SetPin(inA, sine >= 0))
	d.check(d.gpio.SetPin(inB, sine < 0))
	d.check(d.pwm.SetDutyCycle(vref, core.PWMValue(duty)))
}

func (d *Driver) off() {
	for _, pin := range []core.GPIOPin{d.pins.IN1, d.pins.IN2, d.pins.IN3, d.pins.IN4} {
		d.check(d.gpio.SetPin(pin, false))
	}
	d.check(d.pwm.SetDutyCycle(d.pins.VREF12, 0))
	d.check(d.pwm.SetDutyCycle(d.pins.VREF34, 0))
}

func (d *Driver) check(err error) {
	if err != nil {
		core.TryShutdown("a4954 output error")
	}
}
