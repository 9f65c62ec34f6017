// Package sensor reads SPI magnetic angle sensors on a timer and feeds
// the multi-turn position to a servo stepper.
package sensor

import (
	"servostep/core"
)

// Updater receives every new sensor position
type Updater interface {
	Update(position uint32)
}

// SPIPosition is one periodically sampled angle sensor
type SPIPosition struct {
	OID     uint8
	spi     *core.SPIDevice
	chip    Chip
	updater Updater

	timer     core.Timer
	restTicks uint32

	// Read frame, fixed at config time so a sample never allocates
	tx [2]byte
	rx [2]byte

	calibration Calibration
	lastAngle   uint16
	position    uint32
	haveAngle   bool
	readErrors  uint32
}

// New returns a sensor reading chip on spi that reports to updater
func New(oid uint8, spi *core.SPIDevice, chip Chip, updater Updater) *SPIPosition {
	p := &SPIPosition{
		OID:         oid,
		spi:         spi,
		chip:        chip,
		updater:     updater,
		calibration: BaseCalibration(),
		tx:          chip.request(),
	}
	p.timer.Handler = p.event
	return p
}

// Schedule starts periodic reads at clock, every restTicks. Zero restTicks
// stops them.
func (p *SPIPosition) Schedule(clock, restTicks uint32) {
	core.DeleteTimer(&p.timer)

	state := core.IRQDisable()
	p.restTicks = restTicks
	p.timer.WakeTime = clock
	core.IRQRestore(state)

	if restTicks != 0 {
		core.ScheduleTimer(&p.timer)
	}
}

// SetCalibration replaces one calibration table entry
func (p *SPIPosition) SetCalibration(index int, value uint16) error {
	if index < 0 || index >= CalibrationCount {
		return core.Shutdown("Invalid spi_position calibration index")
	}
	state := core.IRQDisable()
	defer core.IRQRestore(state)
	p.calibration[index] = value
	return nil
}

// Last returns the clock of the next read and the last position
func (p *SPIPosition) Last() (uint32, uint32) {
	state := core.IRQDisable()
	defer core.IRQRestore(state)
	return p.timer.WakeTime, p.position
}

// Sample reads the sensor once, updates the multi-turn position and
// passes it on. Runs in timer context.
func (p *SPIPosition) Sample() error {
	if err := p.spi.Transfer(p.tx[:], p.rx[:]); err != nil {
		p.readErrors++
		return err
	}
	angle := p.calibration.Apply(p.chip.decode(p.rx[:]))
	if p.haveAngle {
		p.position += uint32(int32(int16(angle - p.lastAngle)))
	} else {
		p.position = uint32(angle)
		p.haveAngle = true
	}
	p.lastAngle = angle
	if p.updater != nil {
		p.updater.Update(p.position)
	}
	return nil
}

func (p *SPIPosition) event(t *core.Timer) uint8 {
	if err := p.Sample(); err != nil {
		core.TryShutdown("spi_position read error")
		return core.SF_DONE
	}
	t.WakeTime += p.restTicks
	return core.SF_RESCHEDULE
}
