// Package mechaduino configures and controls a mechaduino style servo
// stepper: an A4954 driver, a virtual stepper, the servo controller and
// an SPI angle sensor on one MCU.
package mechaduino

import (
	"context"
	"fmt"
	"hash/crc32"
	"log"
	"math"
	"strings"
	"time"

	"servostep/host/mcu"
)

// Host side servo modes
const (
	ModeOpenLoop = "open_loop"
	ModeHpid     = "hpid"
)

// Wire codes of servo_stepper_set_mode
const (
	modeDisabled = 0
	modeOpenLoop = 1
	modeTorque   = 2
	modeHpid     = 3
)

// Object ids used on the MCU
const (
	oidSPI uint8 = iota
	oidStepper
	oidDriver
	oidServo
	oidSensor
	oidCount
)

// Link is the part of an MCU connection the servo uses
type Link interface {
	Send(ctx context.Context, name string, args ...interface{}) error
	Query(ctx context.Context, respName string, match func(mcu.Params) bool, name string, args ...interface{}) (mcu.Params, error)
	Dictionary() *mcu.Dictionary
}

// Command is one configuration command
type Command struct {
	Name string
	Args []interface{}
}

func (c Command) String() string {
	parts := []string{c.Name}
	for _, a := range c.Args {
		parts = append(parts, fmt.Sprint(a))
	}
	return strings.Join(parts, " ")
}

// Servo is a configured servo stepper
type Servo struct {
	cfg    *Config
	link   Link
	logger *log.Logger

	pwmMax    float64
	clockFreq float64
	mode      string

	sleep func(ctx context.Context, d time.Duration) error
}

// New binds a servo config to an identified MCU link
func New(cfg *Config, link Link, logger *log.Logger) (*Servo, error) {
	dict := link.Dictionary()
	pwmMax, err := dict.ConstantFloat("PWM_MAX")
	if err != nil {
		return nil, err
	}
	clockFreq, err := dict.ConstantFloat("CLOCK_FREQ")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Servo{
		cfg:       cfg,
		link:      link,
		logger:    logger,
		pwmMax:    pwmMax,
		clockFreq: clockFreq,
		mode:      cfg.Mode,
		sleep:     sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CurrentScale converts a coil current in amperes to the MCU's PWM
// scale, clamped to the configured run current
func (s *Servo) CurrentScale(amps float64) uint32 {
	amps = math.Max(0, math.Min(s.cfg.RunCurrent.Amps(), amps))
	factor := 10 * s.cfg.SenseResistor / s.cfg.VoltageReference.Volts()
	return uint32(amps * factor * s.pwmMax)
}

// RestTicks returns the sensor update period in MCU clock ticks
func (s *Servo) RestTicks() uint32 {
	return uint32(s.clockFreq / s.cfg.UpdateRate.Hertz())
}

// ConfigCommands returns the commands that build the servo on the MCU
func (s *Servo) ConfigCommands() []Command {
	c := s.cfg
	sensor := sensors[c.SensorType]
	cmds := []Command{
		{"allocate_oids", []interface{}{oidCount}},
		{"config_spi", []interface{}{oidSPI, c.SensorPin, 0}},
		{"spi_set_bus", []interface{}{oidSPI, c.SPIBus, sensor.mode, uint32(c.SPISpeed.Hertz())}},
		{"config_virtual_stepper", []interface{}{oidStepper}},
		{"config_a4954", []interface{}{oidDriver, c.IN1Pin, c.IN2Pin, c.IN3Pin, c.IN4Pin, c.VREF12Pin, c.VREF34Pin}},
		{"config_servo_stepper", []interface{}{oidServo, oidDriver, oidStepper, c.FullStepsPerRotation, c.StepMultiplier()}},
		{"config_spi_position", []interface{}{oidSensor, oidSPI, sensor.chip, oidServo}},
	}
	for i, v := range TableFromAngles(c.Calibrate, c.Invert) {
		cmds = append(cmds, Command{"set_spi_position_calibration", []interface{}{oidSensor, i, v & 0xFFFF}})
	}
	return cmds
}

// ConfigCRC returns the checksum finalize_config records for cmds
func ConfigCRC(cmds []Command) uint32 {
	lines := make([]string, len(cmds))
	for i, c := range cmds {
		lines[i] = c.String()
	}
	return crc32.ChecksumIEEE([]byte(strings.Join(lines, "\n")))
}

// Configure sends the configuration unless the MCU already holds it,
// then starts sensor sampling
func (s *Servo) Configure(ctx context.Context) error {
	cmds := s.ConfigCommands()
	crc := ConfigCRC(cmds)

	cfg, err := s.link.Query(ctx, "config", nil, "get_config")
	if err != nil {
		return fmt.Errorf("get_config: %w", err)
	}
	if cfg.Uint("is_shutdown") != 0 {
		return fmt.Errorf("mcu is shutdown")
	}
	if cfg.Uint("is_config") != 0 {
		if cfg.Uint("crc") != crc {
			return fmt.Errorf("mcu configuration changed, restart the mcu")
		}
		s.logger.Printf("mcu already configured (crc %08x)", crc)
		return nil
	}

	for _, c := range cmds {
		if err := s.link.Send(ctx, c.Name, c.Args...); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	if err := s.link.Send(ctx, "finalize_config", crc); err != nil {
		return fmt.Errorf("finalize_config: %w", err)
	}

	clock, err := s.Clock(ctx)
	if err != nil {
		return err
	}
	start := clock + uint32(s.clockFreq/10)
	if err := s.link.Send(ctx, "schedule_spi_position", oidSensor, start, s.RestTicks()); err != nil {
		return fmt.Errorf("schedule_spi_position: %w", err)
	}
	if err := s.link.Send(ctx, "virtual_reset_step_clock", oidStepper, 0); err != nil {
		return fmt.Errorf("virtual_reset_step_clock: %w", err)
	}
	s.logger.Printf("configured servo stepper (crc %08x, %d commands)", crc, len(cmds))
	return nil
}

// Clock returns the MCU clock
func (s *Servo) Clock(ctx context.Context) (uint32, error) {
	p, err := s.link.Query(ctx, "clock", nil, "get_clock")
	if err != nil {
		return 0, fmt.Errorf("get_clock: %w", err)
	}
	return p.Uint("clock"), nil
}

func (s *Servo) setMode(ctx context.Context, code int, run, flex uint32, kp, ki, kd int16) error {
	if err := s.link.Send(ctx, "servo_stepper_set_mode", oidServo, code, run, flex, kp, ki, kd); err != nil {
		return fmt.Errorf("servo_stepper_set_mode: %w", err)
	}
	return nil
}

// Disable de-energizes the motor
func (s *Servo) Disable(ctx context.Context) error {
	return s.setMode(ctx, modeDisabled, 0, 0, 0, 0, 0)
}

// SetOpenLoop drives the motor as a plain stepper
func (s *Servo) SetOpenLoop(ctx context.Context) error {
	run := s.CurrentScale(s.cfg.RunCurrent.Amps())
	hold := s.CurrentScale(s.cfg.HoldCurrent.Amps())
	return s.setMode(ctx, modeOpenLoop, run, hold, 0, 0, 0)
}

// SetTorque holds a constant current excite phase units ahead of the
// rotor. Zero current disables the motor.
func (s *Servo) SetTorque(ctx context.Context, excite uint32, amps float64) error {
	if amps == 0 {
		return s.Disable(ctx)
	}
	return s.setMode(ctx, modeTorque, s.CurrentScale(amps), excite, 0, 0, 0)
}

// SetHpid calibrates the encoder and starts closed loop control. The
// motor must be in open loop.
func (s *Servo) SetHpid(ctx context.Context) error {
	run := s.CurrentScale(s.cfg.RunCurrent.Amps())
	hold := s.CurrentScale(s.cfg.HoldCurrent.Amps())
	kp, ki, kd := s.cfg.Gains()
	return s.setMode(ctx, modeHpid, run, hold, kp, ki, kd)
}

// Enable enters the configured mode
func (s *Servo) Enable(ctx context.Context) error {
	if err := s.SetOpenLoop(ctx); err != nil {
		return err
	}
	if s.mode == ModeHpid {
		return s.SetHpid(ctx)
	}
	return nil
}

// SetServoMode changes the mode Enable enters and returns the old one
func (s *Servo) SetServoMode(mode string) string {
	old := s.mode
	s.mode = mode
	return old
}

// Stats holds the servo statistics
type Stats struct {
	Error       int32
	MaxLoopTime uint32
}

// Stats returns the running position error and the worst loop time
func (s *Servo) Stats(ctx context.Context) (Stats, error) {
	p, err := s.queryOid(ctx, "servo_stepper_stats", oidServo, "servo_stepper_get_stats")
	if err != nil {
		return Stats{}, err
	}
	return Stats{Error: p.Int("error"), MaxLoopTime: p.Uint("max_loop_time")}, nil
}

// StepperPosition returns the commanded microstep position
func (s *Servo) StepperPosition(ctx context.Context) (int32, error) {
	p, err := s.queryOid(ctx, "stepper_position", oidStepper, "virtual_stepper_get_position")
	if err != nil {
		return 0, err
	}
	return p.Int("pos"), nil
}

// EncoderPosition returns the last multi-turn sensor position
func (s *Servo) EncoderPosition(ctx context.Context) (uint32, error) {
	p, err := s.queryOid(ctx, "spi_position_result", oidSensor, "query_last_spi_position")
	if err != nil {
		return 0, err
	}
	return p.Uint("position"), nil
}

func (s *Servo) queryOid(ctx context.Context, respName string, oid uint8, name string) (mcu.Params, error) {
	p, err := s.link.Query(ctx, respName, func(p mcu.Params) bool {
		return p.Uint("oid") == uint32(oid)
	}, name, oid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return p, nil
}

// ApplyCalibration sends a calibration table to the sensor
func (s *Servo) ApplyCalibration(ctx context.Context, cal []int) error {
	for i, v := range cal {
		if err := s.link.Send(ctx, "set_spi_position_calibration", oidSensor, i, v&0xFFFF); err != nil {
			return fmt.Errorf("set_spi_position_calibration: %w", err)
		}
	}
	return nil
}
