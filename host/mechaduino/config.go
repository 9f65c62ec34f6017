package mechaduino

import (
	"encoding/hex"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"servostep/host/serial"
)

// CANConfig selects a CAN link instead of serial
type CANConfig struct {
	Interface string `yaml:"interface"`
	NodeID    uint8  `yaml:"nodeid"`
	// UUID is the 12 hex digit node uuid; when set the node id is assigned
	UUID string `yaml:"uuid"`
}

// Current is an electrical current written as "1.2A" or "800mA"
type Current struct {
	physic.ElectricCurrent
}

// UnmarshalYAML implements yaml.Unmarshaler
func (c *Current) UnmarshalYAML(value *yaml.Node) error {
	return c.Set(value.Value)
}

// Amps returns the current in amperes
func (c Current) Amps() float64 {
	return float64(c.ElectricCurrent) / float64(physic.Ampere)
}

// Voltage is an electric potential written as "3.3V"
type Voltage struct {
	physic.ElectricPotential
}

// UnmarshalYAML implements yaml.Unmarshaler
func (v *Voltage) UnmarshalYAML(value *yaml.Node) error {
	return v.Set(value.Value)
}

// Volts returns the potential in volts
func (v Voltage) Volts() float64 {
	return float64(v.ElectricPotential) / float64(physic.Volt)
}

// Frequency is a rate written as "6kHz"
type Frequency struct {
	physic.Frequency
}

// UnmarshalYAML implements yaml.Unmarshaler
func (f *Frequency) UnmarshalYAML(value *yaml.Node) error {
	return f.Set(value.Value)
}

// Hertz returns the frequency in Hz
func (f Frequency) Hertz() float64 {
	return float64(f.Frequency) / float64(physic.Hertz)
}

// Config describes one mechaduino style servo stepper and its link
type Config struct {
	Serial *serial.Config `yaml:"serial"`
	CAN    *CANConfig     `yaml:"canbus"`

	IN1Pin    uint32 `yaml:"in1_pin"`
	IN2Pin    uint32 `yaml:"in2_pin"`
	IN3Pin    uint32 `yaml:"in3_pin"`
	IN4Pin    uint32 `yaml:"in4_pin"`
	VREF12Pin uint32 `yaml:"vref12_pin"`
	VREF34Pin uint32 `yaml:"vref34_pin"`

	// SenseResistor in ohms
	SenseResistor    float64 `yaml:"sense_resistor"`
	VoltageReference Voltage `yaml:"voltage_reference"`
	RunCurrent       Current `yaml:"current"`
	HoldCurrent      Current `yaml:"hold_current"`

	Mode                 string  `yaml:"mode"`
	Microsteps           int     `yaml:"microsteps"`
	FullStepsPerRotation uint32  `yaml:"full_steps_per_rotation"`
	Kp                   float64 `yaml:"pid_kp"`
	Ki                   float64 `yaml:"pid_ki"`
	Kd                   float64 `yaml:"pid_kd"`

	SensorType string    `yaml:"sensor_type"`
	SensorPin  uint32    `yaml:"sensor_pin"`
	SPIBus     uint32    `yaml:"spi_bus"`
	SPISpeed   Frequency `yaml:"spi_speed"`
	UpdateRate Frequency `yaml:"update_rate"`

	// Calibrate holds the measured full step angles written by a
	// calibration run; empty means the identity table
	Calibrate []float64 `yaml:"calibrate"`
	Invert    bool      `yaml:"invert"`
}

// sensors maps sensor_type to chip id and SPI mode
var sensors = map[string]struct {
	chip uint8
	mode uint32
}{
	"a1333":   {1, 3},
	"as5047d": {2, 1},
}

// microstepIndex maps a microstep count to log2 of the step multiplier
var microstepIndex = map[int]uint{
	256: 0, 128: 1, 64: 2, 32: 3, 16: 4, 8: 5, 4: 6, 2: 7, 1: 8,
}

// LoadConfig reads, defaults and validates a YAML config file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes, defaults and validates YAML config data
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Serial != nil {
		c.Serial.ApplyDefaults()
	}
	if c.VoltageReference.ElectricPotential == 0 {
		c.VoltageReference.ElectricPotential = 3300 * physic.MilliVolt
	}
	if c.HoldCurrent.ElectricCurrent == 0 {
		c.HoldCurrent = c.RunCurrent
	}
	if c.Mode == "" {
		c.Mode = ModeOpenLoop
	}
	if c.FullStepsPerRotation == 0 {
		c.FullStepsPerRotation = 200
	}
	if c.Kp == 0 && c.Ki == 0 && c.Kd == 0 {
		c.Kp = 1
	}
	if c.SPISpeed.Frequency == 0 {
		c.SPISpeed.Frequency = 10 * physic.MegaHertz
	}
	if c.UpdateRate.Frequency == 0 {
		c.UpdateRate.Frequency = 6 * physic.KiloHertz
	}
}

// Validate reports every problem in the config
func (c *Config) Validate() error {
	var err error
	if (c.Serial == nil) == (c.CAN == nil) {
		err = multierr.Append(err, fmt.Errorf("exactly one of serial and canbus must be set"))
	}
	if c.Serial != nil && c.Serial.Device == "" {
		err = multierr.Append(err, fmt.Errorf("serial: device is required"))
	}
	if c.CAN != nil {
		if c.CAN.Interface == "" {
			err = multierr.Append(err, fmt.Errorf("canbus: interface is required"))
		}
		if c.CAN.UUID != "" {
			if _, uerr := c.CAN.ParseUUID(); uerr != nil {
				err = multierr.Append(err, uerr)
			}
		}
	}
	if c.SenseResistor <= 0 {
		err = multierr.Append(err, fmt.Errorf("sense_resistor must be above 0"))
	}
	if c.VoltageReference.ElectricPotential <= 0 {
		err = multierr.Append(err, fmt.Errorf("voltage_reference must be above 0"))
	}
	if c.RunCurrent.ElectricCurrent <= 0 || c.RunCurrent.ElectricCurrent > 2*physic.Ampere {
		err = multierr.Append(err, fmt.Errorf("current must be in (0A, 2A], got %s", c.RunCurrent))
	}
	if c.HoldCurrent.ElectricCurrent <= 0 || c.HoldCurrent.ElectricCurrent > c.RunCurrent.ElectricCurrent {
		err = multierr.Append(err, fmt.Errorf("hold_current must be in (0A, current], got %s", c.HoldCurrent))
	}
	if c.Mode != ModeOpenLoop && c.Mode != ModeHpid {
		err = multierr.Append(err, fmt.Errorf("mode must be %s or %s, got %q", ModeOpenLoop, ModeHpid, c.Mode))
	}
	if _, ok := microstepIndex[c.Microsteps]; !ok {
		err = multierr.Append(err, fmt.Errorf("microsteps must be a power of two from 1 to 256, got %d", c.Microsteps))
	}
	if c.FullStepsPerRotation < 4 {
		err = multierr.Append(err, fmt.Errorf("full_steps_per_rotation must be at least 4, got %d", c.FullStepsPerRotation))
	}
	if _, ok := sensors[c.SensorType]; !ok {
		err = multierr.Append(err, fmt.Errorf("unknown sensor_type %q", c.SensorType))
	}
	for _, gain := range []struct {
		name string
		v    float64
	}{{"pid_kp", c.Kp}, {"pid_ki", c.Ki}, {"pid_kd", c.Kd}} {
		if q := gain.v * 1024; q > 32767 || q < -32768 {
			err = multierr.Append(err, fmt.Errorf("%s out of range: %g", gain.name, gain.v))
		}
	}
	if n := len(c.Calibrate); n != 0 && n != int(c.FullStepsPerRotation) {
		err = multierr.Append(err, fmt.Errorf("calibrate has %d angles, expected %d", n, c.FullStepsPerRotation))
	}
	return err
}

// StepMultiplier returns the phase units moved per microstep
func (c *Config) StepMultiplier() uint32 {
	return 1 << microstepIndex[c.Microsteps]
}

// Gains returns the PID gains in the MCU's Q10 fixed point
func (c *Config) Gains() (kp, ki, kd int16) {
	return int16(c.Kp * 1024), int16(c.Ki * 1024), int16(c.Kd * 1024)
}

// ParseUUID decodes the node uuid
func (c *CANConfig) ParseUUID() ([6]byte, error) {
	var uuid [6]byte
	b, err := hex.DecodeString(c.UUID)
	if err != nil || len(b) != len(uuid) {
		return uuid, fmt.Errorf("canbus: uuid must be 12 hex digits, got %q", c.UUID)
	}
	copy(uuid[:], b)
	return uuid, nil
}
