// Package serial opens the USB CDC or UART link to the MCU
package serial

import (
	"io"
)

// Port is a serial link to the MCU
type Port interface {
	io.ReadWriteCloser

	// Flush discards buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string `yaml:"device"`

	// Baud rate; USB CDC ignores it
	Baud int `yaml:"baud"`

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int `yaml:"read_timeout_ms"`
}

// DefaultConfig returns the Klipper defaults for device
func DefaultConfig(device string) *Config {
	c := &Config{Device: device}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.Baud == 0 {
		c.Baud = 250000
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 100
	}
}
