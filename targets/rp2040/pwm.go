//go:build rp2040

package main

import (
	"machine"

	"servostep/core"
)

// pwmMax is the duty scale reported to the host as PWM_MAX
const pwmMax = 255

// pwmPeripheral abstracts over TinyGo's unexported *pwmGroup type
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// RP2040PWMDriver implements core.PWMDriver on the 8 hardware PWM slices.
// GPIO N belongs to slice (N>>1)&7, channel N&1.
type RP2040PWMDriver struct {
	channels    map[core.PWMPin]uint8
	peripherals map[uint8]pwmPeripheral
}

func NewRP2040PWMDriver() *RP2040PWMDriver {
	return &RP2040PWMDriver{
		channels:    make(map[core.PWMPin]uint8),
		peripherals: make(map[uint8]pwmPeripheral),
	}
}

func (d *RP2040PWMDriver) GetMaxValue() uint32 {
	return pwmMax
}

// ConfigureHardwarePWM sets the slice period from cycleTicks of the
// core.TimerFreq clock. Both channels of a slice share the last period set.
func (d *RP2040PWMDriver) ConfigureHardwarePWM(pin core.PWMPin, cycleTicks uint32) (uint32, error) {
	slice := sliceOf(pin)
	pwm, ok := d.peripherals[slice]
	if !ok {
		pwm = pwmSlice(slice)
		d.peripherals[slice] = pwm
	}

	period := uint64(cycleTicks) * 1000000000 / core.TimerFreq
	if err := pwm.Configure(machine.PWMConfig{Period: period}); err != nil {
		return 0, err
	}
	channel, err := pwm.Channel(machine.Pin(pin))
	if err != nil {
		return 0, err
	}
	d.channels[pin] = channel
	return cycleTicks, nil
}

// SetDutyCycle scales value from 0..pwmMax onto the slice's Top
func (d *RP2040PWMDriver) SetDutyCycle(pin core.PWMPin, value core.PWMValue) error {
	channel, ok := d.channels[pin]
	if !ok {
		return nil
	}
	pwm := d.peripherals[sliceOf(pin)]
	if value > pwmMax {
		value = pwmMax
	}
	pwm.Set(channel, uint32(uint64(value)*uint64(pwm.Top())/pwmMax))
	return nil
}

// DisablePWM drives the duty to zero. TinyGo has no way to hand the pin
// back to GPIO.
func (d *RP2040PWMDriver) DisablePWM(pin core.PWMPin) error {
	if err := d.SetDutyCycle(pin, 0); err != nil {
		return err
	}
	delete(d.channels, pin)
	return nil
}

func sliceOf(pin core.PWMPin) uint8 {
	return uint8((pin >> 1) & 0x7)
}

func pwmSlice(slice uint8) pwmPeripheral {
	switch slice {
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	case 7:
		return machine.PWM7
	default:
		return machine.PWM0
	}
}
