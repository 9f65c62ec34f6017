package core

import "tinygo.org/x/drivers"

// Hardware the firmware drives through per-target drivers. A target
// registers each driver before the dictionary is built; config handlers
// fetch them with the Must* accessors and panic if one is missing, which
// only happens on a miswired target.

type (
	GPIOPin  uint32
	PWMPin   uint32
	PWMValue uint32 // duty cycle, 0 to PWMDriver.GetMaxValue()
	SPIBusID uint8  // index into the target's spi_bus enumeration
	SPIMode  uint8  // CPOL<<1 | CPHA
)

type GPIODriver interface {
	ConfigureOutput(pin GPIOPin) error
	SetPin(pin GPIOPin, value bool) error
	GetPin(pin GPIOPin) (bool, error)
}

type PWMDriver interface {
	// ConfigureHardwarePWM returns the cycle time the hardware settled on
	ConfigureHardwarePWM(pin PWMPin, cycleTicks uint32) (uint32, error)
	SetDutyCycle(pin PWMPin, value PWMValue) error
	// GetMaxValue is reported to the host as PWM_MAX
	GetMaxValue() uint32
	DisablePWM(pin PWMPin) error
}

// SPIConfig is what spi_set_bus asks for
type SPIConfig struct {
	BusID SPIBusID
	Mode  SPIMode
	Rate  uint32 // Hz
}

// SPIDriver hands back a configured bus as a tinygo drivers.SPI
type SPIDriver interface {
	ConfigureBus(config SPIConfig) (drivers.SPI, error)
}

var (
	gpioDriver GPIODriver
	pwmDriver  PWMDriver
	spiDriver  SPIDriver
)

func SetGPIODriver(d GPIODriver) { gpioDriver = d }
func SetPWMDriver(d PWMDriver)   { pwmDriver = d }
func SetSPIDriver(d SPIDriver)   { spiDriver = d }

func MustGPIO() GPIODriver {
	if gpioDriver == nil {
		panic("core: no GPIO driver")
	}
	return gpioDriver
}

func MustPWM() PWMDriver {
	if pwmDriver == nil {
		panic("core: no PWM driver")
	}
	return pwmDriver
}

func MustSPI() SPIDriver {
	if spiDriver == nil {
		panic("core: no SPI driver")
	}
	return spiDriver
}
