// SPI device support (Klipper's config_spi / spi_set_bus / spi_transfer)
package core

import (
	"errors"

	"tinygo.org/x/drivers"

	"servostep/protocol"
)

// SPI device flags
const (
	SF_CS_ACTIVE_HIGH = 0x01 // Chip select active high (default is active low)
	SF_HAVE_PIN       = 0x02 // Has chip select pin
)

// ErrSPIBusNotSet is returned when a device is used before spi_set_bus
var ErrSPIBusNotSet = errors.New("spi bus not configured")

// SPIDevice represents a configured SPI device
type SPIDevice struct {
	OID   uint8  // Object ID
	Flags uint8  // CS polarity and presence
	Pin   uint32 // Chip select pin (if SF_HAVE_PIN is set)

	Bus   drivers.SPI // Set by spi_set_bus
	BusID SPIBusID
	Mode  SPIMode
	Rate  uint32
}

// InitSPICommands registers SPI-related commands with the command registry
func InitSPICommands() {
	RegisterCommand("config_spi", "oid=%c pin=%u cs_active_high=%c", handleConfigSPI)
	RegisterCommand("config_spi_without_cs", "oid=%c", handleConfigSPIWithoutCS)
	RegisterCommand("spi_set_bus", "oid=%c spi_bus=%u mode=%u rate=%u", handleSPISetBus)
	RegisterCommand("spi_transfer", "oid=%c data=%*s", handleSPITransfer)
	RegisterCommand("spi_send", "oid=%c data=%*s", handleSPISend)

	RegisterResponse("spi_transfer_response", "oid=%c response=%*s")
}

// handleConfigSPI configures an SPI device with a chip select pin
func handleConfigSPI(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	csActiveHigh, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	dev := &SPIDevice{
		OID:   uint8(oid),
		Flags: SF_HAVE_PIN,
		Pin:   pin,
	}
	if csActiveHigh != 0 {
		dev.Flags |= SF_CS_ACTIVE_HIGH
	}

	if err := MustGPIO().ConfigureOutput(GPIOPin(pin)); err != nil {
		return err
	}
	if err := dev.setCS(false); err != nil {
		return err
	}

	return AllocOid(uint8(oid), "spi", dev)
}

// handleConfigSPIWithoutCS configures an SPI device without a chip select pin
func handleConfigSPIWithoutCS(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return AllocOid(uint8(oid), "spi", &SPIDevice{OID: uint8(oid)})
}

// handleSPISetBus configures the SPI bus parameters for a device
func handleSPISetBus(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	spiBus, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	mode, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	rate, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	dev, err := LookupOid[*SPIDevice](uint8(oid))
	if err != nil {
		return err
	}
	if mode > 3 {
		return Shutdown("Invalid spi config")
	}

	cfg := SPIConfig{BusID: SPIBusID(spiBus), Mode: SPIMode(mode), Rate: rate}
	bus, err := MustSPI().ConfigureBus(cfg)
	if err != nil {
		return err
	}

	dev.Bus = bus
	dev.BusID = cfg.BusID
	dev.Mode = cfg.Mode
	dev.Rate = cfg.Rate
	return nil
}

// setCS drives the chip select line to the active or inactive level
func (dev *SPIDevice) setCS(active bool) error {
	if dev.Flags&SF_HAVE_PIN == 0 {
		return nil
	}
	level := !active
	if dev.Flags&SF_CS_ACTIVE_HIGH != 0 {
		level = active
	}
	return MustGPIO().SetPin(GPIOPin(dev.Pin), level)
}

// Transfer performs a full-duplex transfer framed by chip select.
// rx may be nil when the response is not needed.
func (dev *SPIDevice) Transfer(tx, rx []byte) error {
	if dev.Bus == nil {
		return ErrSPIBusNotSet
	}
	if err := dev.setCS(true); err != nil {
		return err
	}
	err := dev.Bus.Tx(tx, rx)
	if csErr := dev.setCS(false); err == nil {
		err = csErr
	}
	return err
}

// handleSPITransfer sends and receives SPI data
func handleSPITransfer(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	tx, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}

	dev, err := LookupOid[*SPIDevice](uint8(oid))
	if err != nil {
		return err
	}

	rx := make([]byte, len(tx))
	if err := dev.Transfer(tx, rx); err != nil {
		return err
	}

	SendResponse("spi_transfer_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQBytes(output, rx)
	})
	return nil
}

// handleSPISend sends SPI data without reporting the response
func handleSPISend(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	tx, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}

	dev, err := LookupOid[*SPIDevice](uint8(oid))
	if err != nil {
		return err
	}
	return dev.Transfer(tx, nil)
}
