//go:build rp2040

package main

import (
	"errors"
	"machine"
	"sort"

	"tinygo.org/x/drivers"

	"servostep/core"
)

type spiBusConfig struct {
	spi  *machine.SPI
	sck  machine.Pin
	mosi machine.Pin
	miso machine.Pin
	name string
}

// Bus numbering follows Klipper's rp2040 spi_bus enumeration
var rp2040SPIBuses = map[core.SPIBusID]spiBusConfig{
	0: {spi: machine.SPI0, sck: machine.GPIO2, mosi: machine.GPIO3, miso: machine.GPIO0, name: "spi0a"},
	1: {spi: machine.SPI0, sck: machine.GPIO6, mosi: machine.GPIO7, miso: machine.GPIO4, name: "spi0b"},
	2: {spi: machine.SPI0, sck: machine.GPIO18, mosi: machine.GPIO19, miso: machine.GPIO16, name: "spi0c"},
	3: {spi: machine.SPI0, sck: machine.GPIO22, mosi: machine.GPIO23, miso: machine.GPIO20, name: "spi0d"},
	4: {spi: machine.SPI0, sck: machine.GPIO2, mosi: machine.GPIO3, miso: machine.GPIO4, name: "spi0e"},
	5: {spi: machine.SPI1, sck: machine.GPIO10, mosi: machine.GPIO11, miso: machine.GPIO8, name: "spi1a"},
	6: {spi: machine.SPI1, sck: machine.GPIO14, mosi: machine.GPIO15, miso: machine.GPIO12, name: "spi1b"},
	7: {spi: machine.SPI1, sck: machine.GPIO26, mosi: machine.GPIO27, miso: machine.GPIO24, name: "spi1c"},
	8: {spi: machine.SPI1, sck: machine.GPIO10, mosi: machine.GPIO11, miso: machine.GPIO12, name: "spi1d"},
}

// RP2040SPIDriver implements core.SPIDriver with the hardware SPI blocks.
// *machine.SPI already satisfies drivers.SPI.
type RP2040SPIDriver struct {
	configured map[core.SPIBusID]core.SPIConfig
}

func NewRP2040SPIDriver() *RP2040SPIDriver {
	return &RP2040SPIDriver{configured: make(map[core.SPIBusID]core.SPIConfig)}
}

// ConfigureBus sets up a bus, skipping the hardware write when the mode
// and rate are unchanged.
func (d *RP2040SPIDriver) ConfigureBus(config core.SPIConfig) (drivers.SPI, error) {
	bus, ok := rp2040SPIBuses[config.BusID]
	if !ok {
		return nil, errors.New("invalid SPI bus ID")
	}
	if prev, ok := d.configured[config.BusID]; ok && prev == config {
		return bus.spi, nil
	}
	if config.Mode > 3 {
		return nil, errors.New("invalid SPI mode")
	}

	err := bus.spi.Configure(machine.SPIConfig{
		Frequency: config.Rate,
		SCK:       bus.sck,
		SDO:       bus.mosi,
		SDI:       bus.miso,
		Mode:      uint8(config.Mode),
	})
	if err != nil {
		return nil, err
	}
	d.configured[config.BusID] = config
	return bus.spi, nil
}

// spiBusNames lists bus names in id order for the spi_bus enumeration
func spiBusNames() []string {
	ids := make([]int, 0, len(rp2040SPIBuses))
	for id := range rp2040SPIBuses {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = rp2040SPIBuses[core.SPIBusID(id)].name
	}
	return names
}
