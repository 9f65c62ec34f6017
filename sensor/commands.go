package sensor

import (
	"servostep/core"
	"servostep/protocol"
)

// InitCommands registers the spi_position commands
func InitCommands() {
	core.RegisterCommand("config_spi_position",
		"oid=%c spi_oid=%c chip_type=%c servo_stepper_oid=%c", handleConfigSPIPosition)
	core.RegisterCommand("schedule_spi_position",
		"oid=%c clock=%u rest_ticks=%u", handleSchedule)
	core.RegisterCommand("query_last_spi_position", "oid=%c", handleQueryLast)
	core.RegisterCommand("set_spi_position_calibration",
		"oid=%c index=%u value=%hu", handleSetCalibration)

	core.RegisterResponse("spi_position_result", "oid=%c next_clock=%u position=%u")

	core.RegisterConstant("SPI_POSITION_CALIBRATION_COUNT", uint32(CalibrationCount))
}

func decodeArgs(data *[]byte, n int) ([]uint32, error) {
	args := make([]uint32, n)
	for i := range args {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func handleConfigSPIPosition(data *[]byte) error {
	args, err := decodeArgs(data, 4)
	if err != nil {
		return err
	}
	spi, err := core.LookupOid[*core.SPIDevice](uint8(args[1]))
	if err != nil {
		return err
	}
	chip := Chip(args[2])
	if !chip.valid() {
		return core.Shutdown("Invalid spi_position chip type")
	}
	updater, err := core.LookupOid[Updater](uint8(args[3]))
	if err != nil {
		return err
	}
	return core.AllocOid(uint8(args[0]), "spi_position", New(uint8(args[0]), spi, chip, updater))
}

func handleSchedule(data *[]byte) error {
	args, err := decodeArgs(data, 3)
	if err != nil {
		return err
	}
	p, err := core.LookupOid[*SPIPosition](uint8(args[0]))
	if err != nil {
		return err
	}
	p.Schedule(args[1], args[2])
	return nil
}

func handleQueryLast(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	p, err := core.LookupOid[*SPIPosition](uint8(oid))
	if err != nil {
		return err
	}
	nextClock, position := p.Last()
	core.SendResponse("spi_position_result", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQUint(output, nextClock)
		protocol.EncodeVLQUint(output, position)
	})
	return nil
}

func handleSetCalibration(data *[]byte) error {
	args, err := decodeArgs(data, 3)
	if err != nil {
		return err
	}
	p, err := core.LookupOid[*SPIPosition](uint8(args[0]))
	if err != nil {
		return err
	}
	return p.SetCalibration(int(args[1]), uint16(args[2]))
}
