package a4954

import (
	"servostep/core"
	"servostep/protocol"
)

// InitCommands registers the a4954 commands
func InitCommands() {
	core.RegisterCommand("config_a4954",
		"oid=%c in1_pin=%u in2_pin=%u in3_pin=%u in4_pin=%u vref12_pin=%u vref34_pin=%u",
		handleConfigA4954)
}

func handleConfigA4954(data *[]byte) error {
	var args [7]uint32
	for i := range args {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		args[i] = v
	}
	pins := Pins{
		IN1:    core.GPIOPin(args[1]),
		IN2:    core.GPIOPin(args[2]),
		IN3:    core.GPIOPin(args[3]),
		IN4:    core.GPIOPin(args[4]),
		VREF12: core.PWMPin(args[5]),
		VREF34: core.PWMPin(args[6]),
	}
	d, err := New(uint8(args[0]), pins, core.MustGPIO(), core.MustPWM())
	if err != nil {
		return err
	}
	return core.AllocOid(uint8(args[0]), "a4954", d)
}
