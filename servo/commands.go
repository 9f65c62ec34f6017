package servo

import (
	"errors"

	"servostep/core"
	"servostep/protocol"
)

// Defaults applied to servo steppers created by config_servo_stepper.
// Targets may change it before the host configures the MCU.
var DefaultStepperConfig = DefaultConfig()

// InitCommands registers the servo stepper commands
func InitCommands() {
	core.RegisterCommand("config_servo_stepper",
		"oid=%c driver_oid=%c stepper_oid=%c full_steps_per_rotation=%u step_multiplier=%u",
		handleConfigServoStepper)
	core.RegisterCommand("servo_stepper_set_mode",
		"oid=%c mode=%c run_current_scale=%u flex=%u kp=%hi ki=%hi kd=%hi",
		handleSetMode)
	core.RegisterShutdownCommand("servo_stepper_get_stats", "oid=%c", handleGetStats)

	core.RegisterResponse("servo_stepper_stats", "oid=%c error=%i max_loop_time=%u")
	core.RegisterResponse("servo_stepper_sample",
		"oid=%c phase_diff=%i time_diff=%i last_time=%u time=%u")

	core.RegisterConstant("SERVO_FULL_STEP", uint32(FullStep))
	core.RegisterConstant("SERVO_PHASE_BITS", uint32(PhaseBits))
	core.RegisterConstant("SERVO_GAIN_SHIFT", uint32(Q10Shift))
}

func handleConfigServoStepper(data *[]byte) error {
	var args [5]uint32
	for i := range args {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		args[i] = v
	}
	oid := uint8(args[0])

	driver, err := core.LookupOid[Driver](uint8(args[1]))
	if err != nil {
		return errors.New("servo driver: " + err.Error())
	}
	source, err := core.LookupOid[PositionSource](uint8(args[2]))
	if err != nil {
		return errors.New("servo position source: " + err.Error())
	}
	if args[3] == 0 {
		return core.Shutdown("Invalid full_steps_per_rotation")
	}
	if args[4] == 0 {
		return core.Shutdown("Invalid step_multiplier")
	}

	s := NewServoStepper(oid, driver, source, args[3], args[4], DefaultStepperConfig)
	s.report = func(sample Sample) {
		core.SendResponse("servo_stepper_sample", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(oid))
			protocol.EncodeVLQInt(output, sample.PhaseDiff)
			protocol.EncodeVLQInt(output, sample.TimeDiff)
			protocol.EncodeVLQUint(output, sample.LastTime)
			protocol.EncodeVLQUint(output, sample.Time)
		})
	}
	return core.AllocOid(oid, "servo_stepper", s)
}

func handleSetMode(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	mode, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	run, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	flex, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	var gains [3]Q10
	for i := range gains {
		v, err := protocol.DecodeVLQInt(data)
		if err != nil {
			return err
		}
		gains[i] = Q10(int16(v))
	}

	s, err := core.LookupOid[*ServoStepper](uint8(oid))
	if err != nil {
		return err
	}
	if mode > 0xff {
		return core.Shutdown("unknown servo mode")
	}
	return s.SetMode(uint8(mode), run, flex, gains[0], gains[1], gains[2])
}

func handleGetStats(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	s, err := core.LookupOid[*ServoStepper](uint8(oid))
	if err != nil {
		return err
	}

	errVal, maxLoop := s.Stats()
	core.SendResponse("servo_stepper_stats", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQInt(output, errVal)
		protocol.EncodeVLQUint(output, maxLoop)
	})
	return nil
}
