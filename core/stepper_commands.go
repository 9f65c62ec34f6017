package core

import (
	"servostep/protocol"
)

// RegisterStepperCommands registers the virtual stepper commands
func RegisterStepperCommands() {
	RegisterCommand("config_virtual_stepper", "oid=%c", cmdConfigVirtualStepper)
	RegisterCommand("virtual_queue_step",
		"oid=%c interval=%u count=%hu add=%hi",
		cmdQueueStep)
	RegisterCommand("virtual_set_next_step_dir", "oid=%c dir=%c", cmdSetNextStepDir)
	RegisterCommand("virtual_reset_step_clock", "oid=%c clock=%u", cmdResetStepClock)
	RegisterCommand("virtual_stepper_get_position", "oid=%c", cmdStepperGetPosition)

	RegisterResponse("stepper_position", "oid=%c pos=%i")
}

func cmdConfigVirtualStepper(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return AllocOid(uint8(oid), "virtual_stepper", NewVirtualStepper(uint8(oid)))
}

// cmdQueueStep handles virtual_queue_step
// Format: oid=%c interval=%u count=%hu add=%hi
func cmdQueueStep(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	interval, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	add, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}

	stepper, err := LookupOid[*VirtualStepper](uint8(oid))
	if err != nil {
		return err
	}

	return stepper.QueueMove(interval, uint16(count), int16(add))
}

func cmdSetNextStepDir(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	dir, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	stepper, err := LookupOid[*VirtualStepper](uint8(oid))
	if err != nil {
		return err
	}

	stepper.SetNextDir(uint8(dir))
	return nil
}

func cmdResetStepClock(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	clockTime, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	stepper, err := LookupOid[*VirtualStepper](uint8(oid))
	if err != nil {
		return err
	}

	stepper.ResetClock(clockTime)
	return nil
}

func cmdStepperGetPosition(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	stepper, err := LookupOid[*VirtualStepper](uint8(oid))
	if err != nil {
		return err
	}

	position := stepper.GetPosition()

	SendResponse("stepper_position", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQInt(output, int32(position))
	})

	return nil
}
