package a4954

import (
	"testing"

	"servostep/core"
	"servostep/servo"
)

func TestConfigCommand(t *testing.T) {
	core.InitCoreCommands()
	InitCommands()
	gpio := &fakeGPIO{outputs: make(map[core.GPIOPin]bool)}
	pwm := &fakePWM{duty: make(map[core.PWMPin]core.PWMValue)}
	core.SetGPIODriver(gpio)
	core.SetPWMDriver(pwm)

	lb := &core.Loopback{}
	core.SetGlobalTransport(lb)
	core.ResetOids()
	core.ClearShutdown()
	t.Cleanup(func() {
		core.SetGlobalTransport(nil)
		core.ResetOids()
		core.ClearShutdown()
	})
	if err := core.AllocateOids(2); err != nil {
		t.Fatalf("AllocateOids failed: %v", err)
	}

	if err := lb.Call("config_a4954", 1, 1, 2, 3, 4, 10, 11); err != nil {
		t.Fatalf("config_a4954 failed: %v", err)
	}
	drv, err := core.LookupOid[servo.Driver](1)
	if err != nil {
		t.Fatalf("Expected a servo driver at oid 1, got %v", err)
	}
	if _, ok := pwm.duty[10]; !ok {
		t.Error("Expected VREF12 to be configured for PWM")
	}

	drv.Enable()
	drv.SetPhase(0, 100)
	if pwm.duty[11] != 100 {
		t.Errorf("Expected VREF34 duty 100, got %d", pwm.duty[11])
	}

	core.TryShutdown("test")
	checkCoils(t, gpio, pwm, coilState{}, coilState{})
}
