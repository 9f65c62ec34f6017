package servo

import (
	"errors"
	"strings"
	"testing"

	"servostep/core"
)

func setupCommands(t *testing.T) (*core.Loopback, *fakeDriver, *fakeSource) {
	t.Helper()
	core.InitCoreCommands()
	InitCommands()

	lb := &core.Loopback{}
	core.SetGlobalTransport(lb)
	core.ResetOids()
	core.ClearShutdown()
	t.Cleanup(func() {
		core.SetGlobalTransport(nil)
		core.ResetOids()
		core.ClearShutdown()
	})

	if err := core.AllocateOids(8); err != nil {
		t.Fatalf("AllocateOids failed: %v", err)
	}
	drv, src := &fakeDriver{}, &fakeSource{}
	if err := core.AllocOid(1, "driver", drv); err != nil {
		t.Fatalf("AllocOid driver failed: %v", err)
	}
	if err := core.AllocOid(2, "stepper", src); err != nil {
		t.Fatalf("AllocOid stepper failed: %v", err)
	}
	return lb, drv, src
}

func TestConfigAndOpenLoopCommands(t *testing.T) {
	lb, drv, src := setupCommands(t)

	if err := lb.Call("config_servo_stepper", 0, 1, 2, 200, 16); err != nil {
		t.Fatalf("config_servo_stepper failed: %v", err)
	}
	if err := lb.Call("servo_stepper_set_mode", 0, 1, 40, 20, 0, 0, 0); err != nil {
		t.Fatalf("set_mode failed: %v", err)
	}
	src.position = 2
	tick(t, 0, 12345)
	if w := drv.last(t); w.phase != 32 || w.current != 40 {
		t.Errorf("Expected set_phase(32, 40), got set_phase(%d, %d)", w.phase, w.current)
	}
}

// tick runs one control update on the stepper configured at oid, the way
// the position sensor bound to it does
func tick(t *testing.T, oid uint8, position uint32) {
	t.Helper()
	s, err := core.LookupOid[*ServoStepper](oid)
	if err != nil {
		t.Fatalf("LookupOid(%d) failed: %v", oid, err)
	}
	s.Update(position)
}

func TestConfigRejectsWrongObjectTypes(t *testing.T) {
	lb, _, _ := setupCommands(t)

	// oid 2 holds a position source, not a driver
	err := lb.Call("config_servo_stepper", 0, 2, 2, 200, 1)
	if err == nil || !strings.Contains(err.Error(), "invalid oid type") {
		t.Errorf("Expected invalid oid type error, got %v", err)
	}
	err = lb.Call("config_servo_stepper", 0, 1, 6, 200, 1)
	if !errors.Is(err, core.ErrOidNotFound) && (err == nil || !strings.Contains(err.Error(), "not configured")) {
		t.Errorf("Expected missing position source error, got %v", err)
	}
}

func TestConfigRejectsZeroParameters(t *testing.T) {
	lb, _, _ := setupCommands(t)
	err := lb.Call("config_servo_stepper", 0, 1, 2, 0, 1)
	var sdErr *core.ShutdownError
	if !errors.As(err, &sdErr) {
		t.Fatalf("Expected ShutdownError, got %v", err)
	}
	if lb.Count("shutdown") != 1 {
		t.Errorf("Expected one shutdown response, got %d", lb.Count("shutdown"))
	}
}

func TestUnknownModeCommandShutsDown(t *testing.T) {
	lb, drv, _ := setupCommands(t)
	lb.Call("config_servo_stepper", 0, 1, 2, 200, 1)

	err := lb.Call("servo_stepper_set_mode", 0, 9, 40, 20, 0, 0, 0)
	var sdErr *core.ShutdownError
	if !errors.As(err, &sdErr) || sdErr.Reason != "unknown servo mode" {
		t.Fatalf("Expected unknown servo mode shutdown, got %v", err)
	}
	if drv.enabled {
		t.Error("Driver enabled by an invalid request")
	}

	// Ordinary commands are refused, stats still answer
	if err := lb.Call("servo_stepper_set_mode", 0, 1, 40, 20, 0, 0, 0); !errors.Is(err, core.ErrInShutdown) {
		t.Errorf("Expected ErrInShutdown, got %v", err)
	}
	if err := lb.Call("servo_stepper_get_stats", 0); err != nil {
		t.Errorf("get_stats failed after shutdown: %v", err)
	}
	if lb.Count("servo_stepper_stats") != 1 {
		t.Error("Expected a stats response after shutdown")
	}
}

func TestStatsAndSampleResponses(t *testing.T) {
	lb, _, _ := setupCommands(t)
	lb.Call("config_servo_stepper", 0, 1, 2, 200, 1)
	lb.Call("servo_stepper_set_mode", 0, 1, 32, 16, 0, 0, 0)
	if err := lb.Call("servo_stepper_set_mode", 0, 3, 32, 16, 50, 2, -5); err != nil {
		t.Fatalf("set_mode failed: %v", err)
	}

	s, err := core.LookupOid[*ServoStepper](0)
	if err != nil {
		t.Fatalf("LookupOid failed: %v", err)
	}
	if s.pid.kd != -5 {
		t.Errorf("Expected kd -5, got %d", s.pid.kd)
	}

	for i := 0; i < 9; i++ {
		tick(t, 0, 1000)
	}
	if s.Mode() != ModeHpid {
		t.Fatalf("Expected hpid, got %v", s.Mode())
	}

	if err := lb.Call("servo_stepper_get_stats", 0); err != nil {
		t.Fatalf("get_stats failed: %v", err)
	}
	resp, ok := lb.Last("servo_stepper_stats")
	if !ok {
		t.Fatal("Expected servo_stepper_stats response")
	}
	vals, err := resp.Ints()
	if err != nil || len(vals) != 3 {
		t.Fatalf("Expected 3 stats fields, got %v (%v)", vals, err)
	}
	if vals[0] != 0 || vals[1] != 0 {
		t.Errorf("Expected oid 0 error 0, got oid %d error %d", vals[0], vals[1])
	}

	tick(t, 0, 1100)
	tick(t, 0, 1100)
	if lb.Count("servo_stepper_sample") != 1 {
		t.Fatalf("Expected one sample response, got %d", lb.Count("servo_stepper_sample"))
	}
	resp, _ = lb.Last("servo_stepper_sample")
	vals, _ = resp.Ints()
	if len(vals) != 5 || vals[0] != 0 || vals[1] != 78 {
		t.Errorf("Expected oid 0 phase_diff 78, got %v", vals)
	}
}
