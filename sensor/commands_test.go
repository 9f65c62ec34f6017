package sensor

import (
	"errors"
	"testing"

	"servostep/core"
	"servostep/servo"
)

// config_spi_position binds a servo stepper oid as the updater
var _ Updater = (*servo.ServoStepper)(nil)

func setupCommands(t *testing.T) (*core.Loopback, *fakeBus, *fakeUpdater) {
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

	if err := core.AllocateOids(4); err != nil {
		t.Fatalf("AllocateOids failed: %v", err)
	}
	bus := &fakeBus{}
	upd := &fakeUpdater{}
	if err := core.AllocOid(1, "spi", &core.SPIDevice{OID: 1, Bus: bus}); err != nil {
		t.Fatalf("AllocOid spi failed: %v", err)
	}
	if err := core.AllocOid(2, "servo_stepper", upd); err != nil {
		t.Fatalf("AllocOid servo failed: %v", err)
	}
	return lb, bus, upd
}

func TestConfigAndQueryCommands(t *testing.T) {
	lb, bus, upd := setupCommands(t)
	if err := lb.Call("config_spi_position", 3, 1, int32(ChipAS5047D), 2); err != nil {
		t.Fatalf("config_spi_position failed: %v", err)
	}
	p, err := core.LookupOid[*SPIPosition](3)
	if err != nil {
		t.Fatalf("LookupOid failed: %v", err)
	}

	bus.replies = [][]byte{{0x01, 0x00}}
	if err := p.Sample(); err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(upd.positions) != 1 || upd.positions[0] != 1024 {
		t.Errorf("Expected one update at 1024, got %v", upd.positions)
	}

	if err := lb.Call("query_last_spi_position", 3); err != nil {
		t.Fatalf("query_last_spi_position failed: %v", err)
	}
	resp, ok := lb.Last("spi_position_result")
	if !ok {
		t.Fatal("Expected a spi_position_result response")
	}
	vals, err := resp.Ints()
	if err != nil {
		t.Fatalf("Ints failed: %v", err)
	}
	if len(vals) != 3 || vals[0] != 3 || vals[2] != 1024 {
		t.Errorf("Expected [3 _ 1024], got %v", vals)
	}
}

func TestCalibrationCommand(t *testing.T) {
	lb, bus, upd := setupCommands(t)
	if err := lb.Call("config_spi_position", 3, 1, int32(ChipA1333), 2); err != nil {
		t.Fatalf("config_spi_position failed: %v", err)
	}
	for i := int32(0); i < CalibrationCount; i++ {
		if err := lb.Call("set_spi_position_calibration", 3, i, i*2048+16); err != nil {
			t.Fatalf("set_spi_position_calibration failed: %v", err)
		}
	}
	p, _ := core.LookupOid[*SPIPosition](3)
	bus.replies = [][]byte{a1333(0x040)}
	if err := p.Sample(); err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if upd.positions[0] != 1024+16 {
		t.Errorf("Expected calibrated position %d, got %d", 1024+16, upd.positions[0])
	}

	var shutdown *core.ShutdownError
	err := lb.Call("set_spi_position_calibration", 3, CalibrationCount, 0)
	if !errors.As(err, &shutdown) {
		t.Errorf("Expected ShutdownError for index %d, got %v", CalibrationCount, err)
	}
}

func TestConfigRejectsUnknownChip(t *testing.T) {
	lb, _, _ := setupCommands(t)
	var shutdown *core.ShutdownError
	err := lb.Call("config_spi_position", 3, 1, 7, 2)
	if !errors.As(err, &shutdown) {
		t.Fatalf("Expected ShutdownError, got %v", err)
	}
	if shutdown.Reason != "Invalid spi_position chip type" {
		t.Errorf("Expected chip type reason, got %q", shutdown.Reason)
	}
}

func TestScheduleCommand(t *testing.T) {
	lb, bus, upd := setupCommands(t)
	if err := lb.Call("config_spi_position", 3, 1, int32(ChipA1333), 2); err != nil {
		t.Fatalf("config_spi_position failed: %v", err)
	}
	p, _ := core.LookupOid[*SPIPosition](3)
	t.Cleanup(func() { p.Schedule(0, 0) })

	bus.replies = [][]byte{a1333(0x100), a1333(0x100)}
	core.SetTime(0)
	if err := lb.Call("schedule_spi_position", 3, 20, 10); err != nil {
		t.Fatalf("schedule_spi_position failed: %v", err)
	}
	core.SetTime(30)
	core.ProcessTimers()
	if len(upd.positions) != 2 {
		t.Errorf("Expected 2 reads by clock 30, got %d", len(upd.positions))
	}
}
