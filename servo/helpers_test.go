package servo

import (
	"testing"

	"servostep/core"
)

type phaseWrite struct {
	phase, current uint32
	smooth         bool
}

// fakeDriver records everything the controller asks of the coils
type fakeDriver struct {
	enabled   bool
	resets    int
	writes    []phaseWrite
	lastPhase uint32
	updates   int
}

func (d *fakeDriver) Enable()  { d.enabled = true }
func (d *fakeDriver) Disable() { d.enabled = false }
func (d *fakeDriver) Reset()   { d.resets++ }
func (d *fakeDriver) SetPhase(phase, current uint32) {
	d.writes = append(d.writes, phaseWrite{phase: phase, current: current})
}
func (d *fakeDriver) MoveToPhase(phase, current uint32) {
	d.writes = append(d.writes, phaseWrite{phase: phase, current: current, smooth: true})
}
func (d *fakeDriver) UpdateLastPhase(phase uint32) {
	d.lastPhase = phase
	d.updates++
}

func (d *fakeDriver) last(t *testing.T) phaseWrite {
	t.Helper()
	if len(d.writes) == 0 {
		t.Fatal("Expected a driver write, got none")
	}
	return d.writes[len(d.writes)-1]
}

type fakeSource struct {
	position uint32
}

func (f *fakeSource) GetPosition() uint32  { return f.position }
func (f *fakeSource) SetPosition(p uint32) { f.position = p }

// fakeClock advances by step on every read
type fakeClock struct {
	t    uint32
	step uint32
}

func (c *fakeClock) now() uint32 {
	v := c.t
	c.t += c.step
	return v
}

func newTestStepper(t *testing.T, cfg Config) (*ServoStepper, *fakeDriver, *fakeSource, *fakeClock) {
	t.Helper()
	core.ClearShutdown()
	t.Cleanup(core.ClearShutdown)

	drv := &fakeDriver{}
	src := &fakeSource{}
	clk := &fakeClock{step: 1}
	s := NewServoStepper(0, drv, src, 200, 1, cfg)
	s.now = clk.now
	return s, drv, src, clk
}

// calibrated returns a stepper that finished calibration at sensor
// position 1000 with the commanded position at zero
func calibrated(t *testing.T, cfg Config) (*ServoStepper, *fakeDriver, *fakeSource, *fakeClock) {
	t.Helper()
	s, drv, src, clk := newTestStepper(t, cfg)
	if err := s.SetMode(uint8(ModeOpenLoop), 32, 16, 0, 0, 0); err != nil {
		t.Fatalf("SetMode open loop failed: %v", err)
	}
	if err := s.SetMode(uint8(ModeHpid), 32, 16, 50, 2, 5); err != nil {
		t.Fatalf("SetMode hpid failed: %v", err)
	}
	for i := uint16(0); i < cfg.CalibrationSamples+cfg.HoldDelayTicks; i++ {
		s.Update(1000)
	}
	if s.Mode() != ModeHpid {
		t.Fatalf("Expected mode hpid after calibration, got %v", s.Mode())
	}
	return s, drv, src, clk
}
