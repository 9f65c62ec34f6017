package servo

import (
	"testing"

	"servostep/core"
)

func startCalibration(t *testing.T, cfg Config) (*ServoStepper, *fakeDriver, *fakeSource) {
	t.Helper()
	s, drv, src, _ := newTestStepper(t, cfg)
	s.SetMode(uint8(ModeOpenLoop), 32, 16, 0, 0, 0)
	if err := s.SetMode(uint8(ModePidInit), 32, 16, 50, 2, 5); err != nil {
		t.Fatalf("SetMode pid init failed: %v", err)
	}
	return s, drv, src
}

func TestCalibrationHoldsCommandedPhase(t *testing.T) {
	s, drv, src := startCalibration(t, DefaultConfig())
	src.position = 3
	s.Update(1000)
	if w := drv.last(t); w.phase != 3 || w.current != 32 {
		t.Errorf("Expected set_phase(3, 32), got set_phase(%d, %d)", w.phase, w.current)
	}
}

func TestCalibrationVarianceBoundary(t *testing.T) {
	s, _, _ := startCalibration(t, DefaultConfig())
	s.Update(1000)
	// 328 counts at 200 steps/rev rounds to exactly one full step
	s.Update(1328)
	if core.IsShutdown() {
		t.Fatalf("Unexpected shutdown: %s", core.ShutdownReason())
	}

	s, _, _ = startCalibration(t, DefaultConfig())
	s.Update(1000)
	s.Update(1329)
	if !core.IsShutdown() {
		t.Fatal("Expected shutdown on excessive encoder variance")
	}
	if core.ShutdownReason() != "encoder variance too large" {
		t.Errorf("Expected reason 'encoder variance too large', got '%s'", core.ShutdownReason())
	}
	if s.Mode() != ModePidInit {
		t.Errorf("Expected mode to stay pid_init, got %v", s.Mode())
	}
}

func TestCalibrationAveraging(t *testing.T) {
	tests := []struct {
		name    string
		policy  AveragePolicy
		samples [2]uint32
		want    uint32
	}{
		{"cumulative", AverageCumulative, [2]uint32{1000, 1002}, 1001},
		{"moving", AverageMoving, [2]uint32{1000, 1002}, 1001},
		{"cumulative wrap", AverageCumulative, [2]uint32{0xFFFFFFFF, 1}, 0},
		{"moving wrap", AverageMoving, [2]uint32{0xFFFFFFFF, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Average = tt.policy
			s, _, _ := startCalibration(t, cfg)
			for i := 0; i < 9; i++ {
				s.Update(tt.samples[i%2])
			}
			if s.Mode() != ModeHpid {
				t.Fatalf("Expected hpid, got %v", s.Mode())
			}
			if enc, _ := s.Offsets(); enc != tt.want {
				t.Errorf("Expected encoder offset %d, got %d", tt.want, enc)
			}
		})
	}
}

func TestCalibrationPhaseOffset(t *testing.T) {
	s, _, src := startCalibration(t, DefaultConfig())
	src.position = 10
	for i := 0; i < 9; i++ {
		s.Update(1000)
	}
	// PositionToPhase(200, 1000) = 781, commanded phase 10
	if _, phase := s.Offsets(); phase != 771 {
		t.Errorf("Expected phase offset 771, got %d", phase)
	}
}

func TestCalibrationHoldDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HoldDelayTicks = 3
	s, drv, _ := startCalibration(t, cfg)

	// Readings while the rotor settles are ignored
	for _, pos := range []uint32{50000, 90000, 7} {
		s.Update(pos)
	}
	if core.IsShutdown() {
		t.Fatalf("Unexpected shutdown: %s", core.ShutdownReason())
	}
	if s.pid.initCount != 0 {
		t.Errorf("Expected no samples taken, got %d", s.pid.initCount)
	}
	if len(drv.writes) != 3 {
		t.Errorf("Expected coils energized on every settle tick, got %d writes", len(drv.writes))
	}

	for i := 0; i < 9; i++ {
		s.Update(1000)
	}
	if enc, _ := s.Offsets(); s.Mode() != ModeHpid || enc != 1000 {
		t.Errorf("Expected hpid with offset 1000, got %v with %d", s.Mode(), enc)
	}
}

func TestResetReference(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResetReference = true
	s, drv, src, _ := newTestStepper(t, cfg)
	s.SetMode(uint8(ModeOpenLoop), 32, 16, 0, 0, 0)
	src.position = 50

	s.SetMode(uint8(ModePidInit), 32, 16, 50, 2, 5)
	if src.position != 0 {
		t.Errorf("Expected position source zeroed, got %d", src.position)
	}
	if drv.resets != 2 {
		t.Errorf("Expected 2 driver resets, got %d", drv.resets)
	}

	cfg.ResetReference = false
	s, drv, src, _ = newTestStepper(t, cfg)
	s.SetMode(uint8(ModeOpenLoop), 32, 16, 0, 0, 0)
	src.position = 50
	s.SetMode(uint8(ModePidInit), 32, 16, 50, 2, 5)
	if src.position != 50 || drv.resets != 1 {
		t.Errorf("Expected reference kept, got position %d resets %d", src.position, drv.resets)
	}
}

func TestRecalibrationKeepsMaxLoopTime(t *testing.T) {
	s, _, _, clk := calibrated(t, DefaultConfig())
	clk.step = 7
	s.Update(1000)

	s.SetMode(uint8(ModeOpenLoop), 32, 16, 0, 0, 0)
	s.SetMode(uint8(ModePidInit), 32, 16, 50, 2, 5)
	if _, maxLoop := s.Stats(); maxLoop != 7 {
		t.Errorf("Expected max loop time 7 to survive recalibration, got %d", maxLoop)
	}
}
