package mechaduino

import (
	"math"
	"strings"
	"testing"
)

func idealAngles(n int) []float64 {
	angles := make([]float64, n)
	for i := range angles {
		angles[i] = float64(i) * 65536 / float64(n)
	}
	return angles
}

func TestBaseCalibration(t *testing.T) {
	cal := BaseCalibration()
	if len(cal) != CalibrationCount || cal[1] != 2048 || cal[31] != 63488 {
		t.Errorf("Expected identity table, got %v", cal)
	}
}

func TestIdealAnglesKeepIdentity(t *testing.T) {
	angles := idealAngles(200)
	for _, e := range CalibrationError(BaseCalibration(), angles) {
		if math.Abs(e) > 0.5 {
			t.Fatalf("Expected near zero error on ideal angles, got %v", e)
		}
	}
	cal := GetCalibration(angles)
	for i, v := range cal {
		if d := v - i*2048; d < -1 || d > 1 {
			t.Errorf("Entry %d: expected about %d, got %d", i, i*2048, v)
		}
	}
}

func TestCalibrationReducesError(t *testing.T) {
	angles := idealAngles(200)
	for i := range angles {
		// Sensor reads a sinusoidal error of up to 300 counts per turn
		angles[i] += 300 * math.Sin(2*math.Pi*float64(i)/200)
	}
	total := func(cal []int) float64 {
		sum := 0.
		for _, e := range CalibrationError(cal, angles) {
			sum += math.Abs(e)
		}
		return sum
	}
	before := total(BaseCalibration())
	after := total(GetCalibration(angles))
	if after >= before {
		t.Errorf("Expected calibration to reduce the error, got %.0f -> %.0f", before, after)
	}
}

func TestTableFromAngles(t *testing.T) {
	if cal := TableFromAngles(nil, true); cal[1] != 2048 {
		t.Errorf("Expected identity table without angles, got %v", cal)
	}
	fwd := TableFromAngles(idealAngles(200), false)
	rev := TableFromAngles(idealAngles(200), true)
	if rev[0] != fwd[CalibrationCount-1] || rev[CalibrationCount-1] != fwd[0] {
		t.Error("Expected the inverted table to be reversed")
	}
}

func TestFloorDiv(t *testing.T) {
	tests := []struct{ a, b, q, m int }{
		{7, 2, 3, 1},
		{-7, 2, -4, 1},
		{-4, 2, -2, 0},
	}
	for _, tt := range tests {
		if q := floorDiv(tt.a, tt.b); q != tt.q {
			t.Errorf("floorDiv(%d, %d): expected %d, got %d", tt.a, tt.b, tt.q, q)
		}
		if m := floorMod(tt.a, tt.b); m != tt.m {
			t.Errorf("floorMod(%d, %d): expected %d, got %d", tt.a, tt.b, tt.m, m)
		}
	}
}

func TestFormatAngles(t *testing.T) {
	got := FormatAngles(idealAngles(10))
	if !strings.HasPrefix(got, "0.0, 6553.6, 13107.2") {
		t.Errorf("Unexpected formatting: %q", got)
	}
	if strings.Count(got, "\n") != 1 {
		t.Errorf("Expected one line break for 10 angles, got %q", got)
	}
}
