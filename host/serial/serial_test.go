package serial

import "testing"

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig("/dev/ttyACM0")
	if c.Baud != 250000 {
		t.Errorf("Expected baud 250000, got %d", c.Baud)
	}
	if c.ReadTimeout != 100 {
		t.Errorf("Expected read timeout 100, got %d", c.ReadTimeout)
	}
}

func TestApplyDefaultsKeepsSetFields(t *testing.T) {
	c := &Config{Device: "/dev/ttyUSB0", Baud: 115200}
	c.ApplyDefaults()
	if c.Baud != 115200 {
		t.Errorf("Expected baud 115200, got %d", c.Baud)
	}
	if c.ReadTimeout != 100 {
		t.Errorf("Expected read timeout 100, got %d", c.ReadTimeout)
	}
}

func TestOpenNilConfig(t *testing.T) {
	if _, err := Open(nil); err == nil {
		t.Error("Expected an error for a nil config")
	}
}
