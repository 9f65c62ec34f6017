package mechaduino

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"servostep/host/mcu"
)

const linkDict = `{"version":"test","config":{"PWM_MAX":"255","CLOCK_FREQ":"1000000"},"commands":{},"responses":{}}`

// fakeLink records sends and simulates a motor whose sensor reads the
// ideal angle of the commanded full step
type fakeLink struct {
	t         *testing.T
	dict      *mcu.Dictionary
	sent      []Command
	config    mcu.Params
	fullSteps int
	micro     int
	position  int // microsteps
	dir       int
}

func newFakeLink(t *testing.T, fullSteps, micro int) *fakeLink {
	d, err := mcu.ParseDictionary([]byte(linkDict))
	if err != nil {
		t.Fatalf("ParseDictionary failed: %v", err)
	}
	return &fakeLink{
		t:         t,
		dict:      d,
		config:    mcu.Params{"is_config": uint32(0), "crc": uint32(0), "is_shutdown": uint32(0)},
		fullSteps: fullSteps,
		micro:     micro,
	}
}

func (l *fakeLink) Dictionary() *mcu.Dictionary { return l.dict }

func (l *fakeLink) Send(ctx context.Context, name string, args ...interface{}) error {
	l.sent = append(l.sent, Command{name, args})
	switch name {
	case "virtual_set_next_step_dir":
		l.dir = args[1].(int)
	case "virtual_queue_step":
		n := args[2].(int)
		if l.dir == 0 {
			n = -n
		}
		l.position += n
	}
	return nil
}

func (l *fakeLink) Query(ctx context.Context, respName string, match func(mcu.Params) bool, name string, args ...interface{}) (mcu.Params, error) {
	l.sent = append(l.sent, Command{name, args})
	switch name {
	case "get_config":
		return l.config, nil
	case "get_clock":
		return mcu.Params{"clock": uint32(5000)}, nil
	case "query_last_spi_position":
		steps := l.position / l.micro
		angle := uint32(steps*65536/l.fullSteps) & 0xFFFF
		return mcu.Params{"oid": uint32(oidSensor), "position": angle}, nil
	case "servo_stepper_get_stats":
		return mcu.Params{"oid": uint32(oidServo), "error": int32(-7), "max_loop_time": uint32(12)}, nil
	}
	l.t.Fatalf("unexpected query %s", name)
	return nil, nil
}

func (l *fakeLink) count(name string) int {
	n := 0
	for _, c := range l.sent {
		if c.Name == name {
			n++
		}
	}
	return n
}

func (l *fakeLink) last(name string) Command {
	for i := len(l.sent) - 1; i >= 0; i-- {
		if l.sent[i].Name == name {
			return l.sent[i]
		}
	}
	l.t.Fatalf("no %s sent", name)
	return Command{}
}

func newTestServo(t *testing.T, link *fakeLink) *Servo {
	t.Helper()
	cfg, err := ParseConfig([]byte(testConfig))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	cfg.FullStepsPerRotation = uint32(link.fullSteps)
	s, err := New(cfg, link, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestCurrentScale(t *testing.T) {
	s := newTestServo(t, newFakeLink(t, 200, 16))
	// 1.2A * 10 * 0.15 / 3.3 * 255
	if got := s.CurrentScale(1.2); got != 139 {
		t.Errorf("Expected 139, got %d", got)
	}
	if got := s.CurrentScale(5); got != 139 {
		t.Errorf("Expected clamp to run current 139, got %d", got)
	}
	if got := s.CurrentScale(-1); got != 0 {
		t.Errorf("Expected 0 for negative current, got %d", got)
	}
	if got := s.RestTicks(); got != 166 {
		t.Errorf("Expected 166 rest ticks, got %d", got)
	}
}

func TestConfigure(t *testing.T) {
	link := newFakeLink(t, 200, 16)
	s := newTestServo(t, link)
	if err := s.Configure(context.Background()); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	if link.count("set_spi_position_calibration") != CalibrationCount {
		t.Errorf("Expected %d calibration entries, got %d", CalibrationCount, link.count("set_spi_position_calibration"))
	}
	servo := link.last("config_servo_stepper")
	if servo.Args[3] != uint32(200) || servo.Args[4] != uint32(16) {
		t.Errorf("Expected 200 full steps and multiplier 16, got %v", servo.Args)
	}
	bus := link.last("spi_set_bus")
	if bus.Args[2] != uint32(3) || bus.Args[3] != uint32(10000000) {
		t.Errorf("Expected a1333 SPI mode 3 at 10MHz, got %v", bus.Args)
	}
	crc := link.last("finalize_config").Args[0].(uint32)
	if crc != ConfigCRC(s.ConfigCommands()) {
		t.Errorf("Expected crc %08x, got %08x", ConfigCRC(s.ConfigCommands()), crc)
	}
	sched := link.last("schedule_spi_position")
	if sched.Args[1] != uint32(5000+100000) || sched.Args[2] != uint32(166) {
		t.Errorf("Expected schedule at 105000 every 166, got %v", sched.Args)
	}

	// Already configured with the same crc: nothing is resent
	link.sent = nil
	link.config = mcu.Params{"is_config": uint32(1), "crc": crc, "is_shutdown": uint32(0)}
	if err := s.Configure(context.Background()); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if len(link.sent) != 1 {
		t.Errorf("Expected only get_config, got %v", link.sent)
	}

	link.config = mcu.Params{"is_config": uint32(1), "crc": crc + 1, "is_shutdown": uint32(0)}
	if err := s.Configure(context.Background()); err == nil {
		t.Error("Expected an error for a changed configuration")
	}
}

func TestModeCommands(t *testing.T) {
	link := newFakeLink(t, 200, 16)
	s := newTestServo(t, link)
	ctx := context.Background()

	if err := s.SetHpid(ctx); err != nil {
		t.Fatalf("SetHpid failed: %v", err)
	}
	got := link.last("servo_stepper_set_mode").Args
	want := []interface{}{oidServo, modeHpid, uint32(139), uint32(139), int16(512), int16(10), int16(0)}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("set_mode arg %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	if err := s.SetTorque(ctx, 64, 0.6); err != nil {
		t.Fatalf("SetTorque failed: %v", err)
	}
	got = link.last("servo_stepper_set_mode").Args
	if got[1] != modeTorque || got[2] != uint32(69) || got[3] != uint32(64) {
		t.Errorf("Expected torque with scale 69 excite 64, got %v", got)
	}

	if err := s.SetTorque(ctx, 64, 0); err != nil {
		t.Fatalf("SetTorque failed: %v", err)
	}
	if got = link.last("servo_stepper_set_mode").Args; got[1] != modeDisabled {
		t.Errorf("Expected zero current to disable, got mode %v", got[1])
	}

	s.SetServoMode(ModeHpid)
	link.sent = nil
	if err := s.Enable(ctx); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if link.count("servo_stepper_set_mode") != 2 || link.sent[1].Args[1] != modeHpid {
		t.Errorf("Expected open loop then hpid, got %v", link.sent)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Error != -7 || st.MaxLoopTime != 12 {
		t.Errorf("Expected error -7 max loop 12, got %+v", st)
	}
}

func TestCalibrate(t *testing.T) {
	link := newFakeLink(t, 8, 16)
	s := newTestServo(t, link)

	res, err := s.Calibrate(context.Background(), false)
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}
	if len(res.Angles) != 8 {
		t.Fatalf("Expected 8 angles, got %d", len(res.Angles))
	}
	for i, a := range res.Angles {
		if a != float64(i*8192) {
			t.Errorf("Angle %d: expected %d, got %v", i, i*8192, a)
		}
	}
	if res.Stddev != 0 || res.Queries != 80 {
		t.Errorf("Expected stddev 0 over 80 queries, got %v over %d", res.Stddev, res.Queries)
	}
	if mode := link.last("servo_stepper_set_mode").Args[1]; mode != modeDisabled {
		t.Errorf("Expected the motor disabled after calibration, got mode %v", mode)
	}
	if link.count("set_spi_position_calibration") != CalibrationCount {
		t.Errorf("Expected the identity table restored first, got %d entries", link.count("set_spi_position_calibration"))
	}
}

func TestCalibrateNeedsUniqueSteps(t *testing.T) {
	samples := map[int][]float64{0: {100}, 1: {100}, 2: {300}, 3: {400}}
	if _, err := summarizeCalibration(samples, 4); err == nil {
		t.Error("Expected an error when two steps read the same angle")
	}
}
