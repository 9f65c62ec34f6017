package core

import "testing"

func resetScheduler(t *testing.T, now uint32) {
	t.Helper()
	clearTimers()
	SetTime(now)
	t.Cleanup(clearTimers)
}

func TestTimerIsBefore(t *testing.T) {
	tests := []struct {
		a, b uint32
		want bool
	}{
		{1, 2, true},
		{2, 1, false},
		{5, 5, false},
		{0xFFFFFFF0, 0x10, true},
		{0x10, 0xFFFFFFF0, false},
	}
	for _, tt := range tests {
		if got := TimerIsBefore(tt.a, tt.b); got != tt.want {
			t.Errorf("TimerIsBefore(%#x, %#x): Expected %v, got %v", tt.a, tt.b, tt.want, got)
		}
	}
}

func TestTimerOrderAcrossWrap(t *testing.T) {
	resetScheduler(t, 0xFFFFFFF0)

	var order []string
	late := &Timer{WakeTime: 0x8, Handler: func(*Timer) uint8 { order = append(order, "late"); return SF_DONE }}
	early := &Timer{WakeTime: 0xFFFFFFF8, Handler: func(*Timer) uint8 { order = append(order, "early"); return SF_DONE }}
	ScheduleTimer(late)
	ScheduleTimer(early)

	ProcessTimers()
	if len(order) != 0 {
		t.Fatalf("Expected no timers due yet, got %v", order)
	}

	SetTime(0xFFFFFFF8)
	ProcessTimers()
	if len(order) != 1 || order[0] != "early" {
		t.Fatalf("Expected early timer only, got %v", order)
	}

	SetTime(0x8)
	ProcessTimers()
	if len(order) != 2 || order[1] != "late" {
		t.Errorf("Expected late timer after wrap, got %v", order)
	}
	if pendingTimers() != 0 {
		t.Errorf("Expected empty schedule, got %d timers", pendingTimers())
	}
}

func TestTimerReschedule(t *testing.T) {
	resetScheduler(t, 0)

	var fired []uint32
	timer := &Timer{WakeTime: 100}
	timer.Handler = func(tm *Timer) uint8 {
		fired = append(fired, tm.WakeTime)
		if len(fired) == 3 {
			return SF_DONE
		}
		tm.WakeTime += 50
		return SF_RESCHEDULE
	}
	ScheduleTimer(timer)

	SetTime(1000)
	ProcessTimers()

	if len(fired) != 3 || fired[0] != 100 || fired[1] != 150 || fired[2] != 200 {
		t.Errorf("Expected firings at 100, 150, 200, got %v", fired)
	}
}

func TestDeleteTimer(t *testing.T) {
	resetScheduler(t, 0)

	ran := false
	a := &Timer{WakeTime: 10, Handler: func(*Timer) uint8 { ran = true; return SF_DONE }}
	b := &Timer{WakeTime: 20, Handler: func(*Timer) uint8 { return SF_DONE }}
	ScheduleTimer(a)
	ScheduleTimer(b)
	DeleteTimer(a)

	if pendingTimers() != 1 {
		t.Errorf("Expected 1 pending timer, got %d", pendingTimers())
	}
	SetTime(30)
	ProcessTimers()
	if ran {
		t.Error("Deleted timer ran")
	}
}

func TestShutdownFromTimerStopsSchedule(t *testing.T) {
	resetScheduler(t, 0)
	ClearShutdown()
	defer ClearShutdown()

	other := &Timer{WakeTime: 20, Handler: func(*Timer) uint8 { return SF_DONE }}
	failing := &Timer{WakeTime: 10, Handler: func(tm *Timer) uint8 {
		TryShutdown("timer fault")
		tm.WakeTime += 5
		return SF_RESCHEDULE
	}}
	ScheduleTimer(other)
	ScheduleTimer(failing)

	SetTime(12)
	ProcessTimers()
	if pendingTimers() != 0 {
		t.Errorf("Expected schedule cleared by shutdown, got %d timers", pendingTimers())
	}
}
