package core

// Timer represents a scheduled event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var (
	timerList   *Timer
	currentTime uint32
)

// TimerIsBefore compares two clock values across 32-bit wraparound
func TimerIsBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// ScheduleTimer adds a timer to the schedule.
// Must not be called from a timer handler; return SF_RESCHEDULE instead.
func ScheduleTimer(t *Timer) {
	state := IRQDisable()
	defer IRQRestore(state)

	insertTimer(t)
}

// DeleteTimer removes a timer from the schedule if it is pending
func DeleteTimer(t *Timer) {
	state := IRQDisable()
	defer IRQRestore(state)

	removeTimer(t)
}

// insertTimer inserts a timer in sorted order by WakeTime
// Must be called with the critical section held
func insertTimer(t *Timer) {
	if timerList == nil || TimerIsBefore(t.WakeTime, timerList.WakeTime) {
		t.Next = timerList
		timerList = t
		return
	}

	current := timerList
	for current.Next != nil && !TimerIsBefore(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// removeTimer unlinks t. Must be called with the critical section held
func removeTimer(t *Timer) {
	if timerList == t {
		timerList = t.Next
		t.Next = nil
		return
	}
	for cur := timerList; cur != nil; cur = cur.Next {
		if cur.Next == t {
			cur.Next = t.Next
			t.Next = nil
			return
		}
	}
}

// clearTimers drops every pending timer. Used on shutdown, which may run
// from inside TimerDispatch, so it does not take the critical section.
func clearTimers() {
	for t := timerList; t != nil; {
		next := t.Next
		t.Next = nil
		t = next
	}
	timerList = nil
}

// pendingTimers returns the number of scheduled timers
func pendingTimers() int {
	n := 0
	for t := timerList; t != nil; t = t.Next {
		n++
	}
	return n
}

// TimerDispatch processes due timers
func TimerDispatch() {
	state := IRQDisable()
	defer IRQRestore(state)

	for timerList != nil && !TimerIsBefore(currentTime, timerList.WakeTime) {
		timer := timerList
		timerList = timer.Next
		timer.Next = nil

		result := timer.Handler(timer)

		// A handler that shut the firmware down has already cleared the list
		if result == SF_RESCHEDULE && !IsShutdown() {
			insertTimer(timer)
		}
	}
}
