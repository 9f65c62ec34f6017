package core

// Virtual stepper: a step generator with no step pin. It runs Klipper's
// queue_step move schedule and only tracks the commanded position, which
// a servo stepper follows.

import (
	"sync/atomic"
)

const (
	// Queue size for pending moves
	StepperQueueSize = 16
)

// StepperMove represents a single queued move segment
type StepperMove struct {
	Interval uint32 // Ticks before the first step
	Count    uint16 // Number of steps in this move
	Add      int16  // Added to the interval after each step
	Dir      uint8  // Non-zero steps the position up
}

// VirtualStepper tracks the position commanded by queued moves
type VirtualStepper struct {
	OID uint8

	position uint32 // atomic; read from timer context by the servo loop
	nextDir  uint8

	queue     [StepperQueueSize]StepperMove
	queueHead uint8
	queueTail uint8

	timer Timer

	// Current move state
	interval     uint32
	count        uint16
	add          int16
	dir          uint8
	lastStepTime uint32
	active       bool
}

// NewVirtualStepper creates an idle stepper at position zero
func NewVirtualStepper(oid uint8) *VirtualStepper {
	s := &VirtualStepper{OID: oid}
	s.timer.Handler = s.stepEvent
	return s
}

// QueueMove appends a move. The stepper starts on its own when idle.
func (s *VirtualStepper) QueueMove(interval uint32, count uint16, add int16) error {
	if count == 0 {
		return Shutdown("Invalid count parameter")
	}

	state := IRQDisable()
	defer IRQRestore(state)

	nextTail := (s.queueTail + 1) % StepperQueueSize
	if nextTail == s.queueHead {
		return Shutdown("Move queue overflow")
	}
	s.queue[s.queueTail] = StepperMove{
		Interval: interval,
		Count:    count,
		Add:      add,
		Dir:      s.nextDir,
	}
	s.queueTail = nextTail
	RecordTiming(EvtQueueStep, s.OID, GetTime(), interval, uint32(count))

	if !s.active {
		s.loadNextMove()
		s.active = true
		insertTimer(&s.timer)
	}
	return nil
}

// loadNextMove pops the next move into the current move state and sets the
// timer for its first step. Caller holds the critical section and has
// checked the queue is not empty.
func (s *VirtualStepper) loadNextMove() {
	m := s.queue[s.queueHead]
	s.queueHead = (s.queueHead + 1) % StepperQueueSize

	s.count = m.Count
	s.dir = m.Dir
	s.add = m.Add
	s.timer.WakeTime = s.lastStepTime + m.Interval
	s.interval = m.Interval + uint32(int32(m.Add))
	RecordTiming(EvtLoadMove, s.OID, s.timer.WakeTime, uint32(m.Count), 0)
}

// stepEvent runs one step from timer context
func (s *VirtualStepper) stepEvent(t *Timer) uint8 {
	if s.dir != 0 {
		atomic.AddUint32(&s.position, 1)
	} else {
		atomic.AddUint32(&s.position, ^uint32(0))
	}
	s.lastStepTime = t.WakeTime

	s.count--
	if s.count > 0 {
		t.WakeTime += s.interval
		s.interval += uint32(int32(s.add))
		return SF_RESCHEDULE
	}

	if s.queueHead == s.queueTail {
		s.active = false
		return SF_DONE
	}
	s.loadNextMove()
	return SF_RESCHEDULE
}

// SetNextDir sets the direction for the next queued move
func (s *VirtualStepper) SetNextDir(dir uint8) {
	state := IRQDisable()
	defer IRQRestore(state)
	s.nextDir = dir
}

// ResetClock sets the reference time the next move's interval counts from
func (s *VirtualStepper) ResetClock(clock uint32) {
	state := IRQDisable()
	defer IRQRestore(state)
	s.lastStepTime = clock
	RecordTiming(EvtResetClock, s.OID, GetTime(), clock, 0)
}

// GetPosition returns the commanded position in steps. Safe from timer
// context.
func (s *VirtualStepper) GetPosition() uint32 {
	return atomic.LoadUint32(&s.position)
}

// SetPosition overwrites the commanded position
func (s *VirtualStepper) SetPosition(position uint32) {
	atomic.StoreUint32(&s.position, position)
}

// IsActive returns true if the stepper has pending moves
func (s *VirtualStepper) IsActive() bool {
	state := IRQDisable()
	defer IRQRestore(state)
	return s.active
}

// QueueCount returns the number of moves waiting behind the current one
func (s *VirtualStepper) QueueCount() uint8 {
	state := IRQDisable()
	defer IRQRestore(state)
	return (s.queueTail + StepperQueueSize - s.queueHead) % StepperQueueSize
}

// OnShutdown drops pending moves. The timer list is already cleared.
// Runs without the critical section, which the caller may hold.
func (s *VirtualStepper) OnShutdown() {
	s.count = 0
	s.queueHead = 0
	s.queueTail = 0
	s.active = false
}
