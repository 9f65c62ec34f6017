package core

// TimerFreq is the rate of the MCU clock (RP2040 microsecond timer)
const TimerFreq = 1000000

var (
	systemTicks uint32
	bootTime    uint64 // Time at boot for uptime calculation
)

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// GetUptime returns 64-bit uptime in timer ticks
func GetUptime() uint64 {
	return uint64(GetTime())
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / TimerFreq)
}

// TimerInit initializes the system timer
func TimerInit() {
	bootTime = uint64(GetTime())
	RegisterConstant("CLOCK_FREQ", uint32(TimerFreq))
}

// ProcessTimers runs every timer that is due at the current time
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}
