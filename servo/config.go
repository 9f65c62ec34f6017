package servo

// AveragePolicy selects how calibration samples are averaged
type AveragePolicy uint8

const (
	// AverageCumulative sums the samples and divides once at the end
	AverageCumulative AveragePolicy = iota
	// AverageMoving keeps an incremental mean weighted by sample count
	AverageMoving
)

// ClampPolicy selects where the error clamp applies
type ClampPolicy uint8

const (
	// ClampStored clamps the running error itself
	ClampStored ClampPolicy = iota
	// ClampLocal leaves the running error unbounded and clamps only the
	// copy used by the control terms
	ClampLocal
)

// GuardPolicy selects which modes may enter closed loop
type GuardPolicy uint8

const (
	// GuardFromOpenLoop requires the motor to be in open loop before
	// calibration starts
	GuardFromOpenLoop GuardPolicy = iota
	// GuardAny allows calibration from any mode
	GuardAny
)

// TorqueSource selects the position a torque mode excite angle is added to
type TorqueSource uint8

const (
	// TorqueFromSensor leads the measured rotor position
	TorqueFromSensor TorqueSource = iota
	// TorqueFromCommanded leads the open loop phase of the commanded position
	TorqueFromCommanded
)

// Config holds the tunables of the control loop
type Config struct {
	// TimeScaleShift converts clock ticks to controller time units
	TimeScaleShift uint8
	// AllowableError is the hold band of the hybrid controller (phase units)
	AllowableError int32
	// CalibrationSamples is the number of sensor samples averaged on entry
	CalibrationSamples uint16
	// HoldDelayTicks energizes the coils this many ticks before sampling
	HoldDelayTicks uint16

	Average      AveragePolicy
	ErrorClamp   ClampPolicy
	EntryGuard   GuardPolicy
	Torque       TorqueSource
	SmoothOutput bool // route corrections through Driver.MoveToPhase
	// ResetReference zeroes the position source and the driver's phase
	// tracking when calibration starts
	ResetReference bool
}

// DefaultConfig returns the configuration used for new servo steppers.
// With the 1MHz clock a time unit is 128us, close to the 6kHz update rate.
func DefaultConfig() Config {
	return Config{
		TimeScaleShift:     7,
		AllowableError:     32,
		CalibrationSamples: 9,
	}
}
