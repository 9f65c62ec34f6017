package mechaduino

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// Calibration run timing
const (
	calibrationMoveTime = 100 * time.Millisecond
	calibrationSettle   = 50 * time.Millisecond
	calibrationQueries  = 10
	calibrationQueryGap = 10 * time.Millisecond
	warmupFullSteps     = 16
)

// CalibrationResult is the outcome of a calibration run
type CalibrationResult struct {
	// Angles holds the averaged sensor angle of each full step, starting
	// at the step with the lowest angle
	Angles []float64
	// StartStep is the full step index the angles start at
	StartStep int
	// Stddev is the standard deviation of the queries around each average
	Stddev  float64
	Queries int
	Invert  bool
}

// Calibrate steps the motor through one revolution in open loop,
// sampling the sensor at each full step. It restores the identity table
// first and disables the motor when done.
func (s *Servo) Calibrate(ctx context.Context, invert bool) (*CalibrationResult, error) {
	fullSteps := int(s.cfg.FullStepsPerRotation)
	oldMode := s.SetServoMode(ModeOpenLoop)
	defer s.SetServoMode(oldMode)

	if err := s.ApplyCalibration(ctx, BaseCalibration()); err != nil {
		return nil, err
	}
	if err := s.SetOpenLoop(ctx); err != nil {
		return nil, err
	}

	dir := 0
	if invert {
		dir = 1
	}
	if err := s.moveFullSteps(ctx, dir, warmupFullSteps); err != nil {
		return nil, err
	}

	samples := make(map[int][]float64, fullSteps)
	for i := fullSteps - 1; i >= 0; i-- {
		if err := s.moveFullSteps(ctx, dir, 1); err != nil {
			return nil, err
		}
		if err := s.sleep(ctx, calibrationSettle); err != nil {
			return nil, err
		}
		for j := 0; j < calibrationQueries; j++ {
			pos, err := s.EncoderPosition(ctx)
			if err != nil {
				return nil, err
			}
			samples[i] = append(samples[i], float64(pos&0xFFFF))
			if err := s.sleep(ctx, calibrationQueryGap); err != nil {
				return nil, err
			}
		}
	}
	if err := s.Disable(ctx); err != nil {
		return nil, err
	}

	res, err := summarizeCalibration(samples, fullSteps)
	if err != nil {
		return nil, err
	}
	res.Invert = invert
	s.logger.Printf("mechaduino calibration: Stddev=%.3f (%d of %d queries)",
		res.Stddev, res.Queries, fullSteps*calibrationQueries)
	return res, nil
}

// summarizeCalibration averages the samples of each step and orders the
// steps from the lowest angle
func summarizeCalibration(samples map[int][]float64, fullSteps int) (*CalibrationResult, error) {
	angles := make(map[int]float64, len(samples))
	unique := make(map[float64]int, len(samples))
	count, variance := 0, 0.
	for step, data := range samples {
		sum := 0.
		for _, d := range data {
			sum += d
		}
		avg := sum / float64(len(data))
		angles[step] = avg
		unique[avg] = step
		count += len(data)
		for _, d := range data {
			variance += (d - avg) * (d - avg)
		}
	}
	if len(unique) != fullSteps {
		return nil, fmt.Errorf("failed calibration - didn't find %d unique steps", fullSteps)
	}

	sorted := make([]float64, 0, len(unique))
	for a := range unique {
		sorted = append(sorted, a)
	}
	sort.Float64s(sorted)
	minStep := unique[sorted[0]]

	res := &CalibrationResult{StartStep: minStep, Queries: count}
	for i := 0; i < fullSteps; i++ {
		res.Angles = append(res.Angles, angles[(i+minStep)%fullSteps])
	}
	res.Stddev = math.Sqrt(variance / float64(count))
	return res, nil
}

// moveFullSteps queues n full steps on the virtual stepper and waits for
// them to complete
func (s *Servo) moveFullSteps(ctx context.Context, dir, n int) error {
	micro := s.cfg.Microsteps * n
	if micro == 0 {
		return nil
	}
	moveTicks := s.clockFreq * calibrationMoveTime.Seconds() * float64(n)
	interval := uint32(moveTicks / float64(micro))

	clock, err := s.Clock(ctx)
	if err != nil {
		return err
	}
	// Leave the MCU time to receive the move before its first step
	start := clock + uint32(s.clockFreq/100)
	if err := s.link.Send(ctx, "virtual_reset_step_clock", oidStepper, start); err != nil {
		return fmt.Errorf("virtual_reset_step_clock: %w", err)
	}
	if err := s.link.Send(ctx, "virtual_set_next_step_dir", oidStepper, dir); err != nil {
		return fmt.Errorf("virtual_set_next_step_dir: %w", err)
	}
	for micro > 0 {
		count := micro
		if count > 0xFFFF {
			count = 0xFFFF
		}
		if err := s.link.Send(ctx, "virtual_queue_step", oidStepper, interval, count, 0); err != nil {
			return fmt.Errorf("virtual_queue_step: %w", err)
		}
		micro -= count
	}
	return s.sleep(ctx, time.Duration(n)*calibrationMoveTime+10*time.Millisecond)
}

// FormatAngles renders angles as the calibrate config value, eight per line
func FormatAngles(angles []float64) string {
	var b []byte
	for i, a := range angles {
		if i > 0 {
			if i%8 == 0 {
				b = append(b, ",\n"...)
			} else {
				b = append(b, ", "...)
			}
		}
		b = append(b, fmt.Sprintf("%.1f", a)...)
	}
	return string(b)
}
