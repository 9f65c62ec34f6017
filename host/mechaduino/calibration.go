package mechaduino

import "math"

const (
	// CalibrationCount matches the MCU's calibration table size
	CalibrationCount = 32
	bucketSize       = 65536 / CalibrationCount
)

// BaseCalibration returns the identity calibration table
func BaseCalibration() []int {
	cal := make([]int, CalibrationCount)
	for i := range cal {
		cal[i] = i * bucketSize
	}
	return cal
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}

func angleBucket(angle float64) (int, int) {
	a := int(angle+.5) & 0xFFFF
	return a, a / bucketSize
}

// CalibrationError returns, for each full step angle, how far the
// calibrated angle lands from the ideal evenly spaced one
func CalibrationError(cal []int, angles []float64) []float64 {
	nominal := 65536. / float64(len(angles))
	out := make([]float64, len(angles))
	for step, angle := range angles {
		a, bucket := angleBucket(angle)
		cal1 := cal[bucket]
		diff := cal[(bucket+1)%CalibrationCount] - cal1
		diff = floorMod(diff+32768, 65536) - 32768
		adj := floorDiv((a%bucketSize)*diff+bucketSize/2, bucketSize)
		out[step] = float64(cal1+adj) - float64(step)*nominal
	}
	return out
}

// GetCalibration fits a calibration table to the measured angles of
// consecutive full steps, starting from the identity table and stopping
// once the total error no longer improves
func GetCalibration(angles []float64) []int {
	cal := BaseCalibration()
	best := math.Inf(1)
	for {
		errs := CalibrationError(cal, angles)
		total := 0.
		for _, e := range errs {
			total += math.Abs(e)
		}
		if total >= best {
			return cal
		}

		buckets := make([][]float64, CalibrationCount)
		for i, angle := range angles {
			_, bucket := angleBucket(angle)
			buckets[bucket] = append(buckets[bucket], errs[i])
		}
		next := make([]int, CalibrationCount)
		for i := range next {
			data := append(append([]float64(nil), buckets[i]...), buckets[(i+CalibrationCount-1)%CalibrationCount]...)
			if len(data) == 0 {
				next[i] = cal[i]
				continue
			}
			sum := 0.
			for _, d := range data {
				sum += d
			}
			next[i] = cal[i] - int(sum/float64(len(data))+.5)
		}
		cal = next
		best = total
	}
}

// TableFromAngles returns the table sent to the MCU for a config's
// measured angles
func TableFromAngles(angles []float64, invert bool) []int {
	if len(angles) == 0 {
		return BaseCalibration()
	}
	cal := GetCalibration(angles)
	if invert {
		for i, j := 0, len(cal)-1; i < j; i, j = i+1, j-1 {
			cal[i], cal[j] = cal[j], cal[i]
		}
	}
	return cal
}
