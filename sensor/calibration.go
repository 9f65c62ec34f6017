package sensor

const (
	// CalibrationCount is the number of entries in the angle calibration table
	CalibrationCount = 32
	// BucketBits is log2 of the angle span covered by one table entry
	BucketBits = 11
	bucketSize = 1 << BucketBits
)

// Calibration maps raw sensor angles to true angles by linear
// interpolation between CalibrationCount evenly spaced points
type Calibration [CalibrationCount]uint16

// BaseCalibration returns the identity table
func BaseCalibration() Calibration {
	var c Calibration
	for i := range c {
		c[i] = uint16(i * bucketSize)
	}
	return c
}

// Apply returns the calibrated angle for a raw 16-bit angle
func (c *Calibration) Apply(angle uint16) uint16 {
	bucket := angle >> BucketBits
	cal1 := c[bucket]
	cal2 := c[(bucket+1)%CalibrationCount]
	adj := (int32(angle&(bucketSize-1))*int32(int16(cal2-cal1)) + bucketSize/2) >> BucketBits
	return uint16(int32(cal1) + adj)
}
