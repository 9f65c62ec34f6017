package sensor

// Chip identifies a supported magnetic angle sensor
type Chip uint8

const (
	ChipA1333   Chip = 1
	ChipAS5047D Chip = 2
)

func (c Chip) String() string {
	switch c {
	case ChipA1333:
		return "a1333"
	case ChipAS5047D:
		return "as5047d"
	}
	return "unknown"
}

// request returns the frame clocked out to read the angle register
func (c Chip) request() [2]byte {
	switch c {
	case ChipA1333:
		return [2]byte{0x20, 0x00}
	case ChipAS5047D:
		return [2]byte{0xFF, 0xFF}
	}
	return [2]byte{}
}

// decode converts a raw response to a 16-bit angle (65536 per revolution)
func (c Chip) decode(resp []byte) uint16 {
	raw := uint16(resp[0])<<8 | uint16(resp[1])
	switch c {
	case ChipA1333:
		return (raw & 0xFFF) << 4
	case ChipAS5047D:
		return (raw & 0x3FFF) << 2
	}
	return 0
}

func (c Chip) valid() bool {
	return c == ChipA1333 || c == ChipAS5047D
}
