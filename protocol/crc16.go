package protocol

// CRC16 is the CCITT checksum Klipper appends to every message, computed
// over the length, sequence and payload bytes.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, d := range data {
		d ^= byte(crc)
		d ^= d << 4
		x := uint16(d)
		crc = (x<<8 | crc>>8) ^ x>>4 ^ x<<3
	}
	return crc
}
