//go:build rp2040

package main

import "machine"

// InitUSB configures USB CDC. machine.Serial is the CDC port on rp2040.
func InitUSB() {
	_ = machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes waiting to be read
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads a single byte
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWriteBytes writes data and returns the count accepted
func USBWriteBytes(data []byte) (int, error) {
	return machine.Serial.Write(data)
}
