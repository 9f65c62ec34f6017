// Package protocol implements the Klipper serial protocol: VLQ argument
// encoding, message framing with CRC16, and the MCU and host transports.
package protocol

const (
	// MessageMax is the size of the MCU output scratch buffer; it holds
	// several framed responses between flushes
	MessageMax = 512

	MessageSeqMask = 0x0F
)
