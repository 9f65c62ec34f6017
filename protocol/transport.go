package protocol

import (
	"errors"
	"sync/atomic"
)

// CommandHandler is a function type for handling decoded commands
type CommandHandler func(cmdID uint16, data *[]byte) error

// TransportStats counts link level events since the last Reset
type TransportStats struct {
	Frames        uint32 // messages accepted in sequence
	Retransmits   uint32 // messages with an unexpected sequence
	InvalidBytes  uint32 // bytes discarded while resynchronising
	HandlerErrors uint32
}

// Transport is the MCU side of the link: it parses host messages,
// dispatches their commands, acknowledges them and frames responses.
type Transport struct {
	// Expected sequence of the next host message (0x10-0x1F). ACKs and
	// responses carry the same value.
	nextSequence uint32 // atomic

	scanner frameScanner
	stats   TransportStats

	output  OutputBuffer
	handler CommandHandler

	resetCallback func() // host restarted its sequence
	flushCallback func() // push an ACK out immediately
	errorCallback func(cmdID uint16, err error)
}

// NewTransport creates a new Transport instance
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		nextSequence: MessageDest,
		output:       output,
		handler:      handler,
	}
}

// Receive processes incoming data from the input buffer
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()
	total := 0

	for {
		msg, consumed, resynced := t.scanner.next(data[total:])
		total += consumed
		if resynced {
			t.encodeAckNak()
		}
		if msg == nil {
			break
		}

		seq := msg[MessagePositionSeq]
		expectedSeq := uint8(atomic.LoadUint32(&t.nextSequence))
		if seq == MessageDest && expectedSeq != MessageDest {
			// Host restarted: follow its sequence
			atomic.StoreUint32(&t.nextSequence, MessageDest)
			expectedSeq = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}

		if seq == expectedSeq {
			nextSeq := ((seq + 1) & MessageSeqMask) | MessageDest
			atomic.StoreUint32(&t.nextSequence, uint32(nextSeq))
			atomic.AddUint32(&t.stats.Frames, 1)
			t.parseFrame(MessagePayload(msg))
		} else {
			atomic.AddUint32(&t.stats.Retransmits, 1)
		}
		// Out of sequence messages get an ACK too; it acts as a NAK
		t.encodeAckNak()
	}

	if total > 0 {
		input.Pop(total)
	}
}

// SkipError is returned by a handler that refused its command but
// consumed the arguments, so the rest of the message can still be parsed.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return e.Reason }

// parseFrame dispatches each command of a message. Any other handler
// error stops the rest of the message since its arguments can no longer
// be located.
func (t *Transport) parseFrame(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.scanner.unsynced = true
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.scanner.unsynced = true
			return
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			atomic.AddUint32(&t.stats.HandlerErrors, 1)
			if t.errorCallback != nil {
				t.errorCallback(uint16(cmdID), err)
			}
			var skip *SkipError
			if errors.As(err, &skip) {
				continue
			}
			return
		}
	}
}

// encodeAckNak sends an ACK/NAK message ahead of any buffered responses
func (t *Transport) encodeAckNak() {
	ns := uint8(atomic.LoadUint32(&t.nextSequence))
	ack, _ := EncodeMessage(ns, nil)
	t.output.Output(ack)

	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame encodes and sends a frame with the given data
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()

	// Responses reuse the sequence of the next expected host message
	seq := uint8(atomic.LoadUint32(&t.nextSequence))
	t.output.Output([]byte{0, seq})

	frameData(t.output)

	changed := len(t.output.DataSince(cursor))
	t.output.Update(cursor, uint8(changed+MessageTrailerSize))

	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}

// SendCommand sends a command with arguments
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset resets the transport state (useful after USB disconnect/reconnect)
func (t *Transport) Reset() {
	t.scanner = frameScanner{}
	t.stats = TransportStats{}
	atomic.StoreUint32(&t.nextSequence, MessageDest)

	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// Stats returns a snapshot of the link counters
func (t *Transport) Stats() TransportStats {
	return TransportStats{
		Frames:        atomic.LoadUint32(&t.stats.Frames),
		Retransmits:   atomic.LoadUint32(&t.stats.Retransmits),
		InvalidBytes:  atomic.LoadUint32(&t.scanner.invalidBytes),
		HandlerErrors: atomic.LoadUint32(&t.stats.HandlerErrors),
	}
}

// SetResetCallback sets a callback to be called when host reset is detected
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets a callback to immediately flush ACK messages.
// Klipper's serialqueue expects the ACK before any response.
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// SetErrorCallback sets a callback for failed command handlers
func (t *Transport) SetErrorCallback(callback func(cmdID uint16, err error)) {
	t.errorCallback = callback
}
