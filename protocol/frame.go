package protocol

import (
	"errors"
	"sync/atomic"
)

// Message framing:
//
//	<len><seq><payload...><crc_hi><crc_lo><0x7E>
//
// len counts the whole message. The high nibble of seq is always 0x10.
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
)

// ErrMessageTooLong is returned when a payload does not fit one message
var ErrMessageTooLong = errors.New("message too long")

type frameStatus uint8

const (
	frameOK frameStatus = iota
	frameNeedMore
	frameInvalid
)

// scanFrame checks for a complete message at the start of data and
// returns its length. data must not start with a sync byte.
func scanFrame(data []byte) (int, frameStatus) {
	if len(data) < MessageLengthMin {
		return 0, frameNeedMore
	}
	msgLen := int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return 0, frameInvalid
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return 0, frameInvalid
	}
	if len(data) < msgLen {
		return 0, frameNeedMore
	}
	if data[msgLen-MessageTrailerSync] != MessageValueSync {
		return 0, frameInvalid
	}
	frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
		uint16(data[msgLen-MessageTrailerCRC+1])
	if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
		return 0, frameInvalid
	}
	return msgLen, frameOK
}

// frameScanner splits a byte stream into messages, resynchronising on
// the sync byte after corruption. Shared by both transports.
type frameScanner struct {
	unsynced     bool
	invalidBytes uint32 // atomic
}

// next returns the next message in data and the number of bytes consumed.
// msg is nil when more data is needed. resynced reports that the scanner
// just recovered from corruption.
func (s *frameScanner) next(data []byte) (msg []byte, consumed int, resynced bool) {
	for consumed < len(data) {
		rest := data[consumed:]
		if s.unsynced {
			idx := indexByte(rest, MessageValueSync)
			if idx < 0 {
				atomic.AddUint32(&s.invalidBytes, uint32(len(rest)))
				return nil, len(data), false
			}
			atomic.AddUint32(&s.invalidBytes, uint32(idx))
			consumed += idx + 1
			s.unsynced = false
			resynced = true
			continue
		}
		if rest[0] == MessageValueSync {
			consumed++
			continue
		}
		msgLen, status := scanFrame(rest)
		switch status {
		case frameNeedMore:
			return nil, consumed, resynced
		case frameInvalid:
			s.unsynced = true
			continue
		}
		return rest[:msgLen], consumed + msgLen, resynced
	}
	return nil, consumed, resynced
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// EncodeMessage frames payload with the given sequence number
func EncodeMessage(seq uint8, payload []byte) ([]byte, error) {
	msgLen := MessageLengthMin + len(payload)
	if msgLen > MessageLengthMax {
		return nil, ErrMessageTooLong
	}
	msg := make([]byte, 0, msgLen)
	msg = append(msg, uint8(msgLen), seq)
	msg = append(msg, payload...)
	crc := CRC16(msg)
	return append(msg, uint8(crc>>8), uint8(crc), MessageValueSync), nil
}

// MessagePayload returns the payload of a complete message
func MessagePayload(msg []byte) []byte {
	return msg[MessageHeaderSize : len(msg)-MessageTrailerSize]
}
