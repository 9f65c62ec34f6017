package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrTransportClosed is returned by calls made after Close
	ErrTransportClosed = errors.New("transport closed")
	// ErrNoAck is returned when the MCU never acknowledged a message
	ErrNoAck = errors.New("no ack from mcu")
)

// Host side timing. The MCU acknowledges within a few milliseconds; a
// missing ACK means the message or the ACK was lost on the wire.
const (
	DefaultCommandTimeout = 2 * time.Second
	retransmitInterval    = 250 * time.Millisecond
)

// ResponseHandler is a function type for handling received responses from MCU
type ResponseHandler func(cmdID uint16, data *[]byte) error

// Message is a message received from the MCU
type Message struct {
	Sequence uint8
	Payload  []byte // without header and trailer
}

// HostTransport is the host side of the link. It sends one message at a
// time, retransmitting until the MCU acknowledges it, and delivers
// responses to a channel and an optional handler.
type HostTransport struct {
	port io.ReadWriteCloser

	currentSeq uint32 // atomic; sequence of the next message to send

	scanner     frameScanner
	inputBuffer *FifoBuffer

	ackChan      chan uint8
	responseChan chan *Message

	handlerMu       sync.RWMutex
	responseHandler ResponseHandler

	// sendMu serializes a message with its acknowledgement
	sendMu sync.Mutex

	stopChan  chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once
}

// NewHostTransport creates a host transport and starts its reader
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		currentSeq:   MessageDest,
		inputBuffer:  NewFifoBuffer(4096),
		ackChan:      make(chan uint8, 4),
		responseChan: make(chan *Message, 64),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand sends a command to the MCU and waits for its ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultCommandTimeout)
	defer cancel()
	return t.SendCommandContext(ctx, cmdID, args)
}

// SendCommandContext is SendCommand bounded by ctx
func (t *HostTransport) SendCommandContext(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	return t.SendPayload(ctx, scratch.Result())
}

// SendPayload frames an encoded command block, sends it and waits for
// the ACK, retransmitting while ctx allows
func (t *HostTransport) SendPayload(ctx context.Context, payload []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	msg, err := EncodeMessage(seq, payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	nextSeq := ((seq + 1) & MessageSeqMask) | MessageDest

	// Drop stale ACKs from earlier resyncs
	for len(t.ackChan) > 0 {
		<-t.ackChan
	}

	for {
		if err := t.writeMessage(msg); err != nil {
			return fmt.Errorf("write message: %w", err)
		}

		retransmit := time.NewTimer(retransmitInterval)
	wait:
		for {
			select {
			case ack := <-t.ackChan:
				if ack == nextSeq {
					retransmit.Stop()
					atomic.StoreUint32(&t.currentSeq, uint32(nextSeq))
					return nil
				}
				// NAK: the MCU still expects seq, send again
				retransmit.Stop()
				break wait
			case <-retransmit.C:
				break wait
			case <-ctx.Done():
				retransmit.Stop()
				return fmt.Errorf("%w: seq 0x%02x: %v", ErrNoAck, seq, ctx.Err())
			case <-t.stopChan:
				retransmit.Stop()
				return ErrTransportClosed
			}
		}
	}
}

func (t *HostTransport) writeMessage(msg []byte) error {
	n, err := t.port.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}
	return nil
}

// ReceiveResponse receives a response message with timeout
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.ReceiveResponseContext(ctx)
}

// ReceiveResponseContext waits for the next response message
func (t *HostTransport) ReceiveResponseContext(ctx context.Context) (*Message, error) {
	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for response: %w", ctx.Err())
	case <-t.stopChan:
		return nil, ErrTransportClosed
	}
}

// SetResponseHandler sets a callback for handling responses asynchronously.
// It runs on the reader goroutine.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.responseHandler = handler
	t.handlerMu.Unlock()
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if n > 0 {
			t.inputBuffer.Write(buffer[:n])
			t.processMessages()
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// processMessages parses and dispatches messages from the input buffer
func (t *HostTransport) processMessages() {
	data := t.inputBuffer.Data()
	total := 0
	for {
		msg, consumed, _ := t.scanner.next(data[total:])
		total += consumed
		if msg == nil {
			break
		}
		t.dispatchMessage(&Message{
			Sequence: msg[MessagePositionSeq],
			Payload:  append([]byte(nil), MessagePayload(msg)...),
		})
	}
	if total > 0 {
		t.inputBuffer.Pop(total)
	}
}

// dispatchMessage routes a message to the ACK or response path
func (t *HostTransport) dispatchMessage(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.ackChan <- msg.Sequence:
		default:
		}
		return
	}

	t.handlerMu.RLock()
	handler := t.responseHandler
	t.handlerMu.RUnlock()
	if handler != nil {
		payload := append([]byte(nil), msg.Payload...)
		cmdID, err := DecodeVLQUint(&payload)
		if err == nil {
			_ = handler(uint16(cmdID), &payload)
		}
	}

	select {
	case t.responseChan <- msg:
	default:
		// Full: drop the oldest
		select {
		case <-t.responseChan:
		default:
		}
		select {
		case t.responseChan <- msg:
		default:
		}
	}
}

// Close stops the reader and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

// Reset restarts the sequence and drops buffered input, as after a host
// restart
func (t *HostTransport) Reset() {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	atomic.StoreUint32(&t.currentSeq, MessageDest)
	for len(t.ackChan) > 0 {
		<-t.ackChan
	}
	for len(t.responseChan) > 0 {
		<-t.responseChan
	}
}

// InvalidBytes returns how many received bytes were discarded as corrupt
func (t *HostTransport) InvalidBytes() uint32 {
	return atomic.LoadUint32(&t.scanner.invalidBytes)
}

// GetCurrentSequence returns the sequence of the next message to send
func (t *HostTransport) GetCurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}
