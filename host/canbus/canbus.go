// Package canbus carries the MCU byte stream over CAN. Each direction
// uses one CAN id and up to eight bytes of the stream per frame.
package canbus

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.einride.tech/can"
)

// Klipper CAN ids
const (
	// AdminID is the id the host uses for node id assignment
	AdminID = 0x3f0
	// AdminResponseID is the id nodes answer admin queries on
	AdminResponseID = AdminID + 1
	// NodeIDBase is the first CAN id of the node id range
	NodeIDBase = 0x100

	cmdQueryUnassigned = 0x00
	cmdSetNodeID       = 0x01
)

// ErrClosed is returned by Read and Write after Close
var ErrClosed = errors.New("canbus port closed")

// FrameTransmitter sends frames; socketcan.Transmitter implements it
type FrameTransmitter interface {
	TransmitFrame(ctx context.Context, frame can.Frame) error
}

// FrameReceiver yields received frames; socketcan.Receiver implements it
type FrameReceiver interface {
	Receive() bool
	Frame() can.Frame
	Err() error
}

// IDs returns the CAN ids the host transmits and receives on for a node
func IDs(nodeID uint8) (tx, rx uint32) {
	tx = NodeIDBase + 2*uint32(nodeID)
	return tx, tx + 1
}

// Port is an io.ReadWriteCloser over one node's pair of CAN ids
type Port struct {
	tx     FrameTransmitter
	rx     FrameReceiver
	closer io.Closer
	txID   uint32
	rxID   uint32

	incoming chan []byte
	pending  []byte
	readErr  error

	writeMu   sync.Mutex
	done      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
}

// NewPort starts reading frames for nodeID. closer is closed by Close and
// must unblock rx.
func NewPort(tx FrameTransmitter, rx FrameReceiver, closer io.Closer, nodeID uint8) *Port {
	txID, rxID := IDs(nodeID)
	p := &Port{
		tx:       tx,
		rx:       rx,
		closer:   closer,
		txID:     txID,
		rxID:     rxID,
		incoming: make(chan []byte, 256),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *Port) readLoop() {
	defer close(p.readDone)
	for p.rx.Receive() {
		f := p.rx.Frame()
		if f.ID != p.rxID || f.IsRemote || f.IsExtended {
			continue
		}
		data := append([]byte(nil), f.Data[:f.Length]...)
		select {
		case p.incoming <- data:
		case <-p.done:
			return
		}
	}
	p.readErr = p.rx.Err()
}

// Read returns stream bytes in arrival order. It returns io.EOF once the
// receiver stops and all buffered data was read.
func (p *Port) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		select {
		case data := <-p.incoming:
			p.pending = data
		case <-p.readDone:
			select {
			case data := <-p.incoming:
				p.pending = data
			default:
				if p.readErr != nil {
					return 0, p.readErr
				}
				return 0, io.EOF
			}
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Write splits b into frames on the node's transmit id
func (p *Port) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	select {
	case <-p.done:
		return 0, ErrClosed
	default:
	}

	written := 0
	for _, f := range Frames(p.txID, b) {
		if err := p.tx.TransmitFrame(context.Background(), f); err != nil {
			return written, err
		}
		written += int(f.Length)
	}
	return written, nil
}

// Close stops reading and closes the underlying connection
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		if p.closer != nil {
			err = p.closer.Close()
		}
	})
	return err
}

// Frames splits data into frames of at most eight bytes on id
func Frames(id uint32, data []byte) []can.Frame {
	frames := make([]can.Frame, 0, (len(data)+7)/8)
	for len(data) > 0 {
		n := len(data)
		if n > 8 {
			n = 8
		}
		f := can.Frame{ID: id, Length: uint8(n)}
		copy(f.Data[:], data[:n])
		frames = append(frames, f)
		data = data[n:]
	}
	return frames
}

// AssignNodeID asks the node with the given 6 byte uuid to answer on
// nodeID's ids
func AssignNodeID(ctx context.Context, tx FrameTransmitter, uuid [6]byte, nodeID uint8) error {
	f := can.Frame{ID: AdminID, Length: 8}
	f.Data[0] = cmdSetNodeID
	copy(f.Data[1:7], uuid[:])
	f.Data[7] = nodeID
	return tx.TransmitFrame(ctx, f)
}

// QueryUnassigned asks nodes without a node id to report their uuid
func QueryUnassigned(ctx context.Context, tx FrameTransmitter) error {
	f := can.Frame{ID: AdminID, Length: 1}
	f.Data[0] = cmdQueryUnassigned
	return tx.TransmitFrame(ctx, f)
}
