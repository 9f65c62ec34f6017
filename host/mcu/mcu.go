// Package mcu talks to a servostep MCU: it retrieves the data dictionary
// and sends and receives messages by name.
package mcu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"go.uber.org/multierr"

	"servostep/protocol"
)

// identifyChunk is the dictionary chunk size requested per identify
const identifyChunk = 40

var (
	// ErrNoDictionary is returned when a name is used before Identify
	ErrNoDictionary = errors.New("dictionary not loaded")
	// ErrShutdown is returned to pending queries when the MCU shuts down
	ErrShutdown = errors.New("mcu shutdown")
)

// ResponseHandler receives decoded responses
type ResponseHandler func(Params)

type waiter struct {
	name  string
	match func(Params) bool
	ch    chan Params
}

type handlerKey struct {
	name string
	oid  int
}

// MCU is a connection to one MCU
type MCU struct {
	port      io.ReadWriteCloser
	transport *protocol.HostTransport
	logger    *log.Logger

	mu       sync.Mutex
	dict     *Dictionary
	raw      []byte
	waiters  []*waiter
	handlers map[handlerKey]ResponseHandler
	shutdown string
}

// New starts a connection over port. logger may be nil.
func New(port io.ReadWriteCloser, logger *log.Logger) *MCU {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m := &MCU{
		port:      port,
		transport: protocol.NewHostTransport(port),
		logger:    logger,
		dict:      bootstrapDictionary(),
		handlers:  make(map[handlerKey]ResponseHandler),
	}
	m.transport.SetResponseHandler(m.handleResponse)
	return m
}

// Identify retrieves and parses the data dictionary
func (m *MCU) Identify(ctx context.Context) error {
	var buf bytes.Buffer
	for {
		offset := uint32(buf.Len())
		params, err := m.Query(ctx, "identify_response", func(p Params) bool {
			return p.Uint("offset") == offset
		}, "identify", offset, identifyChunk)
		if err != nil {
			return fmt.Errorf("identify at offset %d: %w", offset, err)
		}
		chunk := params.Bytes("data")
		buf.Write(chunk)
		if len(chunk) < identifyChunk {
			break
		}
	}

	dict, err := ParseDictionary(buf.Bytes())
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.dict = dict
	m.raw = buf.Bytes()
	m.mu.Unlock()
	m.logger.Printf("dictionary: %d bytes, version %s, %d commands, %d responses",
		buf.Len(), dict.Version, len(dict.Commands), len(dict.Responses))
	return nil
}

// Dictionary returns the current dictionary
func (m *MCU) Dictionary() *Dictionary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dict
}

// RawDictionary returns the dictionary as received, possibly compressed
func (m *MCU) RawDictionary() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw
}

func (m *MCU) lookup(name string) (*MessageFormat, error) {
	m.mu.Lock()
	dict := m.dict
	m.mu.Unlock()
	mf, ok := dict.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown message %s", name)
	}
	return mf, nil
}

// Send encodes and sends a command, waiting for the MCU to acknowledge it
func (m *MCU) Send(ctx context.Context, name string, args ...interface{}) error {
	mf, err := m.lookup(name)
	if err != nil {
		return err
	}
	payload, err := mf.Encode(args...)
	if err != nil {
		return err
	}
	return m.transport.SendPayload(ctx, payload)
}

// SendText sends a command written as "name a=1 b=2"
func (m *MCU) SendText(ctx context.Context, fields []string) error {
	if len(fields) == 0 {
		return errors.New("empty command")
	}
	mf, err := m.lookup(fields[0])
	if err != nil {
		return err
	}
	payload, err := mf.EncodeText(fields[1:])
	if err != nil {
		return err
	}
	return m.transport.SendPayload(ctx, payload)
}

// Query sends a command and waits for the first response named respName
// accepted by match (nil matches any)
func (m *MCU) Query(ctx context.Context, respName string, match func(Params) bool, name string, args ...interface{}) (Params, error) {
	w := &waiter{name: respName, match: match, ch: make(chan Params, 1)}
	m.mu.Lock()
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()
	defer m.removeWaiter(w)

	if err := m.Send(ctx, name, args...); err != nil {
		return nil, err
	}
	select {
	case p, ok := <-w.ch:
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrShutdown, m.ShutdownReason())
		}
		return p, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", respName, ctx.Err())
	}
}

// QueryOid is Query for responses carrying oid
func (m *MCU) QueryOid(ctx context.Context, respName string, oid uint8, name string, args ...interface{}) (Params, error) {
	return m.Query(ctx, respName, func(p Params) bool {
		return p.Uint("oid") == uint32(oid)
	}, name, args...)
}

func (m *MCU) removeWaiter(w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, o := range m.waiters {
		if o == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

// RegisterResponse calls fn for every response named name. oid -1 matches
// any object; a nil fn removes the registration.
func (m *MCU) RegisterResponse(name string, oid int, fn ResponseHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := handlerKey{name, oid}
	if fn == nil {
		delete(m.handlers, key)
		return
	}
	m.handlers[key] = fn
}

// handleResponse runs on the transport reader goroutine
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	m.mu.Lock()
	mf, ok := m.dict.LookupID(cmdID)
	m.mu.Unlock()
	if !ok {
		m.logger.Printf("unknown response id %d", cmdID)
		return nil
	}
	params, err := mf.Decode(data)
	if err != nil {
		m.logger.Printf("decode %s: %v", mf.Name, err)
		return err
	}
	if mf.Name == "shutdown" {
		m.handleShutdown(params)
	}

	m.mu.Lock()
	for i, w := range m.waiters {
		if w.name == mf.Name && (w.match == nil || w.match(params)) {
			w.ch <- params
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			break
		}
	}
	fns := make([]ResponseHandler, 0, 2)
	if fn, ok := m.handlers[handlerKey{mf.Name, -1}]; ok {
		fns = append(fns, fn)
	}
	if oid, ok := params["oid"].(uint32); ok {
		if fn, ok := m.handlers[handlerKey{mf.Name, int(oid)}]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(params)
	}
	return nil
}

func (m *MCU) handleShutdown(p Params) {
	reason := string(p.Bytes("reason"))
	m.logger.Printf("mcu shutdown at clock %d: %s", p.Uint("clock"), reason)

	m.mu.Lock()
	m.shutdown = reason
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()
	for _, w := range waiters {
		close(w.ch)
	}
}

// ShutdownReason returns the last shutdown reason reported by the MCU
func (m *MCU) ShutdownReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// InvalidBytes returns the count of corrupt bytes dropped from the link
func (m *MCU) InvalidBytes() uint32 {
	return m.transport.InvalidBytes()
}

// Close flushes the port if it supports it and closes the link
func (m *MCU) Close() error {
	var err error
	if f, ok := m.port.(interface{ Flush() error }); ok {
		err = multierr.Append(err, f.Flush())
	}
	return multierr.Append(err, m.transport.Close())
}
