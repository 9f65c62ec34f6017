package core

import (
	"errors"
	"sync"

	"servostep/protocol"
)

// Response is one message captured by a Loopback
type Response struct {
	Name string
	Data []byte // encoded arguments
}

// Loopback runs commands in-process and captures the responses instead
// of framing them for a host. Install it with SetGlobalTransport.
type Loopback struct {
	mu        sync.Mutex
	responses []Response
}

// SendCommand implements ResponseSender
func (l *Loopback) SendCommand(cmdID uint16, args func(output protocol.OutputBuffer)) {
	name := ""
	if cmd, ok := globalRegistry.GetCommand(cmdID); ok {
		name = cmd.Name
	}
	out := protocol.NewScratchOutput()
	if args != nil {
		args(out)
	}
	data := append([]byte(nil), out.Result()...)

	l.mu.Lock()
	l.responses = append(l.responses, Response{Name: name, Data: data})
	l.mu.Unlock()
}

// Call encodes args as VLQ integers and dispatches the named command
func (l *Loopback) Call(name string, args ...int32) error {
	out := protocol.NewScratchOutput()
	for _, a := range args {
		protocol.EncodeVLQInt(out, a)
	}
	return l.CallRaw(name, out.Result())
}

// CallRaw dispatches the named command with pre-encoded arguments
func (l *Loopback) CallRaw(name string, payload []byte) error {
	cmd, ok := globalRegistry.GetCommandByName(name)
	if !ok {
		return errors.New("unknown command: " + name)
	}
	data := append([]byte(nil), payload...)
	return globalRegistry.Dispatch(cmd.ID, &data)
}

// Responses returns the captured responses in order
func (l *Loopback) Responses() []Response {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Response(nil), l.responses...)
}

// Last returns the most recent response with the given name
func (l *Loopback) Last(name string) (Response, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.responses) - 1; i >= 0; i-- {
		if l.responses[i].Name == name {
			return l.responses[i], true
		}
	}
	return Response{}, false
}

// Count returns how many responses with the given name were captured
func (l *Loopback) Count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.responses {
		if r.Name == name {
			n++
		}
	}
	return n
}

// Clear drops the captured responses
func (l *Loopback) Clear() {
	l.mu.Lock()
	l.responses = nil
	l.mu.Unlock()
}

// Ints decodes the response arguments as a sequence of VLQ integers.
// Only meaningful for responses without byte string arguments.
func (r Response) Ints() ([]int32, error) {
	data := r.Data
	var vals []int32
	for len(data) > 0 {
		v, err := protocol.DecodeVLQInt(&data)
		if err != nil {
			return vals, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}
