package mcu

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"servostep/protocol"
)

// ParamType is the wire type of one message parameter
type ParamType uint8

const (
	ParamUint32 ParamType = iota // %u
	ParamInt32                   // %i
	ParamUint16                  // %hu
	ParamInt16                   // %hi
	ParamByte                    // %c
	ParamBuffer                  // %*s
	ParamString                  // %.*s or %s
)

var paramTypes = map[string]ParamType{
	"%u":   ParamUint32,
	"%i":   ParamInt32,
	"%hu":  ParamUint16,
	"%hi":  ParamInt16,
	"%c":   ParamByte,
	"%*s":  ParamBuffer,
	"%.*s": ParamString,
	"%s":   ParamString,
}

// Param is one name=%type field of a message format
type Param struct {
	Name string
	Type ParamType
}

// MessageFormat describes one command or response from the dictionary
type MessageFormat struct {
	ID     uint16
	Name   string
	Format string // full "name a=%u b=%c" text
	Params []Param
}

// ParseFormat parses a dictionary message format
func ParseFormat(id uint16, format string) (*MessageFormat, error) {
	fields := strings.Fields(format)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty message format")
	}
	mf := &MessageFormat{ID: id, Name: fields[0], Format: format}
	for _, field := range fields[1:] {
		name, typ, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("%s: malformed parameter %q", mf.Name, field)
		}
		pt, ok := paramTypes[typ]
		if !ok {
			return nil, fmt.Errorf("%s: unknown parameter type %q", mf.Name, typ)
		}
		mf.Params = append(mf.Params, Param{Name: name, Type: pt})
	}
	return mf, nil
}

// Encode encodes the message id followed by args in parameter order.
// Integer params take any Go integer; buffers take []byte or string.
func (mf *MessageFormat) Encode(args ...interface{}) ([]byte, error) {
	if len(args) != len(mf.Params) {
		return nil, fmt.Errorf("%s: expected %d arguments, got %d", mf.Name, len(mf.Params), len(args))
	}
	out := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(out, uint32(mf.ID))
	for i, p := range mf.Params {
		switch p.Type {
		case ParamBuffer, ParamString:
			b, err := toBytes(args[i])
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", mf.Name, p.Name, err)
			}
			protocol.EncodeVLQBytes(out, b)
		default:
			v, err := toInt(args[i])
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", mf.Name, p.Name, err)
			}
			protocol.EncodeVLQInt(out, int32(v))
		}
	}
	return append([]byte(nil), out.Result()...), nil
}

// EncodeText encodes "a=1 b=2" style arguments, in any order
func (mf *MessageFormat) EncodeText(fields []string) ([]byte, error) {
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("%s: malformed argument %q", mf.Name, f)
		}
		values[k] = v
	}
	args := make([]interface{}, len(mf.Params))
	for i, p := range mf.Params {
		v, ok := values[p.Name]
		if !ok {
			return nil, fmt.Errorf("%s: missing argument %s", mf.Name, p.Name)
		}
		delete(values, p.Name)
		if p.Type == ParamBuffer || p.Type == ParamString {
			args[i] = v
			continue
		}
		n, err := strconv.ParseInt(v, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", mf.Name, p.Name, err)
		}
		args[i] = n
	}
	if len(values) > 0 {
		extra := make([]string, 0, len(values))
		for k := range values {
			extra = append(extra, k)
		}
		sort.Strings(extra)
		return nil, fmt.Errorf("%s: unknown arguments %s", mf.Name, strings.Join(extra, ", "))
	}
	return mf.Encode(args...)
}

// Decode decodes the parameters following the message id
func (mf *MessageFormat) Decode(data *[]byte) (Params, error) {
	params := Params{"#name": mf.Name}
	for _, p := range mf.Params {
		var err error
		switch p.Type {
		case ParamUint32, ParamUint16, ParamByte:
			var v uint32
			v, err = protocol.DecodeVLQUint(data)
			params[p.Name] = v
		case ParamInt32, ParamInt16:
			var v int32
			v, err = protocol.DecodeVLQInt(data)
			params[p.Name] = v
		case ParamBuffer:
			var v []byte
			v, err = protocol.DecodeVLQBytes(data)
			params[p.Name] = v
		case ParamString:
			var v string
			v, err = protocol.DecodeVLQString(data)
			params[p.Name] = v
		}
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", mf.Name, p.Name, err)
		}
	}
	return params, nil
}

func toInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func toBytes(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, fmt.Errorf("expected bytes, got %T", v)
}

// Params holds decoded response parameters by name. "#name" is the
// message name.
type Params map[string]interface{}

// Uint returns an unsigned parameter, converting signed ones
func (p Params) Uint(name string) uint32 {
	switch v := p[name].(type) {
	case uint32:
		return v
	case int32:
		return uint32(v)
	}
	return 0
}

// Int returns a signed parameter, converting unsigned ones
func (p Params) Int(name string) int32 {
	switch v := p[name].(type) {
	case int32:
		return v
	case uint32:
		return int32(v)
	}
	return 0
}

// Bytes returns a buffer parameter
func (p Params) Bytes(name string) []byte {
	switch v := p[name].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}

// Name returns the message name
func (p Params) Name() string {
	s, _ := p["#name"].(string)
	return s
}
