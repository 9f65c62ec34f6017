package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Bootstrap message ids every MCU answers before its dictionary is known
const (
	IdentifyResponseID = 0
	IdentifyID         = 1
)

// Dictionary is the parsed MCU data dictionary
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]interface{}    `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`

	byName map[string]*MessageFormat
	byID   map[uint16]*MessageFormat
}

// bootstrapDictionary knows only identify and its response
func bootstrapDictionary() *Dictionary {
	d := &Dictionary{
		Commands:  map[string]int{"identify offset=%u count=%c": IdentifyID},
		Responses: map[string]int{"identify_response offset=%u data=%.*s": IdentifyResponseID},
	}
	if err := d.index(); err != nil {
		panic(err)
	}
	return d
}

// ParseDictionary decodes a dictionary as returned by identify. zlib
// compressed data is inflated first.
func ParseDictionary(raw []byte) (*Dictionary, error) {
	data := raw
	if len(raw) >= 2 && raw[0] == 0x78 {
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("dictionary zlib header: %w", err)
		}
		data, err = io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("inflate dictionary: %w", err)
		}
	}

	d := &Dictionary{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("unmarshal dictionary: %w", err)
	}
	if err := d.index(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dictionary) index() error {
	d.byName = make(map[string]*MessageFormat)
	d.byID = make(map[uint16]*MessageFormat)
	for _, m := range []map[string]int{d.Commands, d.Responses} {
		for format, id := range m {
			mf, err := ParseFormat(uint16(id), format)
			if err != nil {
				return fmt.Errorf("dictionary: %w", err)
			}
			d.byName[mf.Name] = mf
			d.byID[mf.ID] = mf
		}
	}
	return nil
}

// Lookup returns the command or response named name
func (d *Dictionary) Lookup(name string) (*MessageFormat, bool) {
	mf, ok := d.byName[name]
	return mf, ok
}

// LookupID returns the message with the given id
func (d *Dictionary) LookupID(id uint16) (*MessageFormat, bool) {
	mf, ok := d.byID[id]
	return mf, ok
}

// Constant returns a config constant as text
func (d *Dictionary) Constant(name string) (string, bool) {
	v, ok := d.Config[name]
	if !ok {
		return "", false
	}
	switch c := v.(type) {
	case string:
		return c, true
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64), true
	}
	return fmt.Sprint(v), true
}

// ConstantFloat returns a numeric config constant
func (d *Dictionary) ConstantFloat(name string) (float64, error) {
	s, ok := d.Constant(name)
	if !ok {
		return 0, fmt.Errorf("mcu constant %s not found", name)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("mcu constant %s: %w", name, err)
	}
	return f, nil
}

// Names returns the command and response names, sorted
func (d *Dictionary) Names() (commands, responses []string) {
	for format := range d.Commands {
		if mf, err := ParseFormat(0, format); err == nil {
			commands = append(commands, mf.Name)
		}
	}
	for format := range d.Responses {
		if mf, err := ParseFormat(0, format); err == nil {
			responses = append(responses, mf.Name)
		}
	}
	sort.Strings(commands)
	sort.Strings(responses)
	return commands, responses
}
