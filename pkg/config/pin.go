package config

import (
	"strconv"
	"strings"
)

// Pin is a controller board GPIO: a port letter and a bit number, as used
// by the PD/PI commands ("PI,A,2").
type Pin struct {
	Port   string // "A".."E"
	Number int    // 0..7
	Invert bool   // ! prefix: the switch reads 1 when tripped
}

// String returns the pin in config notation, e.g. "!A2".
func (p Pin) String() string {
	s := p.Port + strconv.Itoa(p.Number)
	if p.Invert {
		return "!" + s
	}
	return s
}

// ParsePin parses a pin specification of the form [!]<port><bit>,
// e.g. "A2", "!B0", "a1".
func ParsePin(desc string) (Pin, error) {
	d := strings.TrimSpace(desc)
	if d == "" {
		return Pin{}, NewConfigError("", "", "empty pin specification")
	}

	var p Pin
	if d[0] == '!' {
		p.Invert = true
		d = strings.TrimSpace(d[1:])
	}
	if len(d) < 2 {
		return Pin{}, NewConfigError("", "", "invalid pin specification: "+desc)
	}

	port := strings.ToUpper(d[:1])
	if port < "A" || port > "E" {
		return Pin{}, NewConfigError("", "", "unknown port in pin specification: "+desc)
	}
	n, err := strconv.Atoi(d[1:])
	if err != nil || n < 0 || n > 7 {
		return Pin{}, NewConfigError("", "", "invalid pin number in specification: "+desc)
	}

	p.Port = port
	p.Number = n
	return p, nil
}

// GetPin returns a Pin option value from the section.
func (s *Section) GetPin(option string, fallback ...Pin) (Pin, error) {
	return getOption(s, option, ParsePin, fallback)
}
