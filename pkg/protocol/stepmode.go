package protocol

import (
	"fmt"
	"strings"
)

// StepMode is the driver microstepping setting; its value is the number of
// microsteps per full step.
type StepMode int

const (
	Full      StepMode = 1
	Half      StepMode = 2
	Quarter   StepMode = 4
	Eighth    StepMode = 8
	Sixteenth StepMode = 16
)

var stepModeNames = map[StepMode]string{
	Full:      "full",
	Half:      "half",
	Quarter:   "quarter",
	Eighth:    "eighth",
	Sixteenth: "sixteenth",
}

// Multiplier returns the number of microsteps per full step.
func (m StepMode) Multiplier() int {
	return int(m)
}

// Valid reports whether m is one of the supported modes.
func (m StepMode) Valid() bool {
	_, ok := stepModeNames[m]
	return ok
}

func (m StepMode) String() string {
	if name, ok := stepModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("StepMode(%d)", int(m))
}

// ParseStepMode accepts a mode name ("sixteenth") case-insensitively.
func ParseStepMode(s string) (StepMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range stepModeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("protocol: unknown step mode %q", s)
}

// emCodes maps a mode to the EM argument selecting it on both drivers.
var emCodes = map[StepMode]int{
	Sixteenth: 1,
	Eighth:    2,
	Quarter:   3,
	Half:      4,
	Full:      5,
}

// EnableMotors returns the EM command that energises both motors in mode.
func EnableMotors(mode StepMode) string {
	code := emCodes[mode]
	return fmt.Sprintf("EM,%d,%d%s", code, code, Terminator)
}

// ParseEnableMotors returns the mode selected by an EM command. Both
// drivers must be set to the same mode.
func ParseEnableMotors(line string) (StepMode, error) {
	c, err := ParseCommand(line)
	if err != nil {
		return 0, err
	}
	if c.Name != "EM" || len(c.Args) != 2 || c.Args[0] != c.Args[1] {
		return 0, fmt.Errorf("protocol: not a matched EM command: %q", strings.TrimSpace(line))
	}
	code, err := c.Int(0)
	if err != nil {
		return 0, err
	}
	for m, v := range emCodes {
		if v == code {
			return m, nil
		}
	}
	return 0, fmt.Errorf("protocol: unknown EM mode %d", code)
}
