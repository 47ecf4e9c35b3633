// Package protocol builds and parses the EiBotBoard's ASCII command set and
// encodes canvas moves into timed SM commands.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Terminator ends every command sent to the board.
const Terminator = "\r"

// Fixed commands.
const (
	// PenUp raises the pen and lets the servo settle for 100ms.
	PenUp = "SP,0,100" + Terminator
	// PenDown lowers the pen and lets the servo settle for 600ms.
	PenDown = "SP,1,600" + Terminator
	// QueryCurrent asks for the motor current and supply voltage readings;
	// it is used as a liveness probe.
	QueryCurrent = "qc" + Terminator
)

// Servo channels configured with SC.
const (
	ServoMinChannel = 4
	ServoMaxChannel = 5
)

// StepperMove returns an SM command.
func StepperMove(durationMillis, stepsX, stepsY int) string {
	return fmt.Sprintf("SM,%d,%d,%d%s", durationMillis, stepsX, stepsY, Terminator)
}

// ServoConfig returns an SC command setting a pen servo limit.
func ServoConfig(channel, value int) string {
	return fmt.Sprintf("SC,%d,%d%s", channel, value, Terminator)
}

// PinInput returns a PD command configuring port/pin as a digital input.
func PinInput(port string, pin int) string {
	return fmt.Sprintf("PD,%s,%d,1%s", port, pin, Terminator)
}

// PinRead returns a PI command querying the level of port/pin.
func PinRead(port string, pin int) string {
	return fmt.Sprintf("PI,%s,%d%s", port, pin, Terminator)
}

// Command is a decoded command line.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits a command line into its name and arguments. The
// terminator is optional.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Command{}, fmt.Errorf("protocol: empty command")
	}
	parts := strings.Split(line, ",")
	name := strings.ToUpper(strings.TrimSpace(parts[0]))
	if name == "" {
		return Command{}, fmt.Errorf("protocol: missing command name in %q", line)
	}
	args := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		args = append(args, strings.TrimSpace(p))
	}
	return Command{Name: name, Args: args}, nil
}

// Int returns argument i as an integer.
func (c Command) Int(i int) (int, error) {
	if i >= len(c.Args) {
		return 0, fmt.Errorf("protocol: %s: missing argument %d", c.Name, i+1)
	}
	v, err := strconv.Atoi(c.Args[i])
	if err != nil {
		return 0, fmt.Errorf("protocol: %s: argument %d: %w", c.Name, i+1, err)
	}
	return v, nil
}

// ParseMove decodes an SM command back into a Move.
func ParseMove(line string) (Move, error) {
	c, err := ParseCommand(line)
	if err != nil {
		return Move{}, err
	}
	if c.Name != "SM" || len(c.Args) != 3 {
		return Move{}, fmt.Errorf("protocol: not a stepper move: %q", strings.TrimSpace(line))
	}
	var m Move
	if m.DurationMillis, err = c.Int(0); err != nil {
		return Move{}, err
	}
	if m.StepsX, err = c.Int(1); err != nil {
		return Move{}, err
	}
	if m.StepsY, err = c.Int(2); err != nil {
		return Move{}, err
	}
	return m, nil
}

// IsPenUp reports whether line raises the pen.
func IsPenUp(line string) bool {
	c, err := ParseCommand(line)
	return err == nil && c.Name == "SP" && len(c.Args) > 0 && c.Args[0] == "0"
}

// IsPenDown reports whether line lowers the pen.
func IsPenDown(line string) bool {
	c, err := ParseCommand(line)
	return err == nil && c.Name == "SP" && len(c.Args) > 0 && c.Args[0] == "1"
}
