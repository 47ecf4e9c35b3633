package boardlink

import (
	stderrors "errors"
	"fmt"
	"sync"

	"plotbot-go/pkg/config"
	"plotbot-go/pkg/protocol"
)

var errClosed = stderrors.New("link closed")

// Replies of a simulated board.
const (
	ReplyOK         = "OK\r\n"
	ReplyConnection = "0394,0300\r\nOK\r\n"
	ReplyUnknown    = "!8 Err: Unknown command\r\n"
)

// Simulator answers commands the way an EiBotBoard with limit switches at
// the origin does. Each axis position is tracked in microsteps; a limit
// switch reads low once its axis is at or past zero.
type Simulator struct {
	XPin config.Pin
	YPin config.Pin

	mu      sync.Mutex
	x, y    int
	penDown bool
	servo   map[int]int
	moves   int
}

// NewSimulator starts the carriage at (x, y) microsteps from home.
func NewSimulator(xPin, yPin config.Pin, x, y int) *Simulator {
	return &Simulator{XPin: xPin, YPin: yPin, x: x, y: y, servo: make(map[int]int)}
}

// Reply implements Responder.
func (s *Simulator) Reply(cmd string) []byte {
	c, err := protocol.ParseCommand(cmd)
	if err != nil {
		return []byte(ReplyUnknown)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch c.Name {
	case "QC":
		return []byte(ReplyConnection)
	case "PD", "EM":
		return []byte(ReplyOK)
	case "SC":
		ch, err1 := c.Int(0)
		v, err2 := c.Int(1)
		if err1 != nil || err2 != nil {
			return []byte(ReplyUnknown)
		}
		s.servo[ch] = v
		return []byte(ReplyOK)
	case "SP":
		if len(c.Args) == 0 {
			return []byte(ReplyUnknown)
		}
		s.penDown = c.Args[0] == "1"
		return []byte(ReplyOK)
	case "SM":
		m, err := protocol.ParseMove(cmd)
		if err != nil {
			return []byte(ReplyUnknown)
		}
		s.x += m.StepsX
		s.y += m.StepsY
		s.moves++
		return []byte(ReplyOK)
	case "PI":
		if len(c.Args) != 2 {
			return []byte(ReplyUnknown)
		}
		n, err := c.Int(1)
		if err != nil {
			return []byte(ReplyUnknown)
		}
		pin := config.Pin{Port: c.Args[0], Number: n}
		var home bool
		switch {
		case pin.Port == s.XPin.Port && pin.Number == s.XPin.Number:
			home = s.x <= 0
		case pin.Port == s.YPin.Port && pin.Number == s.YPin.Number:
			home = s.y <= 0
		}
		level := home == pinInverted(pin, s)
		return []byte(fmt.Sprintf("PI,%d\r\n", boolDigit(level)))
	default:
		return []byte(ReplyUnknown)
	}
}

// pinInverted reports whether the matching configured pin reads high when
// tripped.
func pinInverted(p config.Pin, s *Simulator) bool {
	if p.Port == s.XPin.Port && p.Number == s.XPin.Number {
		return s.XPin.Invert
	}
	if p.Port == s.YPin.Port && p.Number == s.YPin.Number {
		return s.YPin.Invert
	}
	return false
}

func boolDigit(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Position returns the carriage position in microsteps.
func (s *Simulator) Position() (x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.x, s.y
}

// PenDown reports the last pen command.
func (s *Simulator) PenDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.penDown
}

// Servo returns the last value set on a servo channel.
func (s *Simulator) Servo(channel int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.servo[channel]
}

// Moves returns the number of SM commands executed.
func (s *Simulator) Moves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moves
}
