// Package boardlink is the narrow byte channel between the plotter and its
// EiBotBoard: send a command, poll how many reply bytes are waiting, read
// them, and flush stale input.
package boardlink

import (
	"fmt"
	"strings"
	"time"

	"plotbot-go/pkg/config"
	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/log"
	"plotbot-go/pkg/metrics"
	"plotbot-go/pkg/serial"
)

// Link is what the pacer and the setup and homing machines need from the
// board. Reads never block: callers poll Available and then read exactly
// what is there.
type Link interface {
	Send(cmd string) error
	Available() (int, error)
	ReadAvailable() ([]byte, error)
	Flush() error
	Close() error
}

// port is the subset of *serial.Port used by SerialLink.
type port interface {
	Write(buf []byte) (int, error)
	Available() (int, error)
	ReadFull(buf []byte) (int, error)
	FlushInput() error
	Close() error
	Device() string
}

// SerialLink is a Link over a tty or socket.
type SerialLink struct {
	port    port
	log     *log.Logger
	metrics *metrics.PlotterMetrics
}

// NewSerialLink wraps an open port. m may be nil.
func NewSerialLink(p *serial.Port, m *metrics.PlotterMetrics) *SerialLink {
	return newSerialLink(p, m)
}

func newSerialLink(p port, m *metrics.PlotterMetrics) *SerialLink {
	l := &SerialLink{
		port:    p,
		log:     log.GetLogger("boardlink").With(log.Fields{"device": p.Device()}),
		metrics: m,
	}
	if m != nil {
		m.LinkConnected.Set(nil, 1)
	}
	return l
}

// Device returns the path or address the link is connected to.
func (l *SerialLink) Device() string {
	return l.port.Device()
}

func (l *SerialLink) fail(op string, err error) error {
	if l.metrics != nil {
		l.metrics.RecordLinkError(op)
	}
	return errors.LinkIOError(op, err)
}

// Send writes cmd as-is; cmd carries its own terminator.
func (l *SerialLink) Send(cmd string) error {
	n, err := l.port.Write([]byte(cmd))
	if err != nil {
		return l.fail("send "+CommandName(cmd), err)
	}
	l.log.Debug("sent %q", cmd)
	if l.metrics != nil {
		l.metrics.RecordSend(CommandName(cmd), n)
	}
	return nil
}

// Available returns the number of reply bytes waiting.
func (l *SerialLink) Available() (int, error) {
	n, err := l.port.Available()
	if err != nil {
		return 0, l.fail("available", err)
	}
	return n, nil
}

// ReadAvailable reads exactly the bytes that are waiting, or nil if none.
func (l *SerialLink) ReadAvailable() ([]byte, error) {
	n, err := l.Available()
	if err != nil || n == 0 {
		return nil, err
	}
	buf := make([]byte, n)
	got, err := l.port.ReadFull(buf)
	if err != nil {
		return buf[:got], l.fail("read", err)
	}
	l.log.Debug("received %q", buf)
	if l.metrics != nil {
		l.metrics.RecordReceive(got)
	}
	return buf, nil
}

// Flush discards unread input.
func (l *SerialLink) Flush() error {
	if err := l.port.FlushInput(); err != nil {
		return l.fail("flush", err)
	}
	return nil
}

// Close closes the underlying port.
func (l *SerialLink) Close() error {
	if l.metrics != nil {
		l.metrics.LinkConnected.Set(nil, 0)
	}
	return l.port.Close()
}

// CommandName returns the upper-cased command word of cmd, e.g. "SM".
func CommandName(cmd string) string {
	name := strings.TrimSpace(cmd)
	if i := strings.IndexByte(name, ','); i >= 0 {
		name = name[:i]
	}
	return strings.ToUpper(name)
}

// Open resolves cfg.Port and opens the link. The port may be a device
// path, "tcp:host:port", "unix:/path", or "auto" (also the empty string),
// which searches for the board. Failure is a LINK_UNAVAILABLE error.
func Open(cfg config.BoardConfig, m *metrics.PlotterMetrics) (*SerialLink, error) {
	target := strings.TrimSpace(cfg.Port)
	logger := log.GetLogger("boardlink")

	var (
		p   *serial.Port
		err error
	)
	switch {
	case strings.HasPrefix(target, "tcp:"):
		p, err = serial.OpenTCP(strings.TrimPrefix(target, "tcp:"), connectTimeout(cfg))
	case strings.HasPrefix(target, "unix:"):
		p, err = serial.OpenSocket(strings.TrimPrefix(target, "unix:"), connectTimeout(cfg))
	default:
		device := target
		if device == "" || device == "auto" {
			device, err = Detect(cfg)
			if err != nil {
				return nil, errors.LinkUnavailableError("auto", err)
			}
			logger.Info("detected board at %s", device)
		}
		p, err = serial.Open(serial.Config{
			Device:      device,
			BaudRate:    cfg.BaudRate,
			ReadTimeout: cfg.ReadTimeout,
		})
		target = device
	}
	if err != nil {
		return nil, errors.LinkUnavailableError(target, err)
	}
	if cfg.ReadTimeout > 0 {
		p.SetReadTimeout(cfg.ReadTimeout)
	}
	logger.WithField("device", p.Device()).Info("board link open")
	return NewSerialLink(p, m), nil
}

func connectTimeout(cfg config.BoardConfig) time.Duration {
	if cfg.ConnectTimeout > 0 {
		return cfg.ConnectTimeout
	}
	return 5 * time.Second
}

// Describe formats a link for status output.
func Describe(l Link) string {
	switch v := l.(type) {
	case *SerialLink:
		return v.Device()
	case *Recorder:
		return "recorder"
	default:
		return fmt.Sprintf("%T", l)
	}
}
