// Package serial provides the raw byte transport to the plotter's controller
// board: a termios configured tty, or a unix/TCP socket to a simulated board.
package serial

import (
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Common errors
var (
	ErrNotConnected = errors.New("serial: not connected")
	ErrTimeout      = errors.New("serial: operation timed out")
	ErrClosed       = errors.New("serial: port closed")
)

// DefaultBaudRate is the rate the EiBotBoard CDC firmware is driven at.
const DefaultBaudRate = 9600

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., /dev/ttyACM0, /dev/cu.usbmodem1411)
	Device string

	// Baud rate (default: 9600)
	BaudRate int

	// Connection timeout for socket transports (default: 5 seconds)
	ConnectTimeout time.Duration

	// Read timeout for individual operations (default: 1 second)
	ReadTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		BaudRate:       DefaultBaudRate,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    time.Second,
	}
}

// Port represents a serial port connection.
type Port struct {
	mu         sync.Mutex
	fd         int
	device     string
	config     Config
	closed     bool
	oldTermios *unix.Termios
	isSocket   bool // true for unix socket or TCP connections to a simulated board
}

// ListPorts returns a list of available serial port device paths.
func ListPorts() ([]string, error) {
	var patterns []string
	switch runtime.GOOS {
	case "linux":
		patterns = []string{
			"/dev/ttyACM*",
			"/dev/ttyUSB*",
			"/dev/serial/by-id/*",
		}
	case "darwin":
		patterns = []string{
			"/dev/cu.usbmodem*",
			"/dev/tty.usbmodem*",
			"/dev/cu.usbserial*",
		}
	default:
		return nil, fmt.Errorf("serial: unsupported platform %s", runtime.GOOS)
	}

	seen := make(map[string]bool)
	var ports []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			// by-id entries are symlinks to the ttyACM node
			resolved, err := filepath.EvalSymlinks(m)
			if err != nil {
				resolved = m
			}
			if !seen[resolved] {
				seen[resolved] = true
				ports = append(ports, resolved)
			}
		}
	}

	sort.Strings(ports)
	return ports, nil
}

// Open opens a serial port with the given configuration.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device path required")
	}
	cfg = withDefaults(cfg)

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	oldTermios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	termios := *oldTermios

	// Raw 8N1, no echo, no line discipline
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	termios.Oflag &^= unix.OPOST
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	speed, err := baudRateToSpeed(cfg.BaudRate)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	setSpeed(&termios, speed)

	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 1

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}

	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set blocking: %w", err)
	}

	return &Port{
		fd:         fd,
		device:     cfg.Device,
		config:     cfg,
		oldTermios: oldTermios,
	}, nil
}

// OpenSocket connects to a unix socket at the given path. The mock board
// listens on one when started with a unix: address.
func OpenSocket(socketPath string, timeout time.Duration) (*Port, error) {
	if socketPath == "" {
		return nil, errors.New("serial: socket path required")
	}
	return dialFd("unix", socketPath, timeout)
}

// OpenTCP connects to a TCP server at the given address (host:port).
func OpenTCP(address string, timeout time.Duration) (*Port, error) {
	if address == "" {
		return nil, errors.New("serial: TCP address required")
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, fmt.Errorf("serial: parse address %s: %w", address, err)
	}
	return dialFd("tcp", address, timeout)
}

// dialFd connects with net.Dial, retrying while the peer is not yet
// listening, and takes ownership of a duplicate of the socket descriptor so
// the port can poll and ioctl it like a tty.
func dialFd(network, address string, timeout time.Duration) (*Port, error) {
	if timeout == 0 {
		timeout = DefaultConfig().ConnectTimeout
	}

	deadline := time.Now().Add(timeout)
	var conn net.Conn
	var err error
	for {
		conn, err = net.DialTimeout(network, address, time.Until(deadline))
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("serial: connect timeout to %s: %w", address, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	defer conn.Close()

	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("serial: %s connection has no descriptor", network)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("serial: raw conn %s: %w", address, err)
	}
	fd := -1
	var dupErr error
	if cerr := raw.Control(func(s uintptr) {
		fd, dupErr = unix.Dup(int(s))
	}); cerr != nil {
		return nil, fmt.Errorf("serial: control %s: %w", address, cerr)
	}
	if dupErr != nil {
		return nil, fmt.Errorf("serial: dup %s: %w", address, dupErr)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set blocking: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Device = address
	return &Port{
		fd:       fd,
		device:   address,
		config:   cfg,
		isSocket: true,
	}, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.BaudRate == 0 {
		cfg.BaudRate = def.BaudRate
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	return cfg
}

// IsSocket returns true if this port is connected via unix socket or TCP.
func (p *Port) IsSocket() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isSocket
}

// Available returns the number of received bytes that can be read without
// blocking.
func (p *Port) Available() (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	p.mu.Unlock()

	n, err := unix.IoctlGetInt(fd, ioctlBytesAvailable)
	if err != nil {
		return 0, fmt.Errorf("serial: bytes available: %w", err)
	}
	return n, nil
}

// Read reads up to len(buf) bytes from the port.
// Returns the number of bytes read and any error.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	timeout := p.config.ReadTimeout
	p.mu.Unlock()

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("serial: poll: %w", err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		return 0, io.EOF
	}

	n, err = unix.Read(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: read: %w", err)
	}
	if n == 0 && pfd[0].Revents&unix.POLLHUP != 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadFull reads exactly len(buf) bytes unless the read timeout expires.
func (p *Port) ReadFull(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := p.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Write writes buf to the port.
func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	p.mu.Unlock()

	written := 0
	for written < len(buf) {
		n, err := unix.Write(fd, buf[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return written, fmt.Errorf("serial: write: %w", err)
		}
		written += n
	}
	return written, nil
}

// FlushInput discards any received but unread bytes. Output is left alone:
// commands written just before a flush must still reach the board.
func (p *Port) FlushInput() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	fd := p.fd
	isSocket := p.isSocket
	p.mu.Unlock()

	if !isSocket {
		return flushInput(fd)
	}

	// Sockets have no tcflush; drain what is queued.
	for {
		n, err := unix.IoctlGetInt(fd, ioctlBytesAvailable)
		if err != nil {
			return fmt.Errorf("serial: bytes available: %w", err)
		}
		if n == 0 {
			return nil
		}
		buf := make([]byte, n)
		if _, err := unix.Read(fd, buf); err != nil {
			return fmt.Errorf("serial: drain: %w", err)
		}
	}
}

// Close closes the serial port or socket.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.oldTermios != nil && !p.isSocket {
		_ = unix.IoctlSetTermios(p.fd, ioctlSetTermios, p.oldTermios)
	}
	return unix.Close(p.fd)
}

// Device returns the device path.
func (p *Port) Device() string {
	return p.device
}

// SetReadTimeout sets the read timeout.
func (p *Port) SetReadTimeout(d time.Duration) {
	p.mu.Lock()
	p.config.ReadTimeout = d
	p.mu.Unlock()
}

// baudRateToSpeed converts a baud rate to a termios speed constant.
func baudRateToSpeed(baud int) (uint32, error) {
	speeds := map[int]uint32{
		1200:   unix.B1200,
		2400:   unix.B2400,
		4800:   unix.B4800,
		9600:   unix.B9600,
		19200:  unix.B19200,
		38400:  unix.B38400,
		57600:  unix.B57600,
		115200: unix.B115200,
		230400: unix.B230400,
	}
	if speed, ok := speeds[baud]; ok {
		return speed, nil
	}
	return 0, fmt.Errorf("serial: unsupported baud rate %d", baud)
}

// MatchHint reports whether a device path ends with one of the given name
// hints, e.g. "cu.usbmodem1411" or "ttyACM".
func MatchHint(device string, hints []string) bool {
	base := filepath.Base(device)
	for _, h := range hints {
		if h == "" {
			continue
		}
		if strings.HasPrefix(base, h) || strings.HasSuffix(device, h) {
			return true
		}
	}
	return false
}
