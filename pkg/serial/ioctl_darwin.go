//go:build darwin

package serial

import "golang.org/x/sys/unix"

// Platform-specific ioctl constants for macOS
const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
	ioctlTCFlush    = unix.TIOCFLUSH

	ioctlBytesAvailable = unix.FIONREAD
)

// flushInput discards received but unread bytes. TIOCFLUSH takes a pointer
// to the FREAD/FWRITE mask on BSD derived systems.
func flushInput(fd int) error {
	return unix.IoctlSetPointerInt(fd, ioctlTCFlush, unix.TCIFLUSH)
}
