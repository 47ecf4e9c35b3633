//go:build linux

package serial

import "golang.org/x/sys/unix"

// Platform-specific ioctl constants for Linux
const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
	ioctlTCFlush    = unix.TCFLSH

	ioctlBytesAvailable = unix.TIOCINQ
)

// flushInput discards received but unread bytes.
func flushInput(fd int) error {
	return unix.IoctlSetInt(fd, ioctlTCFlush, unix.TCIFLUSH)
}
