// Package term switches the host terminal in and out of raw mode for the
// guest console.
package term

import (
	bterm "github.com/beevik/term"
	"golang.org/x/sys/unix"
)

const defaultWidth = 80

// IsTerminal reports whether fd refers to a terminal.
func IsTerminal(fd int) bool {
	_, err := unix.IoctlGetTermios(fd, unix.TCGETS)

	return err == nil
}

// SetRawMode puts the terminal on fd into raw mode. The returned function
// restores the previous mode.
func SetRawMode(fd int) (func(), error) {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return func() {}, err
	}

	old := *t

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	return func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, &old)
	}, unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

// Width returns the column count of the terminal on fd, or 80 when it
// cannot be determined.
func Width(fd int) int {
	w, _, err := bterm.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}

	return w
}
