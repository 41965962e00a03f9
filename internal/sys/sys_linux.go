//go:build linux

package sys

import (
	"golang.org/x/sys/unix"
)

// Socket creates a non-blocking, close-on-exec socket.
func Socket(domain int, typ int, proto int) (int, unix.Errno) {
	fd, err := unix.Socket(domain, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return -1, ErrnoOf(err)
	}
	return fd, 0
}
