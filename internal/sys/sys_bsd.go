//go:build darwin || freebsd || netbsd || openbsd

package sys

import (
	"golang.org/x/sys/unix"
)

// Socket creates a non-blocking, close-on-exec socket. No SOCK_NONBLOCK on
// the BSDs so the flags are applied after the fact; there is no exec between
// the two calls because nothing here forks.
func Socket(domain int, typ int, proto int) (int, unix.Errno) {
	fd, err := unix.Socket(domain, typ, proto)
	if err != nil {
		return -1, ErrnoOf(err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, ErrnoOf(err)
	}
	unix.CloseOnExec(fd)
	return fd, 0
}
