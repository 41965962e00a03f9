//go:build unix

// Platform abstracted POSIX ops. Pure translation layer: every call returns
// the raw (rc, errno) pair and nothing here makes policy decisions. The Go
// runtime already parks the OS thread across blocking syscalls, so all of
// these are safe to invoke from the I/O loop.
package sys

import (
	"golang.org/x/sys/unix"
)

// ErrnoOf unpacks the unix.Errno out of an error returned by x/sys. A nil
// error maps to 0, anything that is not an Errno maps to EIO.
func ErrnoOf(err error) unix.Errno {
	if err == nil {
		return 0
	}
	if eno, ok := err.(unix.Errno); ok {
		return eno
	}
	return unix.EIO
}

func Open(path string, flags int, mode uint32) (int, unix.Errno) {
	fd, err := unix.Open(path, flags, mode)
	if err != nil {
		return -1, ErrnoOf(err)
	}
	return fd, 0
}

func Close(fd int) (int, unix.Errno) {
	if err := unix.Close(fd); err != nil {
		return -1, ErrnoOf(err)
	}
	return 0, 0
}

func Read(fd int, buf []byte) (int, unix.Errno) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		return -1, ErrnoOf(err)
	}
	return n, 0
}

func Write(fd int, buf []byte) (int, unix.Errno) {
	n, err := unix.Write(fd, buf)
	if err != nil {
		return -1, ErrnoOf(err)
	}
	return n, 0
}

func Pread(fd int, buf []byte, off int64) (int, unix.Errno) {
	n, err := unix.Pread(fd, buf, off)
	if err != nil {
		return -1, ErrnoOf(err)
	}
	return n, 0
}

func Pwrite(fd int, buf []byte, off int64) (int, unix.Errno) {
	n, err := unix.Pwrite(fd, buf, off)
	if err != nil {
		return -1, ErrnoOf(err)
	}
	return n, 0
}

func Bind(fd int, sa unix.Sockaddr) (int, unix.Errno) {
	if err := unix.Bind(fd, sa); err != nil {
		return -1, ErrnoOf(err)
	}
	return 0, 0
}

func Connect(fd int, sa unix.Sockaddr) (int, unix.Errno) {
	if err := unix.Connect(fd, sa); err != nil {
		return -1, ErrnoOf(err)
	}
	return 0, 0
}

func Listen(fd int, backlog int) (int, unix.Errno) {
	if err := unix.Listen(fd, backlog); err != nil {
		return -1, ErrnoOf(err)
	}
	return 0, 0
}

// Accept returns the new connection fd already switched to non-blocking.
func Accept(fd int) (int, unix.Sockaddr, unix.Errno) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, nil, ErrnoOf(err)
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, nil, ErrnoOf(err)
	}
	unix.CloseOnExec(nfd)
	return nfd, sa, 0
}

func Recv(fd int, buf []byte, flags int) (int, unix.Errno) {
	n, _, err := unix.Recvfrom(fd, buf, flags)
	if err != nil {
		return -1, ErrnoOf(err)
	}
	return n, 0
}

func Send(fd int, buf []byte, flags int) (int, unix.Errno) {
	n, err := unix.SendmsgN(fd, buf, nil, nil, flags)
	if err != nil {
		return -1, ErrnoOf(err)
	}
	return n, 0
}

func Sendto(fd int, buf []byte, flags int, sa unix.Sockaddr) (int, unix.Errno) {
	if sa == nil {
		return Sendmsg(fd, buf, nil, nil, flags)
	}
	if err := unix.Sendto(fd, buf, flags, sa); err != nil {
		return -1, ErrnoOf(err)
	}
	return len(buf), 0
}

func Sendmsg(fd int, buf []byte, oob []byte, sa unix.Sockaddr, flags int) (int, unix.Errno) {
	n, err := unix.SendmsgN(fd, buf, oob, sa, flags)
	if err != nil {
		return -1, ErrnoOf(err)
	}
	return n, 0
}

// Pipe returns both ends non-blocking. Used for stream files and for the
// poller's wakeup channel.
func Pipe() (int, int, unix.Errno) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return -1, -1, ErrnoOf(err)
	}
	for _, fd := range p {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return -1, -1, ErrnoOf(err)
		}
		unix.CloseOnExec(fd)
	}
	return p[0], p[1], 0
}

func SetNonblock(fd int) unix.Errno {
	return ErrnoOf(unix.SetNonblock(fd, true))
}

func Getsockname(fd int) (unix.Sockaddr, unix.Errno) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, ErrnoOf(err)
	}
	return sa, 0
}

// SockErr drains the pending error off a socket (getsockopt SO_ERROR).
// This is how a non-blocking connect reports its outcome.
func SockErr(fd int) (unix.Errno, unix.Errno) {
	val, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return 0, ErrnoOf(err)
	}
	return unix.Errno(val), 0
}
