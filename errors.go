//go:build unix

package kqio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Errno is the kernel error number, surfaced verbatim in every result.
type Errno = unix.Errno

// The common set, re-exported so callers don't need x/sys for the usual
// comparisons.
const (
	EBADF 		= unix.EBADF
	EINVAL 		= unix.EINVAL
	EAGAIN 		= unix.EAGAIN
	EINTR 		= unix.EINTR
	EIO 		= unix.EIO
	ETIMEDOUT 	= unix.ETIMEDOUT
	ECONNRESET 	= unix.ECONNRESET
	ECONNREFUSED = unix.ECONNREFUSED
	EPIPE 		= unix.EPIPE
	EADDRINUSE 	= unix.EADDRINUSE
	ENOENT 		= unix.ENOENT
	EACCES 		= unix.EACCES
)

// OpError is the typed error delivered when the error policy is Exceptions.
// It names the attempted operation and unwraps to the underlying Errno.
type OpError struct {
	Op		string
	Errno	Errno
}

func (e *OpError) Error() string {
	return fmt.Sprintf("kqio: %s: %s", e.Op, e.Errno.Error())
}

func (e *OpError) Unwrap() error {
	return e.Errno
}

func (e *OpError) Timeout() bool {
	return e.Errno == ETIMEDOUT
}

// check applies the process-wide error policy to a completed operation. In
// return-codes mode the caller inspects (rc, errno) and the error is always
// nil; in exceptions mode failures also come back as a typed *OpError.
func check(op string, rc int, eno Errno) error {
	if rc >= 0 {
		return nil
	}
	if CurrentConfig().ErrorPolicy == Exceptions {
		return &OpError{Op: op, Errno: eno}
	}
	return nil
}
