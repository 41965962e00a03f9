//go:build unix

package kqio

import (
	"time"

	"kqio/internal/aio"

	"golang.org/x/sys/unix"
)

// The backend is the adapter between user-level operations and request
// round-trips: build the request, attach the deadline, submit, shape the
// result. Everything that reaches a function in this file suspends the
// calling task; apart from the explicit Yield and RunUntil, nothing else in
// the package does.

func (rt *Runtime) submit(t *Task, r *aio.Request, timeout time.Duration) (int, Errno) {
	r.Deadline = timeout
	return rt.sched.Submit(t, r)
}

func (rt *Runtime) submitOpen(t *Task, path string, flags int, mode uint32, timeout time.Duration) (int, Errno) {
	r := aio.Request{Opcode: aio.OpOpen, Fd: -1, Path: path, OFlags: flags, OMode: mode}
	return rt.submit(t, &r, timeout)
}

func (rt *Runtime) submitClose(t *Task, fd int, timeout time.Duration) (int, Errno) {
	r := aio.Request{Opcode: aio.OpClose, Fd: fd}
	return rt.submit(t, &r, timeout)
}

// submitRead runs a positional or stream read. A caller-provided buffer is
// used as-is and stays owned by the caller.
func (rt *Runtime) submitRead(t *Task, op aio.OpCode, fd int, buf []byte, off int64, timeout time.Duration) (int, Errno) {
	r := aio.Request{Opcode: op, Fd: fd, Buf: buf, Off: off}
	return rt.submit(t, &r, timeout)
}

func (rt *Runtime) submitWrite(t *Task, op aio.OpCode, fd int, buf []byte, off int64, timeout time.Duration) (int, Errno) {
	r := aio.Request{Opcode: op, Fd: fd, Buf: buf, Off: off}
	return rt.submit(t, &r, timeout)
}

func (rt *Runtime) submitRecv(t *Task, fd int, buf []byte, flags int, timeout time.Duration) (int, Errno) {
	r := aio.Request{Opcode: aio.OpRecv, Fd: fd, Buf: buf, Flags: flags}
	return rt.submit(t, &r, timeout)
}

func (rt *Runtime) submitSend(t *Task, op aio.OpCode, fd int, buf []byte, oob []byte, sa unix.Sockaddr, flags int, timeout time.Duration) (int, Errno) {
	r := aio.Request{Opcode: op, Fd: fd, Buf: buf, Oob: oob, Addr: sa, Flags: flags}
	return rt.submit(t, &r, timeout)
}

func (rt *Runtime) submitBind(t *Task, fd int, sa unix.Sockaddr, timeout time.Duration) (int, Errno) {
	r := aio.Request{Opcode: aio.OpBind, Fd: fd, Addr: sa}
	return rt.submit(t, &r, timeout)
}

func (rt *Runtime) submitConnect(t *Task, fd int, sa unix.Sockaddr, timeout time.Duration) (int, Errno) {
	r := aio.Request{Opcode: aio.OpConnect, Fd: fd, Addr: sa}
	return rt.submit(t, &r, timeout)
}

func (rt *Runtime) submitListen(t *Task, fd int, backlog int, timeout time.Duration) (int, Errno) {
	r := aio.Request{Opcode: aio.OpListen, Fd: fd, Backlog: backlog}
	return rt.submit(t, &r, timeout)
}

// submitAccept returns the minted fd and the raw peer sockaddr alongside the
// (rc, errno) pair.
func (rt *Runtime) submitAccept(t *Task, fd int, timeout time.Duration) (int, Errno, int, unix.Sockaddr) {
	r := aio.Request{Opcode: aio.OpAccept, Fd: fd, NewFd: -1}
	rc, eno := rt.submit(t, &r, timeout)
	return rc, eno, r.NewFd, r.Peer
}

func (rt *Runtime) submitTimer(t *Task, d time.Duration) (int, Errno) {
	r := aio.Request{Opcode: aio.OpTimer, Fd: -1, Dur: d}
	return rt.sched.Submit(t, &r)
}

func (rt *Runtime) submitResolve(t *Task, host string, timeout time.Duration) (aio.Request, int, Errno) {
	r := aio.Request{Opcode: aio.OpGetaddrinfo, Fd: -1, Host: host}
	rc, eno := rt.submit(t, &r, timeout)
	return r, rc, eno
}
