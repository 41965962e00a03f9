//go:build unix

package kqio

import (
	"log/slog"
	"time"

	"kqio/internal/aio"
	"kqio/internal/sys"
)

// Result is the bare (rc, errno) pair returned by ops without a payload.
type Result struct {
	RC		int
	Errno	Errno
}

type ReadResult struct {
	RC			int
	Errno		Errno
	Data		[]byte // nil when the caller supplied its own buffer
	NewOffset	int64
}

type WriteResult struct {
	RC			int
	Errno		Errno
	NewOffset	int64
}

// fileState is the per-fd automaton tag. State is a case analysis, not a
// type hierarchy: each operation switches on the tag and either submits a
// request or rejects without touching the kernel.
type fileState uint8
const (
	fileClosed fileState = iota
	fileReadOnly
	fileWriteOnly
	fileReadWrite
)

// File fronts one open descriptor. Files from Open are positional
// (pread/pwrite with explicit offsets); pipe ends from Pipe are stream files
// that advance a logical position instead.
type File struct {
	rt		*Runtime
	fd		int
	state	fileState
	stream	bool
	pos		int64
}

func accessState(flags int) fileState {
	switch flags & (O_RDONLY | O_WRONLY | O_RDWR) {
	case O_WRONLY:
		return fileWriteOnly
	case O_RDWR:
		return fileReadWrite
	}
	return fileReadOnly
}

// Open opens path and returns a File whose state matches the access mode,
// or nil with the failing (rc, errno).
func (rt *Runtime) Open(t *Task, path string, flags int, mode uint32, timeout time.Duration) (*File, Result, error) {
	rt.guard(t)
	rc, eno := rt.submitOpen(t, path, flags, mode, timeout)
	if rc < 0 {
		return nil, Result{rc, eno}, check("open", rc, eno)
	}
	f := &File{rt: rt, fd: rc, state: accessState(flags)}
	return f, Result{rc, eno}, nil
}

// Pipe returns the read and write ends of a pipe as stream files.
func (rt *Runtime) Pipe() (*File, *File, Result, error) {
	r, w, eno := sys.Pipe()
	if eno != 0 {
		return nil, nil, Result{-1, eno}, check("pipe", -1, eno)
	}
	rf := &File{rt: rt, fd: r, state: fileReadOnly, stream: true}
	wf := &File{rt: rt, fd: w, state: fileWriteOnly, stream: true}
	return rf, wf, Result{0, 0}, nil
}

func (f *File) Fd() int {
	return f.fd
}

// reject returns the automaton's answer for an op that is illegal in the
// current state. No request is submitted, no syscall happens.
func (f *File) reject(op string) (Result, error) {
	return Result{-1, EBADF}, check(op, -1, EBADF)
}

func (f *File) readable() bool {
	return f.state == fileReadOnly || f.state == fileReadWrite
}

func (f *File) writable() bool {
	return f.state == fileWriteOnly || f.state == fileReadWrite
}

// Read reads up to nbytes at offset. A nil buf means the runtime allocates
// and returns the bytes in Data; a caller buffer is filled in place and Data
// stays nil. Stream files ignore the offset argument and use the logical
// position. If rc > 0 the new offset is old+rc, otherwise it is unchanged.
func (f *File) Read(t *Task, nbytes int, offset int64, buf []byte, timeout time.Duration) (ReadResult, error) {
	f.rt.guard(t)
	if !f.readable() {
		res, err := f.reject("read")
		return ReadResult{RC: res.RC, Errno: res.Errno, NewOffset: offset}, err
	}

	callerBuf := buf != nil
	if buf == nil {
		buf = make([]byte, nbytes)
	} else if len(buf) > nbytes {
		buf = buf[:nbytes]
	}

	op := aio.OpPread
	off := offset
	if f.stream {
		op = aio.OpRead
		off = f.pos
	}

	rc, eno := f.rt.submitRead(t, op, f.fd, buf, off, timeout)
	out := ReadResult{RC: rc, Errno: eno, NewOffset: off}
	if rc > 0 {
		out.NewOffset = off + int64(rc)
		if !callerBuf {
			out.Data = buf[:rc]
		}
	}
	if f.stream && rc > 0 {
		f.pos = out.NewOffset
	}
	return out, check("read", rc, eno)
}

// Write writes data at offset (stream files append at the logical position)
// and reports the offset past the written bytes.
func (f *File) Write(t *Task, offset int64, data []byte, timeout time.Duration) (WriteResult, error) {
	f.rt.guard(t)
	if !f.writable() {
		res, err := f.reject("write")
		return WriteResult{RC: res.RC, Errno: res.Errno, NewOffset: offset}, err
	}

	op := aio.OpPwrite
	off := offset
	if f.stream {
		op = aio.OpWrite
		off = f.pos
	}

	rc, eno := f.rt.submitWrite(t, op, f.fd, data, off, timeout)
	out := WriteResult{RC: rc, Errno: eno, NewOffset: off}
	if rc > 0 {
		out.NewOffset = off + int64(rc)
		if f.stream {
			f.pos = out.NewOffset
		}
	}
	return out, check("write", rc, eno)
}

// Close releases the descriptor and transitions to Closed. EINTR surfaces to
// the caller (the fd state is then unspecified by POSIX; we keep the object
// open so the caller can decide). EBADF and EIO close the object like a
// success; any other failing errno is an unhandled system bug and aborts.
func (f *File) Close(t *Task, timeout time.Duration) (Result, error) {
	f.rt.guard(t)
	if f.state == fileClosed {
		return f.reject("close")
	}

	rc, eno := f.rt.submitClose(t, f.fd, timeout)
	if rc != 0 && eno != EBADF && eno != EINTR && eno != EIO {
		slog.Error("close returned an impossible errno", "fd", f.fd, "errno", eno)
		panic("kqio: unexpected close(2) failure")
	}
	if rc == 0 || eno == EBADF || eno == EIO {
		f.state = fileClosed
		f.fd = -1
	}
	return Result{rc, eno}, check("close", rc, eno)
}
