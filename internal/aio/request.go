//go:build unix

package aio

import (
	"net"
	"time"

	"kqio/internal/sys"

	"golang.org/x/sys/unix"
)

type OpCode uint16
const (
	OpNop 	OpCode = iota
	OpOpen
	OpClose
	OpRead
	OpPread
	OpWrite
	OpPwrite
	OpRecv
	OpSend
	OpSendmsg
	OpAccept
	OpConnect
	OpBind
	OpListen
	OpTimer
	OpGetaddrinfo
)

var opNames = [...]string{
	"nop", "open", "close", "read", "pread", "write", "pwrite", "recv",
	"send", "sendmsg", "accept", "connect", "bind", "listen", "timer",
	"getaddrinfo",
}

func (o OpCode) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "op?"
}

type pollDir uint8
const (
	pollNone pollDir = iota
	pollRead
	pollWrite
)

// dir reports which readiness filter an opcode waits on. Opcodes outside the
// table are immediate: the I/O loop performs them at flush time (disk and
// metadata ops never report EAGAIN on regular fds).
func (o OpCode) dir() pollDir {
	switch o {
	case OpRead, OpRecv, OpAccept:
		return pollRead
	case OpWrite, OpSend, OpSendmsg, OpConnect:
		return pollWrite
	}
	return pollNone
}

// Request describes one pending syscall: target, parameter block, result
// slot, and the identity of the suspended task to resume. Owned by the
// scheduler from Submit until the result slot is written; the result slot is
// written exactly once and the task resumed exactly once (first writer wins,
// which is what resolves completion/deadline races).
type Request struct {
	Opcode	OpCode
	Fd		int

	// parameters; buffers stay owned by the caller
	Buf		[]byte
	Off		int64
	Flags	int
	Addr	unix.Sockaddr
	Oob		[]byte
	Backlog	int
	Path	string
	OFlags	int
	OMode	uint32
	Dur		time.Duration
	Host	string

	// optional deadline; 0 means wait forever
	Deadline time.Duration

	// result slot
	Rc		int
	Errno	unix.Errno
	NewFd	int
	Peer	unix.Sockaddr
	IPs		[]net.IP

	task	*Task
	done	bool
	guard	int // deadline timer ticket, -1 when unarmed
}

// perform runs the actual non-blocking syscall for the request. Called by the
// I/O loop: at flush time for immediate opcodes, on readiness for pollable
// ones. For OpConnect this is the readiness half; the initiating connect(2)
// happens in dispatch.
func (r *Request) perform() (int, unix.Errno) {
	switch r.Opcode {
	case OpNop:
		return 0, 0
	case OpOpen:
		return sys.Open(r.Path, r.OFlags, r.OMode)
	case OpClose:
		return sys.Close(r.Fd)
	case OpRead:
		return sys.Read(r.Fd, r.Buf)
	case OpPread:
		return sys.Pread(r.Fd, r.Buf, r.Off)
	case OpWrite:
		return sys.Write(r.Fd, r.Buf)
	case OpPwrite:
		return sys.Pwrite(r.Fd, r.Buf, r.Off)
	case OpRecv:
		return sys.Recv(r.Fd, r.Buf, r.Flags)
	case OpSend, OpSendmsg:
		// send cascades to sendto(addr=nil) which cascades to sendmsg
		if r.Opcode == OpSend {
			return sys.Sendto(r.Fd, r.Buf, r.Flags, r.Addr)
		}
		return sys.Sendmsg(r.Fd, r.Buf, r.Oob, r.Addr, r.Flags)
	case OpAccept:
		nfd, sa, eno := sys.Accept(r.Fd)
		if eno == 0 {
			r.NewFd = nfd
			r.Peer = sa
		}
		return nfd, eno
	case OpConnect:
		// writability after EINPROGRESS; outcome is parked in SO_ERROR
		soe, eno := sys.SockErr(r.Fd)
		if eno != 0 {
			return -1, eno
		}
		if soe != 0 {
			return -1, soe
		}
		return 0, 0
	case OpBind:
		return sys.Bind(r.Fd, r.Addr)
	case OpListen:
		return sys.Listen(r.Fd, r.Backlog)
	}
	return -1, unix.EINVAL
}
