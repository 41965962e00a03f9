//go:build unix

package kqio

import (
	"time"

	"kqio/internal/aio"
	"kqio/internal/sys"

	"golang.org/x/sys/unix"
)

// sockState is the socket automaton tag.
type sockState uint8
const (
	sockClosed sockState = iota // fresh: fd open, neither bound nor connected
	sockBound
	sockConnecting
	sockConnected
	sockListening
)

type RecvResult struct {
	RC		int
	Errno	Errno
	Data	[]byte // nil when the caller supplied its own buffer
}

type AcceptResult struct {
	RC		int
	Errno	Errno
	Peer	Addr
	Conn	*Socket
}

// Socket fronts one socket descriptor. The automaton gates which operations
// reach the kernel: bind and connect are one-shot, accept is Listening-only,
// recv/send are Connected-only. Inappropriate ops return (-1, EINVAL)
// without a syscall, except the send family, which answers EBADF; after
// close everything is EBADF.
type Socket struct {
	rt		*Runtime
	fd		int
	state	sockState
}

// NewSocket creates a non-blocking socket in the fresh (Closed) state. No
// suspension: socket(2) never blocks.
func (rt *Runtime) NewSocket(family int, sotype int) (*Socket, Result, error) {
	fd, eno := sys.Socket(family, sotype, 0)
	if fd < 0 {
		return nil, Result{-1, eno}, check("socket", -1, eno)
	}
	return &Socket{rt: rt, fd: fd, state: sockClosed}, Result{fd, 0}, nil
}

func (s *Socket) Fd() int {
	return s.fd
}

func (s *Socket) closed() bool {
	return s.fd < 0
}

// reject is the automaton's no-syscall answer: EBADF once the fd is gone,
// EINVAL for an op the current state does not allow.
func (s *Socket) reject(op string) (Result, error) {
	eno := EINVAL
	if s.closed() {
		eno = EBADF
	}
	return Result{-1, eno}, check(op, -1, eno)
}

// Bind attaches a local address. One-shot: legal only on a fresh socket.
func (s *Socket) Bind(t *Task, addr Addr, timeout time.Duration) (Result, error) {
	s.rt.guard(t)
	if s.state != sockClosed || s.closed() {
		return s.reject("bind")
	}
	rc, eno := s.rt.submitBind(t, s.fd, addr.sockaddr(), timeout)
	if rc == 0 {
		s.state = sockBound
	}
	return Result{rc, eno}, check("bind", rc, eno)
}

// Connect initiates a connection. The socket sits in Connecting while the
// kernel works; failure (including a deadline) lands it in Closed with the
// error, success in Connected.
func (s *Socket) Connect(t *Task, addr Addr, timeout time.Duration) (Result, error) {
	s.rt.guard(t)
	if s.state != sockClosed || s.closed() {
		return s.reject("connect")
	}
	s.state = sockConnecting
	rc, eno := s.rt.submitConnect(t, s.fd, addr.sockaddr(), timeout)
	if rc == 0 {
		s.state = sockConnected
		return Result{0, 0}, nil
	}
	sys.Close(s.fd)
	s.fd = -1
	s.state = sockClosed
	return Result{rc, eno}, check("connect", rc, eno)
}

// Listen moves a bound socket to Listening.
func (s *Socket) Listen(t *Task, backlog int, timeout time.Duration) (Result, error) {
	s.rt.guard(t)
	if s.state != sockBound {
		return s.reject("listen")
	}
	rc, eno := s.rt.submitListen(t, s.fd, backlog, timeout)
	if rc == 0 {
		s.state = sockListening
	}
	return Result{rc, eno}, check("listen", rc, eno)
}

// Accept takes the next connection off a listening socket. The minted socket
// is already Connected; the parent stays Listening. The peer address is
// normalized by family.
func (s *Socket) Accept(t *Task, timeout time.Duration) (AcceptResult, error) {
	s.rt.guard(t)
	if s.state != sockListening {
		res, err := s.reject("accept")
		return AcceptResult{RC: res.RC, Errno: res.Errno}, err
	}
	rc, eno, nfd, peer := s.rt.submitAccept(t, s.fd, timeout)
	if rc < 0 {
		return AcceptResult{RC: rc, Errno: eno}, check("accept", rc, eno)
	}
	addr, ok := addrFromSockaddr(peer)
	if !ok {
		sys.Close(nfd)
		return AcceptResult{RC: -1, Errno: EINVAL}, check("accept", -1, EINVAL)
	}
	conn := &Socket{rt: s.rt, fd: nfd, state: sockConnected}
	return AcceptResult{RC: rc, Errno: eno, Peer: addr, Conn: conn}, nil
}

// Recv reads up to nbytes from a connected socket. Buffer contract matches
// File.Read: nil buf allocates and fills Data.
func (s *Socket) Recv(t *Task, buf []byte, nbytes int, flags int, timeout time.Duration) (RecvResult, error) {
	s.rt.guard(t)
	if s.state != sockConnected {
		res, err := s.reject("recv")
		return RecvResult{RC: res.RC, Errno: res.Errno}, err
	}

	callerBuf := buf != nil
	if buf == nil {
		buf = make([]byte, nbytes)
	} else if len(buf) > nbytes {
		buf = buf[:nbytes]
	}

	rc, eno := s.rt.submitRecv(t, s.fd, buf, flags, timeout)
	out := RecvResult{RC: rc, Errno: eno}
	if rc > 0 && !callerBuf {
		out.Data = buf[:rc]
	}
	return out, check("recv", rc, eno)
}

// Send cascades to SendTo with no address.
func (s *Socket) Send(t *Task, data []byte, flags int, timeout time.Duration) (Result, error) {
	return s.SendTo(t, data, flags, nil, timeout)
}

// SendTo cascades to SendMsg.
func (s *Socket) SendTo(t *Task, data []byte, flags int, addr Addr, timeout time.Duration) (Result, error) {
	return s.SendMsg(t, data, nil, addr, flags, timeout)
}

// SendMsg is the bottom of the send cascade. States that do not implement it
// answer EBADF.
func (s *Socket) SendMsg(t *Task, data []byte, oob []byte, addr Addr, flags int, timeout time.Duration) (Result, error) {
	s.rt.guard(t)
	if s.state != sockConnected {
		return Result{-1, EBADF}, check("sendmsg", -1, EBADF)
	}
	var sa unix.Sockaddr
	if addr != nil {
		sa = addr.sockaddr()
	}
	rc, eno := s.rt.submitSend(t, aio.OpSendmsg, s.fd, data, oob, sa, flags, timeout)
	return Result{rc, eno}, check("sendmsg", rc, eno)
}

// LocalAddr reports the bound name. In-memory bookkeeping plus one
// non-blocking syscall; not a suspension point.
func (s *Socket) LocalAddr() (Addr, Errno) {
	if s.closed() {
		return nil, EBADF
	}
	sa, eno := sys.Getsockname(s.fd)
	if eno != 0 {
		return nil, eno
	}
	addr, ok := addrFromSockaddr(sa)
	if !ok {
		return nil, EINVAL
	}
	return addr, 0
}

// Close releases the descriptor from any state.
func (s *Socket) Close(t *Task, timeout time.Duration) (Result, error) {
	s.rt.guard(t)
	if s.closed() {
		return s.reject("close")
	}
	rc, eno := s.rt.submitClose(t, s.fd, timeout)
	if rc == 0 || eno == EBADF || eno == EIO {
		s.fd = -1
		s.state = sockClosed
	}
	return Result{rc, eno}, check("close", rc, eno)
}
