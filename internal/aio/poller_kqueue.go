//go:build darwin || freebsd || netbsd || openbsd

package aio

import (
	"log/slog"
	"time"

	c "kqio/internal"
	"kqio/internal/sys"
	"kqio/internal/util"

	"github.com/negrel/assert"
	"golang.org/x/sys/unix"
)

var wakeByte = []byte{0}

// kqPoller drives a BSD kqueue. Registrations are EV_ONESHOT so the kernel
// removes them on fire; pending adds sit in a bounded change-list that is
// handed to kevent(2) together with the event wait, and flushed early when it
// fills. Timer idents are tickets into a fixed slot pool, which keeps the
// udata field out of the picture entirely.
type kqPoller struct {
	s		*Sched
	log		*slog.Logger
	kq		int

	changes	util.Queue[unix.Kevent_t]
	cbuf	[c.MAX_EVENTS]unix.Kevent_t
	events	[c.MAX_EVENTS]unix.Kevent_t

	read	map[int]*Request
	write	map[int]*Request
	timers	util.TicketQueue[*Request]

	wakeR	int
	wakeW	int
}

func createPoller(s *Sched) (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		slog.Error("kqueue allocation failed", "err", err)
		return nil, err
	}
	unix.CloseOnExec(kq)

	r, w, eno := sys.Pipe()
	if eno != 0 {
		unix.Close(kq)
		return nil, eno
	}

	p := &kqPoller{
		s: 			s,
		log: 		slog.With("src", "kqPoller"),
		kq: 		kq,
		changes: 	util.CreateQueue[unix.Kevent_t](c.MAX_EVENTS),
		read: 		make(map[int]*Request),
		write: 		make(map[int]*Request),
		timers: 	util.CreateTicketQueue[*Request](c.TIMER_SLOTS),
		wakeR: 		r,
		wakeW: 		w,
	}

	// the wakeup pipe is the one persistent (non-oneshot) registration
	var ev unix.Kevent_t
	unix.SetKevent(&ev, r, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

func (p *kqPoller) registerRead(fd int, r *Request) {
	assert.Nil(p.read[fd], "second read registration on one fd")
	p.read[fd] = r
	p.push(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE|unix.EV_ONESHOT, 0)
}

func (p *kqPoller) registerWrite(fd int, r *Request) {
	assert.Nil(p.write[fd], "second write registration on one fd")
	p.write[fd] = r
	p.push(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE|unix.EV_ONESHOT, 0)
}

func (p *kqPoller) registerTimer(d time.Duration, r *Request) int {
	if p.timers.Free() == 0 {
		p.log.Error("timer slots exhausted", "slots", c.TIMER_SLOTS)
		panic("kqio: timer slot pool exhausted")
	}
	ticket := p.timers.Acq(r)
	p.push(ticket, unix.EVFILT_TIMER, unix.EV_ADD|unix.EV_ENABLE|unix.EV_ONESHOT, millis(d))
	return ticket
}

func (p *kqPoller) cancelRead(fd int) {
	if _, ok := p.read[fd]; !ok {
		return
	}
	delete(p.read, fd)
	p.del(fd, unix.EVFILT_READ)
}

func (p *kqPoller) cancelWrite(fd int) {
	if _, ok := p.write[fd]; !ok {
		return
	}
	delete(p.write, fd)
	p.del(fd, unix.EVFILT_WRITE)
}

func (p *kqPoller) cancelTimer(ticket int) {
	if p.timers.Get(ticket) == nil {
		return
	}
	p.timers.Rel(ticket)
	p.del(ticket, unix.EVFILT_TIMER)
}

// push queues an add-class change, flushing to the kernel when the bounded
// list fills.
func (p *kqPoller) push(ident int, filter int, flags int, data int64) {
	if p.changes.Full() {
		p.flushChanges()
	}
	var ev unix.Kevent_t
	unix.SetKevent(&ev, ident, filter, flags)
	ev.Data = data
	p.changes.Push(ev)
	assert.LessOrEqual(p.changes.Cnt(), c.MAX_EVENTS)
}

// del removes a filter immediately, outside the change-list. The target may
// already have fired (the losing half of a race), so errors are expected and
// dropped - mixing deletes into a batched changelist would instead abort the
// whole batch.
func (p *kqPoller) del(ident int, filter int) {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, ident, filter, unix.EV_DELETE)
	unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil)
}

func (p *kqPoller) flushChanges() {
	n := p.changes.Drain(p.cbuf[:])
	if n == 0 {
		return
	}
	for {
		_, err := unix.Kevent(p.kq, p.cbuf[:n], nil, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			p.log.Error("kevent change submit failed", "err", err)
			panic("kqio: kevent change submit failed")
		}
		return
	}
}

func (p *kqPoller) poll(timeout time.Duration) {
	n := p.changes.Drain(p.cbuf[:])
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	nev, err := unix.Kevent(p.kq, p.cbuf[:n], p.events[:], &ts)
	if err == unix.EINTR {
		return
	}
	if err != nil {
		p.log.Error("kevent wait failed", "err", err)
		panic("kqio: kevent wait failed")
	}

	for i := 0; i < nev; i++ {
		p.dispatch(&p.events[i])
	}
}

func (p *kqPoller) dispatch(ev *unix.Kevent_t) {
	ident := int(ev.Ident)

	if ev.Flags&unix.EV_ERROR != 0 {
		p.fail(ident, ev)
		return
	}

	switch int(ev.Filter) {
	case unix.EVFILT_READ:
		if ident == p.wakeR {
			p.drainWake()
			return
		}
		r := p.read[ident]
		if r == nil {
			return // canceled while the event was in flight
		}
		delete(p.read, ident)
		p.s.onReady(pollRead, r)

	case unix.EVFILT_WRITE:
		r := p.write[ident]
		if r == nil {
			return
		}
		delete(p.write, ident)
		p.s.onReady(pollWrite, r)

	case unix.EVFILT_TIMER:
		r := p.timers.Get(ident)
		if r == nil {
			return
		}
		p.timers.Rel(ident)
		p.s.onTimer(r)

	default:
		p.log.Error("unknown kevent filter", "filter", ev.Filter, "ident", ident)
		panic("kqio: unknown kevent filter")
	}
}

// fail delivers a registration error (EV_ERROR receipt) to the owning
// request instead of blowing up the loop.
func (p *kqPoller) fail(ident int, ev *unix.Kevent_t) {
	eno := unix.Errno(ev.Data)
	if eno == 0 {
		return
	}
	var r *Request
	switch int(ev.Filter) {
	case unix.EVFILT_READ:
		r = p.read[ident]
		delete(p.read, ident)
	case unix.EVFILT_WRITE:
		r = p.write[ident]
		delete(p.write, ident)
	case unix.EVFILT_TIMER:
		r = p.timers.Get(ident)
		if r != nil {
			p.timers.Rel(ident)
		}
	}
	if r == nil {
		return
	}
	p.log.Warn("kevent registration failed", "op", r.Opcode, "fd", r.Fd, "errno", eno)
	p.s.complete(r, -1, eno)
}

func (p *kqPoller) wakeup() {
	unix.Write(p.wakeW, wakeByte) // EAGAIN means a wake is already pending
}

func (p *kqPoller) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *kqPoller) close() {
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	unix.Close(p.kq)
}
