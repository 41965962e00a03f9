//go:build linux

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

// timer ticket slot: the request plus the one-shot timerfd backing it
type timerSlot struct {
	r	*Request
	tfd	int
}

// epPoller drives Linux epoll. epoll has no per-filter one-shot add, so the
// per-fd interest mask is kept here and re-armed with EPOLLONESHOT on every
// change; the at-most-one-waiter-per-direction property is identical to the
// kqueue side. Timers are one-shot timerfds registered for read, which gives
// the same completes-through-poll shape as EVFILT_TIMER.
type epPoller struct {
	s		*Sched
	log		*slog.Logger
	ep		int

	events	[c.MAX_EVENTS]unix.EpollEvent

	read	map[int]*Request
	write	map[int]*Request
	armed	map[int]uint32 // fd -> interest mask currently installed

	timers	util.TicketQueue[timerSlot]
	byTfd	map[int]int // timerfd -> ticket

	wakeR	int
	wakeW	int
}

func createPoller(s *Sched) (poller, error) {
	ep, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		slog.Error("epoll allocation failed", "err", err)
		return nil, err
	}

	r, w, eno := sys.Pipe()
	if eno != 0 {
		unix.Close(ep)
		return nil, eno
	}

	p := &epPoller{
		s: 		s,
		log: 	slog.With("src", "epPoller"),
		ep: 	ep,
		read: 	make(map[int]*Request),
		write: 	make(map[int]*Request),
		armed: 	make(map[int]uint32),
		timers: util.CreateTicketQueue[timerSlot](c.TIMER_SLOTS),
		byTfd: 	make(map[int]int),
		wakeR: 	r,
		wakeW: 	w,
	}

	// persistent wakeup registration
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(r)}
	if err := unix.EpollCtl(ep, unix.EPOLL_CTL_ADD, r, &ev); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

func (p *epPoller) registerRead(fd int, r *Request) {
	assert.Nil(p.read[fd], "second read registration on one fd")
	p.read[fd] = r
	p.rearm(fd)
}

func (p *epPoller) registerWrite(fd int, r *Request) {
	assert.Nil(p.write[fd], "second write registration on one fd")
	p.write[fd] = r
	p.rearm(fd)
}

func (p *epPoller) cancelRead(fd int) {
	if _, ok := p.read[fd]; !ok {
		return
	}
	delete(p.read, fd)
	p.rearm(fd)
}

func (p *epPoller) cancelWrite(fd int) {
	if _, ok := p.write[fd]; !ok {
		return
	}
	delete(p.write, fd)
	p.rearm(fd)
}

// rearm reconciles the kernel interest mask with the waiter tables. ENOENT
// and EEXIST fallbacks cover fds that were closed (the kernel auto-removes
// them) or recycled since the mask was last installed.
func (p *epPoller) rearm(fd int) {
	var mask uint32
	if p.read[fd] != nil {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if p.write[fd] != nil {
		mask |= unix.EPOLLOUT
	}

	if mask == 0 {
		if _, ok := p.armed[fd]; ok {
			delete(p.armed, fd)
			unix.EpollCtl(p.ep, unix.EPOLL_CTL_DEL, fd, nil) // may already be gone
		}
		return
	}

	ev := unix.EpollEvent{Events: mask | unix.EPOLLONESHOT, Fd: int32(fd)}
	op := unix.EPOLL_CTL_ADD
	if _, ok := p.armed[fd]; ok {
		op = unix.EPOLL_CTL_MOD
	}
	err := unix.EpollCtl(p.ep, op, fd, &ev)
	if err == unix.ENOENT {
		err = unix.EpollCtl(p.ep, unix.EPOLL_CTL_ADD, fd, &ev)
	} else if err == unix.EEXIST {
		err = unix.EpollCtl(p.ep, unix.EPOLL_CTL_MOD, fd, &ev)
	}
	if err != nil {
		p.log.Error("epoll_ctl failed", "fd", fd, "err", err)
		panic("kqio: epoll_ctl failed")
	}
	p.armed[fd] = mask
}

func (p *epPoller) registerTimer(d time.Duration, r *Request) int {
	if p.timers.Free() == 0 {
		p.log.Error("timer slots exhausted", "slots", c.TIMER_SLOTS)
		panic("kqio: timer slot pool exhausted")
	}
	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		p.log.Error("timerfd_create failed", "err", err)
		panic("kqio: timerfd_create failed")
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(millis(d) * int64(time.Millisecond))}
	if err := unix.TimerfdSettime(tfd, 0, &spec, nil); err != nil {
		unix.Close(tfd)
		p.log.Error("timerfd_settime failed", "err", err)
		panic("kqio: timerfd_settime failed")
	}

	ticket := p.timers.Acq(timerSlot{r: r, tfd: tfd})
	p.byTfd[tfd] = ticket

	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLONESHOT, Fd: int32(tfd)}
	if err := unix.EpollCtl(p.ep, unix.EPOLL_CTL_ADD, tfd, &ev); err != nil {
		p.log.Error("epoll_ctl timerfd failed", "err", err)
		panic("kqio: epoll_ctl timerfd failed")
	}
	return ticket
}

func (p *epPoller) cancelTimer(ticket int) {
	slot := p.timers.Get(ticket)
	if slot.r == nil {
		return
	}
	p.timers.Rel(ticket)
	delete(p.byTfd, slot.tfd)
	unix.Close(slot.tfd) // closing drops it out of the epoll set
}

func (p *epPoller) poll(timeout time.Duration) {
	ms := int(timeout / time.Millisecond)
	n, err := unix.EpollWait(p.ep, p.events[:], ms)
	if err == unix.EINTR {
		return
	}
	if err != nil {
		p.log.Error("epoll_wait failed", "err", err)
		panic("kqio: epoll_wait failed")
	}

	for i := 0; i < n; i++ {
		p.dispatch(&p.events[i])
	}
}

func (p *epPoller) dispatch(ev *unix.EpollEvent) {
	fd := int(ev.Fd)

	if fd == p.wakeR {
		p.drainWake()
		return
	}

	if ticket, ok := p.byTfd[fd]; ok {
		slot := p.timers.Get(ticket)
		if slot.r == nil {
			return
		}
		p.timers.Rel(ticket)
		delete(p.byTfd, fd)
		unix.Close(fd)
		p.s.onTimer(slot.r)
		return
	}

	// error-class events wake both directions; the retried syscall reports
	// the actual errno
	hup := ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0

	if ev.Events&unix.EPOLLIN != 0 || hup {
		if r := p.read[fd]; r != nil {
			delete(p.read, fd)
			p.s.onReady(pollRead, r)
		}
	}
	if ev.Events&unix.EPOLLOUT != 0 || hup {
		if r := p.write[fd]; r != nil {
			delete(p.write, fd)
			p.s.onReady(pollWrite, r)
		}
	}
	p.rearm(fd)
}

func (p *epPoller) wakeup() {
	unix.Write(p.wakeW, wakeByte) // EAGAIN means a wake is already pending
}

func (p *epPoller) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *epPoller) close() {
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	unix.Close(p.ep)
}
