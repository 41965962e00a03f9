//go:build darwin || freebsd || netbsd || openbsd

package aio

import (
	"log/slog"
	"testing"
	"time"

	c "kqio/internal"
	"kqio/internal/sys"

	"github.com/eapache/queue"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

// a detached scheduler shell: no loop running, we drive the poller by hand
func pollerHarness(t *testing.T) (*Sched, *kqPoller) {
	s := &Sched{
		log: 		slog.With("src", "test"),
		runnable: 	queue.New(),
		parked: 	make(chan struct{}),
	}
	pl, err := createPoller(s)
	assert.NoError(t, err)
	if err != nil { t.Fatal() }
	s.poller = pl
	return s, pl.(*kqPoller)
}

func suspendedReq(op OpCode) *Request {
	return &Request{
		Opcode: op,
		Fd: 	-1,
		guard: 	-1,
		task: 	&Task{state: TaskSuspended, wake: make(chan struct{}, 1)},
	}
}

// the pending change-list never exceeds MAX_EVENTS (early flush) and poll
// always leaves it empty
func Test_KqPoller_ChangeList_Bounded(t *testing.T) {
	_, p := pollerHarness(t)
	defer p.close()

	for i := 0; i < c.MAX_EVENTS+5; i++ {
		p.registerTimer(time.Hour, suspendedReq(OpTimer))
		assert.LessOrEqual(t, p.changes.Cnt(), c.MAX_EVENTS)
	}
	p.poll(0)
	assert.Equal(t, 0, p.changes.Cnt())
}

// one-shot read: the registration fires once, completes the request, and
// leaves no trace in the callback table
func Test_KqPoller_OneShot_Read(t *testing.T) {
	s, p := pollerHarness(t)
	defer p.close()

	rfd, wfd, eno := sys.Pipe()
	assert.Equal(t, unix.Errno(0), eno)
	defer unix.Close(rfd)
	defer unix.Close(wfd)

	r := suspendedReq(OpRead)
	r.Fd = rfd
	r.Buf = make([]byte, 8)
	p.registerRead(rfd, r)
	assert.Same(t, r, p.read[rfd])

	unix.Write(wfd, []byte("ok"))
	p.poll(c.SHORT_TIMEOUT)

	assert.True(t, r.done)
	assert.Equal(t, 2, r.Rc)
	assert.Equal(t, unix.Errno(0), r.Errno)
	assert.Nil(t, p.read[rfd])
	assert.Equal(t, 1, s.runnable.Length())
}

// canceling a timer releases its ticket and suppresses the stale event
func Test_KqPoller_Timer_Cancel(t *testing.T) {
	_, p := pollerHarness(t)
	defer p.close()

	r := suspendedReq(OpTimer)
	free := p.timers.Free()
	ticket := p.registerTimer(time.Millisecond, r)
	assert.Equal(t, free-1, p.timers.Free())

	p.cancelTimer(ticket)
	assert.Equal(t, free, p.timers.Free())

	// flush, then let any stale event surface: the released ticket maps to
	// nothing and the event is dropped
	p.poll(0)
	time.Sleep(5 * time.Millisecond)
	p.poll(0)
	assert.False(t, r.done)
}

func Test_KqPoller_Timer_Fires(t *testing.T) {
	s, p := pollerHarness(t)
	defer p.close()

	r := suspendedReq(OpTimer)
	r.Dur = 5 * time.Millisecond
	p.registerTimer(r.Dur, r)

	p.poll(c.SHORT_TIMEOUT)
	assert.True(t, r.done)
	assert.Equal(t, 0, r.Rc)
	assert.Equal(t, 1, s.runnable.Length())
}
