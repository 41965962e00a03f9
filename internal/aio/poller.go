//go:build unix

package aio

import (
	"time"
)

// poller is the portable seam between the scheduler and the kernel event
// facility. Registrations are one-shot and there is at most one read waiter
// and one write waiter per fd at any time; an implementation that preserves
// those two properties (kqueue here, epoll+timerfd on Linux) swaps in with no
// change upstream. Single-writer: only the scheduler loop calls anything here
// except wakeup, which is safe from any goroutine.
type poller interface {
	registerRead(fd int, r *Request)
	registerWrite(fd int, r *Request)
	registerTimer(d time.Duration, r *Request) int
	cancelRead(fd int)
	cancelWrite(fd int)
	cancelTimer(ticket int)
	poll(timeout time.Duration)
	wakeup()
	close()
}

// millis rounds a duration up to whole milliseconds (kernel timer
// resolution), never below 1.
func millis(d time.Duration) int64 {
	ms := int64(d / time.Millisecond)
	if d%time.Millisecond != 0 {
		ms++
	}
	if ms < 1 {
		ms = 1
	}
	return ms
}
