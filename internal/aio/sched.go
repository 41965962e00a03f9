//go:build unix

package aio

import (
	"log/slog"
	"net"
	"runtime"
	"sync"
	"sync/atomic"

	c "kqio/internal"
	"kqio/internal/sys"

	"github.com/eapache/queue"
	"github.com/negrel/assert"
	"golang.org/x/sys/unix"
)

// Stats is a snapshot of the scheduler's activity counters.
type Stats struct {
	Submitted	uint64
	Completed	uint64
	Polls		uint64
}

type counters struct {
	submitted	atomic.Uint64
	completed	atomic.Uint64
	polls		atomic.Uint64
}

// completion handed back from an offload goroutine. The loop copies the
// payload onto the request itself so nothing else ever writes request fields.
type offloadDone struct {
	r	*Request
	rc	int
	eno	unix.Errno
	ips	[]net.IP
}

// Sched multiplexes tasks over a single active context and owns the poller.
// The I/O loop goroutine is the only writer of the poller and of request
// result slots; user tasks only touch scheduler state while they hold the
// running slot.
type Sched struct {
	log			*slog.Logger
	poller		poller

	runnable	*queue.Queue // *Task, strict FIFO
	afterPoll	[]*Task      // yielded tasks, readmitted after the next poll
	pending		[]*Request   // submitted by the running task, flushed by the loop
	parked		chan struct{}

	// cross-goroutine entry points (Go from outside, offload completions)
	mu			sync.Mutex
	spawns		[]*Task
	external	[]offloadDone

	wg			sync.WaitGroup
	live		atomic.Int64
	closed		atomic.Bool
	stats		counters
	nextId		uint64
}

func CreateSched() (*Sched, error) {
	s := &Sched{
		log: 		slog.With("src", "Sched"),
		runnable: 	queue.New(),
		parked: 	make(chan struct{}),
	}

	p, err := createPoller(s)
	if err != nil { return nil, err }
	s.poller = p

	go s.loop()
	return s, nil
}

func (s *Sched) Stats() Stats {
	return Stats{
		Submitted: s.stats.submitted.Load(),
		Completed: s.stats.completed.Load(),
		Polls:     s.stats.polls.Load(),
	}
}

// Go spawns a task. Safe from anywhere; the new task enters the RUNNABLE
// queue on the loop's next admission round.
func (s *Sched) Go(fn func(*Task)) *Task {
	t := &Task{
		id: 	atomic.AddUint64(&s.nextId, 1),
		sched: 	s,
		state: 	TaskRunnable,
		wake: 	make(chan struct{}, 1),
	}
	s.live.Add(1)
	s.wg.Add(1)
	go t.run(fn)

	s.mu.Lock()
	s.spawns = append(s.spawns, t)
	s.mu.Unlock()
	s.poller.wakeup()
	return t
}

// Wait blocks until every task has finished.
func (s *Sched) Wait() {
	s.wg.Wait()
}

// Close stops the loop once all tasks are dead and releases the poller.
// Call after Wait.
func (s *Sched) Close() {
	s.closed.Store(true)
	s.poller.wakeup()
}

// Submit enqueues the request and suspends the calling task until the result
// slot is filled. Apart from an explicit Yield, this is the only suspension
// point in the system.
func (s *Sched) Submit(t *Task, r *Request) (int, unix.Errno) {
	r.task = t
	r.guard = -1
	s.stats.submitted.Add(1)
	s.pending = append(s.pending, r)
	t.state = TaskSuspended
	t.req = r
	t.park()
	t.req = nil
	return r.Rc, r.Errno
}

// Yield parks the caller until after the next poll, letting the I/O loop and
// any runnable peers make progress.
func (s *Sched) Yield(t *Task) {
	t.state = TaskRunnable
	s.afterPoll = append(s.afterPoll, t)
	t.park()
}

// YieldUntil pumps the scheduler from the calling task until pred holds.
func (s *Sched) YieldUntil(t *Task, pred func() bool) {
	for !pred() {
		s.Yield(t)
	}
}

// This is our main scheduler loop, the "I/O task". It alternates between
// draining the RUNNABLE queue and sitting in the poller. Pinned to an OS
// thread: timer latency suffers badly when the loop migrates.
func (s *Sched) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		s.admit()

		for s.runnable.Length() > 0 {
			t := s.runnable.Remove().(*Task)
			s.resume(t)
			s.flush()
			s.admit()
		}

		if len(s.afterPoll) > 0 {
			// yielded tasks want the poller to run once before they do;
			// a zero-timeout poll keeps them from starving I/O
			s.stats.polls.Add(1)
			s.poller.poll(0)
			for _, t := range s.afterPoll {
				s.runnable.Add(t)
			}
			s.afterPoll = s.afterPoll[:0]
			continue
		}

		if s.closed.Load() && s.live.Load() == 0 {
			s.poller.close()
			return
		}

		s.stats.polls.Add(1)
		s.poller.poll(c.SHORT_TIMEOUT)
	}
}

func (s *Sched) resume(t *Task) {
	t.state = TaskRunning
	t.wake <- struct{}{}
	<-s.parked
}

// admit moves externally queued work (spawns, offload completions) into loop
// state. The mutex only ever guards these two slices.
func (s *Sched) admit() {
	s.mu.Lock()
	spawns := s.spawns
	ext := s.external
	s.spawns = nil
	s.external = nil
	s.mu.Unlock()

	for _, t := range spawns {
		s.runnable.Add(t)
	}
	for _, d := range ext {
		if d.r.done { continue } // deadline beat the resolver
		d.r.IPs = d.ips
		s.complete(d.r, d.rc, d.eno)
	}
}

// flush dispatches every request the just-parked task submitted.
func (s *Sched) flush() {
	for len(s.pending) > 0 {
		pend := s.pending
		s.pending = nil
		for _, r := range pend {
			s.dispatch(r)
		}
	}
}

func (s *Sched) dispatch(r *Request) {
	switch r.Opcode {
	case OpTimer:
		s.poller.registerTimer(r.Dur, r)
		return

	case OpGetaddrinfo:
		s.offload(r)
		return

	case OpConnect:
		// initiate; readiness reports the outcome via SO_ERROR
		rc, eno := sys.Connect(r.Fd, r.Addr)
		if eno == unix.EINPROGRESS || eno == unix.EINTR {
			s.arm(r)
			s.poller.registerWrite(r.Fd, r)
			return
		}
		s.complete(r, rc, eno)
		return
	}

	dir := r.Opcode.dir()
	rc, eno := r.perform()
	if eno == unix.EAGAIN && dir != pollNone {
		s.arm(r)
		s.register(dir, r)
		return
	}
	s.complete(r, rc, eno)
}

func (s *Sched) register(dir pollDir, r *Request) {
	if dir == pollRead {
		s.poller.registerRead(r.Fd, r)
	} else {
		s.poller.registerWrite(r.Fd, r)
	}
}

// arm attaches the deadline guard timer, if the request carries a deadline.
func (s *Sched) arm(r *Request) {
	if r.Deadline > 0 {
		r.guard = s.poller.registerTimer(r.Deadline, r)
	}
}

// onReady is the poller's dispatch for a fired read/write filter. EAGAIN
// means the readiness was spurious or another consumer drained the fd:
// re-register and keep the task suspended, never surface it.
func (s *Sched) onReady(dir pollDir, r *Request) {
	rc, eno := r.perform()
	if eno == unix.EAGAIN {
		s.register(dir, r)
		return
	}
	s.complete(r, rc, eno)
}

// onTimer is the poller's dispatch for a fired timer ticket: either a sleep
// completing or a deadline guard expiring under a still-pending request.
func (s *Sched) onTimer(r *Request) {
	if r.Opcode == OpTimer {
		s.complete(r, 0, 0)
		return
	}
	if r.done {
		return
	}
	r.guard = -1
	switch r.Opcode {
	case OpGetaddrinfo:
		// resolver goroutine still runs; its completion will be discarded
	default:
		if d := r.Opcode.dir(); d == pollRead {
			s.poller.cancelRead(r.Fd)
		} else if d == pollWrite {
			s.poller.cancelWrite(r.Fd)
		}
	}
	s.complete(r, -1, unix.ETIMEDOUT)
}

// complete writes the result slot and marks the owner runnable. Idempotent:
// the first writer wins and later completions (the losing half of a deadline
// race) are dropped here.
func (s *Sched) complete(r *Request, rc int, eno unix.Errno) {
	if r.done {
		return
	}
	r.done = true
	r.Rc = rc
	r.Errno = eno
	if r.guard >= 0 {
		s.poller.cancelTimer(r.guard)
		r.guard = -1
	}
	s.stats.completed.Add(1)

	t := r.task
	assert.Equal(TaskSuspended, t.state, "completing a request whose task is not suspended")
	t.state = TaskRunnable
	s.runnable.Add(t)
}

// offload runs getaddrinfo-class work on a helper goroutine so the loop never
// blocks in the resolver, then hands the payload back through the external
// queue and kicks the poller awake.
func (s *Sched) offload(r *Request) {
	s.arm(r)
	host := r.Host
	go func() {
		var d offloadDone
		d.r = r
		ips, err := net.LookupIP(host)
		if err != nil {
			d.rc, d.eno = -1, unix.ENOENT
		} else {
			d.rc, d.ips = len(ips), ips
		}
		s.mu.Lock()
		s.external = append(s.external, d)
		s.mu.Unlock()
		s.poller.wakeup()
	}()
}
