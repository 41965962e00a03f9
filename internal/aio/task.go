//go:build unix

package aio

// TaskState tracks where a task sits in the cooperative lifecycle.
type TaskState uint8
const (
	TaskRunnable TaskState = iota
	TaskRunning
	TaskSuspended
	TaskDead
)

// Task is a cooperative unit of user execution. Under the hood it is a
// goroutine gated by a wake channel: the scheduler owns the only send on
// `wake`, the task owns the only send on the scheduler's `parked`, and the
// strict ping-pong between the two means exactly one of {I/O loop, one task}
// ever runs. That handoff is the whole concurrency model - fields on Task,
// Sched and Request need no locks because the active side always parks
// before the other resumes.
type Task struct {
	id		uint64
	sched	*Sched
	state	TaskState
	wake	chan struct{}
	req		*Request // set while suspended on a submit
}

func (t *Task) Id() uint64 {
	return t.id
}

func (t *Task) State() TaskState {
	return t.state
}

func (t *Task) Sched() *Sched {
	return t.sched
}

func (t *Task) run(fn func(*Task)) {
	<-t.wake
	fn(t)
	t.state = TaskDead
	t.sched.live.Add(-1)
	t.sched.wg.Done()
	t.sched.parked <- struct{}{}
}

// park suspends the calling task and transfers control to the I/O loop.
// Returns once the scheduler resumes us.
func (t *Task) park() {
	t.sched.parked <- struct{}{}
	<-t.wake
}
