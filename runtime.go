//go:build unix

package kqio

import (
	"log/slog"

	"kqio/internal/aio"

	"golang.org/x/sys/unix"
)

// Task is the cooperative unit of user execution; every blocking operation
// takes the calling task explicitly (the Go rendering of the original's
// fiber-local bootstrap - an explicit context instead of a hidden singleton).
type Task = aio.Task

// Stats mirrors the scheduler's activity counters.
type Stats = aio.Stats

// Re-exports for the open/socket parameter surface.
const (
	O_RDONLY 	= unix.O_RDONLY
	O_WRONLY 	= unix.O_WRONLY
	O_RDWR 		= unix.O_RDWR
	O_CREAT 	= unix.O_CREAT
	O_TRUNC 	= unix.O_TRUNC
	O_APPEND 	= unix.O_APPEND

	AF_INET 	= unix.AF_INET
	AF_INET6 	= unix.AF_INET6
	SOCK_STREAM = unix.SOCK_STREAM
	SOCK_DGRAM 	= unix.SOCK_DGRAM
)

// Runtime owns one scheduler (and through it one poller and one I/O loop).
// Create one per OS-level execution context; there is deliberately no global
// instance.
type Runtime struct {
	log		*slog.Logger
	sched	*aio.Sched
}

func CreateRuntime() (*Runtime, error) {
	sched, err := aio.CreateSched()
	if err != nil { return nil, err }

	return &Runtime{
		log: 	slog.With("src", "Runtime"),
		sched: 	sched,
	}, nil
}

// Go spawns a task onto this runtime.
func (rt *Runtime) Go(fn func(*Task)) *Task {
	return rt.sched.Go(fn)
}

// Wait blocks until every task has finished.
func (rt *Runtime) Wait() {
	rt.sched.Wait()
}

// Close tears the scheduler down. Call after Wait.
func (rt *Runtime) Close() {
	rt.sched.Close()
}

func (rt *Runtime) Stats() Stats {
	return rt.sched.Stats()
}

// Yield parks the task until after the next poll.
func (rt *Runtime) Yield(t *Task) {
	rt.sched.Yield(t)
}

// RunUntil pumps the scheduler from the calling task until pred holds.
func (rt *Runtime) RunUntil(t *Task, pred func() bool) {
	rt.sched.YieldUntil(t, pred)
}

// guard enforces object-to-runtime pinning on every op entry. Objects belong
// to the runtime that created them; what happens on a foreign task is the
// multithread policy's call.
func (rt *Runtime) guard(t *Task) {
	if t != nil && t.Sched() == rt.sched {
		return
	}
	switch CurrentConfig().Multithread {
	case Silent:
	case Warn:
		rt.log.Warn("object driven from outside its runtime")
	case Fatal:
		panic("kqio: object driven from outside its runtime")
	}
}
