//go:build unix

package kqio

import (
	"time"
)

// Sleep suspends the task for at least d. Millisecond resolution: the poller
// rounds up, so the task never resumes early.
func (rt *Runtime) Sleep(t *Task, d time.Duration) error {
	rt.guard(t)
	rc, eno := rt.submitTimer(t, d)
	return check("sleep", rc, eno)
}

// SleepParts takes the split seconds/milliseconds/nanoseconds form. The
// default combines them as s*1000 + ms + ns/1e6 milliseconds; with
// LegacyTimerUnits set, nanoseconds divide by 1000 instead.
func (rt *Runtime) SleepParts(t *Task, sec int64, ms int64, ns int64) error {
	total := sleepMillis(sec, ms, ns, CurrentConfig().LegacyTimerUnits)
	return rt.Sleep(t, time.Duration(total)*time.Millisecond)
}

func sleepMillis(sec int64, ms int64, ns int64, legacy bool) int64 {
	total := sec*1000 + ms
	if legacy {
		return total + ns/1_000
	}
	return total + ns/1_000_000
}

// Resolve looks a hostname up off-loop and returns the normalized addresses
// with port 0.
func (rt *Runtime) Resolve(t *Task, host string, timeout time.Duration) ([]Addr, Result, error) {
	rt.guard(t)
	r, rc, eno := rt.submitResolve(t, host, timeout)
	if rc < 0 {
		return nil, Result{rc, eno}, check("getaddrinfo", rc, eno)
	}
	addrs := make([]Addr, 0, len(r.IPs))
	for _, ip := range r.IPs {
		addrs = append(addrs, addrFromIP(ip, 0))
	}
	return addrs, Result{rc, eno}, nil
}
