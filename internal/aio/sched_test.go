//go:build unix

package aio

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"kqio/internal/sys"

	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
		AddSource:  true,
	})))
	os.Exit(m.Run())
}

func testSched(t *testing.T) *Sched {
	s, err := CreateSched()
	assert.NoError(t, err)
	if err != nil { t.Fatal() }
	return s
}

func Test_Sched_Nop(t *testing.T) {
	s := testSched(t)

	var rc int
	var eno unix.Errno
	s.Go(func(tk *Task) {
		r := Request{Opcode: OpNop, Fd: -1}
		rc, eno = s.Submit(tk, &r)
	})
	s.Wait()
	s.Close()

	assert.Equal(t, 0, rc)
	assert.Equal(t, unix.Errno(0), eno)
	assert.Equal(t, uint64(1), s.Stats().Submitted)
	assert.Equal(t, uint64(1), s.Stats().Completed)
}

func Test_Sched_Timer_LowerBound(t *testing.T) {
	s := testSched(t)

	start := time.Now()
	s.Go(func(tk *Task) {
		r := Request{Opcode: OpTimer, Fd: -1, Dur: 30 * time.Millisecond}
		rc, eno := s.Submit(tk, &r)
		assert.Equal(t, 0, rc)
		assert.Equal(t, unix.Errno(0), eno)
	})
	s.Wait()
	s.Close()

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

// Ten sleepers in parallel finish in roughly one sleep, not ten.
func Test_Sched_Sleep_Parallel(t *testing.T) {
	s := testSched(t)

	var done atomic.Int32
	start := time.Now()
	for iter := 0; iter < 10; iter++ {
		s.Go(func(tk *Task) {
			r := Request{Opcode: OpTimer, Fd: -1, Dur: 10 * time.Millisecond}
			s.Submit(tk, &r)
			done.Add(1)
		})
	}
	s.Wait()
	s.Close()

	assert.Equal(t, int32(10), done.Load())
	assert.Less(t, time.Since(start), 80*time.Millisecond)
}

// Reader suspends on an empty pipe until the writer task feeds it.
func Test_Sched_Pipe_Readiness(t *testing.T) {
	s := testSched(t)

	rfd, wfd, eno := sys.Pipe()
	assert.Equal(t, unix.Errno(0), eno)

	buf := make([]byte, 8)
	var rc int
	s.Go(func(tk *Task) {
		r := Request{Opcode: OpRead, Fd: rfd, Buf: buf}
		rc, _ = s.Submit(tk, &r)
	})
	s.Go(func(tk *Task) {
		slp := Request{Opcode: OpTimer, Fd: -1, Dur: 5 * time.Millisecond}
		s.Submit(tk, &slp)
		w := Request{Opcode: OpWrite, Fd: wfd, Buf: []byte("abc")}
		wrc, weno := s.Submit(tk, &w)
		assert.Equal(t, 3, wrc)
		assert.Equal(t, unix.Errno(0), weno)
	})
	s.Wait()
	s.Close()

	assert.Equal(t, 3, rc)
	assert.Equal(t, []byte("abc"), buf[:3])

	unix.Close(rfd)
	unix.Close(wfd)
}

// A deadline on a read that never becomes ready wins and surfaces
// ETIMEDOUT; the registration is cleaned up so a later read still works.
func Test_Sched_Deadline(t *testing.T) {
	s := testSched(t)

	rfd, wfd, eno := sys.Pipe()
	assert.Equal(t, unix.Errno(0), eno)

	s.Go(func(tk *Task) {
		buf := make([]byte, 4)
		r := Request{Opcode: OpRead, Fd: rfd, Buf: buf, Deadline: 30 * time.Millisecond}
		start := time.Now()
		rc, eno := s.Submit(tk, &r)
		assert.Equal(t, -1, rc)
		assert.Equal(t, unix.ETIMEDOUT, eno)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

		// fd is usable again after the canceled registration
		w := Request{Opcode: OpWrite, Fd: wfd, Buf: []byte("xy")}
		s.Submit(tk, &w)
		r2 := Request{Opcode: OpRead, Fd: rfd, Buf: buf}
		rc, eno = s.Submit(tk, &r2)
		assert.Equal(t, 2, rc)
		assert.Equal(t, unix.Errno(0), eno)
	})
	s.Wait()
	s.Close()

	unix.Close(rfd)
	unix.Close(wfd)
}

func Test_Sched_Yield(t *testing.T) {
	s := testSched(t)

	var order []int
	s.Go(func(tk *Task) {
		order = append(order, 1)
		s.Go(func(*Task) {
			order = append(order, 2)
		})
		s.Yield(tk)
		order = append(order, 3)
	})
	s.Wait()
	s.Close()

	assert.Equal(t, []int{1, 2, 3}, order)
}

func Test_Sched_YieldUntil(t *testing.T) {
	s := testSched(t)

	flag := false
	s.Go(func(tk *Task) {
		s.YieldUntil(tk, func() bool { return flag })
	})
	s.Go(func(tk *Task) {
		r := Request{Opcode: OpTimer, Fd: -1, Dur: 5 * time.Millisecond}
		s.Submit(tk, &r)
		flag = true
	})
	s.Wait()
	s.Close()

	assert.True(t, flag)
}

func Test_Sched_Resolve_Localhost(t *testing.T) {
	s := testSched(t)

	s.Go(func(tk *Task) {
		r := Request{Opcode: OpGetaddrinfo, Fd: -1, Host: "localhost"}
		rc, eno := s.Submit(tk, &r)
		assert.Equal(t, unix.Errno(0), eno)
		assert.Greater(t, rc, 0)
		assert.NotEmpty(t, r.IPs)
	})
	s.Wait()
	s.Close()
}
