//go:build unix

package kqio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func listener(t *testing.T, rt *Runtime, tk *Task) (*Socket, Addr) {
	srv, res, err := rt.NewSocket(AF_INET, SOCK_STREAM)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, res.RC, 0)

	bres, err := srv.Bind(tk, IPv4(127, 0, 0, 1, 0), 0)
	assert.NoError(t, err)
	assert.Equal(t, 0, bres.RC)

	lres, err := srv.Listen(tk, 16, 0)
	assert.NoError(t, err)
	assert.Equal(t, 0, lres.RC)

	local, eno := srv.LocalAddr()
	assert.Equal(t, Errno(0), eno)
	assert.Greater(t, local.Port(), 0)
	return srv, local
}

// binding twice is a one-shot violation: EINVAL, no syscall, state intact
func Test_Socket_Bind_Twice(t *testing.T) {
	run(t, func(rt *Runtime, tk *Task) {
		s, _, err := rt.NewSocket(AF_INET, SOCK_STREAM)
		assert.NoError(t, err)

		res, err := s.Bind(tk, IPv4(127, 0, 0, 1, 0), 0)
		assert.NoError(t, err)
		assert.Equal(t, 0, res.RC)

		before := rt.Stats().Submitted
		res, err = s.Bind(tk, IPv4(127, 0, 0, 1, 0), 0)
		assert.NoError(t, err)
		assert.Equal(t, -1, res.RC)
		assert.Equal(t, EINVAL, res.Errno)
		assert.Equal(t, before, rt.Stats().Submitted)

		// still Bound: listen works
		lres, err := s.Listen(tk, 4, 0)
		assert.NoError(t, err)
		assert.Equal(t, 0, lres.RC)

		s.Close(tk, 0)
	})
}

// state-inappropriate ops answer without touching the kernel
func Test_Socket_Illegal_States(t *testing.T) {
	run(t, func(rt *Runtime, tk *Task) {
		s, _, _ := rt.NewSocket(AF_INET, SOCK_STREAM)

		before := rt.Stats().Submitted

		r, _ := s.Recv(tk, nil, 4, 0, 0)
		assert.Equal(t, EINVAL, r.Errno)

		a, _ := s.Accept(tk, 0)
		assert.Equal(t, EINVAL, a.Errno)

		lres, _ := s.Listen(tk, 4, 0)
		assert.Equal(t, EINVAL, lres.Errno)

		// the send cascade bottoms out in sendmsg, which a fresh socket
		// does not implement
		sres, _ := s.Send(tk, []byte("x"), 0, 0)
		assert.Equal(t, EBADF, sres.Errno)

		assert.Equal(t, before, rt.Stats().Submitted)

		s.Close(tk, 0)

		r, _ = s.Recv(tk, nil, 4, 0, 0)
		assert.Equal(t, EBADF, r.Errno)
	})
}

// two concurrent connectors against one listener; each accept mints a
// distinct Connected socket and the parent keeps listening
func Test_Socket_Accept_Loop(t *testing.T) {
	rt := testRuntime(t)

	var local Addr
	ready := false

	rt.Go(func(tk *Task) {
		srv, addr := listener(t, rt, tk)
		local = addr
		ready = true

		seen := make(map[int]bool)
		for iter := 0; iter < 2; iter++ {
			a, err := srv.Accept(tk, 0)
			assert.NoError(t, err)
			assert.GreaterOrEqual(t, a.RC, 0)
			assert.NotNil(t, a.Conn)
			assert.NotNil(t, a.Peer)
			assert.False(t, seen[a.Conn.Fd()])
			seen[a.Conn.Fd()] = true

			// minted socket is already Connected: send just works
			sres, err := a.Conn.Send(tk, []byte("hi"), 0, 0)
			assert.NoError(t, err)
			assert.Equal(t, 2, sres.RC)
			a.Conn.Close(tk, 0)
		}
		srv.Close(tk, 0)
	})

	for iter := 0; iter < 2; iter++ {
		rt.Go(func(tk *Task) {
			rt.RunUntil(tk, func() bool { return ready })

			cli, _, err := rt.NewSocket(AF_INET, SOCK_STREAM)
			assert.NoError(t, err)

			cres, err := cli.Connect(tk, local, time.Second)
			assert.NoError(t, err)
			assert.Equal(t, 0, cres.RC)

			r, err := cli.Recv(tk, nil, 2, 0, time.Second)
			assert.NoError(t, err)
			assert.Equal(t, 2, r.RC)
			assert.Equal(t, []byte("hi"), r.Data)

			cli.Close(tk, 0)
		})
	}

	rt.Wait()
	rt.Close()
}

// recv with a deadline on a silent peer times out; the next recv without a
// deadline picks the data up when it arrives
func Test_Socket_Recv_Timeout(t *testing.T) {
	rt := testRuntime(t)

	var local Addr
	ready := false
	timedOut := false

	rt.Go(func(tk *Task) {
		srv, addr := listener(t, rt, tk)
		local = addr
		ready = true

		a, err := srv.Accept(tk, 0)
		assert.NoError(t, err)

		// hold back until the client has already eaten its deadline
		rt.RunUntil(tk, func() bool { return timedOut })
		sres, err := a.Conn.Send(tk, []byte("late"), 0, 0)
		assert.NoError(t, err)
		assert.Equal(t, 4, sres.RC)

		a.Conn.Close(tk, 0)
		srv.Close(tk, 0)
	})

	rt.Go(func(tk *Task) {
		rt.RunUntil(tk, func() bool { return ready })

		cli, _, _ := rt.NewSocket(AF_INET, SOCK_STREAM)
		cres, err := cli.Connect(tk, local, time.Second)
		assert.NoError(t, err)
		assert.Equal(t, 0, cres.RC)

		start := time.Now()
		r, err := cli.Recv(tk, nil, 4, 0, 50*time.Millisecond)
		assert.NoError(t, err) // return-codes policy
		assert.Equal(t, -1, r.RC)
		assert.Equal(t, ETIMEDOUT, r.Errno)
		assert.Nil(t, r.Data)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
		timedOut = true

		r, err = cli.Recv(tk, nil, 4, 0, 0)
		assert.NoError(t, err)
		assert.Equal(t, 4, r.RC)
		assert.Equal(t, []byte("late"), r.Data)

		cli.Close(tk, 0)
	})

	rt.Wait()
	rt.Close()
}

// connect failure lands the socket in Closed carrying the error
func Test_Socket_Connect_Refused(t *testing.T) {
	run(t, func(rt *Runtime, tk *Task) {
		// bind+listen(0)-free port: grab a port with a listener, close it,
		// then connect to the now-dead address
		srv, addr := listener(t, rt, tk)
		srv.Close(tk, 0)

		cli, _, _ := rt.NewSocket(AF_INET, SOCK_STREAM)
		cres, err := cli.Connect(tk, addr, time.Second)
		assert.NoError(t, err)
		assert.Equal(t, -1, cres.RC)
		assert.Equal(t, ECONNREFUSED, cres.Errno)

		// dead: every further op is EBADF
		r, _ := cli.Recv(tk, nil, 1, 0, 0)
		assert.Equal(t, EBADF, r.Errno)
	})
}
