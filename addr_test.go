//go:build unix

package kqio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func Test_Addr_Parse(t *testing.T) {
	a, ok := ParseAddr("127.0.0.1", 8080)
	assert.True(t, ok)
	v4, isV4 := a.(AddrV4)
	assert.True(t, isV4)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, v4.Addr)
	assert.Equal(t, 8080, a.Port())
	assert.Equal(t, "127.0.0.1:8080", a.String())

	a, ok = ParseAddr("::1", 443)
	assert.True(t, ok)
	_, isV6 := a.(AddrV6)
	assert.True(t, isV6)
	assert.Equal(t, "[::1]:443", a.String())

	_, ok = ParseAddr("not-an-ip", 1)
	assert.False(t, ok)
}

// kernel sockaddrs normalize into the sum type by family, and the mapping
// round-trips
func Test_Addr_Sockaddr_RoundTrip(t *testing.T) {
	in := IPv4(10, 1, 2, 3, 999)
	out, ok := addrFromSockaddr(in.sockaddr())
	assert.True(t, ok)
	assert.Equal(t, Addr(in), out)

	v6 := AddrV6{PortNum: 53, Scope: 7}
	v6.Addr[15] = 1
	out, ok = addrFromSockaddr(v6.sockaddr())
	assert.True(t, ok)
	assert.Equal(t, Addr(v6), out)

	_, ok = addrFromSockaddr(&unix.SockaddrUnix{Name: "/tmp/x"})
	assert.False(t, ok)
}
