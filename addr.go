//go:build unix

package kqio

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Addr is the normalized socket address: either AddrV4 or AddrV6. Raw
// sockaddr storage coming back from the kernel is normalized by inspecting
// the family, so user code never sees a sockaddr.
type Addr interface {
	Port() int
	String() string
	sockaddr() unix.Sockaddr
}

type AddrV4 struct {
	Addr	[4]byte
	PortNum	int
}

type AddrV6 struct {
	Addr		[16]byte
	PortNum		int
	Flowinfo	uint32
	Scope		uint32
}

func (a AddrV4) Port() int { return a.PortNum }
func (a AddrV6) Port() int { return a.PortNum }

func (a AddrV4) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.PortNum)
}

func (a AddrV6) String() string {
	return fmt.Sprintf("[%s]:%d", net.IP(a.Addr[:]).String(), a.PortNum)
}

func (a AddrV4) sockaddr() unix.Sockaddr {
	return &unix.SockaddrInet4{Port: a.PortNum, Addr: a.Addr}
}

func (a AddrV6) sockaddr() unix.Sockaddr {
	return &unix.SockaddrInet6{Port: a.PortNum, ZoneId: a.Scope, Addr: a.Addr}
}

// IPv4 builds an AddrV4 from dotted components.
func IPv4(a, b, c, d byte, port int) AddrV4 {
	return AddrV4{Addr: [4]byte{a, b, c, d}, PortNum: port}
}

// ParseAddr parses a literal IP (v4 or v6) plus port.
func ParseAddr(ip string, port int) (Addr, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, false
	}
	return addrFromIP(parsed, port), true
}

func addrFromIP(ip net.IP, port int) Addr {
	if v4 := ip.To4(); v4 != nil {
		var a AddrV4
		copy(a.Addr[:], v4)
		a.PortNum = port
		return a
	}
	var a AddrV6
	copy(a.Addr[:], ip.To16())
	a.PortNum = port
	return a
}

// addrFromSockaddr normalizes a kernel sockaddr by family. Unknown families
// report false; the caller surfaces EINVAL rather than inventing an address.
func addrFromSockaddr(sa unix.Sockaddr) (Addr, bool) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return AddrV4{Addr: v.Addr, PortNum: v.Port}, true
	case *unix.SockaddrInet6:
		return AddrV6{Addr: v.Addr, PortNum: v.Port, Scope: v.ZoneId}, true
	}
	return nil, false
}
