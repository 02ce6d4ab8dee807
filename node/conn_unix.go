//go:build linux
// +build linux

package node

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// fdSocket is a Socket over a raw non-blocking descriptor.
type fdSocket struct {
	fd int
}

func newFdSocket(fd int) *fdSocket {
	return &fdSocket{fd: fd}
}

func (s *fdSocket) Read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *fdSocket) Write(p []byte) (int, error) {
	n, err := unix.Write(s.fd, p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *fdSocket) Close() error {
	return os.NewSyscallError("close", unix.Close(s.fd))
}

// sockaddrString renders the peer address of an accepted socket.
func sockaddrString(sa unix.Sockaddr) string {
	if addr := sockaddrToTCPAddr(sa); addr != nil {
		return addr.String()
	}
	return ""
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]), Port: addr.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(addr.Addr[:]), Port: addr.Port}
	default:
		return nil
	}
}
