//go:build linux

// Package connection implements the connection driver (4.K): it owns the
// socket, the vector-I/O send path (4.B), the stream receive path (4.C),
// the RequestId->RequestOnConn demultiplexer, and one-shot shutdown.
//
// Sockets are raw, non-blocking IPv4 TCP file descriptors managed
// directly through golang.org/x/sys/unix and a reactor.Poller, rather
// than net.Conn — this is what lets the send/receive paths implement
// the spec's non-blocking vectored I/O and single-readiness-event
// re-arming exactly, instead of layering on top of the Go runtime's own
// netpoller.
package connection

import (
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// init suppresses SIGPIPE process-wide (4.B) so a write to a peer that
// has reset the connection surfaces as EPIPE rather than terminating
// the process.
func init() {
	signal.Ignore(syscall.SIGPIPE)
}

func setNonblockingAndCloseOnExec(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("connection: set nonblocking: %w", err)
	}
	unix.CloseOnExec(fd)
	return nil
}

// DialTCP creates a non-blocking IPv4 TCP socket and connects it to
// addr. The connect itself is allowed to block briefly; all subsequent
// I/O on the returned fd is non-blocking.
func DialTCP(addr *net.TCPAddr) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("connection: socket: %w", err)
	}

	sa, err := toSockaddrInet4(addr)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}

	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("connection: connect: %w", err)
	}

	if err := setNonblockingAndCloseOnExec(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

// ListenTCP creates a non-blocking listening IPv4 TCP socket bound to
// addr.
func ListenTCP(addr *net.TCPAddr) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("connection: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("connection: setsockopt SO_REUSEADDR: %w", err)
	}

	sa, err := toSockaddrInet4(addr)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("connection: bind: %w", err)
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("connection: listen: %w", err)
	}
	if err := setNonblockingAndCloseOnExec(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

// AcceptTCP accepts one pending connection from a non-blocking listening
// fd. It returns unix.EAGAIN (unwrapped) when nothing is pending; callers
// should register listenFD with a reactor.Poller for EPOLLIN and retry
// on readiness.
func AcceptTCP(listenFD int) (fd int, peer *net.TCPAddr, err error) {
	connFD, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}

	addr := fromSockaddrInet4(sa)
	return connFD, addr, nil
}

func toSockaddrInet4(addr *net.TCPAddr) (*unix.SockaddrInet4, error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("connection: %s is not an IPv4 address", addr.IP)
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	copy(sa.Addr[:], ip4)
	return sa, nil
}

func fromSockaddrInet4(sa unix.Sockaddr) *net.TCPAddr {
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return &net.TCPAddr{}
	}
	return &net.TCPAddr{IP: net.IPv4(in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3]), Port: in4.Port}
}
