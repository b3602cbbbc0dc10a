//go:build linux

package main

import (
	"fmt"
	"net"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// netConnFromFD wraps a raw accepted fd as a blocking net.Conn so the
// synchronous handshake (4.F) can use ordinary Read/Write. It consumes
// fd: the returned net.Conn owns an independent dup.
func netConnFromFD(fd int) (net.Conn, error) {
	if err := unix.SetNonblock(fd, false); err != nil {
		return nil, fmt.Errorf("netconn: set blocking: %w", err)
	}
	file := os.NewFile(uintptr(fd), "accepted-conn")
	conn, err := net.FileConn(file)
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("netconn: FileConn: %w", err)
	}
	return conn, nil
}

// detachFD extracts netConn's raw fd, switches it back to non-blocking
// for the connection driver, and detaches the os.File finalizer so the
// driver — not Go's GC — owns its lifetime from here on.
func detachFD(netConn net.Conn) (int, error) {
	tcpConn, ok := netConn.(*net.TCPConn)
	if !ok {
		return -1, fmt.Errorf("netconn: not a TCP connection")
	}
	file, err := tcpConn.File()
	if err != nil {
		return -1, fmt.Errorf("netconn: extract fd: %w", err)
	}
	runtime.SetFinalizer(file, nil)

	fd := int(file.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd) //nolint:errcheck
		return -1, fmt.Errorf("netconn: set nonblocking: %w", err)
	}
	netConn.Close()
	return fd, nil
}
