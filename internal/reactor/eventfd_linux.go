//go:build linux

package reactor

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// EventFD is the single process-wide level-triggered wakeup primitive
// behind the yielded-request queue (4.H): adding to an empty queue arms
// it, draining to empty disarms it.
type EventFD struct {
	fd int
}

// NewEventFD creates a non-blocking Linux eventfd.
func NewEventFD() (*EventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	return &EventFD{fd: fd}, nil
}

// FD returns the underlying file descriptor, for registering with a
// Poller.
func (e *EventFD) FD() int { return e.fd }

// Arm signals the eventfd, waking anything blocked in epoll_wait on it.
// Idempotent: signalling an already-armed eventfd just increments its
// internal counter, which Disarm drains in one read.
func (e *EventFD) Arm() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(e.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("reactor: eventfd write: %w", err)
	}
	return nil
}

// Disarm drains the eventfd's counter back to zero.
func (e *EventFD) Disarm() error {
	var buf [8]byte
	_, err := unix.Read(e.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("reactor: eventfd read: %w", err)
	}
	return nil
}

// Close releases the eventfd.
func (e *EventFD) Close() error {
	return unix.Close(e.fd)
}
