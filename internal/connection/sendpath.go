//go:build linux

package connection

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/swarmstore/swarmstore/internal/reactor"
)

// pendingSend is one queued whole-message write: a gather list of
// buffers (header + body fields) that must reach the peer as a single
// ordered unit before the next queued request's send may start (4.B:
// "messages are serialized; sends never interleave mid-message").
type pendingSend struct {
	requestID uint64
	iov       [][]byte
	done      chan error
}

// SendPath is the vector-I/O send path (4.B): a FIFO of whole-message
// writes drained with writev, re-arming for EPOLLOUT only while a
// partial write is outstanding.
type SendPath struct {
	fd      int
	poller  *reactor.Poller
	metrics Metrics

	enqueue chan *pendingSend
	stop    chan struct{}
}

// NewSendPath wires a send path to a non-blocking fd and the poller
// used to wait for write readiness between partial writes.
func NewSendPath(fd int, poller *reactor.Poller, metrics Metrics) *SendPath {
	return &SendPath{
		fd:      fd,
		poller:  poller,
		metrics: metrics,
		enqueue: make(chan *pendingSend, 256),
		stop:    make(chan struct{}),
	}
}

// Enqueue appends a whole message (as a list of field buffers) to the
// FIFO and returns a channel delivering its completion error (nil on
// success). Buffers must not be mutated until the channel fires.
func (s *SendPath) Enqueue(requestID uint64, iov [][]byte) <-chan error {
	done := make(chan error, 1)
	s.enqueue <- &pendingSend{requestID: requestID, iov: iov, done: done}
	return done
}

// Stop terminates Run and fails every still-queued send.
func (s *SendPath) Stop() {
	close(s.stop)
}

// Run drains the FIFO until Stop is called or a non-recoverable write
// error occurs, at which point every remaining queued send (including
// the one that failed) is completed with that error.
func (s *SendPath) Run() {
	var queue []*pendingSend

	// stopped fails every queued send, including those still waiting in
	// the enqueue channel.
	stopped := func() {
		for {
			select {
			case p := <-s.enqueue:
				queue = append(queue, p)
			default:
				s.failAll(queue, fmt.Errorf("connection: send path stopped"))
				return
			}
		}
	}

	for {
		if len(queue) == 0 {
			select {
			case p := <-s.enqueue:
				queue = append(queue, p)
				continue
			case <-s.stop:
				stopped()
				return
			}
		}

		head := queue[0]
		remaining, doneSending, err := writevOnce(s.fd, head.iov)
		head.iov = remaining
		if err != nil {
			if err == unix.EAGAIN {
				if werr := s.waitWritable(); werr != nil {
					s.failAll(queue, werr)
					return
				}
				continue
			}
			s.failAll(queue, fmt.Errorf("connection: write: %w", err))
			return
		}

		if doneSending {
			head.done <- nil
			queue = queue[1:]
		}

		// Drain anything enqueued meanwhile without blocking, so a
		// burst of sends from independent requests doesn't serialize
		// through repeated wakeups.
		for {
			select {
			case p := <-s.enqueue:
				queue = append(queue, p)
			case <-s.stop:
				stopped()
				return
			default:
				goto drained
			}
		}
	drained:
	}
}

func (s *SendPath) failAll(queue []*pendingSend, err error) {
	for _, p := range queue {
		p.done <- err
	}
}

func (s *SendPath) waitWritable() error {
	s.metrics.IncIOWaitEvents()
	ch, err := s.poller.RegisterWrite(s.fd)
	if err != nil {
		return err
	}
	defer s.poller.UnregisterWrite(s.fd) //nolint:errcheck

	select {
	case <-ch:
		return nil
	case <-s.stop:
		return fmt.Errorf("connection: send path stopped")
	}
}

// writevOnce issues a single non-blocking writev and returns the
// remaining unwritten buffers (trimmed for however much was accepted).
// done is true once nothing remains.
func writevOnce(fd int, iov [][]byte) (remaining [][]byte, done bool, err error) {
	for len(iov) > 0 && len(iov[0]) == 0 {
		iov = iov[1:]
	}
	if len(iov) == 0 {
		return iov, true, nil
	}

	n, err := unix.Writev(fd, iov)
	if err != nil {
		return iov, false, err
	}

	for n > 0 && len(iov) > 0 {
		if n < len(iov[0]) {
			iov[0] = iov[0][n:]
			n = 0
			break
		}
		n -= len(iov[0])
		iov = iov[1:]
	}

	return iov, len(iov) == 0, nil
}
