//go:build linux

package connection

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/swarmstore/swarmstore/internal/protoerr"
	"github.com/swarmstore/swarmstore/internal/reactor"
	"github.com/swarmstore/swarmstore/internal/wire"
)

// readChunk is the size of each individual non-blocking read (4.C's
// "64 KiB sliding window"); the accumulation buffer itself grows past
// this to hold a body up to maxBodyLength, but each syscall only ever
// asks for one window's worth.
const readChunk = 64 * 1024

// Frame is one fully-parsed incoming message: header plus body.
type Frame struct {
	Header wire.Header
	Body   []byte
}

// RecvPath is the stream receive path (4.C): read whatever is
// available, then parse as many header+body frames as the
// accumulation buffer already holds before reading again.
type RecvPath struct {
	fd            int
	poller        *reactor.Poller
	maxBodyLength uint32
	metrics       Metrics

	buf []byte // bytes read but not yet parsed into frames

	frames chan Frame
	errc   chan error
	stop   chan struct{}
}

// NewRecvPath wires a receive path to a non-blocking fd.
func NewRecvPath(fd int, poller *reactor.Poller, maxBodyLength uint32, metrics Metrics) *RecvPath {
	return &RecvPath{
		fd:            fd,
		poller:        poller,
		maxBodyLength: maxBodyLength,
		metrics:       metrics,
		frames:        make(chan Frame, 64),
		errc:          make(chan error, 1),
		stop:          make(chan struct{}),
	}
}

// Frames returns the channel on which complete, validated frames are
// delivered in arrival order.
func (r *RecvPath) Frames() <-chan Frame { return r.frames }

// Err returns the channel that receives exactly one terminal error
// (io.EOF-derived ConnectionClosed, a parity/framing ProtocolError, or
// an unrecoverable I/O error) when the stream ends.
func (r *RecvPath) Err() <-chan error { return r.errc }

// Stop halts Run.
func (r *RecvPath) Stop() { close(r.stop) }

// Run reads and parses until the peer closes the connection, a framing
// error is observed, or Stop is called.
func (r *RecvPath) Run() {
	chunk := make([]byte, readChunk)

	for {
		if err := r.emitParsedFrames(); err != nil {
			r.errc <- err
			return
		}

		n, err := unix.Read(r.fd, chunk)
		switch {
		case err == nil && n == 0:
			r.errc <- protoerr.ConnectionClosed{}
			return
		case err == nil:
			r.buf = append(r.buf, chunk[:n]...)
			continue
		case err == unix.EAGAIN || err == unix.EINTR:
			if werr := r.waitReadable(); werr != nil {
				r.errc <- werr
				return
			}
			continue
		default:
			r.errc <- fmt.Errorf("connection: read: %w", err)
			return
		}
	}
}

func (r *RecvPath) waitReadable() error {
	r.metrics.IncIOWaitEvents()
	ch, err := r.poller.RegisterRead(r.fd)
	if err != nil {
		return err
	}
	defer r.poller.UnregisterRead(r.fd) //nolint:errcheck

	select {
	case events := <-ch:
		if events&unix.EPOLLHUP != 0 || events&unix.EPOLLERR != 0 {
			return protoerr.ConnectionClosed{}
		}
		return nil
	case <-r.stop:
		return fmt.Errorf("connection: recv path stopped")
	}
}

// emitParsedFrames consumes every complete frame already sitting in
// buf, blocking only on sending to the (buffered) frames channel or on
// Stop.
func (r *RecvPath) emitParsedFrames() error {
	for {
		if len(r.buf) < wire.HeaderSize {
			return nil
		}
		h, err := wire.Decode(r.buf[:wire.HeaderSize], r.maxBodyLength)
		if err != nil {
			return protoerr.NewProtocolError(err.Error(), "recvpath.go", 0)
		}

		total := wire.HeaderSize + int(h.BodyLength)
		if len(r.buf) < total {
			return nil
		}

		body := make([]byte, h.BodyLength)
		copy(body, r.buf[wire.HeaderSize:total])
		r.buf = r.buf[total:]

		select {
		case r.frames <- Frame{Header: h, Body: body}:
		case <-r.stop:
			return fmt.Errorf("connection: recv path stopped")
		}
	}
}
