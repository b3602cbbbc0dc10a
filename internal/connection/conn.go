//go:build linux

package connection

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/swarmstore/swarmstore/internal/protoerr"
	"github.com/swarmstore/swarmstore/internal/reactor"
	"github.com/swarmstore/swarmstore/internal/wire"
)

// Metrics is the narrow observability surface the connection driver
// reports to (4.K / SPEC_FULL §4): concrete Prometheus collectors live
// in internal/metrics, kept out of this package to avoid a dependency
// cycle between the driver and whatever exports it.
type Metrics interface {
	ObserveBytesIn(n int)
	ObserveBytesOut(n int)
	ObserveMessageSize(n int)
	IncIOWaitEvents()
}

type noopMetrics struct{}

func (noopMetrics) ObserveBytesIn(int)     {}
func (noopMetrics) ObserveBytesOut(int)    {}
func (noopMetrics) ObserveMessageSize(int) {}
func (noopMetrics) IncIOWaitEvents()       {}

// Delivery is one sub-message routed to a request's inbox: the 1-byte
// intra-request discriminator and whatever payload followed it.
type Delivery struct {
	SubType byte
	Payload []byte
}

// Conn is the connection driver (4.K): it owns a socket's send and
// receive paths, demultiplexes received frames by RequestId to
// per-request inboxes, serializes writes through a single send FIFO,
// and exposes one-shot idempotent shutdown.
type Conn struct {
	fd      int
	poller  *reactor.Poller
	send    *SendPath
	recv    *RecvPath
	metrics Metrics

	mu      sync.Mutex
	inboxes map[uint64]chan Delivery

	pollerStop chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// New wires a driver around an already-connected, non-blocking fd.
func New(fd int, maxBodyLength uint32, metrics Metrics) (*Conn, error) {
	poller, err := reactor.NewPoller()
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	c := &Conn{
		fd:         fd,
		poller:     poller,
		send:       NewSendPath(fd, poller, metrics),
		recv:       NewRecvPath(fd, poller, maxBodyLength, metrics),
		metrics:    metrics,
		inboxes:    make(map[uint64]chan Delivery),
		pollerStop: make(chan struct{}),
		closed:     make(chan struct{}),
	}
	return c, nil
}

// Start launches the driver's background goroutines. Callers must call
// Close exactly once (directly, or implicitly via a fatal receive
// error) to release the fd and epoll instance.
func (c *Conn) Start() {
	go c.poller.Run(c.pollerStop) //nolint:errcheck
	go c.send.Run()
	go c.recv.Run()
	go c.dispatchLoop()
}

// Register creates an inbox for requestID. The returned cancel func
// must be called when the request finishes so late frames for a
// retired RequestId are dropped rather than leaked into a dead
// channel (4.K: "late messages for a request no longer registered are
// discarded").
func (c *Conn) Register(requestID uint64) (<-chan Delivery, func()) {
	ch := make(chan Delivery, 16)
	c.mu.Lock()
	c.inboxes[requestID] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		delete(c.inboxes, requestID)
		c.mu.Unlock()
	}
}

// Send encodes requestID‖subType‖payload as one wire message and
// enqueues it on the FIFO send path. The returned channel fires once
// the message has been fully written or the connection has failed.
func (c *Conn) Send(requestID uint64, subType byte, payload []byte) <-chan error {
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], requestID)

	body := make([]byte, 0, 9+len(payload))
	body = append(body, idBuf[:]...)
	body = append(body, subType)
	body = append(body, payload...)

	h := wire.Header{Type: wire.RequestMessageType, BodyLength: uint32(len(body))}
	enc := h.Encode()

	c.metrics.ObserveBytesOut(len(enc) + len(body))
	c.metrics.ObserveMessageSize(len(body))

	headerCopy := enc
	return c.send.Enqueue(requestID, [][]byte{headerCopy[:], body})
}

// Closed returns a channel closed once the driver has shut down.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

// Err returns the reason the connection closed, valid only after
// Closed() has fired.
func (c *Conn) Err() error { return c.closeErr }

// Close performs one-shot idempotent shutdown: subsequent calls are
// no-ops and return the error recorded by whichever call ran first.
func (c *Conn) Close(reason error) error {
	c.closeOnce.Do(func() {
		c.closeErr = reason
		c.send.Stop()
		c.recv.Stop()
		close(c.pollerStop)
		unix.Close(c.fd) //nolint:errcheck
		c.poller.Close()  //nolint:errcheck
		close(c.closed)
	})
	return c.closeErr
}

func (c *Conn) dispatchLoop() {
	for {
		select {
		case frame := <-c.recv.Frames():
			c.metrics.ObserveBytesIn(wire.HeaderSize + len(frame.Body))
			c.metrics.ObserveMessageSize(len(frame.Body))
			c.route(frame)
		case err := <-c.recv.Err():
			c.Close(err)
			return
		}
	}
}

func (c *Conn) route(frame Frame) {
	if frame.Header.Type != wire.RequestMessageType {
		c.Close(protoerr.NewProtocolError(fmt.Sprintf("unexpected message type 0x%02x", frame.Header.Type), "conn.go", 0))
		return
	}
	r := wire.NewBodyReader(frame.Body)
	requestID, err := r.Uint64()
	if err != nil {
		c.Close(protoerr.NewProtocolError("request frame missing RequestId", "conn.go", 0))
		return
	}
	subType, err := r.Uint8()
	if err != nil {
		c.Close(protoerr.NewProtocolError("request frame missing sub-type", "conn.go", 0))
		return
	}

	c.mu.Lock()
	inbox, ok := c.inboxes[requestID]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case inbox <- Delivery{SubType: subType, Payload: r.Raw()}:
	case <-c.closed:
	}
}
