// Package request implements the request-on-connection coroutine
// abstraction (4.G): the object a handler interacts with to exchange
// messages over one multiplexed connection, cooperatively yield, and
// tear the connection down. Each RequestOnConn is backed by a goroutine
// and a dispatcher.Dispatcher (4.I) — the "coroutine" of the original
// design is realized here as whatever goroutine is currently calling
// into the RequestOnConn, suspending by blocking on a channel receive
// and resuming by that receive completing, with dispatcher.Fiber's
// per-suspend token guarding against a resume reaching the wrong call.
package request

import (
	"github.com/swarmstore/swarmstore/internal/connection"
	"github.com/swarmstore/swarmstore/internal/dispatcher"
	"github.com/swarmstore/swarmstore/internal/protoerr"
	"github.com/swarmstore/swarmstore/internal/yieldqueue"
)

// RequestOnConn is one request multiplexed over a shared connection.
type RequestOnConn struct {
	ID   uint64
	conn *connection.Conn
	disp *dispatcher.Dispatcher
	yq   *yieldqueue.Queue

	inbox      <-chan connection.Delivery
	unregister func()
	stop       chan struct{}
}

// New registers id with conn and starts routing its traffic to a fresh
// dispatcher. Callers must call Close when the request finishes.
func New(conn *connection.Conn, id uint64, yq *yieldqueue.Queue) *RequestOnConn {
	inbox, unregister := conn.Register(id)
	r := &RequestOnConn{
		ID:         id,
		conn:       conn,
		disp:       dispatcher.New(),
		yq:         yq,
		inbox:      inbox,
		unregister: unregister,
		stop:       make(chan struct{}),
	}
	go r.forward()
	return r
}

func (r *RequestOnConn) forward() {
	for {
		select {
		case d, ok := <-r.inbox:
			if !ok {
				return
			}
			r.disp.Deliver(d.SubType, d.Payload)
		case <-r.conn.Closed():
			r.disp.Abort(r.conn.Err())
			return
		case <-r.stop:
			return
		}
	}
}

// Send blocks until this request's turn on the connection's send FIFO
// comes up, writes subType‖payload as one message, and releases the
// FIFO for the next waiter.
func (r *RequestOnConn) Send(subType byte, payload []byte) error {
	ev := r.disp.AwaitSendTurn()
	if ev.Err != nil {
		return ev.Err
	}
	defer r.disp.FinishSend()

	errc := r.conn.Send(r.ID, subType, payload)
	return <-errc
}

// SendAsync runs Send in the background and returns a channel with its
// result, so the caller can select on it alongside its own Receive or
// Yield calls instead of blocking — the Go equivalent of the
// spec's notion of sending while remaining able to handle other
// events concurrently.
func (r *RequestOnConn) SendAsync(subType byte, payload []byte) <-chan error {
	done := make(chan error, 1)
	go func() { done <- r.Send(subType, payload) }()
	return done
}

// Receive blocks until a message of subType arrives for this request.
func (r *RequestOnConn) Receive(subType byte) ([]byte, error) {
	ev := r.disp.AwaitReceive(subType)
	if ev.Err != nil {
		return nil, ev.Err
	}
	return ev.Payload, nil
}

// ReceiveValue decodes the payload of a Receive call with decode. It is
// a standalone function rather than a method because Go methods
// cannot be parameterized by an additional type.
func ReceiveValue[T any](r *RequestOnConn, subType byte, decode func([]byte) (T, error)) (T, error) {
	var zero T
	payload, err := r.Receive(subType)
	if err != nil {
		return zero, err
	}
	return decode(payload)
}

// SendReceive races a send of sendSubType‖payload against waiting for a
// reply of recvSubType (4.G's send_receive): whichever happens first
// wins. If the receive wins, SendReceive returns immediately with its
// payload without waiting for the send to finish — the coroutine's
// wait on send completion is abandoned, matching "sending is
// cancelled" for the coroutine's own stack; the SendAsync goroutine
// still takes its send turn and its bytes still drain through the
// connection's send FIFO in the background, since a partially-written
// physical send cannot be unsent. If the
// send wins, SendReceive simply continues waiting for the receive, the
// common request/response case.
func (r *RequestOnConn) SendReceive(sendSubType byte, payload []byte, recvSubType byte) ([]byte, error) {
	sendDone := r.SendAsync(sendSubType, payload)
	type recvResult struct {
		payload []byte
		err     error
	}
	recvDone := make(chan recvResult, 1)
	go func() {
		payload, err := r.Receive(recvSubType)
		recvDone <- recvResult{payload, err}
	}()

	select {
	case res := <-recvDone:
		return res.payload, res.err
	case err := <-sendDone:
		if err != nil {
			return nil, err
		}
		res := <-recvDone
		return res.payload, res.err
	}
}

// Yield cooperatively suspends the calling coroutine until the
// connection's reactor thread next drains the yielded-request queue
// (4.H), giving other requests on the same connection a chance to run.
func (r *RequestOnConn) Yield() error {
	ev := r.disp.AwaitYield(func(resume func()) { r.yq.Add(resume) })
	return ev.Err
}

// PeriodicYield calls Yield only once every `every` invocations,
// tracked via counter, for tight loops that should stay cooperative
// without paying a yield's cost on every iteration.
func (r *RequestOnConn) PeriodicYield(counter *int, every int) error {
	*counter++
	if every <= 0 || *counter%every != 0 {
		return nil
	}
	return r.Yield()
}

// ShutdownConnection closes the whole underlying connection — every
// other request multiplexed on it ends with the same reason.
func (r *RequestOnConn) ShutdownConnection(reason error) {
	r.conn.Close(reason)
}

// ShutdownWithProtocolError closes the connection after observing a
// framing or semantic violation that the protocol requires be fatal.
func (r *RequestOnConn) ShutdownWithProtocolError(msg string) {
	r.conn.Close(protoerr.NewProtocolError(msg, "request.go", 0))
}

// Close releases this request's registration. It does not touch the
// underlying connection, which may still be serving other requests.
func (r *RequestOnConn) Close() {
	close(r.stop)
	r.unregister()
	r.disp.Abort(protoerr.ConnectionClosed{})
}
