// Package dispatcher implements the intra-request event dispatcher
// (4.I): one instance per request, multiplexing four event kinds onto
// whichever coroutine within that request is waiting for each —
// received-message-by-type, signal, send-readiness FIFO, and yield —
// and resuming exactly the right one with an unpredictable per-suspend
// token so a misrouted resume panics instead of waking the wrong
// coroutine.
package dispatcher

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
)

// ResumeCode classifies why a coroutine was resumed. Non-negative
// values are caller-defined signal codes; the reserved negative values
// below are produced by the dispatcher itself.
type ResumeCode int

const (
	// Received marks a resume carrying a message payload for the
	// sub-type the coroutine was waiting on.
	Received ResumeCode = -1
	// Sent marks a resume telling a coroutine it is now its turn on
	// the connection's send FIFO.
	Sent ResumeCode = -2
	// YieldResumed marks a resume delivered by the yielded-request
	// queue's drain.
	YieldResumed ResumeCode = -3

	// duplicateWaiter is handed back to a second AwaitReceive for a
	// subType that already has a waiter, so the collision panics in that
	// caller's goroutine.
	duplicateWaiter ResumeCode = -4
)

// ResumeEvent is what a suspended coroutine receives on resume.
type ResumeEvent struct {
	Code    ResumeCode
	Payload []byte
	Err     error
}

// Fiber is the suspend/resume handle for one coroutine. The zero value
// is not usable; construct with NewFiber.
type Fiber struct {
	mu      sync.Mutex
	token   uint64
	waiting bool
	ch      chan ResumeEvent
}

// NewFiber creates a Fiber ready to suspend.
func NewFiber() *Fiber {
	return &Fiber{ch: make(chan ResumeEvent, 1)}
}

func randToken() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("dispatcher: reading random resume token: %v", err))
	}
	return binary.LittleEndian.Uint64(b[:])
}

// Suspend generates a fresh token, calls register with it while the
// fiber is already marked waiting (so a concurrently-delivered event
// can never race ahead of the registration it resumes), then blocks
// until Resume is called with that same token.
func (f *Fiber) Suspend(register func(token uint64)) ResumeEvent {
	token := randToken()
	f.mu.Lock()
	f.token = token
	f.waiting = true
	f.mu.Unlock()

	register(token)

	return <-f.ch
}

// Resume wakes the fiber with ev. token must match the one handed to
// register during the matching Suspend call; any other value means a
// stale or misrouted resume, which is a dispatcher bug and panics
// rather than silently waking the wrong coroutine.
func (f *Fiber) Resume(token uint64, ev ResumeEvent) {
	f.mu.Lock()
	if !f.waiting || token != f.token {
		f.mu.Unlock()
		panic(fmt.Sprintf("dispatcher: resume with stale or unknown token %d", token))
	}
	f.waiting = false
	f.mu.Unlock()
	f.ch <- ev
}

type waiter struct {
	fiber *Fiber
	token uint64
}

type command struct {
	kind    commandKind
	key     byte
	sendW   waiter
	regW    waiter
	payload []byte
	err     error
}

type commandKind int

const (
	cmdRegisterReceive commandKind = iota
	cmdRegisterSignal
	cmdFireSignal
	cmdRegisterSend
	cmdFinishSend
	cmdRegisterYield
	cmdDeliverReceive
	cmdYieldReady
	cmdAbort
)

// Dispatcher owns the per-request registries described above. All
// state is confined to one goroutine (run); every public method only
// ever talks to it over commands, matching the single-reactor-thread
// idiom used for the connection driver and poller.
type Dispatcher struct {
	commands chan command
	done     chan struct{}
}

// New starts a dispatcher's event loop goroutine.
func New() *Dispatcher {
	d := &Dispatcher{
		commands: make(chan command, 64),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// AwaitReceive blocks the calling coroutine until a message of subType
// arrives for this request, or the dispatcher aborts. At most one
// coroutine may await a given subType at a time; a second concurrent
// registration for the same subType is a programming error (4.I) and
// panics when the collision is discovered.
func (d *Dispatcher) AwaitReceive(subType byte) ResumeEvent {
	f := NewFiber()
	ev := f.Suspend(func(token uint64) {
		d.commands <- command{kind: cmdRegisterReceive, key: subType, regW: waiter{f, token}}
	})
	if ev.Code == duplicateWaiter {
		panic(fmt.Sprintf("dispatcher: subType 0x%02x already has a waiter", subType))
	}
	return ev
}

// Deliver routes a received sub-message to whichever coroutine is
// waiting on its subType. Called by the connection-forwarding
// goroutine, never by request code directly.
func (d *Dispatcher) Deliver(subType byte, payload []byte) {
	d.commands <- command{kind: cmdDeliverReceive, key: subType, payload: payload}
}

// AwaitSignal blocks until code is fired. If code was already fired
// while nobody was waiting, it returns immediately with the queued
// signal (4.I: "signals fired while the target is running are
// queued").
func (d *Dispatcher) AwaitSignal(code byte) ResumeEvent {
	f := NewFiber()
	return f.Suspend(func(token uint64) {
		d.commands <- command{kind: cmdRegisterSignal, key: code, regW: waiter{f, token}}
	})
}

// FireSignal fires code, resuming its waiter immediately if one is
// registered, or queuing it for the next AwaitSignal(code) otherwise.
func (d *Dispatcher) FireSignal(code byte) {
	d.commands <- command{kind: cmdFireSignal, key: code}
}

// AwaitSendTurn blocks until this coroutine is next in the FIFO of
// coroutines wanting to use the connection's send path.
func (d *Dispatcher) AwaitSendTurn() ResumeEvent {
	f := NewFiber()
	return f.Suspend(func(token uint64) {
		d.commands <- command{kind: cmdRegisterSend, regW: waiter{f, token}}
	})
}

// FinishSend releases the send FIFO so the next waiter (if any) is
// granted its turn.
func (d *Dispatcher) FinishSend() {
	d.commands <- command{kind: cmdFinishSend}
}

// AwaitYield registers this coroutine with the yielded-request queue
// (via addToQueue, which should call yieldqueue.Queue.Add) and blocks
// until the queue drains it.
func (d *Dispatcher) AwaitYield(addToQueue func(resume func())) ResumeEvent {
	f := NewFiber()
	return f.Suspend(func(token uint64) {
		addToQueue(func() {
			d.commands <- command{kind: cmdYieldReady, regW: waiter{f, token}}
		})
	})
}

// Abort resumes every currently-registered waiter with err and stops
// accepting new registrations; subsequent Await* calls block forever
// (the caller is expected to already be tearing down). Idempotent.
func (d *Dispatcher) Abort(err error) {
	select {
	case d.commands <- command{kind: cmdAbort, err: err}:
	case <-d.done:
	}
}

func (d *Dispatcher) run() {
	receiveWaiters := make(map[byte]waiter)
	signalWaiters := make(map[byte]waiter)
	pendingSignals := make(map[byte]bool)
	var sendFIFO []waiter
	var sendHolder *waiter

	aborted := false
	var abortErr error

	for cmd := range d.commands {
		if aborted {
			continue
		}
		switch cmd.kind {
		case cmdRegisterReceive:
			if _, exists := receiveWaiters[cmd.key]; exists {
				cmd.regW.fiber.Resume(cmd.regW.token, ResumeEvent{Code: duplicateWaiter})
				continue
			}
			receiveWaiters[cmd.key] = cmd.regW

		case cmdDeliverReceive:
			if w, ok := receiveWaiters[cmd.key]; ok {
				delete(receiveWaiters, cmd.key)
				w.fiber.Resume(w.token, ResumeEvent{Code: Received, Payload: cmd.payload})
			}
			// No waiter: the request has already moved past this
			// sub-type (or finished); the message is discarded.

		case cmdRegisterSignal:
			if pendingSignals[cmd.key] {
				delete(pendingSignals, cmd.key)
				cmd.regW.fiber.Resume(cmd.regW.token, ResumeEvent{Code: ResumeCode(cmd.key)})
				continue
			}
			if _, exists := signalWaiters[cmd.key]; exists {
				panic(fmt.Sprintf("dispatcher: signal 0x%02x already has a waiter", cmd.key))
			}
			signalWaiters[cmd.key] = cmd.regW

		case cmdFireSignal:
			if w, ok := signalWaiters[cmd.key]; ok {
				delete(signalWaiters, cmd.key)
				w.fiber.Resume(w.token, ResumeEvent{Code: ResumeCode(cmd.key)})
			} else {
				pendingSignals[cmd.key] = true
			}

		case cmdRegisterSend:
			if sendHolder == nil {
				w := cmd.regW
				sendHolder = &w
				w.fiber.Resume(w.token, ResumeEvent{Code: Sent})
			} else {
				sendFIFO = append(sendFIFO, cmd.regW)
			}

		case cmdFinishSend:
			sendHolder = nil
			if len(sendFIFO) > 0 {
				next := sendFIFO[0]
				sendFIFO = sendFIFO[1:]
				sendHolder = &next
				next.fiber.Resume(next.token, ResumeEvent{Code: Sent})
			}

		case cmdYieldReady:
			cmd.regW.fiber.Resume(cmd.regW.token, ResumeEvent{Code: YieldResumed})

		case cmdAbort:
			aborted = true
			abortErr = cmd.err
			for _, w := range receiveWaiters {
				w.fiber.Resume(w.token, ResumeEvent{Err: abortErr})
			}
			for _, w := range signalWaiters {
				w.fiber.Resume(w.token, ResumeEvent{Err: abortErr})
			}
			for _, w := range sendFIFO {
				w.fiber.Resume(w.token, ResumeEvent{Err: abortErr})
			}
			if sendHolder != nil {
				sendHolder.fiber.Resume(sendHolder.token, ResumeEvent{Err: abortErr})
			}
			close(d.done)
			return
		}
	}
}
