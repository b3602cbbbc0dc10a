// Package suspend implements the delayed suspender (4.J): a small
// three-state handshake between a controller coroutine and a worker
// coroutine that periodically calls SuspendIfRequested. It is built on
// one request-scoped signal code routed through a dispatcher.Dispatcher
// (4.I), reusing the dispatcher's own pending-signal queue for the hard
// part (an event fired with nobody yet waiting) rather than
// re-implementing it.
package suspend

import (
	"fmt"
	"sync"

	"github.com/swarmstore/swarmstore/internal/dispatcher"
)

// State is one of the three states a Suspender can be in.
type State int

const (
	// None: no pending suspension request, worker not suspended.
	None State = iota
	// Pending: the controller asked for a suspension before the worker
	// next checked in; the worker's next SuspendIfRequested call blocks.
	Pending
	// Suspended: the worker is blocked in SuspendIfRequested, awaiting
	// ResumeIfSuspended.
	Suspended
)

func (s State) String() string {
	switch s {
	case None:
		return "None"
	case Pending:
		return "Pending"
	case Suspended:
		return "Suspended"
	default:
		return "Unknown"
	}
}

// Suspender is one controller/worker pair's handshake, scoped to a
// single signal code within one request's Dispatcher. A Suspender is
// not reusable across overlapping suspend/resume pairs: only one may
// be outstanding at a time, matching the dispatcher's own "at most one
// waiter per signal" invariant.
//
// The three operations and their transitions (4.J):
//
//	From\Call   RequestSuspension  ResumeIfSuspended  SuspendIfRequested
//	None        -> Pending         no-op              no-op (returns immediately)
//	Pending     no-op              -> None             -> Suspended (blocks)
//	Suspended   no-op              -> None (signals)   (not reachable: single worker)
type Suspender struct {
	d    *dispatcher.Dispatcher
	code byte

	mu    sync.Mutex
	state State
}

// New creates a suspender routed through d's signal code. code is
// reserved for this suspender for its lifetime; callers must not also
// use it directly via d.AwaitSignal/d.FireSignal.
func New(d *dispatcher.Dispatcher, code byte) *Suspender {
	return &Suspender{d: d, code: code}
}

// State reports the suspender's current state, for tests and
// diagnostics.
func (s *Suspender) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RequestSuspension asks that the worker's next SuspendIfRequested call
// actually block. Called by the controller. A no-op if a suspension is
// already pending or the worker is already suspended.
func (s *Suspender) RequestSuspension() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == None {
		s.state = Pending
	}
}

// ResumeIfSuspended cancels a pending suspension request, or wakes the
// worker if it is already blocked in SuspendIfRequested. Called by the
// controller. A no-op if no suspension is pending or suspended.
func (s *Suspender) ResumeIfSuspended() {
	s.mu.Lock()
	switch s.state {
	case Pending:
		s.state = None
		s.mu.Unlock()
		return
	case Suspended:
		s.state = None
		s.mu.Unlock()
		s.d.FireSignal(s.code)
		return
	default:
		s.mu.Unlock()
	}
}

// SuspendIfRequested is the worker's periodic check-in: it returns
// immediately without blocking unless the controller has called
// RequestSuspension since the last check-in, in which case it blocks
// until ResumeIfSuspended. This no-op-by-default behavior is the whole
// point of the helper — a worker can call it on every iteration of a
// tight loop at negligible cost when nothing has asked it to pause.
func (s *Suspender) SuspendIfRequested() error {
	s.mu.Lock()
	switch s.state {
	case None:
		s.mu.Unlock()
		return nil
	case Suspended:
		s.mu.Unlock()
		panic(fmt.Sprintf("suspend: SuspendIfRequested called while already Suspended (code %d)", s.code))
	}
	s.state = Suspended
	s.mu.Unlock()

	ev := s.d.AwaitSignal(s.code)

	s.mu.Lock()
	s.state = None
	s.mu.Unlock()
	return ev.Err
}
