// Package yieldqueue implements the yielded-request queue (4.H): a
// double-buffered active/draining set of yielded coroutine resumptions,
// backed by a single level-triggered wakeup primitive so a reactor
// thread only wakes when there is at least one yielded coroutine ready
// to run again.
package yieldqueue

import (
	"sort"
	"sync"
)

// EventFD is the subset of reactor.EventFD the queue needs; declared
// here so yieldqueue does not import a Linux-only package, keeping it
// portable and independently testable.
type EventFD interface {
	Arm() error
	Disarm() error
}

// Queue holds yielded coroutine resumptions until the owning reactor
// thread is ready to run another round of them.
type Queue struct {
	mu      sync.Mutex
	active  map[uint64]func()
	draining map[uint64]func()
	nextID  uint64
	efd     EventFD
}

// New creates an empty queue backed by efd.
func New(efd EventFD) *Queue {
	return &Queue{
		active:   make(map[uint64]func()),
		draining: make(map[uint64]func()),
		efd:      efd,
	}
}

// Add enqueues resume to run on the next drain and returns a ticket
// that Remove can use to cancel it (e.g. the coroutine was instead
// resumed by a received message before its yield came due). Arms the
// wakeup primitive exactly when the active set transitions empty -> 1,
// so repeated adds while already non-empty don't re-signal.
func (q *Queue) Add(resume func()) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextID
	q.nextID++
	q.active[id] = resume
	if len(q.active) == 1 {
		q.efd.Arm() //nolint:errcheck
	}
	return id
}

// Remove cancels a still-pending ticket. Safe to call even if the
// ticket has already been drained or never existed (idempotent no-op),
// which is what lets a coroutine race its own yield against another
// resumption path without double-resuming.
func (q *Queue) Remove(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, id)
	delete(q.draining, id)
}

// Drain atomically swaps the active set into the draining set (so adds
// racing with this call land in a fresh active set rather than being
// lost or double-processed), disarms the wakeup primitive, and returns
// the resumptions to run in registration order (4.H/4.I(4)) — map
// iteration order is randomized, so entries are sorted by the ticket id
// Add handed out, which only ever increases. Entries removed
// concurrently via Remove after the swap but before this snapshot is
// taken are excluded.
//
// Disarm races against a concurrent Add landing in the fresh active set:
// if that Add's own Arm call lands before Disarm runs, Disarm would
// otherwise wipe it out from under the newly-active entry with nothing
// left to re-arm it later (Arm only fires on the empty->1 transition).
// Re-checking active under the lock after Disarm and re-arming if it is
// non-empty closes that window; Arm is idempotent, so an extra call here
// when the original Add's Arm already landed is harmless.
func (q *Queue) Drain() []func() {
	q.mu.Lock()
	q.draining = q.active
	q.active = make(map[uint64]func())
	q.mu.Unlock()

	q.efd.Disarm() //nolint:errcheck

	q.mu.Lock()
	if len(q.active) > 0 {
		q.efd.Arm() //nolint:errcheck
	}
	ids := make([]uint64, 0, len(q.draining))
	for id := range q.draining {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	callbacks := make([]func(), 0, len(ids))
	for _, id := range ids {
		callbacks = append(callbacks, q.draining[id])
	}
	q.draining = make(map[uint64]func())
	q.mu.Unlock()

	return callbacks
}

// Len reports how many resumptions are currently pending (active plus
// mid-drain), for tests and diagnostics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active) + len(q.draining)
}
