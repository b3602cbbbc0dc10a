package yieldqueue

import "testing"

type fakeEventFD struct {
	armed int
	calls []string
}

func (f *fakeEventFD) Arm() error {
	f.armed++
	f.calls = append(f.calls, "arm")
	return nil
}

func (f *fakeEventFD) Disarm() error {
	f.calls = append(f.calls, "disarm")
	return nil
}

func TestAddArmsOnlyOnFirstEntry(t *testing.T) {
	efd := &fakeEventFD{}
	q := New(efd)

	q.Add(func() {})
	q.Add(func() {})
	q.Add(func() {})

	if efd.armed != 1 {
		t.Errorf("armed = %d, want 1", efd.armed)
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}
}

func TestDrainRunsEveryEntryOnce(t *testing.T) {
	efd := &fakeEventFD{}
	q := New(efd)

	var ran []int
	for i := 0; i < 5; i++ {
		i := i
		q.Add(func() { ran = append(ran, i) })
	}

	callbacks := q.Drain()
	if len(callbacks) != 5 {
		t.Fatalf("Drain() returned %d callbacks, want 5", len(callbacks))
	}
	for _, cb := range callbacks {
		cb()
	}
	if len(ran) != 5 {
		t.Errorf("ran %d callbacks, want 5", len(ran))
	}
	if q.Len() != 0 {
		t.Errorf("Len() after drain = %d, want 0", q.Len())
	}
}

func TestRemoveCancelsBeforeDrain(t *testing.T) {
	efd := &fakeEventFD{}
	q := New(efd)

	ranA, ranB := false, false
	idA := q.Add(func() { ranA = true })
	q.Add(func() { ranB = true })

	q.Remove(idA)

	for _, cb := range q.Drain() {
		cb()
	}
	if ranA {
		t.Error("removed entry ran")
	}
	if !ranB {
		t.Error("remaining entry did not run")
	}
}

func TestAddDuringDrainGoesToFreshActiveSet(t *testing.T) {
	efd := &fakeEventFD{}
	q := New(efd)

	q.Add(func() {})
	first := q.Drain()
	if len(first) != 1 {
		t.Fatalf("first drain len = %d, want 1", len(first))
	}

	q.Add(func() {})
	if q.Len() != 1 {
		t.Errorf("Len() after post-drain add = %d, want 1", q.Len())
	}
	second := q.Drain()
	if len(second) != 1 {
		t.Errorf("second drain len = %d, want 1", len(second))
	}
}

func TestRemoveOfUnknownTicketIsNoop(t *testing.T) {
	efd := &fakeEventFD{}
	q := New(efd)
	q.Remove(9999)
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}
