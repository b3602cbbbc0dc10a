package suspend

import (
	"testing"
	"time"

	"github.com/swarmstore/swarmstore/internal/dispatcher"
)

func TestSuspendIfRequestedNoopWhenNoneRequested(t *testing.T) {
	d := dispatcher.New()
	s := New(d, 1)

	done := make(chan error, 1)
	go func() { done <- s.SuspendIfRequested() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("SuspendIfRequested() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SuspendIfRequested blocked with no suspension requested")
	}
	if got := s.State(); got != None {
		t.Errorf("state = %v, want None", got)
	}
}

func TestRequestSuspensionThenCheckInBlocksUntilResumed(t *testing.T) {
	d := dispatcher.New()
	s := New(d, 2)

	s.RequestSuspension()
	if got := s.State(); got != Pending {
		t.Fatalf("state after RequestSuspension = %v, want Pending", got)
	}

	done := make(chan struct{})
	go func() {
		if err := s.SuspendIfRequested(); err != nil {
			t.Errorf("SuspendIfRequested() error = %v", err)
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if got := s.State(); got != Suspended {
		t.Fatalf("state = %v, want Suspended", got)
	}

	s.ResumeIfSuspended()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SuspendIfRequested never woke after ResumeIfSuspended")
	}
	if got := s.State(); got != None {
		t.Errorf("state after resume = %v, want None", got)
	}
}

func TestResumeIfSuspendedCancelsPendingRequest(t *testing.T) {
	d := dispatcher.New()
	s := New(d, 3)

	s.RequestSuspension()
	s.ResumeIfSuspended()
	if got := s.State(); got != None {
		t.Fatalf("state = %v, want None", got)
	}

	// The request was cancelled before the worker ever checked in, so
	// this check-in must not block.
	done := make(chan struct{})
	go func() {
		s.SuspendIfRequested() //nolint:errcheck
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SuspendIfRequested blocked despite a cancelled request")
	}
}

func TestResumeIfSuspendedNoopWhenNone(t *testing.T) {
	d := dispatcher.New()
	s := New(d, 4)

	s.ResumeIfSuspended()
	if got := s.State(); got != None {
		t.Errorf("state = %v, want None", got)
	}
}

func TestDoubleSuspendIfRequestedPanics(t *testing.T) {
	d := dispatcher.New()
	s := New(d, 5)

	s.RequestSuspension()
	go s.SuspendIfRequested() //nolint:errcheck
	time.Sleep(10 * time.Millisecond)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on SuspendIfRequested while already Suspended")
		}
	}()
	s.SuspendIfRequested() //nolint:errcheck
}
