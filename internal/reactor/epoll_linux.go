//go:build linux

// Package reactor wraps the epoll-like readiness primitive the core
// consumes (spec.md §6): per-connection read/write readiness, and the
// level-triggered wakeup behind the yielded-request queue (4.H).
package reactor

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// hupOrErr is always folded into whatever directions are currently
// armed for an fd, since either side's waiter needs to know the peer
// went away regardless of which direction it was waiting on.
const hupOrErr = unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLRDHUP

// fdState tracks the single combined epoll interest mask registered
// for one fd (epoll_ctl only ever sees one mask per fd) plus the
// per-direction notification channels multiplexed out of it, since the
// send path and receive path each wait on only their own direction.
type fdState struct {
	mask    uint32
	readCh  chan uint32
	writeCh chan uint32
}

// Poller multiplexes readiness for any number of file descriptors onto
// one epoll instance. A Poller is not safe for concurrent Run calls;
// Register*/Unregister* may be called from other goroutines while Run
// blocks.
type Poller struct {
	epfd int

	mu  sync.Mutex
	fds map[int]*fdState
}

// NewPoller creates an epoll instance.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &Poller{epfd: fd, fds: make(map[int]*fdState)}, nil
}

// RegisterRead starts watching fd for EPOLLIN, merging it into
// whatever interest (e.g. a concurrent RegisterWrite on the same fd)
// is already armed via EPOLL_CTL_MOD rather than re-adding the fd,
// since EPOLL_CTL_ADD on an already-registered fd fails with EEXIST
// (4.B/4.C: the send and receive paths share one fd and poll it
// independently). The returned channel receives each fired event mask
// until UnregisterRead is called.
func (p *Poller) RegisterRead(fd int) (<-chan uint32, error) {
	st, err := p.addInterest(fd, unix.EPOLLIN)
	if err != nil {
		return nil, err
	}
	return st.readCh, nil
}

// RegisterWrite is RegisterRead's EPOLLOUT counterpart.
func (p *Poller) RegisterWrite(fd int) (<-chan uint32, error) {
	st, err := p.addInterest(fd, unix.EPOLLOUT)
	if err != nil {
		return nil, err
	}
	return st.writeCh, nil
}

// UnregisterRead stops watching fd for EPOLLIN. If fd still has write
// interest armed, the epoll registration is narrowed via EPOLL_CTL_MOD
// rather than removed.
func (p *Poller) UnregisterRead(fd int) error {
	return p.removeInterest(fd, unix.EPOLLIN)
}

// UnregisterWrite is UnregisterRead's EPOLLOUT counterpart.
func (p *Poller) UnregisterWrite(fd int) error {
	return p.removeInterest(fd, unix.EPOLLOUT)
}

func (p *Poller) addInterest(fd int, event uint32) (*fdState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.fds[fd]
	if !ok {
		st = &fdState{}
		p.fds[fd] = st
	}

	newMask := st.mask | event
	op := unix.EPOLL_CTL_MOD
	if st.mask == 0 {
		op = unix.EPOLL_CTL_ADD
	}
	ev := unix.EpollEvent{Events: newMask, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return nil, fmt.Errorf("reactor: epoll_ctl fd %d: %w", fd, err)
	}
	st.mask = newMask

	if event == unix.EPOLLIN {
		st.readCh = make(chan uint32, 1)
	} else {
		st.writeCh = make(chan uint32, 1)
	}
	return st, nil
}

func (p *Poller) removeInterest(fd int, event uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.fds[fd]
	if !ok {
		return nil
	}

	if event == unix.EPOLLIN {
		st.readCh = nil
	} else {
		st.writeCh = nil
	}

	newMask := st.mask &^ event
	if newMask == 0 {
		delete(p.fds, fd)
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
			return fmt.Errorf("reactor: epoll_ctl del fd %d: %w", fd, err)
		}
		return nil
	}

	ev := unix.EpollEvent{Events: newMask, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl mod fd %d: %w", fd, err)
	}
	st.mask = newMask
	return nil
}

// Run blocks the calling goroutine, delivering readiness notifications
// to Register{Read,Write}'s channels until stop is closed. Callers
// typically dedicate one goroutine per reactor thread to Run, matching
// "one reactor thread per application is the default" (spec.md §5).
func (p *Poller) Run(stop <-chan struct{}) error {
	events := make([]unix.EpollEvent, 128)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := unix.EpollWait(p.epfd, events, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}

		p.mu.Lock()
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			mask := events[i].Events
			st, ok := p.fds[fd]
			if !ok {
				continue
			}
			if st.readCh != nil && mask&(unix.EPOLLIN|hupOrErr) != 0 {
				select {
				case st.readCh <- mask:
				default:
					// A notification is already pending; the consumer
					// hasn't re-armed yet, so there is nothing new to
					// tell it until it does.
				}
			}
			if st.writeCh != nil && mask&(unix.EPOLLOUT|hupOrErr) != 0 {
				select {
				case st.writeCh <- mask:
				default:
				}
			}
		}
		p.mu.Unlock()
	}
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
