//go:build linux

// Package registry is a minimal illustration of a client process
// driving more than one connection: one lazily-dialed connection per
// named remote node, handshake performed synchronously over a regular
// net.Conn, then handed off to the connection driver (4.K) as a raw
// non-blocking fd.
package registry

import (
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/swarmstore/swarmstore/internal/connection"
	"github.com/swarmstore/swarmstore/internal/handshake"
	"github.com/swarmstore/swarmstore/internal/hmacauth"
)

// NodeSet maps a node's name to its dial address.
type NodeSet struct {
	mu    sync.RWMutex
	nodes map[string]string
}

// NewNodeSet creates an empty set.
func NewNodeSet() *NodeSet {
	return &NodeSet{nodes: make(map[string]string)}
}

// Add registers addr under name, overwriting any previous entry.
func (s *NodeSet) Add(name, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[name] = addr
}

// Remove drops name from the set.
func (s *NodeSet) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, name)
}

// Addr returns name's dial address, if known.
func (s *NodeSet) Addr(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addr, ok := s.nodes[name]
	return addr, ok
}

// ConnPool lazily dials and authenticates one connection.Conn per
// node name, reusing it for subsequent callers until it is explicitly
// evicted (by the caller, on a fatal connection error).
type ConnPool struct {
	nodes         *NodeSet
	clientName    string
	clientKey     hmacauth.Key
	maxBodyLength uint32
	metrics       connection.Metrics

	mu    sync.Mutex
	conns map[string]*connection.Conn
}

// NewConnPool creates a pool that authenticates as clientName/clientKey.
func NewConnPool(nodes *NodeSet, clientName string, clientKey hmacauth.Key, maxBodyLength uint32, metrics connection.Metrics) *ConnPool {
	return &ConnPool{
		nodes:         nodes,
		clientName:    clientName,
		clientKey:     clientKey,
		maxBodyLength: maxBodyLength,
		metrics:       metrics,
		conns:         make(map[string]*connection.Conn),
	}
}

// Get returns the pooled connection to name, dialing and
// authenticating it first if necessary.
func (p *ConnPool) Get(name string) (*connection.Conn, error) {
	p.mu.Lock()
	if c, ok := p.conns[name]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	addr, ok := p.nodes.Addr(name)
	if !ok {
		return nil, fmt.Errorf("registry: unknown node %q", name)
	}

	fd, err := dialAndAuthenticate(addr, p.clientName, p.clientKey)
	if err != nil {
		return nil, err
	}

	conn, err := connection.New(fd, p.maxBodyLength, p.metrics)
	if err != nil {
		unix.Close(fd) //nolint:errcheck
		return nil, err
	}
	conn.Start()

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[name]; ok {
		// Lost a race with a concurrent Get; keep the existing one.
		conn.Close(nil)
		return existing, nil
	}
	p.conns[name] = conn
	return conn, nil
}

// Evict drops name from the pool without closing its connection (the
// caller is expected to have already closed it after observing a
// fatal error), so the next Get redials.
func (p *ConnPool) Evict(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, name)
}

// dialAndAuthenticate performs the synchronous handshake (4.F) over a
// regular net.Conn, then extracts its raw file descriptor, switches it
// to non-blocking, and detaches the os.File's finalizer so the driver
// — not Go's GC — owns the fd's lifetime from here on.
func dialAndAuthenticate(addr, clientName string, key hmacauth.Key) (int, error) {
	netConn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return -1, fmt.Errorf("registry: dial %s: %w", addr, err)
	}

	if err := handshake.ClientAuthenticate(netConn, clientName, key, time.Now()); err != nil {
		netConn.Close()
		return -1, fmt.Errorf("registry: authenticate with %s: %w", addr, err)
	}

	tcpConn, ok := netConn.(*net.TCPConn)
	if !ok {
		netConn.Close()
		return -1, fmt.Errorf("registry: %s did not yield a TCP connection", addr)
	}
	file, err := tcpConn.File()
	if err != nil {
		netConn.Close()
		return -1, fmt.Errorf("registry: extract fd for %s: %w", addr, err)
	}
	runtime.SetFinalizer(file, nil)

	fd := int(file.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd) //nolint:errcheck
		netConn.Close()
		return -1, fmt.Errorf("registry: set nonblocking: %w", err)
	}
	netConn.Close()

	return fd, nil
}
