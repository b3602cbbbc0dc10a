//go:build linux

package registry

import (
	"net"
	"testing"
	"time"

	"github.com/swarmstore/swarmstore/internal/credentials"
	"github.com/swarmstore/swarmstore/internal/handshake"
	"github.com/swarmstore/swarmstore/internal/hmacauth"
	"github.com/swarmstore/swarmstore/internal/wire"
)

func startFakeNode(t *testing.T, creds credentials.Map) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				handshake.ServerAuthenticate(conn, creds, time.Now()) //nolint:errcheck
				// Leave the connection open so the driver hand-off has
				// something to read from (EAGAIN, not EOF).
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestConnPoolDialsAndReusesConnection(t *testing.T) {
	var key hmacauth.Key
	for i := range key {
		key[i] = byte(i)
	}
	addr := startFakeNode(t, credentials.Map{"client-a": key})

	nodes := NewNodeSet()
	nodes.Add("node-1", addr)

	pool := NewConnPool(nodes, "client-a", key, wire.DefaultMaxBodyLength, nil)

	c1, err := pool.Get("node-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	c2, err := pool.Get("node-1")
	if err != nil {
		t.Fatalf("Get() second call error = %v", err)
	}
	if c1 != c2 {
		t.Error("Get() dialed a second connection instead of reusing the pooled one")
	}
	c1.Close(nil)
}

func TestConnPoolUnknownNodeErrors(t *testing.T) {
	pool := NewConnPool(NewNodeSet(), "client-a", hmacauth.Key{}, wire.DefaultMaxBodyLength, nil)
	if _, err := pool.Get("nowhere"); err == nil {
		t.Fatal("expected error for unknown node")
	}
}
