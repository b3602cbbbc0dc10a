//go:build linux

package request

import (
	"fmt"
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/swarmstore/swarmstore/internal/connection"
	"github.com/swarmstore/swarmstore/internal/wire"
	"github.com/swarmstore/swarmstore/internal/yieldqueue"
)

func socketLocalAddr(fd int) (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, err
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, fmt.Errorf("unexpected sockaddr type %T", sa)
	}
	return &net.TCPAddr{IP: net.IPv4(in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3]), Port: in4.Port}, nil
}

// loopbackPair dials a real, connected, non-blocking TCP socket pair on
// the loopback interface, the way two node processes would be wired in
// production, rather than faking the connection driver.
func loopbackPair(t *testing.T) (clientFD, serverFD int) {
	t.Helper()

	listenFD, err := connection.ListenTCP(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenTCP() error = %v", err)
	}

	sockName, err := socketLocalAddr(listenFD)
	if err != nil {
		t.Fatalf("local addr: %v", err)
	}

	clientFD, err = connection.DialTCP(sockName)
	if err != nil {
		t.Fatalf("DialTCP() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		fd, _, err := connection.AcceptTCP(listenFD)
		if err == nil {
			serverFD = fd
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("accept: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	return clientFD, serverFD
}

func TestSendReceiveRoundTrip(t *testing.T) {
	clientFD, serverFD := loopbackPair(t)

	clientConn, err := connection.New(clientFD, wire.DefaultMaxBodyLength, nil)
	if err != nil {
		t.Fatalf("connection.New(client) error = %v", err)
	}
	serverConn, err := connection.New(serverFD, wire.DefaultMaxBodyLength, nil)
	if err != nil {
		t.Fatalf("connection.New(server) error = %v", err)
	}
	clientConn.Start()
	serverConn.Start()
	defer clientConn.Close(nil)
	defer serverConn.Close(nil)

	efd := &fakeEventFD{}
	yq := yieldqueue.New(efd)

	const requestID = 42
	clientReq := New(clientConn, requestID, yq)
	serverReq := New(serverConn, requestID, yq)
	defer clientReq.Close()
	defer serverReq.Close()

	serverDone := make(chan error, 1)
	go func() {
		payload, err := serverReq.Receive(0x01)
		if err != nil {
			serverDone <- err
			return
		}
		serverDone <- serverReq.Send(0x02, append([]byte("echo:"), payload...))
	}()

	if err := clientReq.Send(0x01, []byte("ping")); err != nil {
		t.Fatalf("client Send() error = %v", err)
	}
	reply, err := clientReq.Receive(0x02)
	if err != nil {
		t.Fatalf("client Receive() error = %v", err)
	}
	if string(reply) != "echo:ping" {
		t.Errorf("reply = %q, want %q", reply, "echo:ping")
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server side error = %v", err)
	}
}

func TestYieldResumesAfterDrain(t *testing.T) {
	clientFD, serverFD := loopbackPair(t)
	clientConn, _ := connection.New(clientFD, wire.DefaultMaxBodyLength, nil)
	serverConn, _ := connection.New(serverFD, wire.DefaultMaxBodyLength, nil)
	clientConn.Start()
	serverConn.Start()
	defer clientConn.Close(nil)
	defer serverConn.Close(nil)

	efd := &fakeEventFD{}
	yq := yieldqueue.New(efd)
	req := New(clientConn, 7, yq)
	defer req.Close()

	done := make(chan error, 1)
	go func() { done <- req.Yield() }()

	deadline := time.Now().Add(time.Second)
	for yq.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("yield never registered with the queue")
		}
		time.Sleep(time.Millisecond)
	}

	for _, cb := range yq.Drain() {
		cb()
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Yield() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Yield never resumed after drain")
	}
}

type fakeEventFD struct{}

func (*fakeEventFD) Arm() error    { return nil }
func (*fakeEventFD) Disarm() error { return nil }
