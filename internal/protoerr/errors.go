// Package protoerr defines the failure taxonomy surfaced by the
// connection engine (spec.md §7). Every one of these is fatal to the
// connection that produced it; they propagate to every live request at
// its next suspend point (P6).
package protoerr

import "fmt"

// ProtocolError covers header parity failures, unexpected message types,
// over-long bodies, out-of-sequence messages during a synchronous
// exchange, and handshake version mismatches.
type ProtocolError struct {
	Msg  string
	File string
	Line int
}

func (e *ProtocolError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("protocol error: %s (%s:%d)", e.Msg, e.File, e.Line)
	}
	return fmt.Sprintf("protocol error: %s", e.Msg)
}

// NewProtocolError builds a ProtocolError tagged with its call site, the
// "shutdown_with_protocol_error" convenience from 4.G.
func NewProtocolError(msg, file string, line int) *ProtocolError {
	return &ProtocolError{Msg: msg, File: file, Line: line}
}

// IoError wraps a failing syscall (read/write/getsockopt). Always fatal
// to the connection.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("io error: %s: %v", e.Op, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// ConnectionClosed indicates EOF or a peer hang-up (EPOLLHUP/EPOLLRDHUP).
// Requests only distinguish this by type, never by message.
type ConnectionClosed struct{}

func (ConnectionClosed) Error() string { return "connection closed" }

// AuthRejected is raised only during the handshake. It carries
// best-effort diagnostic fields but never the key.
type AuthRejected struct {
	Reason    string
	Timestamp uint64
	Nonce     [4]byte
	Name      string // may be empty if rejected before a name was read
	HadCode   bool
}

func (e *AuthRejected) Error() string {
	return fmt.Sprintf("authentication rejected: %s", e.Reason)
}

// ProtocolVersionMismatch is raised by the version exchange in 4.F.
type ProtocolVersionMismatch struct {
	Local, Remote byte
}

func (e *ProtocolVersionMismatch) Error() string {
	return fmt.Sprintf("protocol version mismatch: local=%d remote=%d", e.Local, e.Remote)
}
