package wire

import "errors"

// Errors raised while parsing the envelope. Every one is fatal to the
// connection (4.A) — the receiver must shut the connection down rather
// than attempt to skip the offending message.
var (
	ErrParityMismatch  = errors.New("wire: header parity mismatch")
	ErrBodyTooLarge    = errors.New("wire: body exceeds maximum length")
	ErrShortField      = errors.New("wire: field shorter than declared length")
	ErrUnexpectedType  = errors.New("wire: unexpected message type")
)
