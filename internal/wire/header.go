// Package wire implements the on-wire message envelope shared by every
// message exchanged after authentication: a 7-byte parity-checked header
// followed by a body of concatenated fields.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed wire size of a message header in bytes:
// type(1) + body_length(4) + parity(2). No alignment padding is added.
const HeaderSize = 7

// DefaultMaxBodyLength is the default upper bound on body_length, enforced
// by the receive buffer growth policy (4.A).
const DefaultMaxBodyLength = 16 * 1024 * 1024

// AuthenticationType is the reserved message type used only during the
// handshake (4.F); it is never seen by the post-handshake dispatcher.
const AuthenticationType byte = 0x00

// RequestMessageType is the sole post-handshake message type. Its body
// always starts with an 8-byte little-endian RequestId and a 1-byte
// sub-type discriminator, used by the connection driver and the
// per-request dispatcher to route the remaining bytes (4.I, 4.K).
const RequestMessageType byte = 0x01

// parityLane0, parityLane1 are the fixed constants the tumbled xor-reduce
// of a valid header's bytes must fold down to. Any single flipped bit in
// type, body_length, or parity changes one lane and is caught on decode.
const (
	parityLane0 byte = 0xA5
	parityLane1 byte = 0x5A
)

// Header is the common envelope preceding every message body.
type Header struct {
	Type       byte
	BodyLength uint32
}

// computeParity folds type and body_length (little-endian) into the two
// parity bytes such that the byte-tumbled xor-reduce of the full 7-byte
// header equals (parityLane0, parityLane1).
func computeParity(msgType byte, bodyLength uint32) uint16 {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], bodyLength)

	parityHi := parityLane0 ^ msgType ^ lenBytes[1] ^ lenBytes[3]
	parityLo := parityLane1 ^ lenBytes[0] ^ lenBytes[2]

	return uint16(parityLo) | uint16(parityHi)<<8
}

// Encode serialises h to its 7-byte wire representation.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = h.Type
	binary.LittleEndian.PutUint32(buf[1:5], h.BodyLength)
	binary.LittleEndian.PutUint16(buf[5:7], computeParity(h.Type, h.BodyLength))
	return buf
}

// Decode parses and validates a 7-byte header. A parity mismatch or an
// over-long body is reported as ErrParityMismatch / ErrBodyTooLarge; both
// are fatal to the connection per 4.A.
func Decode(buf []byte, maxBodyLength uint32) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes, need %d", ErrShortField, len(buf), HeaderSize)
	}

	h := Header{
		Type:       buf[0],
		BodyLength: binary.LittleEndian.Uint32(buf[1:5]),
	}
	gotParity := binary.LittleEndian.Uint16(buf[5:7])
	wantParity := computeParity(h.Type, h.BodyLength)
	if gotParity != wantParity {
		return Header{}, fmt.Errorf("%w: got 0x%04x, want 0x%04x", ErrParityMismatch, gotParity, wantParity)
	}

	if maxBodyLength == 0 {
		maxBodyLength = DefaultMaxBodyLength
	}
	if h.BodyLength > maxBodyLength {
		return Header{}, fmt.Errorf("%w: %d bytes (max %d)", ErrBodyTooLarge, h.BodyLength, maxBodyLength)
	}

	return h, nil
}

func (h Header) String() string {
	return fmt.Sprintf("Header{Type: 0x%02x, BodyLength: %d}", h.Type, h.BodyLength)
}
