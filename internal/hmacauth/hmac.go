// Package hmacauth implements the HMAC-SHA512 challenge primitives used by
// the connect/handshake protocol (4.D): fixed-size key/code/nonce types,
// tag computation, constant-time verification, and a known-answer
// self-test. SelfTest only returns an error; it does not abort the
// process, and neither command in cmd/ calls it at startup.
package hmacauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// KeySize is the HMAC-SHA512 block length; keys are not heap-allocated,
// they are by-value fixed arrays.
const KeySize = 128

// CodeSize is the SHA-512 output size.
const CodeSize = 64

// NonceSize is the handshake nonce size.
const NonceSize = 4

// Key is a shared HMAC key.
type Key [KeySize]byte

// Code is an HMAC-SHA512 tag.
type Code [CodeSize]byte

// Nonce is a per-authentication-attempt random value.
type Nonce [NonceSize]byte

// Compute returns HMAC-SHA512(key, timestamp(8B little-endian) ‖ nonce).
func Compute(key Key, timestamp uint64, nonce Nonce) Code {
	var msg [8 + NonceSize]byte
	binary.LittleEndian.PutUint64(msg[:8], timestamp)
	copy(msg[8:], nonce[:])

	mac := hmac.New(sha512.New, key[:])
	mac.Write(msg[:])

	var code Code
	copy(code[:], mac.Sum(nil))
	return code
}

// Confirm recomputes the tag for (key, timestamp, nonce) and compares it
// to received in constant time.
func Confirm(key Key, timestamp uint64, nonce Nonce, received Code) bool {
	want := Compute(key, timestamp, nonce)
	return subtle.ConstantTimeCompare(want[:], received[:]) == 1
}

// NewNonce draws a fresh nonce from the process CSPRNG. The server invokes
// this exactly once per authentication attempt (I5): it must never reuse a
// nonce for a given connection attempt.
func NewNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return Nonce{}, fmt.Errorf("hmacauth: failed to draw nonce: %w", err)
	}
	return n, nil
}
