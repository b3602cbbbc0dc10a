// Package handshake implements the connect/handshake protocol (4.F): a
// single-byte protocol-version exchange followed by the HMAC challenge
// exchange. It runs synchronously, in half-duplex one-message-at-a-time
// mode, and is never multiplexed with request traffic.
package handshake

import (
	"io"
	"math"
	"net"
	"time"

	"github.com/swarmstore/swarmstore/internal/credentials"
	"github.com/swarmstore/swarmstore/internal/hmacauth"
	"github.com/swarmstore/swarmstore/internal/protoerr"
	"github.com/swarmstore/swarmstore/internal/wire"
)

// Version is the current protocol version (4.F).
const Version byte = 1

// MaxClockSkew is the maximum tolerated |client_timestamp - node_time|.
const MaxClockSkew = 1800 * time.Second

// TimeTMax is the largest timestamp value accepted; the open question in
// spec.md §9 requires rejecting timestamps larger than this before any
// other timestamp check runs.
const TimeTMax uint64 = math.MaxInt64

// exchangeVersion writes the local version byte then reads the peer's,
// failing with ProtocolVersionMismatch on any difference. Current version
// is fixed; any future wire change must introduce a new handshake
// version rather than a per-message flag (spec.md §9).
func exchangeVersion(conn net.Conn) error {
	if _, err := conn.Write([]byte{Version}); err != nil {
		return &protoerr.IoError{Op: "write version", Err: err}
	}

	var peer [1]byte
	if _, err := io.ReadFull(conn, peer[:]); err != nil {
		return &protoerr.IoError{Op: "read version", Err: err}
	}
	if peer[0] != Version {
		return &protoerr.ProtocolVersionMismatch{Local: Version, Remote: peer[0]}
	}
	return nil
}

func writeMessage(conn net.Conn, body []byte) error {
	h := wire.Header{Type: wire.AuthenticationType, BodyLength: uint32(len(body))}
	enc := h.Encode()
	if _, err := conn.Write(enc[:]); err != nil {
		return &protoerr.IoError{Op: "write handshake header", Err: err}
	}
	if len(body) > 0 {
		if _, err := conn.Write(body); err != nil {
			return &protoerr.IoError{Op: "write handshake body", Err: err}
		}
	}
	return nil
}

func readMessage(conn net.Conn, maxBodyLength uint32) ([]byte, error) {
	var hdr [wire.HeaderSize]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, protoerr.ConnectionClosed{}
		}
		return nil, &protoerr.IoError{Op: "read handshake header", Err: err}
	}
	h, err := wire.Decode(hdr[:], maxBodyLength)
	if err != nil {
		return nil, protoerr.NewProtocolError(err.Error(), "handshake.go", 0)
	}

	body := make([]byte, h.BodyLength)
	if h.BodyLength > 0 {
		if _, err := io.ReadFull(conn, body); err != nil {
			return nil, &protoerr.IoError{Op: "read handshake body", Err: err}
		}
	}
	return body, nil
}

// ClientAuthenticate performs the client side of 4.F: send timestamp,
// receive nonce, send name+code, receive ok.
func ClientAuthenticate(conn net.Conn, name string, key hmacauth.Key, now time.Time) error {
	if err := exchangeVersion(conn); err != nil {
		return err
	}

	timestamp := uint64(now.Unix())
	if err := writeMessage(conn, wire.NewBodyWriter().PutUint64(timestamp).Bytes()); err != nil {
		return err
	}

	nonceBody, err := readMessage(conn, hmacauth.NonceSize)
	if err != nil {
		return err
	}
	r := wire.NewBodyReader(nonceBody)
	nonceBytes, err := r.Fixed(hmacauth.NonceSize)
	if err != nil {
		return protoerr.NewProtocolError("short nonce", "handshake.go", 0)
	}
	var nonce hmacauth.Nonce
	copy(nonce[:], nonceBytes)

	code := hmacauth.Compute(key, timestamp, nonce)
	resp := wire.NewBodyWriter().PutArray([]byte(name)).PutFixed(code[:]).Bytes()
	if err := writeMessage(conn, resp); err != nil {
		return err
	}

	okBody, err := readMessage(conn, 1)
	if err != nil {
		return err
	}
	okReader := wire.NewBodyReader(okBody)
	ok, err := okReader.Uint8()
	if err != nil {
		return protoerr.NewProtocolError("short ok field", "handshake.go", 0)
	}
	if ok == 0 {
		return &protoerr.AuthRejected{Reason: "node rejected authentication", Timestamp: timestamp, Nonce: nonce, Name: name}
	}
	return nil
}

// ServerAuthenticate performs the node side of 4.F. creds is a snapshot
// held for the duration of this single attempt. nodeNow is the node's
// clock at validation time. On any rejection it writes ok=false, closes
// nothing itself (the caller closes the connection), and returns an
// *protoerr.AuthRejected carrying the reason but never the key.
func ServerAuthenticate(conn net.Conn, creds credentials.Map, nodeNow time.Time) (clientName string, err error) {
	if err := exchangeVersion(conn); err != nil {
		return "", err
	}

	tsBody, err := readMessage(conn, 8)
	if err != nil {
		return "", err
	}
	timestamp, err := wire.NewBodyReader(tsBody).Uint64()
	if err != nil {
		return "", protoerr.NewProtocolError("short timestamp field", "handshake.go", 0)
	}

	nonce, err := hmacauth.NewNonce()
	if err != nil {
		return "", &protoerr.IoError{Op: "generate nonce", Err: err}
	}
	if err := writeMessage(conn, wire.NewBodyWriter().PutFixed(nonce[:]).Bytes()); err != nil {
		return "", err
	}

	// The cap admits names up to twice NameMaxLength, so an over-long
	// name is read in full and rejected by validate with ok=false rather
	// than failing the framing check.
	credBody, err := readMessage(conn, 2*uint32(credentials.NameMaxLength)+8+hmacauth.CodeSize)
	if err != nil {
		return "", err
	}
	r := wire.NewBodyReader(credBody)
	nameBytes, err := r.Array()
	if err != nil {
		return "", protoerr.NewProtocolError("short name field", "handshake.go", 0)
	}
	codeBytes, err := r.Fixed(hmacauth.CodeSize)
	if err != nil {
		return "", protoerr.NewProtocolError("short code field", "handshake.go", 0)
	}
	var code hmacauth.Code
	copy(code[:], codeBytes)
	name := string(nameBytes)

	reason, key, ok := validate(creds, name, timestamp, nonce, code, nodeNow)
	writeMessage(conn, wire.NewBodyWriter().PutUint8(boolByte(ok)).Bytes()) //nolint:errcheck
	if !ok {
		_ = key
		return "", &protoerr.AuthRejected{Reason: reason, Timestamp: timestamp, Nonce: nonce, Name: name, HadCode: true}
	}

	return name, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// validate runs the node-side checks in the exact order 4.F specifies.
// Any failure yields a distinct, log-only reason string.
func validate(creds credentials.Map, name string, timestamp uint64, nonce hmacauth.Nonce, code hmacauth.Code, nodeNow time.Time) (reason string, key hmacauth.Key, ok bool) {
	if len(name) == 0 {
		return "empty client name", key, false
	}
	if len(name) > credentials.NameMaxLength {
		return "client name too long", key, false
	}

	key, known := creds[name]
	if !known {
		for i := 0; i < len(name); i++ {
			if name[i] < 0x21 || name[i] > 0x7E {
				return "invalid character in client name", key, false
			}
		}
		return "unknown client", key, false
	}

	if timestamp > TimeTMax {
		return "timestamp exceeds maximum representable value", key, false
	}
	if timestamp == 0 {
		return "timestamp is zero", key, false
	}

	nodeSeconds := uint64(nodeNow.Unix())
	var skew int64
	if timestamp >= nodeSeconds {
		skew = int64(timestamp - nodeSeconds)
	} else {
		skew = int64(nodeSeconds - timestamp)
	}
	if skew > int64(MaxClockSkew/time.Second) {
		return "client/node timestamp difference > 30 minutes", key, false
	}

	if !hmacauth.Confirm(key, timestamp, nonce, code) {
		return "HMAC verification failed", key, false
	}

	return "", key, true
}
