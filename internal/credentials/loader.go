// Package credentials parses the "name:hexkey" credential file (4.E) and
// watches it for hot-reload (supplemented feature, SPEC_FULL.md §4).
package credentials

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/swarmstore/swarmstore/internal/hmacauth"
)

// MaxFileSize is the credential file size limit.
const MaxFileSize = 10 * 1024 * 1024

// NameMaxLength is the maximum client name length.
const NameMaxLength = 100

// Map is a name -> shared key mapping. It is produced side-effect-free
// and is safe to read concurrently by multiple goroutines once handed
// out; it is never mutated after Load returns it.
type Map map[string]hmacauth.Key

// isGraph reports whether b is an ASCII printable-non-whitespace byte
// (POSIX graph class, 0x21-0x7E).
func isGraph(b byte) bool {
	return b >= 0x21 && b <= 0x7E
}

// Load parses credential lines of the form "name:hexkey\n" (or EOF
// instead of the trailing newline on the last line) from data and
// returns a Map. It is re-entrant and has no side effects on failure or
// success: the caller keeps its previous Map until Load returns
// successfully, so a hot reload never windows out a live authenticator.
func Load(data []byte) (Map, error) {
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("credentials: file size %d exceeds limit %d", len(data), MaxFileSize)
	}

	out := make(Map)

	lineNo := 0
	for len(data) > 0 {
		lineNo++

		var line []byte
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
			line = data[:idx]
			data = data[idx+1:]
		} else {
			line = data
			data = nil
		}

		if len(line) == 0 {
			continue
		}

		name, key, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("credentials: line %d: %w", lineNo, err)
		}
		out[name] = key
	}

	return out, nil
}

func parseLine(line []byte) (string, hmacauth.Key, error) {
	sep := bytes.IndexByte(line, ':')
	if sep < 0 {
		return "", hmacauth.Key{}, fmt.Errorf("missing ':' separator")
	}
	if bytes.IndexByte(line[sep+1:], ':') >= 0 {
		return "", hmacauth.Key{}, fmt.Errorf("more than one ':' separator")
	}

	nameBytes := line[:sep]
	hexKey := line[sep+1:]

	if len(nameBytes) < 1 || len(nameBytes) > NameMaxLength {
		return "", hmacauth.Key{}, fmt.Errorf("name length %d outside [1, %d]", len(nameBytes), NameMaxLength)
	}
	for _, b := range nameBytes {
		if !isGraph(b) {
			return "", hmacauth.Key{}, fmt.Errorf("name contains non-graph byte 0x%02x", b)
		}
	}

	if len(hexKey) != 2*hmacauth.KeySize {
		return "", hmacauth.Key{}, fmt.Errorf("hex key length %d, want %d", len(hexKey), 2*hmacauth.KeySize)
	}

	var key hmacauth.Key
	if _, err := hex.Decode(key[:], hexKey); err != nil {
		return "", hmacauth.Key{}, fmt.Errorf("invalid hex: %w", err)
	}

	return string(nameBytes), key, nil
}

// LoadFile reads and parses the credential file at path.
func LoadFile(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: reading %s: %w", path, err)
	}
	return Load(data)
}
