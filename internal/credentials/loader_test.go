package credentials

import (
	"bytes"
	"strings"
	"testing"
)

func hexKeyFor(b byte) string {
	return strings.Repeat(string([]byte{hexDigit(b >> 4), hexDigit(b & 0xF)}), 128)
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + (n - 10)
}

func TestLoadValidLines(t *testing.T) {
	data := []byte("client-a:" + hexKeyFor(0xAB) + "\nclient-b:" + hexKeyFor(0xCD) + "\n")

	m, err := Load(data)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("len(m) = %d, want 2", len(m))
	}
	if _, ok := m["client-a"]; !ok {
		t.Error("missing client-a")
	}
	if _, ok := m["client-b"]; !ok {
		t.Error("missing client-b")
	}
}

func TestLoadLastLineWithoutTrailingNewline(t *testing.T) {
	data := []byte("client-a:" + hexKeyFor(0x11))
	m, err := Load(data)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(m) != 1 {
		t.Fatalf("len(m) = %d, want 1", len(m))
	}
}

func TestLoadUppercaseHex(t *testing.T) {
	data := []byte("client-a:" + strings.ToUpper(hexKeyFor(0x11)) + "\n")
	m, err := Load(data)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m["client-a"][0] != 0x11 {
		t.Errorf("key[0] = 0x%02x, want 0x11", m["client-a"][0])
	}
}

func TestLoadRejectsOddLengthHex(t *testing.T) {
	data := []byte("client-a:" + hexKeyFor(0x11)[:255] + "\n")
	if _, err := Load(data); err == nil {
		t.Fatal("expected error for odd-length hex key")
	}
}

func TestLoadRejectsNameTooLong(t *testing.T) {
	name := strings.Repeat("x", 101)
	data := []byte(name + ":" + hexKeyFor(0x11) + "\n")
	if _, err := Load(data); err == nil {
		t.Fatal("expected error for 101-byte name")
	}
}

func TestLoadRejectsEmptyName(t *testing.T) {
	data := []byte(":" + hexKeyFor(0x11) + "\n")
	if _, err := Load(data); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestLoadRejectsNonGraphByte(t *testing.T) {
	data := []byte("client a:" + hexKeyFor(0x11) + "\n") // space is not graph
	if _, err := Load(data); err == nil {
		t.Fatal("expected error for name containing a space")
	}
}

func TestLoadRejectsMultipleColons(t *testing.T) {
	data := []byte("client-a:" + hexKeyFor(0x11) + ":extra\n")
	if _, err := Load(data); err == nil {
		t.Fatal("expected error for line with more than one ':'")
	}
}

func TestLoadRejectsFileTooLarge(t *testing.T) {
	data := bytes.Repeat([]byte("a"), MaxFileSize+1)
	if _, err := Load(data); err == nil {
		t.Fatal("expected error for oversized file")
	}
}

func TestLoadIsReentrantAndSideEffectFree(t *testing.T) {
	data := []byte("client-a:" + hexKeyFor(0x11) + "\n")
	m1, err1 := Load(data)
	m2, err2 := Load(data)
	if err1 != nil || err2 != nil {
		t.Fatalf("Load() errors = %v, %v", err1, err2)
	}
	if len(m1) != len(m2) || m1["client-a"] != m2["client-a"] {
		t.Error("two Load() calls on the same data produced different results")
	}
}
