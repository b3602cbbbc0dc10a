package hmacauth

import (
	"encoding/hex"
	"fmt"
)

// Known-answer HMAC-SHA512 vector, computed offline and pinned here so
// SelfTest compares against a value that does not depend on Compute
// itself. key = bytes 0x00..0x7F, timestamp = 0x60000000, nonce =
// DE AD BE EF.
const (
	knownAnswerTimestamp uint64 = 0x0000000060000000
	knownAnswerTagHex            = "fa120e639523b3d4e325520d9822bc14fe6e8f87e54c32bf685acaaf9b4724a" +
		"c8542b5b97af67ed493e6afdd5b0f1aa75eb7e662bb674937fa1b999c2d5e0ce0"
)

var knownAnswerNonce = Nonce{0xDE, 0xAD, 0xBE, 0xEF}

func knownAnswerKey() Key {
	var key Key
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

// SelfTest recomputes the known-answer HMAC and returns an error if the
// crypto primitive does not reproduce the fixed expected tag. Callers at
// process entry should treat a non-nil error as fatal (exit code per
// spec.md §6: non-zero reserved for crypto-init failure).
func SelfTest() error {
	got := Compute(knownAnswerKey(), knownAnswerTimestamp, knownAnswerNonce)
	gotHex := hex.EncodeToString(got[:])
	if gotHex != knownAnswerTagHex {
		return fmt.Errorf("hmacauth: startup self-test failed: got %s, want %s", gotHex, knownAnswerTagHex)
	}
	return nil
}
