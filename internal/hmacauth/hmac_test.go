package hmacauth

import "testing"

func testKey() Key {
	var k Key
	for i := range k {
		k[i] = byte(i * 3)
	}
	return k
}

func TestConfirmAcceptsMatchingTag(t *testing.T) {
	key := testKey()
	nonce := Nonce{1, 2, 3, 4}
	var timestamp uint64 = 1_700_000_000

	code := Compute(key, timestamp, nonce)
	if !Confirm(key, timestamp, nonce, code) {
		t.Fatal("Confirm rejected a correctly computed tag")
	}
}

func TestConfirmRejectsBitFlips(t *testing.T) {
	key := testKey()
	nonce := Nonce{1, 2, 3, 4}
	var timestamp uint64 = 1_700_000_000
	code := Compute(key, timestamp, nonce)

	t.Run("flipped key byte", func(t *testing.T) {
		badKey := key
		badKey[0] ^= 0x01
		if Confirm(badKey, timestamp, nonce, code) {
			t.Error("Confirm accepted a flipped key")
		}
	})

	t.Run("flipped timestamp", func(t *testing.T) {
		if Confirm(key, timestamp^1, nonce, code) {
			t.Error("Confirm accepted a flipped timestamp")
		}
	})

	t.Run("flipped nonce", func(t *testing.T) {
		badNonce := nonce
		badNonce[0] ^= 0x01
		if Confirm(key, timestamp, badNonce, code) {
			t.Error("Confirm accepted a flipped nonce")
		}
	})

	t.Run("flipped code bit", func(t *testing.T) {
		badCode := code
		badCode[0] ^= 0x01
		if Confirm(key, timestamp, nonce, badCode) {
			t.Error("Confirm accepted a flipped tag")
		}
	})
}

func TestNewNonceIsNotConstant(t *testing.T) {
	a, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce() error = %v", err)
	}
	b, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce() error = %v", err)
	}
	if a == b {
		t.Error("two consecutive nonces were identical; CSPRNG looks broken")
	}
}

func TestSelfTestPasses(t *testing.T) {
	if err := SelfTest(); err != nil {
		t.Fatalf("SelfTest() error = %v", err)
	}
}
