package wire

import "testing"

func TestBodyFixedAndArrayFields(t *testing.T) {
	w := NewBodyWriter().
		PutUint8(0x7).
		PutUint32(123456).
		PutArray([]byte("hello")).
		PutUint64(1<<40 + 7)

	r := NewBodyReader(w.Bytes())

	v8, err := r.Uint8()
	if err != nil || v8 != 0x7 {
		t.Fatalf("Uint8() = %v, %v", v8, err)
	}
	v32, err := r.Uint32()
	if err != nil || v32 != 123456 {
		t.Fatalf("Uint32() = %v, %v", v32, err)
	}
	arr, err := r.Array()
	if err != nil || string(arr) != "hello" {
		t.Fatalf("Array() = %q, %v", arr, err)
	}
	v64, err := r.Uint64()
	if err != nil || v64 != 1<<40+7 {
		t.Fatalf("Uint64() = %v, %v", v64, err)
	}
	if r.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", r.Remaining())
	}
}

func TestBodySingleDynamicArrayOmitsLengthPrefix(t *testing.T) {
	payload := []byte("the entire body is this array")
	w := NewBodyWriter().PutRaw(payload)

	if w.Len() != len(payload) {
		t.Fatalf("Len() = %d, want %d (no length prefix)", w.Len(), len(payload))
	}

	r := NewBodyReader(w.Bytes())
	if got := string(r.Raw()); got != string(payload) {
		t.Errorf("Raw() = %q, want %q", got, payload)
	}
}

func TestBodyShortFieldError(t *testing.T) {
	r := NewBodyReader([]byte{0x01, 0x02})
	if _, err := r.Uint32(); err == nil {
		t.Fatal("expected ErrShortField reading Uint32 from 2 bytes")
	}
}

func TestBodyArrayLengthOverrunErrors(t *testing.T) {
	w := NewBodyWriter()
	w.PutUint64(1000) // claims 1000 bytes follow, but none do
	r := NewBodyReader(w.Bytes())
	if _, err := r.Array(); err == nil {
		t.Fatal("expected error reading over-long array")
	}
}

func TestBodyZeroLengthArray(t *testing.T) {
	w := NewBodyWriter().PutArray(nil)
	r := NewBodyReader(w.Bytes())
	arr, err := r.Array()
	if err != nil {
		t.Fatalf("Array() error = %v", err)
	}
	if len(arr) != 0 {
		t.Errorf("len(arr) = %d, want 0", len(arr))
	}
}
