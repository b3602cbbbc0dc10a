package wire

import (
	"encoding/binary"
	"fmt"
)

// BodyWriter builds a message body as a concatenation of fields with no
// padding: fixed-size primitives little-endian, and dynamic arrays as
// u64-length ‖ content (4.A).
type BodyWriter struct {
	buf []byte
}

// NewBodyWriter returns an empty body builder.
func NewBodyWriter() *BodyWriter {
	return &BodyWriter{}
}

func (w *BodyWriter) PutUint8(v byte) *BodyWriter {
	w.buf = append(w.buf, v)
	return w
}

func (w *BodyWriter) PutUint16(v uint16) *BodyWriter {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *BodyWriter) PutUint32(v uint32) *BodyWriter {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *BodyWriter) PutUint64(v uint64) *BodyWriter {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// PutFixed appends a fixed-size field verbatim; no length prefix.
func (w *BodyWriter) PutFixed(data []byte) *BodyWriter {
	w.buf = append(w.buf, data...)
	return w
}

// PutArray appends a dynamic array field: u64 length followed by content.
func (w *BodyWriter) PutArray(data []byte) *BodyWriter {
	w.PutUint64(uint64(len(data)))
	w.buf = append(w.buf, data...)
	return w
}

// PutRaw appends data with no length prefix at all — used when this
// field is the single dynamic array comprising the entire body (the
// header-boundary special case in 4.A), so the length is implied by
// body_length and must not be duplicated on the wire.
func (w *BodyWriter) PutRaw(data []byte) *BodyWriter {
	w.buf = append(w.buf, data...)
	return w
}

// Bytes returns the built body.
func (w *BodyWriter) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes built so far.
func (w *BodyWriter) Len() int {
	return len(w.buf)
}

// BodyReader parses a body produced by BodyWriter.
type BodyReader struct {
	buf []byte
	off int
}

// NewBodyReader wraps a received body slice. The slice must outlive the
// reader; callers must not retain it past the point the coroutine
// consumes or discards recv_payload (I3).
func NewBodyReader(buf []byte) *BodyReader {
	return &BodyReader{buf: buf}
}

func (r *BodyReader) need(n int) error {
	if len(r.buf)-r.off < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrShortField, n, len(r.buf)-r.off)
	}
	return nil
}

func (r *BodyReader) Uint8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *BodyReader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off : r.off+2])
	r.off += 2
	return v, nil
}

func (r *BodyReader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

func (r *BodyReader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off : r.off+8])
	r.off += 8
	return v, nil
}

// Fixed reads n bytes verbatim.
func (r *BodyReader) Fixed(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v, nil
}

// Array reads a u64-length-prefixed dynamic array field.
func (r *BodyReader) Array() ([]byte, error) {
	n, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	// n is attacker-controlled and compared in uint64 space before ever
	// becoming an int: a value with bit 63 set (or otherwise exceeding
	// what's left in buf) would turn negative on a 32-bit int and slip
	// past need()'s bounds check, panicking in the slice below instead
	// of returning ErrShortField.
	if n > uint64(len(r.buf)-r.off) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrShortField, n, len(r.buf)-r.off)
	}
	return r.Fixed(int(n))
}

// Raw returns every remaining byte — the single-dynamic-array-body
// special case, where the length is implied by body_length rather than
// an embedded u64 prefix.
func (r *BodyReader) Raw() []byte {
	v := r.buf[r.off:]
	r.off = len(r.buf)
	return v
}

// Remaining reports how many unparsed bytes are left.
func (r *BodyReader) Remaining() int {
	return len(r.buf) - r.off
}
