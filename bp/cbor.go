package bp

import (
	"encoding/binary"
	"fmt"
)

// CBOR major types used by the BPv7 wire format (§6, §9): this package
// implements only the subset the bundling core needs — unsigned/negative
// integers, byte/text strings, and fixed-length arrays — as a thin
// streaming encoder/decoder rather than a general-purpose CBOR library, per
// spec.md §9's "thin streaming parser" design note.
const (
	majUint byte = 0 << 5
	majNeg  byte = 1 << 5
	majByte byte = 2 << 5
	majText byte = 3 << 5
	majArr  byte = 4 << 5
)

// CBORWriter accumulates a CBOR-encoded byte sequence.
type CBORWriter struct {
	buf []byte
}

func NewCBORWriter() *CBORWriter { return &CBORWriter{} }

func (w *CBORWriter) Bytes() []byte { return w.buf }

func (w *CBORWriter) writeHead(major byte, v uint64) {
	switch {
	case v < 24:
		w.buf = append(w.buf, major|byte(v))
	case v <= 0xff:
		w.buf = append(w.buf, major|24, byte(v))
	case v <= 0xffff:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(v))
		w.buf = append(w.buf, major|25)
		w.buf = append(w.buf, b[:]...)
	case v <= 0xffffffff:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		w.buf = append(w.buf, major|26)
		w.buf = append(w.buf, b[:]...)
	default:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		w.buf = append(w.buf, major|27)
		w.buf = append(w.buf, b[:]...)
	}
}

// Uint encodes a non-negative integer.
func (w *CBORWriter) Uint(v uint64) { w.writeHead(majUint, v) }

// Int encodes a signed integer using CBOR's negative-major-type form for
// v < 0 (stored as -1-v, per the CBOR spec).
func (w *CBORWriter) Int(v int64) {
	if v >= 0 {
		w.writeHead(majUint, uint64(v))
		return
	}
	w.writeHead(majNeg, uint64(-1-v))
}

// ByteString encodes a byte string.
func (w *CBORWriter) ByteString(b []byte) {
	w.writeHead(majByte, uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// TextString encodes a UTF-8 text string.
func (w *CBORWriter) TextString(s string) {
	w.writeHead(majText, uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// ArrayHeader opens a fixed-length array of n elements; the caller writes
// exactly n further values.
func (w *CBORWriter) ArrayHeader(n int) { w.writeHead(majArr, uint64(n)) }

// CBORReader decodes a CBOR byte sequence left to right, tracking position
// for error reporting (field names are supplied by the caller at each
// decode site, per §9's "all field names enumerated for error reporting").
type CBORReader struct {
	buf []byte
	pos int
}

func NewCBORReader(buf []byte) *CBORReader { return &CBORReader{buf: buf} }

func (r *CBORReader) readHead(field string) (major byte, val uint64, err error) {
	if r.pos >= len(r.buf) {
		return 0, 0, fmt.Errorf("bp: cbor %s: %w", field, ErrTruncated)
	}
	b := r.buf[r.pos]
	major = b & 0xe0
	info := b & 0x1f
	r.pos++
	switch {
	case info < 24:
		return major, uint64(info), nil
	case info == 24:
		if r.pos+1 > len(r.buf) {
			return 0, 0, fmt.Errorf("bp: cbor %s: %w", field, ErrTruncated)
		}
		val = uint64(r.buf[r.pos])
		r.pos++
	case info == 25:
		if r.pos+2 > len(r.buf) {
			return 0, 0, fmt.Errorf("bp: cbor %s: %w", field, ErrTruncated)
		}
		val = uint64(binary.BigEndian.Uint16(r.buf[r.pos:]))
		r.pos += 2
	case info == 26:
		if r.pos+4 > len(r.buf) {
			return 0, 0, fmt.Errorf("bp: cbor %s: %w", field, ErrTruncated)
		}
		val = uint64(binary.BigEndian.Uint32(r.buf[r.pos:]))
		r.pos += 4
	case info == 27:
		if r.pos+8 > len(r.buf) {
			return 0, 0, fmt.Errorf("bp: cbor %s: %w", field, ErrTruncated)
		}
		val = binary.BigEndian.Uint64(r.buf[r.pos:])
		r.pos += 8
	default:
		return 0, 0, fmt.Errorf("bp: cbor %s: unsupported additional info %d", field, info)
	}
	return major, val, nil
}

// Uint decodes a non-negative integer field.
func (r *CBORReader) Uint(field string) (uint64, error) {
	major, val, err := r.readHead(field)
	if err != nil {
		return 0, err
	}
	if major != majUint {
		return 0, fmt.Errorf("bp: cbor %s: expected uint, got major type %d", field, major>>5)
	}
	return val, nil
}

// Int decodes a signed integer field (uint or negative major type).
func (r *CBORReader) Int(field string) (int64, error) {
	major, val, err := r.readHead(field)
	if err != nil {
		return 0, err
	}
	switch major {
	case majUint:
		return int64(val), nil
	case majNeg:
		return -1 - int64(val), nil
	default:
		return 0, fmt.Errorf("bp: cbor %s: expected int, got major type %d", field, major>>5)
	}
}

// ByteString decodes a byte-string field.
func (r *CBORReader) ByteString(field string) ([]byte, error) {
	major, n, err := r.readHead(field)
	if err != nil {
		return nil, err
	}
	if major != majByte {
		return nil, fmt.Errorf("bp: cbor %s: expected byte string, got major type %d", field, major>>5)
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, fmt.Errorf("bp: cbor %s: %w", field, ErrTruncated)
	}
	out := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

// TextString decodes a text-string field.
func (r *CBORReader) TextString(field string) (string, error) {
	major, n, err := r.readHead(field)
	if err != nil {
		return "", err
	}
	if major != majText {
		return "", fmt.Errorf("bp: cbor %s: expected text string, got major type %d", field, major>>5)
	}
	if r.pos+int(n) > len(r.buf) {
		return "", fmt.Errorf("bp: cbor %s: %w", field, ErrTruncated)
	}
	out := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

// ArrayHeader decodes a fixed-length array header and enforces the
// [min,max] element-count bounds the caller expects for this field —
// matching §4.4's "field-level validation enforces minimum/maximum element
// counts" requirement.
func (r *CBORReader) ArrayHeader(field string, min, max int) (n int, err error) {
	major, val, err := r.readHead(field)
	if err != nil {
		return 0, err
	}
	if major != majArr {
		return 0, fmt.Errorf("bp: cbor %s: expected array, got major type %d", field, major>>5)
	}
	n = int(val)
	if n < min || (max >= 0 && n > max) {
		return 0, fmt.Errorf("bp: cbor %s: array length %d outside [%d,%d]", field, n, min, max)
	}
	return n, nil
}

// Remaining reports whether any undecoded bytes remain.
func (r *CBORReader) Remaining() int { return len(r.buf) - r.pos }

// Pos returns the current read offset, for consume()'s bytes_consumed return.
func (r *CBORReader) Pos() int { return r.pos }
