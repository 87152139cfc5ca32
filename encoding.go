package mqttclient

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Encoding errors.
var (
	ErrStringTooLong   = errors.New("string exceeds maximum length of 65535 bytes")
	ErrBinaryTooLong   = errors.New("binary data exceeds maximum length of 65535 bytes")
	ErrInvalidUTF8     = errors.New("invalid UTF-8 string")
	ErrVarintTooLarge  = errors.New("variable byte integer exceeds maximum value")
	ErrVarintMalformed = errors.New("malformed variable byte integer")
	ErrMalformedPacket = errors.New("malformed packet")
)

const (
	maxUint16         = 65535
	maxVarint         = 0x0FFFFFFF
	varintContinueBit = 0x80
	varintValueMask   = 0x7F
)

// utf8Check selects the optional checks applied by decodeUTF8 and sizeUTF8.
// Surrogate code points are always rejected.
type utf8Check uint8

const (
	// utf8CheckControl rejects C0 and C1 control characters (U+0000-U+001F, U+007F-U+009F).
	utf8CheckControl utf8Check = 1 << iota

	// utf8CheckNonchar rejects U+FFFE, U+FFFF and U+FDD0-U+FDEF.
	utf8CheckNonchar

	utf8CheckNone   utf8Check = 0
	utf8CheckStrict           = utf8CheckControl | utf8CheckNonchar
)

// encodeVarInt returns the variable byte integer encoding of v.
func encodeVarInt(v uint32) ([]byte, error) {
	if v > maxVarint {
		return nil, ErrVarintTooLarge
	}

	return appendVarInt(make([]byte, 0, 4), v), nil
}

// appendVarInt appends v, which must not exceed maxVarint.
func appendVarInt(dst []byte, v uint32) []byte {
	for {
		b := byte(v & varintValueMask)
		v >>= 7
		if v > 0 {
			b |= varintContinueBit
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// decodeVarInt reads a variable byte integer of at most four bytes.
func decodeVarInt(r io.ByteReader) (uint32, error) {
	var value uint32
	var shift uint

	for range 4 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}

		value |= uint32(b&varintValueMask) << shift
		if b&varintContinueBit == 0 {
			return value, nil
		}

		shift += 7
	}

	return 0, ErrVarintMalformed
}

// varintSize returns the encoded width of v in bytes.
func varintSize(v uint32) int {
	switch {
	case v < 128:
		return 1
	case v < 16384:
		return 2
	case v < 2097152:
		return 3
	default:
		return 4
	}
}

// sizeUTF8 validates s and returns its encoded size including the length prefix.
func sizeUTF8(s string, check utf8Check) (int, error) {
	if len(s) > maxUint16 {
		return 0, ErrStringTooLong
	}

	if err := validateUTF8([]byte(s), check); err != nil {
		return 0, err
	}

	return 2 + len(s), nil
}

// encodeUTF8 returns s with its 2-byte length prefix.
func encodeUTF8(s string) ([]byte, error) {
	n, err := sizeUTF8(s, utf8CheckNone)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 2, n)
	binary.BigEndian.PutUint16(out, uint16(len(s)))

	return append(out, s...), nil
}

// decodeUTF8 validates b according to check and returns it as a string.
func decodeUTF8(b []byte, check utf8Check) (string, error) {
	if err := validateUTF8(b, check); err != nil {
		return "", err
	}

	return string(b), nil
}

// surrogateAt reports whether b[i:] starts with a 3-byte encoded UTF-16 surrogate.
// high is true for U+D800-U+DBFF.
func surrogateAt(b []byte, i int) (ok, high bool) {
	if i+2 >= len(b) || b[i] != 0xED || b[i+1] < 0xA0 || b[i+1] > 0xBF {
		return false, false
	}

	return true, b[i+1] < 0xB0
}

func validateUTF8(b []byte, check utf8Check) error {
	for i := 0; i < len(b); {
		c := b[i]
		if c < utf8.RuneSelf {
			if check&utf8CheckControl != 0 && (c < 0x20 || c == 0x7F) {
				return fmt.Errorf("%w: control character U+%04X at offset %d", ErrInvalidUTF8, c, i)
			}
			i++
			continue
		}

		if ok, high := surrogateAt(b, i); ok {
			if !high {
				return fmt.Errorf("%w: lone low surrogate at offset %d", ErrInvalidUTF8, i)
			}
			if next, nextHigh := surrogateAt(b, i+3); next && !nextHigh {
				return fmt.Errorf("%w: surrogate pair encoded as separate code points at offset %d", ErrInvalidUTF8, i)
			}
			return fmt.Errorf("%w: lone high surrogate at offset %d", ErrInvalidUTF8, i)
		}

		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return fmt.Errorf("%w: invalid byte sequence at offset %d", ErrInvalidUTF8, i)
		}

		if check&utf8CheckControl != 0 && r >= 0x80 && r <= 0x9F {
			return fmt.Errorf("%w: control character U+%04X at offset %d", ErrInvalidUTF8, r, i)
		}

		if check&utf8CheckNonchar != 0 && (r == 0xFFFE || r == 0xFFFF || (r >= 0xFDD0 && r <= 0xFDEF)) {
			return fmt.Errorf("%w: noncharacter U+%04X at offset %d", ErrInvalidUTF8, r, i)
		}

		i += size
	}

	return nil
}

// StringPair represents a UTF-8 string pair (used for User Properties).
type StringPair struct {
	Key   string
	Value string
}

// buffer is a growable encode buffer.
type buffer struct {
	b []byte
}

// ensure grows the buffer geometrically so that n more bytes fit.
func (w *buffer) ensure(n int) {
	if cap(w.b)-len(w.b) >= n {
		return
	}

	size := 2 * cap(w.b)
	if size < len(w.b)+n {
		size = len(w.b) + n
	}
	if size < 64 {
		size = 64
	}

	grown := make([]byte, len(w.b), size)
	copy(grown, w.b)
	w.b = grown
}

func (w *buffer) Len() int      { return len(w.b) }
func (w *buffer) Bytes() []byte { return w.b }
func (w *buffer) Reset()        { w.b = w.b[:0] }

func (w *buffer) writeByte(v byte) {
	w.ensure(1)
	w.b = append(w.b, v)
}

func (w *buffer) writeUint16(v uint16) {
	w.ensure(2)
	w.b = binary.BigEndian.AppendUint16(w.b, v)
}

func (w *buffer) writeUint32(v uint32) {
	w.ensure(4)
	w.b = binary.BigEndian.AppendUint32(w.b, v)
}

func (w *buffer) writeVarInt(v uint32) error {
	if v > maxVarint {
		return ErrVarintTooLarge
	}

	w.ensure(4)
	w.b = appendVarInt(w.b, v)
	return nil
}

func (w *buffer) writeRaw(p []byte) {
	w.ensure(len(p))
	w.b = append(w.b, p...)
}

func (w *buffer) writeString(s string, check utf8Check) error {
	n, err := sizeUTF8(s, check)
	if err != nil {
		return err
	}

	w.ensure(n)
	w.b = binary.BigEndian.AppendUint16(w.b, uint16(len(s)))
	w.b = append(w.b, s...)
	return nil
}

func (w *buffer) writeBinary(p []byte) error {
	if len(p) > maxUint16 {
		return ErrBinaryTooLong
	}

	w.ensure(2 + len(p))
	w.b = binary.BigEndian.AppendUint16(w.b, uint16(len(p)))
	w.b = append(w.b, p...)
	return nil
}

func (w *buffer) writeStringPair(p StringPair) error {
	if err := w.writeString(p.Key, utf8CheckNone); err != nil {
		return err
	}

	return w.writeString(p.Value, utf8CheckNone)
}

// reader decodes packet bodies. Running past the end yields ErrMalformedPacket.
type reader struct {
	b   []byte
	off int
}

func newReader(b []byte) *reader {
	return &reader{b: b}
}

func (r *reader) remaining() int {
	return len(r.b) - r.off
}

func (r *reader) short(n int) error {
	return fmt.Errorf("%w: need %d bytes, have %d", ErrMalformedPacket, n, r.remaining())
}

// ReadByte implements io.ByteReader.
func (r *reader) ReadByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, r.short(1)
	}

	b := r.b[r.off]
	r.off++
	return b, nil
}

func (r *reader) readUint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, r.short(2)
	}

	v := binary.BigEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) readUint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, r.short(4)
	}

	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) readVarInt() (uint32, error) {
	return decodeVarInt(r)
}

// readN returns the next n bytes without copying.
func (r *reader) readN(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, r.short(n)
	}

	p := r.b[r.off : r.off+n]
	r.off += n
	return p, nil
}

// rest consumes and returns a copy of everything left.
func (r *reader) rest() []byte {
	p := make([]byte, r.remaining())
	copy(p, r.b[r.off:])
	r.off = len(r.b)
	return p
}

func (r *reader) readString(check utf8Check) (string, error) {
	n, err := r.readUint16()
	if err != nil {
		return "", err
	}

	p, err := r.readN(int(n))
	if err != nil {
		return "", err
	}

	return decodeUTF8(p, check)
}

func (r *reader) readBinary() ([]byte, error) {
	n, err := r.readUint16()
	if err != nil {
		return nil, err
	}

	p, err := r.readN(int(n))
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

func (r *reader) readStringPair() (StringPair, error) {
	key, err := r.readString(utf8CheckNone)
	if err != nil {
		return StringPair{}, err
	}

	value, err := r.readString(utf8CheckNone)
	if err != nil {
		return StringPair{}, err
	}

	return StringPair{Key: key, Value: value}, nil
}
