package mqttclient

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarInt(t *testing.T) {
	tests := []struct {
		value   uint32
		encoded []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xFF, 0x7F}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{2097151, []byte{0xFF, 0xFF, 0x7F}},
		{2097152, []byte{0x80, 0x80, 0x80, 0x01}},
		{maxVarint, []byte{0xFF, 0xFF, 0xFF, 0x7F}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.value), func(t *testing.T) {
			got, err := encodeVarInt(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.encoded, got)
			assert.Equal(t, len(tt.encoded), varintSize(tt.value))

			v, err := decodeVarInt(newReader(tt.encoded))
			require.NoError(t, err)
			assert.Equal(t, tt.value, v)
		})
	}

	t.Run("too large", func(t *testing.T) {
		_, err := encodeVarInt(maxVarint + 1)
		assert.ErrorIs(t, err, ErrVarintTooLarge)

		var w buffer
		assert.ErrorIs(t, w.writeVarInt(maxVarint+1), ErrVarintTooLarge)
		assert.Zero(t, w.Len())
	})

	t.Run("fifth byte", func(t *testing.T) {
		_, err := decodeVarInt(newReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01}))
		assert.ErrorIs(t, err, ErrVarintMalformed)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := decodeVarInt(newReader([]byte{0x80}))
		assert.ErrorIs(t, err, ErrMalformedPacket)
	})
}

func TestStringEncoding(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "empty", input: ""},
		{name: "ascii", input: "hello"},
		{name: "multibyte", input: "hello 世界 🌍"},
		{name: "max length", input: strings.Repeat("a", 65535)},
		{name: "too long", input: strings.Repeat("a", 65536), wantErr: ErrStringTooLong},
		{name: "invalid bytes", input: string([]byte{0xFF, 0xFE}), wantErr: ErrInvalidUTF8},
		{name: "lone surrogate", input: "a\xed\xa0\x80", wantErr: ErrInvalidUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := encodeUTF8(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, encoded, 2+len(tt.input))

			s, err := newReader(encoded).readString(utf8CheckStrict)
			require.NoError(t, err)
			assert.Equal(t, tt.input, s)
		})
	}
}

func TestValidateUTF8(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check utf8Check
		valid bool
	}{
		{"plain", "sensors/room-1", utf8CheckStrict, true},
		{"null allowed without checks", "a\x00b", utf8CheckNone, true},
		{"null rejected", "a\x00b", utf8CheckControl, false},
		{"DEL rejected", "a\x7f", utf8CheckControl, false},
		{"C1 control rejected", "a\u0085", utf8CheckControl, false},
		{"C1 control allowed", "a\u0085", utf8CheckNone, true},
		{"noncharacter rejected", "a\uFFFF", utf8CheckNonchar, false},
		{"noncharacter range rejected", "\uFDD0", utf8CheckStrict, false},
		{"noncharacter allowed", "a\uFFFF", utf8CheckControl, true},
		{"high surrogate", "\xed\xa0\x80", utf8CheckNone, false},
		{"low surrogate", "\xed\xb0\x80", utf8CheckNone, false},
		{"split surrogate pair", "\xed\xa0\x80\xed\xb0\x80", utf8CheckNone, false},
		{"overlong encoding", "\xc0\xaf", utf8CheckNone, false},
		{"truncated sequence", "\xe4\xb8", utf8CheckNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateUTF8([]byte(tt.input), tt.check)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidUTF8)
			}
		})
	}
}

func TestBufferWrites(t *testing.T) {
	var w buffer
	w.writeByte(0x01)
	w.writeUint16(0x0203)
	w.writeUint32(0x04050607)
	require.NoError(t, w.writeVarInt(200))
	w.writeRaw([]byte{0xAA})
	require.NoError(t, w.writeString("ab", utf8CheckStrict))
	require.NoError(t, w.writeBinary([]byte{0x00, 0xFF}))
	require.NoError(t, w.writeStringPair(StringPair{Key: "k", Value: "v"}))

	assert.Equal(t, []byte{
		0x01,
		0x02, 0x03,
		0x04, 0x05, 0x06, 0x07,
		0xC8, 0x01,
		0xAA,
		0x00, 0x02, 'a', 'b',
		0x00, 0x02, 0x00, 0xFF,
		0x00, 0x01, 'k', 0x00, 0x01, 'v',
	}, w.Bytes())

	assert.ErrorIs(t, w.writeBinary(make([]byte, 65536)), ErrBinaryTooLong)
	assert.ErrorIs(t, w.writeString("a\x01", utf8CheckControl), ErrInvalidUTF8)

	w.Reset()
	assert.Zero(t, w.Len())

	big := bytes.Repeat([]byte{0x5A}, 1000)
	w.writeRaw(big)
	assert.Equal(t, big, w.Bytes())
}

func TestReader(t *testing.T) {
	data := []byte{
		0x07,
		0x01, 0x02,
		0x00, 0x00, 0x01, 0x00,
		0x00, 0x03, 'a', 'b', 'c',
		0x00, 0x02, 0xDE, 0xAD,
		0x00, 0x01, 'k', 0x00, 0x01, 'v',
		0xEE, 0xFF,
	}

	r := newReader(data)

	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x07), b)

	u16, err := r.readUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), u16)

	u32, err := r.readUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(256), u32)

	s, err := r.readString(utf8CheckStrict)
	require.NoError(t, err)
	assert.Equal(t, "abc", s)

	bin, err := r.readBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, bin)
	data[14] = 0x00
	assert.Equal(t, []byte{0xDE, 0xAD}, bin, "readBinary must copy")

	pair, err := r.readStringPair()
	require.NoError(t, err)
	assert.Equal(t, StringPair{Key: "k", Value: "v"}, pair)

	assert.Equal(t, 2, r.remaining())
	assert.Equal(t, []byte{0xEE, 0xFF}, r.rest())
	assert.Zero(t, r.remaining())

	_, err = r.ReadByte()
	assert.ErrorIs(t, err, ErrMalformedPacket)
	_, err = r.readUint16()
	assert.ErrorIs(t, err, ErrMalformedPacket)
	_, err = r.readUint32()
	assert.ErrorIs(t, err, ErrMalformedPacket)
	_, err = r.readN(-1)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestReaderShortString(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"missing length", []byte{0x00}},
		{"length beyond data", []byte{0x00, 0x05, 'a', 'b'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newReader(tt.data).readString(utf8CheckNone)
			assert.ErrorIs(t, err, ErrMalformedPacket)

			_, err = newReader(tt.data).readBinary()
			assert.ErrorIs(t, err, ErrMalformedPacket)
		})
	}
}
