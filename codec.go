package mqttclient

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

var ErrUnknownPacketType = errors.New("unknown packet type")

// maxFixedHeader is the control byte plus a four byte remaining length.
const maxFixedHeader = 5

// readFrame reads one control packet. If maxSize is greater than 0, a packet
// whose total size exceeds it returns ErrPacketTooLarge without reading the body.
func readFrame(r *bufio.Reader, maxSize uint32) (Frame, error) {
	b, err := r.ReadByte()
	if err != nil {
		return Frame{}, err
	}

	t, flags := splitControl(b)
	if !t.Valid() {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownPacketType, byte(t))
	}

	length, err := decodeVarInt(r)
	if err != nil {
		if errors.Is(err, ErrVarintMalformed) {
			return Frame{}, fmt.Errorf("%w: remaining length: %w", ErrMalformedPacket, err)
		}
		return Frame{}, err
	}

	if maxSize > 0 && uint32(1+varintSize(length))+length > maxSize {
		return Frame{}, fmt.Errorf("%w: %s of %d bytes, limit %d", ErrPacketTooLarge, t, length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	return Frame{Type: t, Flags: flags, Payload: payload}, nil
}

// appendFrame appends a complete packet: control byte, remaining length and body.
func appendFrame(dst []byte, control byte, body []byte) ([]byte, error) {
	if len(body) > maxVarint {
		return dst, fmt.Errorf("%w: body of %d bytes", ErrPacketTooLarge, len(body))
	}

	dst = append(dst, control)
	dst = appendVarInt(dst, uint32(len(body)))
	return append(dst, body...), nil
}

// frameSize returns the encoded size of a packet with the given body length.
func frameSize(bodyLen int) int {
	return 1 + varintSize(uint32(bodyLen)) + bodyLen
}
