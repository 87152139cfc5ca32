package mqttclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPacketTypeString(t *testing.T) {
	assert.Equal(t, "CONNECT", PacketCONNECT.String())
	assert.Equal(t, "PINGRESP", PacketPINGRESP.String())
	assert.Equal(t, "AUTH", PacketAUTH.String())
	assert.Equal(t, "UNKNOWN(0)", PacketType(0).String())
	assert.Equal(t, "UNKNOWN(16)", PacketType(16).String())
}

func TestProtocolVersion(t *testing.T) {
	tests := []struct {
		version ProtocolVersion
		name    string
		valid   bool
	}{
		{ProtocolV31, "3.1", true},
		{ProtocolV311, "3.1.1", true},
		{ProtocolV5, "5.0", true},
		{2, "unknown(2)", false},
		{6, "unknown(6)", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.version.String())
			assert.Equal(t, tt.valid, tt.version.Valid())
		})
	}
}

func TestControlByte(t *testing.T) {
	b := controlByte(PacketPUBLISH, 0x0B)
	assert.Equal(t, byte(0x3B), b)

	typ, flags := splitControl(b)
	assert.Equal(t, PacketPUBLISH, typ)
	assert.Equal(t, byte(0x0B), flags)

	assert.Equal(t, byte(0x82), controlByte(PacketSUBSCRIBE, 0xF2), "flags are masked to four bits")
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		typ     PacketType
		flags   byte
		wantErr error
	}{
		{"publish QoS 0", PacketPUBLISH, 0x00, nil},
		{"publish QoS 1 dup retain", PacketPUBLISH, 0x0B, nil},
		{"publish QoS 2 dup retain", PacketPUBLISH, 0x0D, nil},
		{"publish QoS 3", PacketPUBLISH, 0x06, ErrInvalidPacketFlags},
		{"publish dup on QoS 0", PacketPUBLISH, 0x08, ErrInvalidPacketFlags},
		{"pubrel", PacketPUBREL, 0x02, nil},
		{"pubrel without bit 1", PacketPUBREL, 0x00, ErrInvalidPacketFlags},
		{"subscribe", PacketSUBSCRIBE, 0x02, nil},
		{"unsubscribe wrong flags", PacketUNSUBSCRIBE, 0x03, ErrInvalidPacketFlags},
		{"connack", PacketCONNACK, 0x00, nil},
		{"connack with flags", PacketCONNACK, 0x01, ErrInvalidPacketFlags},
		{"pingresp with flags", PacketPINGRESP, 0x08, ErrInvalidPacketFlags},
		{"reserved type", PacketType(0), 0x00, ErrInvalidPacketType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(tt.typ, tt.flags)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
