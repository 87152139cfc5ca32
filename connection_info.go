package mqttclient

import "fmt"

// ConnectionInfo holds the values in effect for the current connection: what
// the client asked for, overridden by whatever the server's CONNACK announced.
type ConnectionInfo struct {
	ClientID      string
	KeepAlive     uint16
	SessionExpiry uint32

	// Server limits. Absent properties keep the protocol defaults.
	ReceiveMaximum    uint16
	MaximumQoS        byte
	RetainAvailable   bool
	MaximumPacketSize uint32 // 0 means no limit
	TopicAliasMaximum uint16

	WildcardAvailable bool
	SubIDAvailable    bool
	SharedAvailable   bool

	ResponseInformation string
	ServerReference     string
	SessionPresent      bool
	ReasonString        string
	UserProperties      []StringPair

	AuthMethod string
	AuthData   []byte
}

func defaultConnectionInfo(o *clientOptions) ConnectionInfo {
	return ConnectionInfo{
		ClientID:          o.clientID,
		KeepAlive:         o.keepAlive,
		SessionExpiry:     o.sessionExpiry,
		ReceiveMaximum:    defaultReceiveMaximum,
		MaximumQoS:        2,
		RetainAvailable:   true,
		WildcardAvailable: true,
		SubIDAvailable:    o.version >= ProtocolV5,
		SharedAvailable:   true,
	}
}

// The propertyTarget methods apply CONNACK properties.

func (i *ConnectionInfo) onInt(id PropertyID, v uint32) error {
	switch id {
	case PropSessionExpiryInterval:
		i.SessionExpiry = v
	case PropServerKeepAlive:
		i.KeepAlive = uint16(v)
	case PropReceiveMaximum:
		if v == 0 {
			return fmt.Errorf("%w: receive maximum 0", ErrProtocolError)
		}
		i.ReceiveMaximum = uint16(v)
	case PropMaximumQoS:
		if v > 1 {
			return fmt.Errorf("%w: maximum QoS %d", ErrProtocolError, v)
		}
		i.MaximumQoS = byte(v)
	case PropRetainAvailable:
		i.RetainAvailable = v == 1
	case PropMaximumPacketSize:
		if v == 0 {
			return fmt.Errorf("%w: maximum packet size 0", ErrProtocolError)
		}
		i.MaximumPacketSize = v
	case PropTopicAliasMaximum:
		i.TopicAliasMaximum = uint16(v)
	case PropWildcardSubAvailable:
		i.WildcardAvailable = v == 1
	case PropSubscriptionIDAvailable:
		i.SubIDAvailable = v == 1
	case PropSharedSubAvailable:
		i.SharedAvailable = v == 1
	default:
		return fmt.Errorf("%w: %s in CONNACK", ErrPropertyNotAllowed, id)
	}
	return nil
}

func (i *ConnectionInfo) onString(id PropertyID, v string) error {
	switch id {
	case PropAssignedClientIdentifier:
		i.ClientID = v
	case PropResponseInformation:
		i.ResponseInformation = v
	case PropServerReference:
		i.ServerReference = v
	case PropReasonString:
		i.ReasonString = v
	case PropAuthenticationMethod:
		i.AuthMethod = v
	default:
		return fmt.Errorf("%w: %s in CONNACK", ErrPropertyNotAllowed, id)
	}
	return nil
}

func (i *ConnectionInfo) onBytes(id PropertyID, v []byte) error {
	if id != PropAuthenticationData {
		return fmt.Errorf("%w: %s in CONNACK", ErrPropertyNotAllowed, id)
	}
	i.AuthData = cloneBytes(v)
	return nil
}

func (i *ConnectionInfo) onNamePair(_ PropertyID, v StringPair) error {
	i.UserProperties = append(i.UserProperties, v)
	return nil
}
