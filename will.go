package mqttclient

import "fmt"

// WillMessage is the Last Will and Testament sent in CONNECT.
type WillMessage struct {
	// Topic is the will topic.
	Topic string

	// Payload is the will payload.
	Payload []byte

	// QoS is the quality of service level (0, 1, or 2).
	QoS byte

	// Retain indicates if the will message should be retained.
	Retain bool

	// DelayInterval is the will delay interval in seconds (v5).
	DelayInterval uint32

	// The remaining fields are v5 will properties.
	PayloadFormat   byte
	MessageExpiry   uint32
	ContentType     string
	ResponseTopic   string
	CorrelationData []byte
	UserProperties  []StringPair
}

// Validate validates the will message.
func (w *WillMessage) Validate() error {
	if err := ValidateTopicName(w.Topic); err != nil {
		return fmt.Errorf("will topic: %w", err)
	}
	if w.QoS > 2 {
		return ErrInvalidQoS
	}
	return nil
}

func (w *WillMessage) properties() Properties {
	var p Properties

	if w.DelayInterval > 0 {
		p.Add(PropWillDelayInterval, w.DelayInterval)
	}
	if w.PayloadFormat > 0 {
		p.Add(PropPayloadFormatIndicator, w.PayloadFormat)
	}
	if w.MessageExpiry > 0 {
		p.Add(PropMessageExpiryInterval, w.MessageExpiry)
	}
	if w.ContentType != "" {
		p.Add(PropContentType, w.ContentType)
	}
	if w.ResponseTopic != "" {
		p.Add(PropResponseTopic, w.ResponseTopic)
	}
	if len(w.CorrelationData) > 0 {
		p.Add(PropCorrelationData, w.CorrelationData)
	}
	for _, up := range w.UserProperties {
		p.Add(PropUserProperty, up)
	}

	return p
}

func (w *WillMessage) onInt(id PropertyID, v uint32) error {
	switch id {
	case PropWillDelayInterval:
		w.DelayInterval = v
	case PropPayloadFormatIndicator:
		w.PayloadFormat = byte(v)
	case PropMessageExpiryInterval:
		w.MessageExpiry = v
	default:
		return fmt.Errorf("%w: %s in will", ErrPropertyNotAllowed, id)
	}
	return nil
}

func (w *WillMessage) onString(id PropertyID, v string) error {
	switch id {
	case PropContentType:
		w.ContentType = v
	case PropResponseTopic:
		w.ResponseTopic = v
	default:
		return fmt.Errorf("%w: %s in will", ErrPropertyNotAllowed, id)
	}
	return nil
}

func (w *WillMessage) onBytes(_ PropertyID, v []byte) error {
	w.CorrelationData = v
	return nil
}

func (w *WillMessage) onNamePair(_ PropertyID, v StringPair) error {
	w.UserProperties = append(w.UserProperties, v)
	return nil
}
