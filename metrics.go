package mqttclient

import (
	"strconv"
	"time"
)

// MetricLabels are the key-value labels of one metric series.
type MetricLabels map[string]string

// Metrics hands out instruments by name and labels. Implementations must be
// safe for concurrent use and return the same instrument for the same series.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter only goes up.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

// Gauge goes up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Sub(delta float64)
	Value() float64
}

// Histogram records a distribution.
type Histogram interface {
	Observe(value float64)

	// ObserveDuration records d in seconds.
	ObserveDuration(d time.Duration)

	Count() uint64
	Sum() float64
}

// NoOpMetrics discards everything. It is the default.
type NoOpMetrics struct{}

func (NoOpMetrics) Counter(string, MetricLabels) Counter     { return noOpInstrument{} }
func (NoOpMetrics) Gauge(string, MetricLabels) Gauge         { return noOpInstrument{} }
func (NoOpMetrics) Histogram(string, MetricLabels) Histogram { return noOpInstrument{} }

type noOpInstrument struct{}

func (noOpInstrument) Inc()                          {}
func (noOpInstrument) Dec()                          {}
func (noOpInstrument) Add(float64)                   {}
func (noOpInstrument) Sub(float64)                   {}
func (noOpInstrument) Set(float64)                   {}
func (noOpInstrument) Value() float64                { return 0 }
func (noOpInstrument) Observe(float64)               {}
func (noOpInstrument) ObserveDuration(time.Duration) {}
func (noOpInstrument) Count() uint64                 { return 0 }
func (noOpInstrument) Sum() float64                  { return 0 }

// Metric names recorded by the client.
const (
	MetricPacketsSent        = "mqtt_client_packets_sent_total"
	MetricPacketsReceived    = "mqtt_client_packets_received_total"
	MetricBytesSent          = "mqtt_client_bytes_sent_total"
	MetricBytesReceived      = "mqtt_client_bytes_received_total"
	MetricMessagesPublished  = "mqtt_client_messages_published_total"
	MetricMessagesDelivered  = "mqtt_client_messages_delivered_total"
	MetricPublishLatency     = "mqtt_client_publish_latency_seconds"
	MetricInFlight           = "mqtt_client_inflight_messages"
	MetricConnects           = "mqtt_client_connects_total"
	MetricDisconnects        = "mqtt_client_disconnects_total"
	MetricKeepAliveTimeouts  = "mqtt_client_keepalive_timeouts_total"
	MetricOperationsFailed   = "mqtt_client_operations_failed_total"
	MetricDeliveryQueueDepth = "mqtt_client_delivery_queue_depth"
)

// Metric label keys.
const (
	LabelPacketType = "packet_type"
	LabelQoS        = "qos"
	LabelReasonCode = "reason_code"
	LabelOperation  = "operation"
)

// clientMetrics wraps Metrics with the calls the engine makes.
type clientMetrics struct {
	m Metrics
}

func newClientMetrics(m Metrics) clientMetrics {
	if m == nil {
		m = NoOpMetrics{}
	}
	return clientMetrics{m: m}
}

func qosLabel(qos byte) string {
	return strconv.Itoa(int(qos))
}

func (c clientMetrics) packetSent(t PacketType, size int) {
	c.m.Counter(MetricPacketsSent, MetricLabels{LabelPacketType: t.String()}).Inc()
	c.m.Counter(MetricBytesSent, nil).Add(float64(size))
}

func (c clientMetrics) packetReceived(t PacketType, size int) {
	c.m.Counter(MetricPacketsReceived, MetricLabels{LabelPacketType: t.String()}).Inc()
	c.m.Counter(MetricBytesReceived, nil).Add(float64(size))
}

func (c clientMetrics) published(qos byte) {
	c.m.Counter(MetricMessagesPublished, MetricLabels{LabelQoS: qosLabel(qos)}).Inc()
}

func (c clientMetrics) delivered(qos byte) {
	c.m.Counter(MetricMessagesDelivered, MetricLabels{LabelQoS: qosLabel(qos)}).Inc()
}

func (c clientMetrics) publishLatency(d time.Duration) {
	c.m.Histogram(MetricPublishLatency, nil).ObserveDuration(d)
}

func (c clientMetrics) inFlight(n uint16) {
	c.m.Gauge(MetricInFlight, nil).Set(float64(n))
}

func (c clientMetrics) connected() {
	c.m.Counter(MetricConnects, nil).Inc()
}

func (c clientMetrics) disconnected() {
	c.m.Counter(MetricDisconnects, nil).Inc()
}

func (c clientMetrics) keepAliveTimeout() {
	c.m.Counter(MetricKeepAliveTimeouts, nil).Inc()
}

func (c clientMetrics) operationFailed(kind OpKind, code ReasonCode) {
	c.m.Counter(MetricOperationsFailed, MetricLabels{
		LabelOperation:  kind.String(),
		LabelReasonCode: strconv.Itoa(int(code)),
	}).Inc()
}

func (c clientMetrics) queueDepth(n int) {
	c.m.Gauge(MetricDeliveryQueueDepth, nil).Set(float64(n))
}
