// Package mqttclient provides an MQTT client engine for protocol versions
// 3.1, 3.1.1 and 5.0.
//
// The engine implements the client side of:
//
//   - MQTT Version 3.1.1: https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//   - MQTT Version 5.0: https://docs.oasis-open.org/mqtt/mqtt/v5.0/mqtt-v5.0.html
//
// # Features
//
//   - All control packets a client sends or receives, for every version
//   - v5 properties, reason codes, topic aliases and enhanced authentication
//   - QoS 0, 1 and 2 in both directions with receive-maximum flow control
//   - Synchronous and asynchronous operations sharing one Result type
//   - Transport: TCP, TLS, WebSocket, WSS, QUIC and Unix sockets, with
//     HTTP CONNECT and SOCKS5 proxies
//   - Pluggable logging, metrics and OpenTelemetry tracing
//
// # Client
//
// Create a client from a broker URL and connect:
//
//	client, err := mqttclient.NewFromURL("tcp://localhost:1883",
//	    mqttclient.WithClientID("my-client"),
//	    mqttclient.WithKeepAlive(30),
//	)
//	if err != nil {
//	    return err
//	}
//	if _, err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect(context.Background())
//
// A client connects once. After it closes, create a new one.
//
// Older protocol versions:
//
//	client, err := mqttclient.NewFromURL("tcp://localhost:1883",
//	    mqttclient.WithProtocolVersion(mqttclient.ProtocolV311),
//	)
//
// TLS and WebSocket connections:
//
//	client, err := mqttclient.NewFromURL("tls://localhost:8883",
//	    mqttclient.WithTLS(&tls.Config{}),
//	)
//
//	client, err := mqttclient.NewFromURL("wss://localhost:8084/mqtt")
//
// # Operations
//
// Publish, Subscribe and Unsubscribe wait for the broker's acknowledgment and
// return a Result carrying the reason codes:
//
//	res, err := client.Publish(ctx, &mqttclient.Message{
//	    Topic:   "sensors/temperature",
//	    Payload: []byte("21.5"),
//	    QoS:     1,
//	})
//
//	res, err = client.Subscribe(ctx, []mqttclient.Subscription{
//	    {Filter: "sensors/#", QoS: 1},
//	})
//	codes := res.ReasonCodes()
//
// With WithAsync the call returns as soon as the packet is sent. Completion
// is reported through Result.Done and Handler.OnComplete:
//
//	res, err := client.Publish(ctx, msg, mqttclient.WithAsync())
//	<-res.Done()
//
// A failed acknowledgment is returned as an *OperationError:
//
//	var opErr *mqttclient.OperationError
//	if errors.As(err, &opErr) {
//	    log.Println(opErr.ReasonCode)
//	}
//
// # Receiving Messages
//
// Inbound messages are delivered to a Handler on a single dispatch goroutine:
//
//	client, err := mqttclient.NewFromURL(url, mqttclient.WithHandler(mqttclient.HandlerFuncs{
//	    Message: func(c *mqttclient.Client, msg *mqttclient.Message) mqttclient.ReasonCode {
//	        fmt.Println(msg.Topic, string(msg.Payload))
//	        return mqttclient.ReasonSuccess
//	    },
//	}))
//
// Or pulled with Receive when the client is built with WithBlockingReceive:
//
//	msg, err := client.Receive(ctx)
//
// With WithAutoAck(false), QoS 1 and 2 messages are acknowledged explicitly
// with Acknowledge.
//
// The extensions/router package routes messages to handlers by topic filter
// and metadata. The extensions/rpc package implements v5 request/response.
//
// # Enhanced Authentication
//
// SCRAM-SHA-1, SCRAM-SHA-256 and SCRAM-SHA-512 are provided:
//
//	client, err := mqttclient.NewFromURL(url,
//	    mqttclient.WithEnhancedAuthentication(
//	        mqttclient.NewSCRAMClient(mqttclient.SCRAMHashSHA256, "user", "secret"),
//	    ),
//	)
//
// Other methods implement the ClientEnhancedAuthenticator interface.
//
// # Configuration
//
// A client can be described in YAML:
//
//	cfg, err := mqttclient.LoadConfig("client.yaml")
//	client, err := mqttclient.NewClientFromConfig(cfg)
//
// # Observability
//
//	client, err := mqttclient.NewFromURL(url,
//	    mqttclient.WithLogger(mqttclient.NewSlogLogger(slog.Default(), mqttclient.LogLevelInfo)),
//	    mqttclient.WithMetrics(mqttclient.NewOTelMetrics(meter)),
//	    mqttclient.WithTracerProvider(otel.GetTracerProvider()),
//	)
package mqttclient
