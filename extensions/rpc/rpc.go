// Package rpc implements MQTT v5 request/response on top of mqttclient. It
// uses the response topic and correlation data properties to match requests
// with their responses.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitalvas/mqttclient"
	"github.com/vitalvas/mqttclient/extensions/router"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("rpc: request timeout")

	// ErrClientClosed is returned when the client is closed during a request.
	ErrClientClosed = errors.New("rpc: client closed")

	// ErrNoResponseTopic is returned for a request that carries no response topic.
	ErrNoResponseTopic = errors.New("rpc: no response topic")
)

// Headers represents RPC headers as key-value pairs.
// Headers are transmitted using MQTT v5.0 User Properties.
type Headers map[string]string

func (h Headers) userProperties() []mqttclient.StringPair {
	if len(h) == 0 {
		return nil
	}
	props := make([]mqttclient.StringPair, 0, len(h))
	for k, v := range h {
		props = append(props, mqttclient.StringPair{Key: k, Value: v})
	}
	return props
}

func headersOf(props []mqttclient.StringPair) Headers {
	if len(props) == 0 {
		return nil
	}
	h := make(Headers, len(props))
	for _, p := range props {
		h[p.Key] = p.Value
	}
	return h
}

// Request represents an RPC request with optional headers.
type Request struct {
	// Payload is the request body.
	Payload []byte

	// Headers contains optional request headers.
	Headers Headers

	// ContentType is the MIME type of the payload (optional).
	ContentType string

	// Topic is the topic the request arrived on. Only set on the serving side.
	Topic string
}

// Response represents an RPC response with headers.
type Response struct {
	// Payload is the response body.
	Payload []byte

	// Headers contains response headers from User Properties.
	Headers Headers

	// ContentType is the MIME type of the payload.
	ContentType string

	// CorrelationData is the correlation ID used to match this response.
	CorrelationData []byte
}

// Client is the part of *mqttclient.Client the RPC handler uses.
type Client interface {
	ClientID() string
	IsConnected() bool
	Publish(ctx context.Context, msg *mqttclient.Message, opts ...mqttclient.OpOption) (*mqttclient.Result, error)
	Subscribe(ctx context.Context, subs []mqttclient.Subscription, opts ...mqttclient.OpOption) (*mqttclient.Result, error)
	Unsubscribe(ctx context.Context, filters []string, opts ...mqttclient.OpOption) (*mqttclient.Result, error)
}

// Handler sends requests and matches the responses. Responses reach it
// through the router the client was configured with.
type Handler struct {
	mu            sync.Mutex
	client        Client
	pending       map[string]chan *Response
	responseTopic string
	qos           byte
}

// HandlerOptions configures the RPC handler.
type HandlerOptions struct {
	// ResponseTopic is the topic where responses will be received.
	// If empty, defaults to "rpc/response/{clientID}".
	ResponseTopic string

	// QoS is the quality of service level for requests and subscriptions.
	// Defaults to 0.
	QoS byte
}

// NewHandler registers the response topic with r and subscribes the client to it.
func NewHandler(ctx context.Context, client Client, r *router.Router, opts *HandlerOptions) (*Handler, error) {
	if client == nil {
		return nil, errors.New("rpc: client is required")
	}
	if r == nil {
		return nil, errors.New("rpc: router is required")
	}
	if opts == nil {
		opts = &HandlerOptions{}
	}

	responseTopic := opts.ResponseTopic
	if responseTopic == "" {
		responseTopic = "rpc/response/" + client.ClientID()
	}

	h := &Handler{
		client:        client,
		pending:       make(map[string]chan *Response),
		responseTopic: responseTopic,
		qos:           opts.QoS,
	}

	r.Handle(router.HandlerFunc(h.handleResponse), router.WithTopic(responseTopic))

	if _, err := client.Subscribe(ctx, []mqttclient.Subscription{{Filter: responseTopic, QoS: opts.QoS}}); err != nil {
		return nil, fmt.Errorf("rpc: failed to subscribe to response topic: %w", err)
	}

	return h, nil
}

// ResponseTopic returns the configured response topic.
func (h *Handler) ResponseTopic() string {
	return h.responseTopic
}

// Pending returns the number of requests waiting for a response.
func (h *Handler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Call publishes req to topic and waits for the matching response until ctx
// is done.
func (h *Handler) Call(ctx context.Context, topic string, req *Request) (*Response, error) {
	if !h.client.IsConnected() {
		return nil, ErrClientClosed
	}
	if req == nil {
		req = &Request{}
	}

	correlID := uuid.NewString()
	respChan := make(chan *Response, 1)

	h.mu.Lock()
	h.pending[correlID] = respChan
	h.mu.Unlock()
	defer h.forget(correlID)

	msg := &mqttclient.Message{
		Topic:           topic,
		Payload:         req.Payload,
		QoS:             h.qos,
		ResponseTopic:   h.responseTopic,
		CorrelationData: []byte(correlID),
		ContentType:     req.ContentType,
		UserProperties:  req.Headers.userProperties(),
	}

	if _, err := h.client.Publish(ctx, msg); err != nil {
		return nil, fmt.Errorf("rpc: failed to publish request: %w", err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrClientClosed
		}
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// CallWithTimeout is a convenience method that creates a context with timeout.
func (h *Handler) CallWithTimeout(topic string, req *Request, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.Call(ctx, topic, req)
}

// Request sends a request without headers and waits for a response.
func (h *Handler) Request(ctx context.Context, topic string, payload []byte) (*Response, error) {
	return h.Call(ctx, topic, &Request{Payload: payload})
}

// Close fails waiting calls and unsubscribes from the response topic.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	for id, ch := range h.pending {
		close(ch)
		delete(h.pending, id)
	}
	h.mu.Unlock()

	if !h.client.IsConnected() {
		return nil
	}
	_, err := h.client.Unsubscribe(ctx, []string{h.responseTopic})
	return err
}

func (h *Handler) forget(correlID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pending, correlID)
}

func (h *Handler) handleResponse(msg *mqttclient.Message) {
	if len(msg.CorrelationData) == 0 {
		return
	}

	h.mu.Lock()
	ch := h.pending[string(msg.CorrelationData)]
	delete(h.pending, string(msg.CorrelationData))
	h.mu.Unlock()
	if ch == nil {
		return
	}

	ch <- &Response{
		Payload:         msg.Payload,
		Headers:         headersOf(msg.UserProperties),
		ContentType:     msg.ContentType,
		CorrelationData: msg.CorrelationData,
	}
}

// ServeFunc answers one request.
type ServeFunc func(ctx context.Context, req *Request) (*Response, error)

// Serve registers fn for requests arriving on filter and subscribes the
// client to it. Each response is published to the request's response topic
// with its correlation data. A request without a response topic is dropped.
// Responses are published without waiting for their acknowledgment, since
// the router runs on the client's dispatch goroutine.
func Serve(ctx context.Context, client Client, r *router.Router, filter string, qos byte, fn ServeFunc) error {
	r.Handle(func(_ *mqttclient.Client, msg *mqttclient.Message) mqttclient.ReasonCode {
		if msg.ResponseTopic == "" {
			return mqttclient.ReasonSuccess
		}

		resp, err := fn(ctx, &Request{
			Payload:     msg.Payload,
			Headers:     headersOf(msg.UserProperties),
			ContentType: msg.ContentType,
			Topic:       msg.Topic,
		})
		if err != nil {
			return mqttclient.ReasonImplSpecificError
		}
		if resp == nil {
			resp = &Response{}
		}

		reply := &mqttclient.Message{
			Topic:           msg.ResponseTopic,
			Payload:         resp.Payload,
			QoS:             qos,
			ContentType:     resp.ContentType,
			CorrelationData: msg.CorrelationData,
			UserProperties:  resp.Headers.userProperties(),
		}
		if _, err := client.Publish(ctx, reply, mqttclient.WithAsync()); err != nil {
			return mqttclient.ReasonUnspecifiedError
		}
		return mqttclient.ReasonSuccess
	}, router.WithTopic(filter))

	if _, err := client.Subscribe(ctx, []mqttclient.Subscription{{Filter: filter, QoS: qos}}); err != nil {
		return fmt.Errorf("rpc: failed to subscribe to %s: %w", filter, err)
	}
	return nil
}
