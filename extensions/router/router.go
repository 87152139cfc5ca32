// Package router dispatches inbound messages of an mqttclient.Client to
// handlers selected by topic filter and message metadata.
package router

import (
	"context"
	"regexp"
	"slices"
	"sync"

	"github.com/vitalvas/mqttclient"
)

// Handler processes a routed message. The returned reason code is used for
// the QoS 1 acknowledgment.
type Handler func(c *mqttclient.Client, msg *mqttclient.Message) mqttclient.ReasonCode

// HandlerFunc adapts a handler that always succeeds.
func HandlerFunc(fn func(msg *mqttclient.Message)) Handler {
	return func(_ *mqttclient.Client, msg *mqttclient.Message) mqttclient.ReasonCode {
		fn(msg)
		return mqttclient.ReasonSuccess
	}
}

type userPropertyMatcher struct {
	keyPattern   *regexp.Regexp
	valuePattern *regexp.Regexp
}

// Condition defines filtering criteria for message routing.
type Condition struct {
	topicFilter         *string
	qos                 *byte
	retain              *bool
	subscriptionID      *uint32
	contentTypeRegexp   *regexp.Regexp
	responseTopicRegexp *regexp.Regexp
	userProperties      []userPropertyMatcher
}

// ConditionOption configures a Condition.
type ConditionOption func(*Condition)

// WithTopic sets the topic filter for message matching.
// Supports MQTT wildcards: + (single level) and # (multi level).
func WithTopic(filter string) ConditionOption {
	return func(c *Condition) {
		c.topicFilter = &filter
	}
}

// WithQoS filters messages by QoS level.
func WithQoS(qos byte) ConditionOption {
	return func(c *Condition) {
		c.qos = &qos
	}
}

// WithRetain filters messages by the retain flag.
func WithRetain(retain bool) ConditionOption {
	return func(c *Condition) {
		c.retain = &retain
	}
}

// WithSubscriptionID matches messages delivered for the subscription with
// this identifier (v5).
func WithSubscriptionID(id uint32) ConditionOption {
	return func(c *Condition) {
		c.subscriptionID = &id
	}
}

// WithContentType filters messages by content type regexp pattern.
func WithContentType(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.contentTypeRegexp = pattern
	}
}

// WithResponseTopic filters messages by response topic regexp pattern.
func WithResponseTopic(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.responseTopicRegexp = pattern
	}
}

// WithUserProperty filters messages by user property key/value regexp patterns.
// Both key and value must match for the condition to pass.
// Can be called multiple times to match multiple properties.
func WithUserProperty(keyPattern, valuePattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.userProperties = append(c.userProperties, userPropertyMatcher{
			keyPattern:   keyPattern,
			valuePattern: valuePattern,
		})
	}
}

type registration struct {
	handler   Handler
	condition Condition
}

// Router dispatches messages to handlers based on conditions. It implements
// mqttclient.Handler, so it can be passed to mqttclient.WithHandler.
type Router struct {
	mu       sync.RWMutex
	handlers []registration

	disconnect func(c *mqttclient.Client, err error)
	complete   func(c *mqttclient.Client, r *mqttclient.Result)
}

// New creates a new Router.
func New() *Router {
	return &Router{
		handlers: make([]registration, 0),
	}
}

// Handle registers a handler with optional conditions.
//
// Examples:
//
//	r.Handle(handler, WithTopic("sensors/#"))
//	r.Handle(handler, WithTopic("sensors/#"), WithQoS(1))
//	r.Handle(handler, WithTopic("sensors/#"), WithContentType(regexp.MustCompile(`^application/json`)))
func (r *Router) Handle(handler Handler, opts ...ConditionOption) {
	var cond Condition
	for _, opt := range opts {
		opt(&cond)
	}

	r.mu.Lock()
	r.handlers = append(r.handlers, registration{
		handler:   handler,
		condition: cond,
	})
	r.mu.Unlock()
}

// OnDisconnectFunc sets the function called when the client closes.
func (r *Router) OnDisconnectFunc(fn func(c *mqttclient.Client, err error)) {
	r.mu.Lock()
	r.disconnect = fn
	r.mu.Unlock()
}

// OnCompleteFunc sets the function called for asynchronous results.
func (r *Router) OnCompleteFunc(fn func(c *mqttclient.Client, res *mqttclient.Result)) {
	r.mu.Lock()
	r.complete = fn
	r.mu.Unlock()
}

func (c *Condition) matches(msg *mqttclient.Message) bool {
	if c.topicFilter != nil && !mqttclient.TopicMatch(*c.topicFilter, msg.Topic) {
		return false
	}
	if c.qos != nil && *c.qos != msg.QoS {
		return false
	}
	if c.retain != nil && *c.retain != msg.Retain {
		return false
	}
	if c.subscriptionID != nil && !slices.Contains(msg.SubscriptionIdentifiers, *c.subscriptionID) {
		return false
	}
	if c.contentTypeRegexp != nil && !c.contentTypeRegexp.MatchString(msg.ContentType) {
		return false
	}
	if c.responseTopicRegexp != nil && !c.responseTopicRegexp.MatchString(msg.ResponseTopic) {
		return false
	}
	if len(c.userProperties) > 0 && !c.matchUserProperties(msg.UserProperties) {
		return false
	}
	return true
}

// matchUserProperties checks if all user property matchers find a match.
func (c *Condition) matchUserProperties(props []mqttclient.StringPair) bool {
	for _, matcher := range c.userProperties {
		found := false
		for _, prop := range props {
			if matcher.keyPattern.MatchString(prop.Key) && matcher.valuePattern.MatchString(prop.Value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Route dispatches a message to all matching handlers. The first failing
// reason code wins; a message no handler matched is acknowledged with success.
func (r *Router) Route(c *mqttclient.Client, msg *mqttclient.Message) mqttclient.ReasonCode {
	if msg == nil {
		return mqttclient.ReasonSuccess
	}

	r.mu.RLock()
	var matched []Handler
	for _, reg := range r.handlers {
		if reg.condition.matches(msg) {
			matched = append(matched, reg.handler)
		}
	}
	r.mu.RUnlock()

	code := mqttclient.ReasonSuccess
	for _, handler := range matched {
		if rc := handler(c, msg); rc.IsError() && !code.IsError() {
			code = rc
		}
	}
	return code
}

// OnMessage implements mqttclient.Handler.
func (r *Router) OnMessage(c *mqttclient.Client, msg *mqttclient.Message) mqttclient.ReasonCode {
	return r.Route(c, msg)
}

// OnDisconnect implements mqttclient.Handler.
func (r *Router) OnDisconnect(c *mqttclient.Client, err error) {
	r.mu.RLock()
	fn := r.disconnect
	r.mu.RUnlock()
	if fn != nil {
		fn(c, err)
	}
}

// OnComplete implements mqttclient.Handler.
func (r *Router) OnComplete(c *mqttclient.Client, res *mqttclient.Result) {
	r.mu.RLock()
	fn := r.complete
	r.mu.RUnlock()
	if fn != nil {
		fn(c, res)
	}
}

// Filters returns all unique registered topic filters, in registration order.
func (r *Router) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	filters := make([]string, 0, len(r.handlers))
	for _, reg := range r.handlers {
		if reg.condition.topicFilter == nil {
			continue
		}
		f := *reg.condition.topicFilter
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		filters = append(filters, f)
	}
	return filters
}

// Subscribe subscribes c to every registered topic filter at qos.
func (r *Router) Subscribe(ctx context.Context, c *mqttclient.Client, qos byte) (*mqttclient.Result, error) {
	filters := r.Filters()
	subs := make([]mqttclient.Subscription, len(filters))
	for i, f := range filters {
		subs[i] = mqttclient.Subscription{Filter: f, QoS: qos}
	}
	return c.Subscribe(ctx, subs)
}

// Len returns the number of registered handlers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Clear removes all handlers.
func (r *Router) Clear() {
	r.mu.Lock()
	r.handlers = r.handlers[:0]
	r.mu.Unlock()
}
