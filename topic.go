package mqttclient

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
	sharePrefix         = "$share/"
)

// ValidateTopicName checks a topic name used for publishing.
// Names are non-empty UTF-8 without wildcards or NUL.
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	if len(topic) > maxUint16 {
		return fmt.Errorf("%w: %w", ErrInvalidTopicName, ErrStringTooLong)
	}

	if err := validateUTF8([]byte(topic), utf8CheckControl); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopicName, err)
	}

	if strings.ContainsAny(topic, "+#\x00") {
		return ErrInvalidTopicName
	}

	return nil
}

// ValidateTopicFilter checks a subscription filter, including $share/ filters.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}

	if len(filter) > maxUint16 {
		return fmt.Errorf("%w: %w", ErrInvalidTopicFilter, ErrStringTooLong)
	}

	if err := validateUTF8([]byte(filter), utf8CheckControl); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopicFilter, err)
	}

	if strings.IndexByte(filter, 0) >= 0 {
		return ErrInvalidTopicFilter
	}

	if isSharedSubscription(filter) {
		if _, err := ParseSharedSubscription(filter); err != nil {
			return err
		}
		return nil
	}

	return validateFilterLevels(filter)
}

func validateFilterLevels(filter string) error {
	levels := strings.Split(filter, string(topicSeparator))
	last := len(levels) - 1

	for i, level := range levels {
		switch {
		case level == string(multiLevelWildcard):
			if i != last {
				return fmt.Errorf("%w: '#' must be the last level", ErrInvalidTopicFilter)
			}
		case level == string(singleLevelWildcard):
		case strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: wildcard must occupy a whole level", ErrInvalidTopicFilter)
		}
	}

	return nil
}

// TopicMatch reports whether topic matches filter. Topics starting with '$'
// are not matched by a leading wildcard.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	if shared, err := ParseSharedSubscription(filter); err == nil && shared != nil {
		filter = shared.TopicFilter
	}

	if topic[0] == '$' && (filter[0] == singleLevelWildcard || filter[0] == multiLevelWildcard) {
		return false
	}

	for {
		fl, frest, fmore := strings.Cut(filter, string(topicSeparator))
		if fl == string(multiLevelWildcard) {
			return true
		}

		tl, trest, tmore := strings.Cut(topic, string(topicSeparator))
		if fl != string(singleLevelWildcard) && fl != tl {
			return false
		}

		switch {
		case !fmore && !tmore:
			return true
		case !tmore:
			// "a/#" also matches "a".
			return frest == string(multiLevelWildcard)
		case !fmore:
			return false
		}

		filter, topic = frest, trest
	}
}

// SharedSubscription is a parsed $share/{ShareName}/{TopicFilter} filter.
type SharedSubscription struct {
	ShareName   string
	TopicFilter string
}

// ParseSharedSubscription parses a shared subscription filter.
// It returns nil, nil when filter is not shared.
func ParseSharedSubscription(filter string) (*SharedSubscription, error) {
	if !isSharedSubscription(filter) {
		return nil, nil
	}

	name, topicFilter, ok := strings.Cut(filter[len(sharePrefix):], string(topicSeparator))
	if !ok || name == "" || topicFilter == "" || strings.ContainsAny(name, "+#") {
		return nil, fmt.Errorf("%w: malformed shared subscription", ErrInvalidTopicFilter)
	}

	if err := validateFilterLevels(topicFilter); err != nil {
		return nil, err
	}

	return &SharedSubscription{ShareName: name, TopicFilter: topicFilter}, nil
}

func isSharedSubscription(filter string) bool {
	return strings.HasPrefix(filter, sharePrefix)
}

func containsWildcard(filter string) bool {
	return strings.ContainsAny(filter, "#+")
}
