package application

import (
	"fmt"
	"sort"
	"strings"
)

type TopicBinding struct {
	DeviceID string
	Topic    string
}

// ParseTopicBinding parses a "deviceId=topic" pair.
func ParseTopicBinding(s string) (TopicBinding, error) {
	deviceID, topic, ok := strings.Cut(s, "=")
	deviceID, topic = strings.TrimSpace(deviceID), strings.TrimSpace(topic)
	if !ok || deviceID == "" || topic == "" {
		return TopicBinding{}, fmt.Errorf("invalid topic binding %q, expected deviceId=topic", s)
	}
	return TopicBinding{DeviceID: deviceID, Topic: topic}, nil
}

// TopicRegistry maps device ids to topics. It is immutable after
// construction and safe for concurrent use.
type TopicRegistry struct {
	bindings []TopicBinding
	byDevice map[string]string
	byTopic  map[string]string
}

func NewTopicRegistry(bindings []TopicBinding) (*TopicRegistry, error) {
	if len(bindings) == 0 {
		return nil, fmt.Errorf("at least one topic binding is required")
	}

	r := &TopicRegistry{
		byDevice: make(map[string]string, len(bindings)),
		byTopic:  make(map[string]string, len(bindings)),
	}
	for _, b := range bindings {
		if b.DeviceID == "" || b.Topic == "" {
			return nil, fmt.Errorf("topic binding with empty device id or topic")
		}
		if _, ok := r.byDevice[b.DeviceID]; ok {
			return nil, fmt.Errorf("duplicate device id %q", b.DeviceID)
		}
		if _, ok := r.byTopic[b.Topic]; ok {
			return nil, fmt.Errorf("duplicate topic %q", b.Topic)
		}
		r.byDevice[b.DeviceID] = b.Topic
		r.byTopic[b.Topic] = b.DeviceID
		r.bindings = append(r.bindings, b)
	}

	sort.Slice(r.bindings, func(i, j int) bool {
		return r.bindings[i].DeviceID < r.bindings[j].DeviceID
	})
	return r, nil
}

func (r *TopicRegistry) Resolve(deviceID string) (string, error) {
	topic, ok := r.byDevice[deviceID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	return topic, nil
}

// DeviceForTopic is the reverse lookup used for inbound messages.
func (r *TopicRegistry) DeviceForTopic(topic string) (string, bool) {
	deviceID, ok := r.byTopic[topic]
	return deviceID, ok
}

// Bindings returns a copy of all bindings ordered by device id.
func (r *TopicRegistry) Bindings() []TopicBinding {
	out := make([]TopicBinding, len(r.bindings))
	copy(out, r.bindings)
	return out
}

func (r *TopicRegistry) Topics() []string {
	topics := make([]string, 0, len(r.bindings))
	for _, b := range r.bindings {
		topics = append(topics, b.Topic)
	}
	return topics
}
