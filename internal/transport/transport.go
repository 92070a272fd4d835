// Package transport wraps the publish/subscribe broker connection behind a
// small interface so services never touch the MQTT client directly.
package transport

import (
	"context"
	"fmt"
)

// Handler receives one inbound message. Handlers must not block; long work
// belongs on the caller's side of the boundary.
type Handler func(topic string, payload []byte)

// Transport is the broker connection shared by the dispatcher (publish)
// and telemetry ingest (subscribe). Publish blocks until the broker
// accepts the message or ctx expires; that bound is the submission
// timeout, separate from any command-ack timeout layered above.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topicPattern string, h Handler) error
	Close()
}

// Topic layout, parameterized by device id.
const (
	cmdTopicPrefix   = "cmd/"
	evtTopicPrefix   = "evt/"
	stateTopicPrefix = "state/"
)

func CommandTopic(deviceID string) string { return cmdTopicPrefix + deviceID }
func EventTopic(deviceID string) string   { return evtTopicPrefix + deviceID }
func StateTopic(deviceID string) string   { return stateTopicPrefix + deviceID }

// EventTopicPattern matches every device's event channel.
func EventTopicPattern() string { return evtTopicPrefix + "+" }

// DeviceFromTopic extracts the device id from a single-level topic like
// evt/{device_id}. Used for routing sanity checks only; classification of
// the payload itself always comes from its embedded type tag.
func DeviceFromTopic(topic string) (string, error) {
	for _, p := range []string{cmdTopicPrefix, evtTopicPrefix, stateTopicPrefix} {
		if len(topic) > len(p) && topic[:len(p)] == p {
			return topic[len(p):], nil
		}
	}
	return "", fmt.Errorf("unrecognized topic %q", topic)
}
