package transport

import (
	"context"
	"strings"
	"sync"
)

// Fake is an in-process Transport for tests and broker-less dev runs.
// Single-level '+' wildcards are supported, matching what the server
// actually subscribes with.
type Fake struct {
	mu   sync.Mutex
	subs map[string][]Handler

	// published records every publish for test inspection.
	published []FakeMessage

	failPublish error
}

type FakeMessage struct {
	Topic   string
	Payload []byte
}

func NewFake() *Fake {
	return &Fake{subs: make(map[string][]Handler)}
}

func (f *Fake) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	if f.failPublish != nil {
		err := f.failPublish
		f.mu.Unlock()
		return err
	}
	f.published = append(f.published, FakeMessage{Topic: topic, Payload: payload})
	var handlers []Handler
	for pattern, hs := range f.subs {
		if topicMatches(pattern, topic) {
			handlers = append(handlers, hs...)
		}
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(topic, payload)
	}
	return nil
}

func (f *Fake) Subscribe(topicPattern string, h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topicPattern] = append(f.subs[topicPattern], h)
	return nil
}

func (f *Fake) Close() {}

// Published returns a copy of everything published so far. Test helper.
func (f *Fake) Published() []FakeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeMessage, len(f.published))
	copy(out, f.published)
	return out
}

// PublishedTo returns publishes on one topic. Test helper.
func (f *Fake) PublishedTo(topic string) []FakeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []FakeMessage
	for _, m := range f.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// FailPublishes makes every subsequent Publish return err (nil restores
// normal behavior). Test helper.
func (f *Fake) FailPublishes(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPublish = err
}

func topicMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "+" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}
