package mqtt

import "sync"

// Message is one recorded publish.
type Message struct {
	Topic   string
	Type    string
	Payload []byte
}

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	Prefix string

	mu       sync.Mutex
	messages []Message
	// PublishError, if set, will be returned by Publish.
	PublishError error
	Closed       bool
}

func NewFakePublisher(prefix string) *FakePublisher {
	return &FakePublisher{Prefix: prefix}
}

func (f *FakePublisher) Publish(deviceID, eventType string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.messages = append(f.messages, Message{
		Topic:   Topic(f.Prefix, deviceID),
		Type:    eventType,
		Payload: append([]byte(nil), payload...),
	})
	return nil
}

// Messages returns a copy of everything published so far.
func (f *FakePublisher) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...)
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
