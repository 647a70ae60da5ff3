package testutil

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/agentmesh/billing/internal/pubsub"
)

var _ pubsub.PubSub = (*InMemoryPubSub)(nil)

// InMemoryPubSub is a gochannel backed pubsub that also records what was published
type InMemoryPubSub struct {
	channel  *gochannel.GoChannel
	messages map[string][]*message.Message
	mu       sync.RWMutex
}

// NewInMemoryPubSub creates a new instance of InMemoryPubSub
func NewInMemoryPubSub() *InMemoryPubSub {
	return &InMemoryPubSub{
		channel: gochannel.NewGoChannel(gochannel.Config{
			Persistent:          true,
			OutputChannelBuffer: 100,
		}, watermill.NopLogger{}),
		messages: make(map[string][]*message.Message),
	}
}

// Publish implements pubsub.Publisher interface
func (ps *InMemoryPubSub) Publish(ctx context.Context, topic string, msg *message.Message) error {
	ps.mu.Lock()
	ps.messages[topic] = append(ps.messages[topic], msg)
	ps.mu.Unlock()

	return ps.channel.Publish(topic, msg.Copy())
}

// Subscribe implements pubsub.Subscriber interface
func (ps *InMemoryPubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return ps.channel.Subscribe(ctx, topic)
}

// Close implements pubsub.PubSub interface
func (ps *InMemoryPubSub) Close() error {
	return ps.channel.Close()
}

// GetMessages returns all messages published to a topic
func (ps *InMemoryPubSub) GetMessages(topic string) []*message.Message {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return append([]*message.Message(nil), ps.messages[topic]...)
}

// ClearMessages clears all stored messages
func (ps *InMemoryPubSub) ClearMessages() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.messages = make(map[string][]*message.Message)
}
