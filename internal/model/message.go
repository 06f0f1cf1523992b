package model

import (
	"fmt"
	"time"
)

// Message is the unit routed between the brokers: a channel (topic) and a
// raw content payload. Content is bytes because binary file chunks travel on
// it as well as JSON.
type Message struct {
	Channel string
	Content []byte
}

// NewMessage builds a message.
func NewMessage(channel string, content []byte) *Message {
	return &Message{Channel: channel, Content: content}
}

const messageDumpLimit = 120

func (m *Message) String() string {
	if len(m.Content) > messageDumpLimit {
		return fmt.Sprintf("%s: %s... (%d bytes)", m.Channel, m.Content[:messageDumpLimit], len(m.Content))
	}
	return fmt.Sprintf("%s: %s", m.Channel, m.Content)
}

// PersistedMessage is an outbound message as stored by the publish-retry
// persistence. IDs are strictly increasing in enqueue order.
type PersistedMessage struct {
	ID         uint64
	Channel    string
	Content    []byte
	EnqueuedAt time.Time
}
