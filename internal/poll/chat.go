package poll

import "livepoll/pkg/types"

// ChatLog keeps messages oldest-first, evicting from the head past capacity
type ChatLog struct {
	capacity int
	messages []types.ChatMessage
}

// NewChatLog creates an empty log holding at most capacity messages
func NewChatLog(capacity int) *ChatLog {
	return &ChatLog{
		capacity: capacity,
		messages: make([]types.ChatMessage, 0, capacity),
	}
}

// Append stores a message, dropping the oldest when full
func (c *ChatLog) Append(message types.ChatMessage) {
	if c.capacity <= 0 {
		return
	}
	if len(c.messages) >= c.capacity {
		copy(c.messages, c.messages[1:])
		c.messages = c.messages[:len(c.messages)-1]
	}
	c.messages = append(c.messages, message)
}

// List returns a copy in arrival order
func (c *ChatLog) List() []types.ChatMessage {
	list := make([]types.ChatMessage, len(c.messages))
	copy(list, c.messages)
	return list
}

// Len returns the number of retained messages
func (c *ChatLog) Len() int {
	return len(c.messages)
}
