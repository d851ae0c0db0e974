package agent

import (
	"sync"

	"github.com/MrWong99/voxhire/pkg/types"
)

// ChatContext is the mutable conversation history shared between the pipeline
// and hooks. It is safe for concurrent use.
type ChatContext struct {
	mu       sync.Mutex
	messages []types.Message
}

// NewChatContext returns an empty ChatContext.
func NewChatContext() *ChatContext {
	return &ChatContext{}
}

// Append adds a plain-text message with the given role.
func (c *ChatContext) Append(role, content string) {
	c.AppendMessage(types.Message{Role: role, Content: content})
}

// AppendMessage adds a message, including multimodal ones.
func (c *ChatContext) AppendMessage(m types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}

// Messages returns a copy of the current history.
func (c *ChatContext) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len reports the number of messages in the history.
func (c *ChatContext) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Last returns the most recent message and true, or a zero Message and false
// when the history is empty.
func (c *ChatContext) Last() (types.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return types.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}
