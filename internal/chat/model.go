package chat

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus tracks reply generation for a user message. Assistant
// messages are stored complete.
type MessageStatus string

const (
	MessagePending  MessageStatus = "pending"
	MessageComplete MessageStatus = "complete"
	MessageFailed   MessageStatus = "failed"
)

type Thread struct {
	ID            string    `json:"id"`
	OwnerIdentity string    `json:"-"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Message struct {
	ID        string        `json:"id"`
	ThreadID  string        `json:"threadId"`
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
	Error     *string       `json:"error,omitempty"`
	ReplyTo   *string       `json:"replyTo,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}
