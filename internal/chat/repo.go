package chat

import "context"

type Repo interface {
	CreateThread(ctx context.Context, t Thread) error
	GetThread(ctx context.Context, id string) (Thread, error)
	AddMessage(ctx context.Context, m Message) error
	GetMessage(ctx context.Context, id string) (Message, error)
	// SetMessageStatus moves a pending message to status. It reports false
	// when the message was no longer pending.
	SetMessageStatus(ctx context.Context, id string, status MessageStatus, errMsg *string) (bool, error)
	// ListMessages returns messages oldest first.
	ListMessages(ctx context.Context, threadID string, limit, offset int) ([]Message, error)
}
