package queue

import (
	"context"
	"time"
)

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher submits classification jobs through a queue to a separate
// worker process. The queue cannot withdraw a message, so Cancel never holds
// the job; the worker skips documents that finished in the meantime.
type Dispatcher struct {
	Client Client
}

func (d Dispatcher) Submit(ctx context.Context, documentID, requestID string) error {
	return d.Client.Send(ctx, Message{
		DocumentID: documentID,
		RequestID:  requestID,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Version:    messageVersion,
	})
}

func (d Dispatcher) Cancel(context.Context, string) (bool, error) {
	return false, nil
}
