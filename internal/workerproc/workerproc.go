// Package workerproc turns queue deliveries into classification jobs and
// decides whether a delivery may be acknowledged.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"healthrecords-backend/internal/queue"
	"healthrecords-backend/internal/workpool"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingDocumentID indicates a message without a document id.
type ErrMissingDocumentID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingDocumentID) Error() string { return "missing document id" }

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if errors.Is(err, queue.ErrMissingDocumentID) {
		return msg, meta, ErrMissingDocumentID{Meta: meta, RequestID: msg.RequestID}
	}
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	return msg, meta, nil
}

// Unrecoverable reports whether a parse error means the delivery can never
// succeed and should be removed from the queue.
func Unrecoverable(err error) bool {
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		missing ErrMissingDocumentID
	)
	return errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &missing)
}

// Submitter accepts jobs for asynchronous execution.
type Submitter interface {
	Submit(ctx context.Context, job workpool.Job) (*workpool.Ticket, error)
}

// Result describes what happened to one delivery.
type Result struct {
	Outcome workpool.Outcome
	// Ack is true when the outcome reached the document store and the
	// delivery may be deleted.
	Ack bool
}

// HandleMessage submits msg to the pool and waits until its outcome has been
// recorded. A duplicate delivery, a shutdown or an unrecorded outcome leaves
// Ack false so the queue redelivers it.
func HandleMessage(ctx context.Context, pool Submitter, msg queue.Message) (Result, error) {
	if pool == nil {
		return Result{}, errors.New("classification pool not configured")
	}
	enqueued := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339Nano, msg.EnqueuedAt); err == nil {
		enqueued = ts
	}
	ticket, err := pool.Submit(ctx, workpool.Job{Key: msg.DocumentID, RequestID: msg.RequestID, EnqueuedAt: enqueued})
	if err != nil {
		return Result{}, err
	}

	select {
	case <-ticket.Done():
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	if err := ticket.Err(); err != nil {
		return Result{Outcome: ticket.Outcome()}, err
	}
	return Result{Outcome: ticket.Outcome(), Ack: true}, nil
}
