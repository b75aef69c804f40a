package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"healthrecords-backend/internal/queue"
	"healthrecords-backend/internal/workpool"
)

func startPool(t *testing.T, complete workpool.CompleteFunc) *workpool.Pool {
	t.Helper()
	p := workpool.New(workpool.Options{
		Name:           "lambda-test",
		MaxParallelism: 2,
		Retry:          workpool.RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Millisecond, Base: 2},
		Run: func(context.Context, workpool.Job, int) (any, error) {
			return "done", nil
		},
		OnComplete: complete,
	})
	p.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func record(t *testing.T, id string, msg queue.Message) events.SQSMessage {
	t.Helper()
	body, err := queue.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

func TestProcessBatchReportsOnlyRetryableFailures(t *testing.T) {
	pool := startPool(t, func(ctx context.Context, job workpool.Job, o workpool.Outcome) error {
		if job.Key == "doc-store-down" {
			return errors.New("store unavailable")
		}
		return nil
	})

	event := events.SQSEvent{Records: []events.SQSMessage{
		record(t, "m-ok", queue.Message{DocumentID: "doc-ok"}),
		record(t, "m-down", queue.Message{DocumentID: "doc-store-down"}),
		{MessageId: "m-garbage", Body: "{not json"},
		{MessageId: "m-empty", Body: ""},
	}}

	resp := processBatch(context.Background(), pool, event)
	if len(resp.BatchItemFailures) != 1 {
		t.Fatalf("expected one failure, got %+v", resp.BatchItemFailures)
	}
	if got := resp.BatchItemFailures[0].ItemIdentifier; got != "m-down" {
		t.Fatalf("expected m-down to be retried, got %s", got)
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	pool := startPool(t, func(context.Context, workpool.Job, workpool.Outcome) error { return nil })
	resp := processBatch(context.Background(), pool, events.SQSEvent{})
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("expected no failures, got %+v", resp.BatchItemFailures)
	}
}
