package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
		wantID  string
	}{
		{"valid", `{"documentId":"doc-1","requestId":"req-1","version":1}`, nil, "doc-1"},
		{"missing id", `{"requestId":"req-1"}`, ErrMissingDocumentID, ""},
		{"blank id", `{"documentId":"  "}`, ErrMissingDocumentID, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && msg.DocumentID != tt.wantID {
				t.Fatalf("expected document id %q, got %q", tt.wantID, msg.DocumentID)
			}
		})
	}
	if _, err := DecodeMessage([]byte("{bad")); err == nil {
		t.Fatalf("expected decode error")
	}
}

type fakeSQS struct {
	sent []string
	err  error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, aws.ToString(params.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("m1")}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return &sqs.DeleteMessageOutput{}, nil
}

func TestDispatcherSendsThroughSQS(t *testing.T) {
	api := &fakeSQS{}
	d := Dispatcher{Client: &SQSClient{API: api, QueueURL: "https://sqs.test/q"}}

	if err := d.Submit(context.Background(), "doc-9", "req-9"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(api.sent))
	}
	msg, err := DecodeMessage([]byte(api.sent[0]))
	if err != nil {
		t.Fatalf("decode sent: %v", err)
	}
	if msg.DocumentID != "doc-9" || msg.RequestID != "req-9" || msg.Version != 1 || msg.EnqueuedAt == "" {
		t.Fatalf("unexpected message %+v", msg)
	}

	held, err := d.Cancel(context.Background(), "doc-9")
	if err != nil || held {
		t.Fatalf("queue dispatcher must never hold a job, got %v %v", held, err)
	}

	api.err = errors.New("throttled")
	if err := d.Submit(context.Background(), "doc-10", ""); err == nil {
		t.Fatalf("expected send error")
	}
}
