package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"healthrecords-backend/internal/bootstrap"
	"healthrecords-backend/internal/shared/config"
	"healthrecords-backend/internal/shared/metrics"
	"healthrecords-backend/internal/shared/telemetry"
	"healthrecords-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg, err := config.Load()
	if err != nil {
		initErr = err
		return
	}
	if _, err := telemetry.Init(cfg.LogLevel, cfg.Env); err != nil {
		initErr = err
		return
	}
	built, err := bootstrap.Build(context.Background(), cfg)
	if err != nil {
		initErr = err
		return
	}
	// The pool lives as long as the warm container.
	built.Pool.Start()
	app = built
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		zap.S().Errorf("bootstrap error: %v", initErr)
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return processBatch(ctx, app.Pool, event), nil
}

// processBatch runs every record through the pool concurrently and reports
// the ones that must be redelivered. Unrecoverable payloads are treated as
// handled so SQS drops them.
func processBatch(ctx context.Context, pool workerproc.Submitter, event events.SQSEvent) events.SQSEventResponse {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures = make([]events.SQSBatchItemFailure, 0)
	)
	for _, record := range event.Records {
		wg.Add(1)
		go func(record events.SQSMessage) {
			defer wg.Done()
			if !processRecord(ctx, pool, record) {
				mu.Lock()
				failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
				mu.Unlock()
			}
		}(record)
	}
	wg.Wait()
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func processRecord(ctx context.Context, pool workerproc.Submitter, record events.SQSMessage) bool {
	metrics.IncQueueMessage("lambda", "received")
	msg, meta, err := workerproc.ParseMessage(record.Body)
	if err != nil {
		telemetry.Error("worker.message.unrecoverable", map[string]any{
			"sqs_message_id": record.MessageId,
			"body_len":       meta.BodyLen,
			"body_sha256":    meta.BodySHA,
			"error":          err.Error(),
		})
		metrics.IncQueueMessage("lambda", "unrecoverable")
		return workerproc.Unrecoverable(err)
	}

	fields := map[string]any{
		"sqs_message_id": record.MessageId,
		"document_id":    msg.DocumentID,
		"request_id":     msg.RequestID,
	}
	res, err := workerproc.HandleMessage(ctx, pool, msg)
	if err != nil {
		fields["error"] = err.Error()
		telemetry.Warn("worker.message.retry", fields)
		metrics.IncQueueMessage("lambda", "failed")
		return false
	}
	fields["outcome"] = string(res.Outcome.Kind)
	fields["attempts"] = res.Outcome.Attempts
	telemetry.Info("worker.message.completed", fields)
	metrics.IncQueueMessage("lambda", "completed")
	return res.Ack
}

func main() {
	lambda.Start(handler)
}
