package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"healthrecords-backend/internal/bootstrap"
	"healthrecords-backend/internal/queue"
	"healthrecords-backend/internal/shared/config"
	"healthrecords-backend/internal/shared/metrics"
	"healthrecords-backend/internal/shared/telemetry"
	"healthrecords-backend/internal/workerproc"
	"healthrecords-backend/internal/workpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.S().Fatalf("config: %v", err)
	}
	if _, err := telemetry.Init(cfg.LogLevel, cfg.Env); err != nil {
		zap.S().Fatalf("logger: %v", err)
	}
	defer telemetry.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		zap.S().Fatalf("bootstrap build: %v", err)
	}
	app.Pool.Start()

	switch cfg.DispatchMode {
	case "sqs":
		sqsClient, err := queue.NewSQS(ctx, cfg.AWSRegion)
		if err != nil {
			zap.S().Fatalf("sqs client: %v", err)
		}
		runSQS(ctx, sqsClient, cfg, app.Pool)
	case "nats":
		if app.NATS == nil {
			zap.S().Fatal("nats transport not configured")
		}
		zap.S().Infof("worker started transport=nats subject=%s group=%s", cfg.NATSSubject, cfg.NATSQueueGroup)
		handlerCtx := context.WithoutCancel(ctx)
		err := app.NATS.Subscribe(ctx, func(_ context.Context, data []byte) {
			handleNATS(handlerCtx, app.Pool, data)
		})
		if err != nil {
			zap.S().Errorf("nats subscribe: %v", err)
		}
	default:
		zap.S().Fatalf("worker requires DISPATCH_MODE=sqs or nats, got %q", cfg.DispatchMode)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := app.Close(shutdownCtx); err != nil {
		zap.S().Warnf("shutdown: %v", err)
	}
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// runSQS long-polls the queue and hands each message to the pool. It returns
// once ctx is done and every handler has returned; handlers resolve when the
// pool is shut down.
func runSQS(ctx context.Context, client sqsAPI, cfg config.Config, pool *workpool.Pool) {
	concurrency := max(1, cfg.WorkerConcurrency)
	visibilitySeconds := int32(cfg.SQSVisibility / time.Second)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	// Handlers outlive the poll loop so in-flight jobs can finish and be acked.
	handlerCtx := context.WithoutCancel(ctx)

	zap.S().Infof("worker started transport=sqs queue=%s concurrency=%d visibility=%ds", cfg.SQSQueueURL, concurrency, visibilitySeconds)

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(cfg.SQSQueueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   visibilitySeconds,
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err})
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncQueueMessage("sqs", "received")
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				handleMessage(handlerCtx, client, cfg.SQSQueueURL, pool, m)
			}(msg)
		}
	}

	zap.S().Infof("shutdown requested, waiting up to %s for in-flight jobs", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		zap.S().Warnf("shutdown timeout reached; unfinished jobs left for redelivery")
	}
	wg.Wait()
}

func handleMessage(ctx context.Context, client sqsAPI, queueURL string, pool workerproc.Submitter, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	decoded, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		fields := baseFields(msg, decoded.DocumentID, decoded.RequestID)
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.message.unrecoverable", fields)
		if deleteMessage(ctx, client, queueURL, msg, decoded.DocumentID, decoded.RequestID) {
			metrics.IncQueueMessage("sqs", "unrecoverable")
		}
		return
	}

	telemetry.Info("worker.message.received", baseFields(msg, decoded.DocumentID, decoded.RequestID))

	res, err := workerproc.HandleMessage(ctx, pool, decoded)
	if err != nil {
		fields := baseFields(msg, decoded.DocumentID, decoded.RequestID)
		fields["error"] = err.Error()
		switch {
		case errors.Is(err, workpool.ErrDuplicate):
			telemetry.Warn("worker.message.duplicate", fields)
			metrics.IncQueueMessage("sqs", "duplicate")
		case errors.Is(err, workpool.ErrShutdown), errors.Is(err, workpool.ErrClosed):
			telemetry.Warn("worker.message.abandoned", fields)
			metrics.IncQueueMessage("sqs", "abandoned")
		default:
			telemetry.Error("worker.message.failed", fields)
			metrics.IncQueueMessage("sqs", "failed")
		}
		return
	}

	if res.Ack && deleteMessage(ctx, client, queueURL, msg, decoded.DocumentID, decoded.RequestID) {
		fields := baseFields(msg, decoded.DocumentID, decoded.RequestID)
		fields["outcome"] = string(res.Outcome.Kind)
		fields["attempts"] = res.Outcome.Attempts
		telemetry.Info("worker.message.completed", fields)
		metrics.IncQueueMessage("sqs", "completed")
	}
}

// handleNATS submits without waiting: core NATS never redelivers, so there
// is nothing to acknowledge.
func handleNATS(ctx context.Context, pool workerproc.Submitter, data []byte) {
	decoded, meta, err := workerproc.ParseMessage(string(data))
	if err != nil {
		telemetry.Error("worker.message.unrecoverable", map[string]any{
			"transport":   "nats",
			"body_len":    meta.BodyLen,
			"body_sha256": meta.BodySHA,
			"error":       err.Error(),
		})
		metrics.IncQueueMessage("nats", "unrecoverable")
		return
	}
	metrics.IncQueueMessage("nats", "received")
	_, err = pool.Submit(ctx, workpool.Job{Key: decoded.DocumentID, RequestID: decoded.RequestID})
	if err != nil {
		telemetry.Warn("worker.message.rejected", map[string]any{
			"transport":   "nats",
			"document_id": decoded.DocumentID,
			"request_id":  decoded.RequestID,
			"error":       err.Error(),
		})
		metrics.IncQueueMessage("nats", "rejected")
	}
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, documentID, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, documentID, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.message.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, documentID, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.message.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, documentID, requestID string) map[string]any {
	fields := map[string]any{
		"document_id":    documentID,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	raw := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}
