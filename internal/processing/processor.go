// Package processing connects the classification work pool to the document
// store: the pool's job handler and its completion callback live here.
package processing

import (
	"context"
	"errors"
	"fmt"

	"healthrecords-backend/internal/classification"
	"healthrecords-backend/internal/documents"
	"healthrecords-backend/internal/llm"
	"healthrecords-backend/internal/shared/telemetry"
	"healthrecords-backend/internal/workpool"
)

// PoolName labels the classification pool in metrics, logs and job state.
const PoolName = "classify"

// Classifier is the model-backed classification step.
type Classifier interface {
	Classify(ctx context.Context, in classification.Input) (classification.Classification, error)
}

// Store is the slice of the document service the pipeline drives.
type Store interface {
	StartProcessing(ctx context.Context, id string) (documents.Document, error)
	Finish(ctx context.Context, id string, outcome documents.Outcome) (documents.Document, error)
}

// Processor runs one classification attempt per call and records terminal
// outcomes on the document.
type Processor struct {
	Docs   Store
	Engine Classifier
}

// Run is the pool job handler. Errors wrapped with workpool.Permanent end the
// job without further attempts.
func (p *Processor) Run(ctx context.Context, job workpool.Job, attempt int) (any, error) {
	doc, err := p.Docs.StartProcessing(ctx, job.Key)
	if err != nil {
		switch {
		case errors.Is(err, documents.ErrNotFound), errors.Is(err, documents.ErrTerminal):
			return nil, workpool.Permanent(err)
		default:
			return nil, fmt.Errorf("start processing: %w", err)
		}
	}
	telemetry.Info("document.processing", map[string]any{
		"document_id": doc.ID,
		"attempt":     attempt,
		"request_id":  job.RequestID,
	})

	c, err := p.Engine.Classify(ctx, classification.Input{
		Handle:    doc.BlobHandle,
		MediaType: string(doc.MediaType),
		FileName:  doc.FileName,
	})
	if err != nil {
		switch {
		case errors.Is(err, classification.ErrBlobMissing), errors.Is(err, classification.ErrUnreadable):
			return nil, workpool.Permanent(err)
		case llm.IsRejected(err), errors.Is(err, llm.ErrNotConfigured):
			return nil, workpool.Permanent(err)
		}
		return nil, err
	}
	return c, nil
}

// Complete is the pool completion callback. Applying an outcome to a document
// that already finished, or no longer exists, is a no-op.
func (p *Processor) Complete(ctx context.Context, job workpool.Job, outcome workpool.Outcome) error {
	out := documents.Outcome{Error: outcome.Err}
	switch outcome.Kind {
	case workpool.OutcomeSuccess:
		c, ok := outcome.Value.(classification.Classification)
		if !ok {
			out.Kind = documents.OutcomeFailed
			out.Error = fmt.Sprintf("unexpected job result %T", outcome.Value)
			break
		}
		out.Kind = documents.OutcomeSuccess
		out.Classification = &c
	case workpool.OutcomeCanceled:
		out.Kind = documents.OutcomeCanceled
	default:
		out.Kind = documents.OutcomeFailed
	}

	_, err := p.Docs.Finish(ctx, job.Key, out)
	if errors.Is(err, documents.ErrNotFound) {
		telemetry.Warn("document.finish_missing", map[string]any{"document_id": job.Key})
		return nil
	}
	return err
}
