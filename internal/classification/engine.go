package classification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"healthrecords-backend/internal/extract"
	"healthrecords-backend/internal/llm"
	"healthrecords-backend/internal/shared/storage/object"
	"healthrecords-backend/internal/shared/telemetry"
)

const (
	defaultMaxBytes     = 20 << 20
	defaultMaxTextChars = 100_000
)

var (
	// ErrBlobMissing means the document bytes were never uploaded or were removed.
	ErrBlobMissing = errors.New("document blob missing")
	// ErrUnreadable means the bytes cannot be turned into model input.
	ErrUnreadable = errors.New("document unreadable")
)

// Input identifies the document to classify.
type Input struct {
	Handle    string
	MediaType string
	FileName  string
}

// Engine classifies stored documents against the taxonomy. It never retries;
// retry policy belongs to the caller.
type Engine struct {
	Blobs        object.Gateway
	Model        llm.Classifier
	MaxBytes     int64
	MaxTextChars int
}

// Classify reads the blob, asks the model and strictly decodes its answer.
func (e *Engine) Classify(ctx context.Context, in Input) (Classification, error) {
	start := time.Now()
	data, err := e.read(ctx, in.Handle)
	if err != nil {
		return Classification{}, err
	}
	parts, err := e.buildParts(ctx, in, data)
	if err != nil {
		return Classification{}, err
	}

	raw, err := e.Model.Classify(ctx, llm.ClassifyRequest{
		Instructions: llm.ClassifyInstructions(),
		Parts:        parts,
		SchemaName:   SchemaName,
		Schema:       JSONSchema(),
		FlatSchema:   FlatJSONSchema(),
	})
	if err != nil {
		return Classification{}, fmt.Errorf("classify model call: %w", err)
	}
	c, err := Parse(raw)
	if err != nil {
		telemetry.Warn("classification.invalid_output", map[string]any{
			"err":       err.Error(),
			"mediaType": in.MediaType,
		})
		return Classification{}, err
	}
	telemetry.Info("classification.result", map[string]any{
		"category":   string(c.Category),
		"mediaType":  in.MediaType,
		"bytes":      len(data),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return c, nil
}

func (e *Engine) read(ctx context.Context, handle string) ([]byte, error) {
	rc, err := e.Blobs.Open(ctx, handle)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) || errors.Is(err, object.ErrInvalidHandle) {
			return nil, fmt.Errorf("%w: %s", ErrBlobMissing, handle)
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	defer rc.Close()

	limit := e.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrUnreadable, limit)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrUnreadable)
	}
	return data, nil
}

func (e *Engine) buildParts(ctx context.Context, in Input, data []byte) ([]llm.Part, error) {
	maxChars := e.MaxTextChars
	if maxChars <= 0 {
		maxChars = defaultMaxTextChars
	}
	intro := llm.Part{Kind: llm.PartText, Text: "Classify the attached document."}

	switch in.MediaType {
	case "pdf":
		parts := []llm.Part{intro, {Kind: llm.PartFile, Data: data, MIMEType: extract.MimePDF, FileName: in.FileName}}
		// Attach the text layer when the PDF has one.
		if text, err := extract.TextFromBytes(ctx, data, extract.MimePDF, maxChars); err == nil && text != "" {
			parts = append(parts, llm.Part{Kind: llm.PartText, Text: "Extracted text layer:\n" + text})
		}
		return parts, nil
	case "image":
		mime := extract.SniffImageType(data)
		if mime == "" {
			return nil, fmt.Errorf("%w: not a supported image format", ErrUnreadable)
		}
		return []llm.Part{intro, {Kind: llm.PartImage, Data: data, MIMEType: mime, FileName: in.FileName}}, nil
	case "text":
		text, err := extract.TextFromBytes(ctx, data, extract.MimeText, maxChars)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		return []llm.Part{intro, {Kind: llm.PartText, Text: "Document text:\n" + text}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown media type %q", ErrUnreadable, in.MediaType)
	}
}
