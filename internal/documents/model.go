package documents

import (
	"time"

	"healthrecords-backend/internal/classification"
)

// Status is the lifecycle state of a document.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// MediaType is the client-declared kind of the uploaded bytes.
type MediaType string

const (
	MediaPDF   MediaType = "pdf"
	MediaImage MediaType = "image"
	MediaText  MediaType = "text"
)

func (m MediaType) Valid() bool {
	switch m {
	case MediaPDF, MediaImage, MediaText:
		return true
	default:
		return false
	}
}

// Document is an uploaded file and its classification lifecycle.
// Classification is set iff Status is completed; Error iff Status is failed.
type Document struct {
	ID                    string
	UserID                string
	FileName              string
	BlobHandle            string
	MediaType             MediaType
	Status                Status
	Summary               *string
	Classification        *classification.Classification
	Error                 *string
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Patch is a partial update of the fields the processing pipeline owns.
// Nil fields are left unchanged.
type Patch struct {
	Status                *Status
	Summary               *string
	Classification        *classification.Classification
	Error                 *string
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
}

func (p Patch) apply(doc Document, now time.Time) Document {
	if p.Status != nil {
		doc.Status = *p.Status
	}
	if p.Summary != nil {
		s := *p.Summary
		doc.Summary = &s
	}
	if p.Classification != nil {
		c := *p.Classification
		doc.Classification = &c
	}
	if p.Error != nil {
		e := *p.Error
		doc.Error = &e
	}
	if p.ProcessingStartedAt != nil {
		t := *p.ProcessingStartedAt
		doc.ProcessingStartedAt = &t
	}
	if p.ProcessingCompletedAt != nil {
		t := *p.ProcessingCompletedAt
		doc.ProcessingCompletedAt = &t
	}
	doc.UpdatedAt = now
	return doc
}

// OutcomeKind is the terminal result reported for a classification job.
type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeFailed   OutcomeKind = "failed"
	OutcomeCanceled OutcomeKind = "canceled"
)

// Outcome is what the completion callback applies to a document.
type Outcome struct {
	Kind           OutcomeKind
	Classification *classification.Classification
	Error          string
}
