package documents

import (
	"time"

	"healthrecords-backend/internal/classification"
)

type registerRequest struct {
	StorageID string `json:"storageId" binding:"required"`
	FileName  string `json:"fileName" binding:"required,max=255"`
	Type      string `json:"type" binding:"required,oneof=pdf image text"`
}

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	ID                    string                         `json:"id"`
	FileName              string                         `json:"fileName"`
	Type                  MediaType                      `json:"type"`
	Status                Status                         `json:"status"`
	Summary               *string                        `json:"summary"`
	Classification        *classification.Classification `json:"classification"`
	Error                 *string                        `json:"error"`
	// URL is a short-lived download link for the stored bytes.
	URL                   string                         `json:"url,omitempty"`
	ProcessingStartedAt   *time.Time                     `json:"processingStartedAt,omitempty"`
	ProcessingCompletedAt *time.Time                     `json:"processingCompletedAt,omitempty"`
	CreatedAt             time.Time                      `json:"createdAt"`
}

func toResponse(doc Document) DocumentResponse {
	return DocumentResponse{
		ID:                    doc.ID,
		FileName:              doc.FileName,
		Type:                  doc.MediaType,
		Status:                doc.Status,
		Summary:               doc.Summary,
		Classification:        doc.Classification,
		Error:                 doc.Error,
		ProcessingStartedAt:   doc.ProcessingStartedAt,
		ProcessingCompletedAt: doc.ProcessingCompletedAt,
		CreatedAt:             doc.CreatedAt,
	}
}
