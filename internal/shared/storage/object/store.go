package object

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"healthrecords-backend/internal/shared/util"
)

var (
	ErrNotFound      = errors.New("blob not found")
	ErrInvalidHandle = errors.New("invalid blob handle")
	ErrTooLarge      = errors.New("blob exceeds size limit")
)

// UploadTicket is a single-use write URL and the handle the bytes will live under.
type UploadTicket struct {
	URL       string    `json:"uploadUrl"`
	Method    string    `json:"method"`
	Handle    string    `json:"handle"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Gateway is the blob storage contract used by documents and classification.
type Gateway interface {
	GenerateUploadURL(ctx context.Context, ownerKey string) (UploadTicket, error)
	GetURL(ctx context.Context, handle string) (string, error)
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
	Exists(ctx context.Context, handle string) (bool, error)
}

// NewHandle allocates a fresh handle namespaced under the owner.
func NewHandle(ownerKey string) string {
	return util.HashUserKey(ownerKey) + "/" + uuid.NewString()
}

// ValidateHandle checks the "<owner hash>/<uuid>" shape.
func ValidateHandle(handle string) error {
	owner, id, ok := strings.Cut(handle, "/")
	if !ok || len(owner) != 64 || strings.Trim(owner, "0123456789abcdef") != "" {
		return ErrInvalidHandle
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidHandle
	}
	return nil
}

// OwnedBy reports whether handle lives in ownerKey's namespace.
func OwnedBy(handle, ownerKey string) bool {
	if ValidateHandle(handle) != nil {
		return false
	}
	return strings.HasPrefix(handle, util.HashUserKey(ownerKey)+"/")
}
