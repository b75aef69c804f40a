package minio

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"healthrecords-backend/internal/shared/storage/object"
)

func newOfflineStore(t *testing.T) *Store {
	t.Helper()
	client, err := minio.New("minio.test:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("access", "secret", ""),
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return newWithClient(client, Options{Bucket: "documents"})
}

func TestGenerateUploadURL(t *testing.T) {
	store := newOfflineStore(t)
	ticket, err := store.GenerateUploadURL(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if ticket.Method != http.MethodPut || !object.OwnedBy(ticket.Handle, "user-1") {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
	u, err := url.Parse(ticket.URL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.HasSuffix(u.Path, "/documents/"+ticket.Handle) {
		t.Fatalf("expected bucket/handle path, got %q", u.Path)
	}
	if u.Query().Get("X-Amz-Signature") == "" {
		t.Fatalf("expected signed url")
	}
}

func TestInvalidHandleRejectedBeforeNetwork(t *testing.T) {
	store := newOfflineStore(t)
	ctx := context.Background()
	if _, err := store.GetURL(ctx, "bad"); !errors.Is(err, object.ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
	if _, err := store.Open(ctx, "bad"); !errors.Is(err, object.ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
	if _, err := store.Exists(ctx, "bad"); !errors.Is(err, object.ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}) {
		t.Fatalf("expected NoSuchKey to be not found")
	}
	if isNotFound(minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}) {
		t.Fatalf("expected AccessDenied to be a real error")
	}
}
