package minio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"healthrecords-backend/internal/shared/storage/object"
)

// Options configures the MinIO gateway.
type Options struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Bucket      string
	UseSSL      bool
	UploadTTL   time.Duration
	DownloadTTL time.Duration
}

// Store implements object.Gateway against a MinIO (or other S3-compatible) server.
type Store struct {
	client      *minio.Client
	bucket      string
	uploadTTL   time.Duration
	downloadTTL time.Duration
}

// New connects to MinIO and makes sure the bucket exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket %s: %w", opts.Bucket, err)
		}
	}
	return newWithClient(client, opts), nil
}

func newWithClient(client *minio.Client, opts Options) *Store {
	if opts.UploadTTL <= 0 {
		opts.UploadTTL = 15 * time.Minute
	}
	if opts.DownloadTTL <= 0 {
		opts.DownloadTTL = 10 * time.Minute
	}
	return &Store{
		client:      client,
		bucket:      opts.Bucket,
		uploadTTL:   opts.UploadTTL,
		downloadTTL: opts.DownloadTTL,
	}
}

// GenerateUploadURL presigns a PUT for a freshly allocated handle.
func (s *Store) GenerateUploadURL(ctx context.Context, ownerKey string) (object.UploadTicket, error) {
	handle := object.NewHandle(ownerKey)
	u, err := s.client.PresignedPutObject(ctx, s.bucket, handle, s.uploadTTL)
	if err != nil {
		return object.UploadTicket{}, fmt.Errorf("minio presign put key=%s: %w", handle, err)
	}
	return object.UploadTicket{
		URL:       u.String(),
		Method:    http.MethodPut,
		Handle:    handle,
		ExpiresAt: time.Now().Add(s.uploadTTL).UTC(),
	}, nil
}

// GetURL presigns a GET for handle.
func (s *Store) GetURL(ctx context.Context, handle string) (string, error) {
	if err := object.ValidateHandle(handle); err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, handle, s.downloadTTL, nil)
	if err != nil {
		return "", fmt.Errorf("minio presign get key=%s: %w", handle, err)
	}
	return u.String(), nil
}

// Open stats then streams the object; GetObject alone defers errors to the first read.
func (s *Store) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	if err := object.ValidateHandle(handle); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, handle, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio get object key=%s: %w", handle, err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNotFound(err) {
			return nil, object.ErrNotFound
		}
		return nil, fmt.Errorf("minio stat object key=%s: %w", handle, err)
	}
	return obj, nil
}

// Exists stats handle.
func (s *Store) Exists(ctx context.Context, handle string) (bool, error) {
	if err := object.ValidateHandle(handle); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, handle, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("minio stat object key=%s: %w", handle, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

var _ object.Gateway = (*Store)(nil)
