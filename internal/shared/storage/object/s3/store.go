package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"healthrecords-backend/internal/shared/storage/object"
)

// Options configures the S3 gateway.
type Options struct {
	Region      string
	Bucket      string
	Prefix      string
	UploadTTL   time.Duration
	DownloadTTL time.Duration
}

// Store implements object.Gateway using presigned Amazon S3 URLs.
type Store struct {
	client      *s3.Client
	presign     *s3.PresignClient
	bucket      string
	prefix      string
	uploadTTL   time.Duration
	downloadTTL time.Duration
}

// New creates a new S3-backed gateway from the default AWS credential chain.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithClient(s3.NewFromConfig(cfg), opts), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *s3.Client, opts Options) *Store {
	if opts.UploadTTL <= 0 {
		opts.UploadTTL = 15 * time.Minute
	}
	if opts.DownloadTTL <= 0 {
		opts.DownloadTTL = 10 * time.Minute
	}
	return &Store{
		client:      client,
		presign:     s3.NewPresignClient(client),
		bucket:      opts.Bucket,
		prefix:      normalizePrefix(opts.Prefix),
		uploadTTL:   opts.UploadTTL,
		downloadTTL: opts.DownloadTTL,
	}
}

// GenerateUploadURL presigns a PUT for a freshly allocated handle.
func (s *Store) GenerateUploadURL(ctx context.Context, ownerKey string) (object.UploadTicket, error) {
	handle := object.NewHandle(ownerKey)
	objectKey := applyPrefix(s.prefix, handle)
	out, err := s.presign.PresignPutObject(ctx, presignInput(s.bucket, objectKey), func(opts *s3.PresignOptions) {
		opts.Expires = s.uploadTTL
	})
	if err != nil {
		return object.UploadTicket{}, fmt.Errorf("s3 presign put bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}
	return object.UploadTicket{
		URL:       out.URL,
		Method:    out.Method,
		Handle:    handle,
		ExpiresAt: time.Now().Add(s.uploadTTL).UTC(),
	}, nil
}

// GetURL presigns a GET for handle.
func (s *Store) GetURL(ctx context.Context, handle string) (string, error) {
	if err := object.ValidateHandle(handle); err != nil {
		return "", err
	}
	objectKey := applyPrefix(s.prefix, handle)
	out, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.downloadTTL
	})
	if err != nil {
		return "", fmt.Errorf("s3 presign get bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}
	return out.URL, nil
}

// Open downloads a stored object for reading.
func (s *Store) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	if err := object.ValidateHandle(handle); err != nil {
		return nil, err
	}
	objectKey := applyPrefix(s.prefix, handle)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, object.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get object bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}
	return out.Body, nil
}

// Exists issues a HEAD for handle.
func (s *Store) Exists(ctx context.Context, handle string) (bool, error) {
	if err := object.ValidateHandle(handle); err != nil {
		return false, err
	}
	objectKey := applyPrefix(s.prefix, handle)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var nf *s3types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head object bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}
	return true, nil
}

// presignInput signs no encryption headers; bucket default encryption applies.
func presignInput(bucket, key string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
}

func normalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

func applyPrefix(prefix, key string) string {
	cleanPrefix := strings.Trim(prefix, "/")
	cleanKey := strings.TrimLeft(key, "/")
	if cleanPrefix == "" {
		return cleanKey
	}
	if cleanKey == "" {
		return cleanPrefix
	}
	return cleanPrefix + "/" + cleanKey
}

var _ object.Gateway = (*Store)(nil)
