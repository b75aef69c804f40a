package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"healthrecords-backend/internal/shared/storage/object"
	"healthrecords-backend/internal/shared/util"
)

// Options configures the filesystem gateway.
type Options struct {
	BaseDir     string
	BaseURL     string
	SigningKey  string
	UploadTTL   time.Duration
	DownloadTTL time.Duration
	MaxBytes    int64
}

type pendingUpload struct {
	handle    string
	expiresAt time.Time
}

// Store implements object.Gateway on the local filesystem. Upload URLs carry
// single-use tokens held in memory; download URLs are HMAC signed.
type Store struct {
	baseDir     string
	baseURL     string
	signingKey  []byte
	uploadTTL   time.Duration
	downloadTTL time.Duration
	maxBytes    int64

	mu     sync.Mutex
	tokens map[string]pendingUpload
	now    func() time.Time
}

var (
	ErrUnknownToken  = errors.New("upload token unknown or expired")
	ErrBadSignature  = errors.New("invalid download signature")
	errEmptySigning  = errors.New("signing key is required")
	defaultUploadTTL = 15 * time.Minute
)

// New creates a filesystem gateway rooted at opts.BaseDir.
func New(opts Options) (*Store, error) {
	if opts.SigningKey == "" {
		return nil, errEmptySigning
	}
	if opts.UploadTTL <= 0 {
		opts.UploadTTL = defaultUploadTTL
	}
	if opts.DownloadTTL <= 0 {
		opts.DownloadTTL = 10 * time.Minute
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 20 << 20
	}
	if err := os.MkdirAll(opts.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &Store{
		baseDir:     opts.BaseDir,
		baseURL:     opts.BaseURL,
		signingKey:  []byte(opts.SigningKey),
		uploadTTL:   opts.UploadTTL,
		downloadTTL: opts.DownloadTTL,
		maxBytes:    opts.MaxBytes,
		tokens:      make(map[string]pendingUpload),
		now:         time.Now,
	}, nil
}

// GenerateUploadURL reserves a handle and returns a one-shot upload URL for it.
func (s *Store) GenerateUploadURL(ctx context.Context, ownerKey string) (object.UploadTicket, error) {
	if err := ctx.Err(); err != nil {
		return object.UploadTicket{}, err
	}
	handle := object.NewHandle(ownerKey)
	token := uuid.NewString()
	now := s.now()
	expires := now.Add(s.uploadTTL)

	s.mu.Lock()
	for k, p := range s.tokens {
		if !now.Before(p.expiresAt) {
			delete(s.tokens, k)
		}
	}
	s.tokens[token] = pendingUpload{handle: handle, expiresAt: expires}
	s.mu.Unlock()

	return object.UploadTicket{
		URL:       s.baseURL + "/api/v1/blobs/upload/" + token,
		Method:    "PUT",
		Handle:    handle,
		ExpiresAt: expires.UTC(),
	}, nil
}

// Accept consumes an upload token and writes r under its handle. The token is
// spent even when the write fails.
func (s *Store) Accept(ctx context.Context, token string, r io.Reader) (string, int64, error) {
	s.mu.Lock()
	p, ok := s.tokens[token]
	delete(s.tokens, token)
	s.mu.Unlock()
	if !ok || !s.now().Before(p.expiresAt) {
		return "", 0, ErrUnknownToken
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	fullPath, err := s.pathFor(p.handle)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", 0, fmt.Errorf("mkdir: %w", err)
	}
	tmp := fullPath + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("open file: %w", err)
	}
	written, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil && written > s.maxBytes {
		err = object.ErrTooLarge
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		if errors.Is(err, object.ErrTooLarge) {
			return "", 0, err
		}
		return "", 0, fmt.Errorf("write body: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("commit blob: %w", err)
	}
	return p.handle, written, nil
}

// GetURL returns an expiring signed download URL for handle.
func (s *Store) GetURL(ctx context.Context, handle string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := object.ValidateHandle(handle); err != nil {
		return "", err
	}
	expires := strconv.FormatInt(s.now().Add(s.downloadTTL).Unix(), 10)
	q := url.Values{}
	q.Set("handle", handle)
	q.Set("expires", expires)
	q.Set("sig", util.SignHMAC(s.signingKey, handle+"|"+expires))
	return s.baseURL + "/api/v1/blobs/object?" + q.Encode(), nil
}

// VerifyDownload checks a signed download URL's parameters.
func (s *Store) VerifyDownload(handle, expires, sig string) error {
	if err := object.ValidateHandle(handle); err != nil {
		return err
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || s.now().Unix() > exp {
		return ErrBadSignature
	}
	if !util.VerifyHMAC(s.signingKey, handle+"|"+expires, sig) {
		return ErrBadSignature
	}
	return nil
}

// Open opens a stored blob for reading.
func (s *Store) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := s.pathFor(handle)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, object.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Exists reports whether bytes were uploaded for handle.
func (s *Store) Exists(ctx context.Context, handle string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fullPath, err := s.pathFor(handle)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (s *Store) pathFor(handle string) (string, error) {
	if err := object.ValidateHandle(handle); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(handle)), nil
}

var _ object.Gateway = (*Store)(nil)
