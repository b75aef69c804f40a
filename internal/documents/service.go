package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"healthrecords-backend/internal/classification"
	"healthrecords-backend/internal/shared/metrics"
	"healthrecords-backend/internal/shared/storage/object"
	"healthrecords-backend/internal/shared/telemetry"
	"healthrecords-backend/internal/shared/util"
	"healthrecords-backend/internal/users"
	"healthrecords-backend/internal/workpool"
)

// UserResolver maps an external identity to a user record.
type UserResolver interface {
	Resolve(ctx context.Context, identity string) (users.User, error)
}

// Dispatcher hands classification jobs to the background pipeline.
// Cancel reports whether the dispatcher held the job; when it did, the
// completion callback records the cancellation.
type Dispatcher interface {
	Submit(ctx context.Context, documentID, requestID string) error
	Cancel(ctx context.Context, documentID string) (bool, error)
}

// JobStates exposes recorded job progress.
type JobStates interface {
	JobState(ctx context.Context, key string) (workpool.State, error)
}

// Service contains business logic for documents.
type Service struct {
	Repo       Repo
	Users      UserResolver
	Blobs      object.Gateway
	Dispatcher Dispatcher
	Jobs       JobStates
	Now        func() time.Time
}

// RegisterInput is what a client sends after uploading bytes.
type RegisterInput struct {
	FileName   string
	BlobHandle string
	MediaType  MediaType
	RequestID  string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) resolve(ctx context.Context, identity string) (users.User, error) {
	if s.Users == nil {
		return users.User{}, errors.New("users resolver not configured")
	}
	user, err := s.Users.Resolve(ctx, identity)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) || errors.Is(err, users.ErrUnauthorized) {
			return users.User{}, ErrUnauthorized
		}
		return users.User{}, err
	}
	return user, nil
}

// Register records an uploaded blob as a pending document and submits its
// classification job. A failed submission leaves the document failed rather
// than pending.
func (s *Service) Register(ctx context.Context, identity string, in RegisterInput) (Document, error) {
	user, err := s.resolve(ctx, identity)
	if err != nil {
		return Document{}, err
	}

	fileName, err := util.SanitizeFileName(in.FileName)
	if err != nil {
		return Document{}, fmt.Errorf("%w: fileName is invalid", ErrInvalidInput)
	}
	if !in.MediaType.Valid() {
		return Document{}, fmt.Errorf("%w: type must be one of pdf, image, text", ErrInvalidInput)
	}
	handle := strings.TrimSpace(in.BlobHandle)
	if object.ValidateHandle(handle) != nil || !object.OwnedBy(handle, user.ID) {
		return Document{}, fmt.Errorf("%w: storage handle is invalid", ErrInvalidInput)
	}
	if s.Blobs != nil {
		ok, err := s.Blobs.Exists(ctx, handle)
		if err != nil {
			return Document{}, fmt.Errorf("check blob: %w", err)
		}
		if !ok {
			return Document{}, fmt.Errorf("%w: no upload found for storage handle", ErrInvalidInput)
		}
	}

	now := s.now()
	doc := Document{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		FileName:   fileName,
		BlobHandle: handle,
		MediaType:  in.MediaType,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Repo.Create(ctx, doc); err != nil {
		return Document{}, fmt.Errorf("create document: %w", err)
	}
	metrics.IncDocumentsRegistered()
	telemetry.Info("document.registered", map[string]any{
		"document_id": doc.ID,
		"user_id":     user.ID,
		"media_type":  string(doc.MediaType),
		"request_id":  in.RequestID,
	})

	if err := s.dispatch(ctx, doc.ID, in.RequestID); err != nil {
		msg := "dispatch failed: " + util.SanitizeError(err)
		failed, ferr := s.Finish(ctx, doc.ID, Outcome{Kind: OutcomeFailed, Error: msg})
		if ferr != nil {
			return Document{}, fmt.Errorf("record dispatch failure: %w", ferr)
		}
		return failed, nil
	}
	return doc, nil
}

func (s *Service) dispatch(ctx context.Context, documentID, requestID string) error {
	if s.Dispatcher == nil {
		return errors.New("dispatcher not configured")
	}
	return s.Dispatcher.Submit(ctx, documentID, requestID)
}

// List returns the caller's documents newest first. An unknown caller sees
// an empty list.
func (s *Service) List(ctx context.Context, identity string) ([]Document, error) {
	user, err := s.resolve(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return []Document{}, nil
		}
		return nil, err
	}
	return s.Repo.ListByUser(ctx, user.ID)
}

// Get returns one of the caller's documents. Documents of other users are
// reported as not found.
func (s *Service) Get(ctx context.Context, identity, id string) (Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Document{}, ErrNotFound
	}
	user, err := s.resolve(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	doc, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.UserID != user.ID {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// Cancel withdraws an unfinished document's job. Finished documents are
// returned unchanged.
func (s *Service) Cancel(ctx context.Context, identity, id string) (Document, error) {
	doc, err := s.Get(ctx, identity, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status.IsTerminal() {
		return doc, nil
	}
	if s.Dispatcher != nil {
		held, err := s.Dispatcher.Cancel(ctx, id)
		if err != nil {
			return Document{}, fmt.Errorf("cancel job: %w", err)
		}
		if held {
			telemetry.Info("document.cancel_requested", map[string]any{"document_id": id})
			return doc, nil
		}
	}
	return s.Finish(ctx, id, Outcome{Kind: OutcomeCanceled})
}

// JobState returns the dispatcher's recorded progress for the caller's document.
func (s *Service) JobState(ctx context.Context, identity, id string) (workpool.State, error) {
	if _, err := s.Get(ctx, identity, id); err != nil {
		return workpool.State{}, err
	}
	if s.Jobs == nil {
		return workpool.State{}, workpool.ErrStateNotFound
	}
	return s.Jobs.JobState(ctx, id)
}

// CountByStatus returns the caller's document counts per status.
func (s *Service) CountByStatus(ctx context.Context, identity string) (map[Status]int, error) {
	user, err := s.resolve(ctx, identity)
	if err != nil {
		return nil, err
	}
	return s.Repo.CountByStatus(ctx, user.ID)
}

// PatchStatus applies patch when the document is in one of expected. Callers
// are the processing pipeline only.
func (s *Service) PatchStatus(ctx context.Context, id string, expected []Status, patch Patch) (Document, bool, error) {
	before, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return Document{}, false, err
	}
	doc, applied, err := s.Repo.ApplyPatch(ctx, id, expected, patch)
	if err != nil {
		return Document{}, false, err
	}
	if applied && patch.Status != nil {
		metrics.IncStatusTransition(string(before.Status), string(doc.Status))
		fields := map[string]any{
			"document_id": id,
			"from":        string(before.Status),
			"status":      string(doc.Status),
		}
		if doc.Error != nil {
			fields["error"] = *doc.Error
		}
		telemetry.Info("document.status", fields)
	}
	return doc, applied, nil
}

// StartProcessing moves a document to processing for a job attempt. The
// first attempt stamps processingStartedAt; later attempts keep it.
func (s *Service) StartProcessing(ctx context.Context, id string) (Document, error) {
	doc, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status.IsTerminal() {
		return doc, ErrTerminal
	}
	status := StatusProcessing
	patch := Patch{Status: &status}
	if doc.ProcessingStartedAt == nil {
		now := s.now()
		patch.ProcessingStartedAt = &now
	}
	updated, applied, err := s.PatchStatus(ctx, id, sourcesFor(StatusProcessing), patch)
	if err != nil {
		return Document{}, err
	}
	if !applied {
		if updated.Status.IsTerminal() {
			return updated, ErrTerminal
		}
		return updated, ErrConflict
	}
	return updated, nil
}

// Finish applies a terminal outcome. It is idempotent: a document that is
// already terminal, or not in a state the outcome can leave, is returned
// unchanged.
func (s *Service) Finish(ctx context.Context, id string, outcome Outcome) (Document, error) {
	now := s.now()
	patch := Patch{ProcessingCompletedAt: &now}
	var target Status
	switch outcome.Kind {
	case OutcomeSuccess:
		if outcome.Classification == nil {
			return Document{}, fmt.Errorf("%w: success outcome without classification", ErrInvalidInput)
		}
		if err := classification.Validate(*outcome.Classification); err != nil {
			return Document{}, err
		}
		target = StatusCompleted
		c := *outcome.Classification
		summary := c.Label()
		patch.Classification = &c
		patch.Summary = &summary
	case OutcomeFailed:
		target = StatusFailed
		msg := strings.TrimSpace(outcome.Error)
		if msg == "" {
			msg = "classification failed"
		}
		msg = util.SanitizeError(errors.New(msg))
		patch.Error = &msg
	case OutcomeCanceled:
		target = StatusCanceled
	default:
		return Document{}, fmt.Errorf("%w: unknown outcome %q", ErrInvalidInput, outcome.Kind)
	}
	patch.Status = &target

	doc, applied, err := s.PatchStatus(ctx, id, sourcesFor(target), patch)
	if err != nil {
		return Document{}, err
	}
	if !applied {
		telemetry.Info("document.finish_skipped", map[string]any{
			"document_id": id,
			"status":      string(doc.Status),
			"outcome":     string(outcome.Kind),
		})
	}
	return doc, nil
}

// Resubmit re-dispatches unfinished documents, e.g. after a restart abandoned
// their jobs. It returns how many were submitted.
func (s *Service) Resubmit(ctx context.Context, limit int) (int, error) {
	docs, err := s.Repo.ListUnfinished(ctx, limit)
	if err != nil {
		return 0, err
	}
	submitted := 0
	for _, doc := range docs {
		if err := s.dispatch(ctx, doc.ID, ""); err != nil {
			if errors.Is(err, workpool.ErrDuplicate) {
				continue
			}
			telemetry.Warn("document.resubmit_failed", map[string]any{"document_id": doc.ID, "error": err})
			continue
		}
		submitted++
	}
	if submitted > 0 {
		telemetry.Info("document.resubmitted", map[string]any{"count": submitted})
	}
	return submitted, nil
}
