package documents

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"healthrecords-backend/internal/classification"
	"healthrecords-backend/internal/shared/storage/object"
	"healthrecords-backend/internal/users"
)

type fakeBlobs struct {
	existing map[string]bool
}

func (f fakeBlobs) GenerateUploadURL(ctx context.Context, ownerKey string) (object.UploadTicket, error) {
	return object.UploadTicket{Handle: object.NewHandle(ownerKey)}, nil
}

func (f fakeBlobs) GetURL(ctx context.Context, handle string) (string, error) {
	return "http://blobs.test/" + handle, nil
}

func (f fakeBlobs) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("x")), nil
}

func (f fakeBlobs) Exists(ctx context.Context, handle string) (bool, error) {
	return f.existing[handle], nil
}

type fakeDispatcher struct {
	mu        sync.Mutex
	submitted []string
	submitErr error
	held      bool
	canceled  []string
}

func (d *fakeDispatcher) Submit(ctx context.Context, documentID, requestID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitErr != nil {
		return d.submitErr
	}
	d.submitted = append(d.submitted, documentID)
	return nil
}

func (d *fakeDispatcher) Cancel(ctx context.Context, documentID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.canceled = append(d.canceled, documentID)
	return d.held, nil
}

type fixture struct {
	svc        *Service
	dispatcher *fakeDispatcher
	blobs      fakeBlobs
	userSvc    *users.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	userSvc := users.NewService(users.NewMemoryRepo())
	d := &fakeDispatcher{}
	blobs := fakeBlobs{existing: make(map[string]bool)}
	svc := &Service{
		Repo:       NewMemoryRepo(),
		Users:      userSvc,
		Blobs:      blobs,
		Dispatcher: d,
	}
	return &fixture{svc: svc, dispatcher: d, blobs: blobs, userSvc: userSvc}
}

func (f *fixture) user(t *testing.T, identity string) users.User {
	t.Helper()
	u, err := f.userSvc.EnsureUser(context.Background(), identity, "")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	return u
}

func (f *fixture) upload(userID string) string {
	h := object.NewHandle(userID)
	f.blobs.existing[h] = true
	return h
}

func (f *fixture) register(t *testing.T, identity, fileName string) Document {
	t.Helper()
	u := f.user(t, identity)
	doc, err := f.svc.Register(context.Background(), identity, RegisterInput{
		FileName:   fileName,
		BlobHandle: f.upload(u.ID),
		MediaType:  MediaPDF,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return doc
}

func labs() *classification.Classification {
	return &classification.Classification{Category: classification.CategoryTestResults, TestType: classification.TestLabs}
}

func assertInvariants(t *testing.T, doc Document) {
	t.Helper()
	if (doc.Classification != nil) != (doc.Status == StatusCompleted) {
		t.Fatalf("classification set iff completed violated: %+v", doc)
	}
	if (doc.Error != nil) != (doc.Status == StatusFailed) {
		t.Fatalf("error set iff failed violated: %+v", doc)
	}
}

func TestRegisterCreatesPendingAndSubmits(t *testing.T) {
	f := newFixture(t)
	doc := f.register(t, "iss|a", "labs.pdf")
	if doc.Status != StatusPending || doc.FileName != "labs.pdf" || doc.MediaType != MediaPDF {
		t.Fatalf("unexpected document %+v", doc)
	}
	if len(f.dispatcher.submitted) != 1 || f.dispatcher.submitted[0] != doc.ID {
		t.Fatalf("expected job submitted for %s, got %v", doc.ID, f.dispatcher.submitted)
	}
	assertInvariants(t, doc)
}

func TestRegisterUnknownOwnerCreatesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), "iss|ghost", RegisterInput{
		FileName:   "a.pdf",
		BlobHandle: object.NewHandle("ghost"),
		MediaType:  MediaPDF,
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(f.dispatcher.submitted) != 0 {
		t.Fatalf("expected no submission")
	}
	repo := f.svc.Repo.(*MemoryRepo)
	if len(repo.data) != 0 {
		t.Fatalf("expected no document records, got %d", len(repo.data))
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "iss|a")
	b := f.user(t, "iss|b")
	ownHandle := f.upload(a.ID)
	foreignHandle := f.upload(b.ID)

	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"bad media type", RegisterInput{FileName: "a.pdf", BlobHandle: ownHandle, MediaType: "video"}},
		{"traversal file name", RegisterInput{FileName: "../a.pdf", BlobHandle: ownHandle, MediaType: MediaPDF}},
		{"foreign handle", RegisterInput{FileName: "a.pdf", BlobHandle: foreignHandle, MediaType: MediaPDF}},
		{"malformed handle", RegisterInput{FileName: "a.pdf", BlobHandle: "nope", MediaType: MediaPDF}},
		{"missing upload", RegisterInput{FileName: "a.pdf", BlobHandle: object.NewHandle(a.ID), MediaType: MediaPDF}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Register(context.Background(), "iss|a", tt.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRegisterDispatchFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.submitErr = errors.New("queue unreachable")
	doc := f.register(t, "iss|a", "labs.pdf")
	if doc.Status != StatusFailed || doc.Error == nil || !strings.HasPrefix(*doc.Error, "dispatch failed: ") {
		t.Fatalf("expected failed document with dispatch error, got %+v", doc)
	}
	if doc.ProcessingCompletedAt == nil {
		t.Fatalf("expected processingCompletedAt")
	}
	assertInvariants(t, doc)
}

func TestLifecycleSuccessAndIdempotentFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.register(t, "iss|a", "labs.pdf")

	started, err := f.svc.StartProcessing(ctx, doc.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != StatusProcessing || started.ProcessingStartedAt == nil {
		t.Fatalf("unexpected started document %+v", started)
	}
	again, err := f.svc.StartProcessing(ctx, doc.ID)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !again.ProcessingStartedAt.Equal(*started.ProcessingStartedAt) {
		t.Fatalf("retry attempt must keep processingStartedAt")
	}

	done, err := f.svc.Finish(ctx, doc.ID, Outcome{Kind: OutcomeSuccess, Classification: labs()})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.Status != StatusCompleted || *done.Classification != *labs() || done.ProcessingCompletedAt == nil {
		t.Fatalf("unexpected completed document %+v", done)
	}
	if done.Summary == nil || *done.Summary != "Test results: labs" {
		t.Fatalf("unexpected summary %v", done.Summary)
	}
	assertInvariants(t, done)

	replay, err := f.svc.Finish(ctx, doc.ID, Outcome{Kind: OutcomeSuccess, Classification: labs()})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.UpdatedAt.Equal(done.UpdatedAt) || !replay.ProcessingCompletedAt.Equal(*done.ProcessingCompletedAt) {
		t.Fatalf("replayed callback changed the document: %+v vs %+v", replay, done)
	}

	late, err := f.svc.Finish(ctx, doc.ID, Outcome{Kind: OutcomeFailed, Error: "late"})
	if err != nil || late.Status != StatusCompleted {
		t.Fatalf("terminal document must not change, got %+v %v", late, err)
	}
	if _, err := f.svc.StartProcessing(ctx, doc.ID); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
}

func TestFinishFailureAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.register(t, "iss|a", "scan.pdf")
	if _, err := f.svc.StartProcessing(ctx, doc.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	bad := &classification.Classification{Category: classification.CategoryTestResults}
	if _, err := f.svc.Finish(ctx, doc.ID, Outcome{Kind: OutcomeSuccess, Classification: bad}); !errors.Is(err, classification.ErrInvalid) {
		t.Fatalf("expected classification.ErrInvalid, got %v", err)
	}

	failed, err := f.svc.Finish(ctx, doc.ID, Outcome{Kind: OutcomeFailed, Error: "model timeout\nafter 5 attempts"})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if failed.Status != StatusFailed || failed.Error == nil || *failed.Error != "model timeout after 5 attempts" || failed.Classification != nil {
		t.Fatalf("unexpected failed document %+v", failed)
	}
	assertInvariants(t, failed)
}

func TestSuccessRequiresProcessing(t *testing.T) {
	f := newFixture(t)
	doc := f.register(t, "iss|a", "a.pdf")
	got, err := f.svc.Finish(context.Background(), doc.ID, Outcome{Kind: OutcomeSuccess, Classification: labs()})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("pending document must not jump to completed, got %s", got.Status)
	}
}

func TestListIsOwnerScopedAndNewestFirst(t *testing.T) {
	f := newFixture(t)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f.svc.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	first := f.register(t, "iss|a", "first.pdf")
	second := f.register(t, "iss|a", "second.pdf")
	other := f.register(t, "iss|b", "other.pdf")

	docs, err := f.svc.List(context.Background(), "iss|a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != second.ID || docs[1].ID != first.ID {
		t.Fatalf("unexpected list %+v", docs)
	}
	for _, d := range docs {
		if d.ID == other.ID {
			t.Fatalf("listing leaked another user's document")
		}
	}
	if _, err := f.svc.Get(context.Background(), "iss|a", other.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign document, got %v", err)
	}

	empty, err := f.svc.List(context.Background(), "iss|nobody")
	if err != nil || len(empty) != 0 {
		t.Fatalf("unknown caller must see an empty list, got %v %v", empty, err)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatcher holds job", func(t *testing.T) {
		f := newFixture(t)
		f.dispatcher.held = true
		doc := f.register(t, "iss|a", "a.pdf")
		got, err := f.svc.Cancel(ctx, "iss|a", doc.ID)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if got.Status != StatusPending || len(f.dispatcher.canceled) != 1 {
			t.Fatalf("expected cancellation handed to dispatcher, got %+v", got)
		}
	})

	t.Run("dispatcher does not hold job", func(t *testing.T) {
		f := newFixture(t)
		doc := f.register(t, "iss|a", "a.pdf")
		got, err := f.svc.Cancel(ctx, "iss|a", doc.ID)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if got.Status != StatusCanceled || got.ProcessingCompletedAt == nil {
			t.Fatalf("expected canceled document, got %+v", got)
		}
		assertInvariants(t, got)
		if _, err := f.svc.StartProcessing(ctx, doc.ID); !errors.Is(err, ErrTerminal) {
			t.Fatalf("canceled document must not start, got %v", err)
		}
	})

	t.Run("terminal document is a no-op", func(t *testing.T) {
		f := newFixture(t)
		doc := f.register(t, "iss|a", "a.pdf")
		f.svc.StartProcessing(ctx, doc.ID)
		f.svc.Finish(ctx, doc.ID, Outcome{Kind: OutcomeSuccess, Classification: labs()})
		got, err := f.svc.Cancel(ctx, "iss|a", doc.ID)
		if err != nil || got.Status != StatusCompleted || len(f.dispatcher.canceled) != 0 {
			t.Fatalf("expected untouched completed document, got %+v %v", got, err)
		}
	})
}

func TestResubmitUnfinished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.register(t, "iss|a", "a.pdf")
	processing := f.register(t, "iss|a", "b.pdf")
	done := f.register(t, "iss|a", "c.pdf")
	f.svc.StartProcessing(ctx, processing.ID)
	f.svc.StartProcessing(ctx, done.ID)
	f.svc.Finish(ctx, done.ID, Outcome{Kind: OutcomeSuccess, Classification: labs()})

	f.dispatcher.submitted = nil
	n, err := f.svc.Resubmit(ctx, 0)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 resubmitted, got %d (%v)", n, f.dispatcher.submitted)
	}
	for _, id := range f.dispatcher.submitted {
		if id != pending.ID && id != processing.ID {
			t.Fatalf("unexpected resubmission %s", id)
		}
	}
}

func TestCountByStatusAndExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "iss|a", "a.pdf")
	f.register(t, "iss|a", "b.pdf")
	f.svc.StartProcessing(ctx, a.ID)
	f.svc.Finish(ctx, a.ID, Outcome{Kind: OutcomeSuccess, Classification: labs()})

	counts, err := f.svc.CountByStatus(ctx, "iss|a")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[StatusCompleted] != 1 || counts[StatusPending] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}

	data, err := f.svc.Export(ctx, "iss|a")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(data) < 4 || string(data[:2]) != "PK" {
		t.Fatalf("expected an xlsx zip payload")
	}
}
