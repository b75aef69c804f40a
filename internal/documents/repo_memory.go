package documents

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]Document
	now  func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[string]Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[doc.ID]; exists {
		return ErrConflict
	}
	r.data[doc.ID] = doc
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.data[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// ListByUser returns the user's documents newest first, ties broken by id.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Document, 0)
	for _, doc := range r.data {
		if doc.UserID == userID {
			out = append(out, doc)
		}
	}
	r.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (r *MemoryRepo) ApplyPatch(ctx context.Context, id string, expected []Status, patch Patch) (Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.data[id]
	if !ok {
		return Document{}, false, ErrNotFound
	}
	if !slices.Contains(expected, doc.Status) {
		return doc, false, nil
	}
	doc = patch.apply(doc, r.now())
	r.data[id] = doc
	return doc, true, nil
}

func (r *MemoryRepo) CountByStatus(ctx context.Context, userID string) (map[Status]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[Status]int)
	for _, doc := range r.data {
		if doc.UserID == userID {
			counts[doc.Status]++
		}
	}
	return counts, nil
}

// ListUnfinished returns pending and processing documents, oldest first.
func (r *MemoryRepo) ListUnfinished(ctx context.Context, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var out []Document
	for _, doc := range r.data {
		if !doc.Status.IsTerminal() {
			out = append(out, doc)
		}
	}
	r.mu.RUnlock()
	sortNewestFirst(out)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(docs []Document) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
}
