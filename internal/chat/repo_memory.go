package chat

import (
	"context"
	"sort"
	"sync"
)

type MemoryRepo struct {
	mu       sync.RWMutex
	threads  map[string]Thread
	messages map[string]Message
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		threads:  make(map[string]Thread),
		messages: make(map[string]Message),
	}
}

func (r *MemoryRepo) CreateThread(ctx context.Context, t Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[t.ID] = t
	return nil
}

func (r *MemoryRepo) GetThread(ctx context.Context, id string) (Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.threads[id]
	if !ok {
		return Thread{}, ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepo) AddMessage(ctx context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[m.ThreadID]; !ok {
		return ErrNotFound
	}
	r.messages[m.ID] = m
	return nil
}

func (r *MemoryRepo) GetMessage(ctx context.Context, id string) (Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return m, nil
}

func (r *MemoryRepo) SetMessageStatus(ctx context.Context, id string, status MessageStatus, errMsg *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return false, ErrNotFound
	}
	if m.Status != MessagePending {
		return false, nil
	}
	m.Status = status
	m.Error = errMsg
	r.messages[id] = m
	return true, nil
}

func (r *MemoryRepo) ListMessages(ctx context.Context, threadID string, limit, offset int) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Message
	for _, m := range r.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return []Message{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
