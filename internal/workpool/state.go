package workpool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status of a job as recorded in a StateStore.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// State is the observable progress of one job.
type State struct {
	Pool          string     `json:"pool"`
	Key           string     `json:"key"`
	RequestID     string     `json:"requestId,omitempty"`
	Status        Status     `json:"status"`
	Attempt       int        `json:"attempt"`
	MaxAttempts   int        `json:"maxAttempts"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	EnqueuedAt    time.Time  `json:"enqueuedAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

var ErrStateNotFound = errors.New("job state not found")

// StateStore records job progress. Writes are best effort: the pool logs and
// ignores failures.
type StateStore interface {
	Put(ctx context.Context, st State) error
	Get(ctx context.Context, pool, key string) (State, error)
}

type memoryEntry struct {
	state     State
	expiresAt time.Time
}

// MemoryStore is a process-local StateStore with per-entry TTL.
type MemoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	data map[string]memoryEntry
	now  func() time.Time
}

// NewMemoryStore creates a MemoryStore; ttl <= 0 keeps entries forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, data: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Put(ctx context.Context, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if m.ttl > 0 {
		exp = m.now().Add(m.ttl)
	}
	m.data[stateKey(st.Pool, st.Key)] = memoryEntry{state: st, expiresAt: exp}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, pool, key string) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := stateKey(pool, key)
	e, ok := m.data[k]
	if !ok {
		return State{}, ErrStateNotFound
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.data, k)
		return State{}, ErrStateNotFound
	}
	return e.state, nil
}

func stateKey(pool, key string) string {
	return "jobs:" + pool + ":" + key
}
