package processing

import (
	"context"
	"time"

	"healthrecords-backend/internal/workpool"
)

// PoolDispatcher submits document jobs to an in-process pool.
type PoolDispatcher struct {
	Pool *workpool.Pool
}

func (d PoolDispatcher) Submit(ctx context.Context, documentID, requestID string) error {
	_, err := d.Pool.Submit(ctx, workpool.Job{Key: documentID, RequestID: requestID, EnqueuedAt: time.Now().UTC()})
	return err
}

func (d PoolDispatcher) Cancel(_ context.Context, documentID string) (bool, error) {
	return d.Pool.Cancel(documentID), nil
}

func (d PoolDispatcher) JobState(ctx context.Context, key string) (workpool.State, error) {
	return d.Pool.JobState(ctx, key)
}

// StateReader reads job state recorded by a pool in another process.
type StateReader struct {
	Store workpool.StateStore
}

func (r StateReader) JobState(ctx context.Context, key string) (workpool.State, error) {
	if r.Store == nil {
		return workpool.State{}, workpool.ErrStateNotFound
	}
	return r.Store.Get(ctx, PoolName, key)
}

// NewPool builds the classification pool around p.
func NewPool(p *Processor, parallelism int, retry workpool.RetryPolicy, store workpool.StateStore) *workpool.Pool {
	return workpool.New(workpool.Options{
		Name:           PoolName,
		MaxParallelism: parallelism,
		Retry:          retry,
		Run:            p.Run,
		OnComplete:     p.Complete,
		Store:          store,
	})
}
