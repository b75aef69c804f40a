package workpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"healthrecords-backend/internal/shared/metrics"
	"healthrecords-backend/internal/shared/telemetry"
)

var (
	ErrDuplicate = errors.New("job already in flight for key")
	ErrClosed    = errors.New("pool is shut down")
	ErrShutdown  = errors.New("job abandoned by shutdown")
)

// Job is one unit of work. Key identifies the job; at most one job per key is
// in flight at a time.
type Job struct {
	Key        string
	RequestID  string
	EnqueuedAt time.Time
}

// OutcomeKind is the terminal result of a job.
type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeFailed   OutcomeKind = "failed"
	OutcomeCanceled OutcomeKind = "canceled"
)

// Outcome is passed to the completion callback.
type Outcome struct {
	Kind     OutcomeKind
	Value    any
	Err      string
	Attempts int
}

// RunFunc executes one attempt of job. attempt starts at 1.
type RunFunc func(ctx context.Context, job Job, attempt int) (any, error)

// CompleteFunc receives the terminal outcome of a job. It must be idempotent:
// if it returns an error the pool calls it again with the same outcome.
type CompleteFunc func(ctx context.Context, job Job, outcome Outcome) error

// Options configures a Pool.
type Options struct {
	Name           string
	MaxParallelism int
	Retry          RetryPolicy
	Run            RunFunc
	OnComplete     CompleteFunc
	Store          StateStore
	// Sleep waits between attempts; it returns early with ctx's error.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Ticket tracks a submitted job.
type Ticket struct {
	done    chan struct{}
	outcome Outcome
	err     error
}

// Done is closed once the job's callback has returned or the job was abandoned.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Outcome is the terminal outcome; valid after Done.
func (t *Ticket) Outcome() Outcome { return t.outcome }

// Err is ErrShutdown for abandoned jobs, or the last callback error when every
// callback attempt failed; valid after Done.
func (t *Ticket) Err() error { return t.err }

type entryState int

const (
	entryQueued entryState = iota
	entryRunning
	entryCompleting
)

type entry struct {
	job      Job
	ticket   *Ticket
	state    entryState
	canceled bool
	cancel   context.CancelFunc
	started  time.Time
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Name     string `json:"name"`
	Queued   int    `json:"queued"`
	Running  int    `json:"running"`
	Capacity int    `json:"capacity"`
}

// Pool runs jobs on a fixed number of workers with FIFO admission,
// exponential-backoff retries and an exactly-once completion callback.
// A retrying job keeps its worker slot while it waits.
type Pool struct {
	opts Options

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*entry
	entries map[string]*entry
	running int
	closed  bool
	started bool

	baseCtx   context.Context
	cancelAll context.CancelFunc
	workers   sync.WaitGroup
	inflight  sync.WaitGroup
}

// New creates a pool. Call Start before submitting work.
func New(opts Options) *Pool {
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.MaxParallelism <= 0 {
		opts.MaxParallelism = 10
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	opts.Retry = opts.Retry.normalize()
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.OnComplete == nil {
		opts.OnComplete = func(context.Context, Job, Outcome) error { return nil }
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		opts:      opts,
		entries:   make(map[string]*entry),
		baseCtx:   ctx,
		cancelAll: cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.opts.MaxParallelism; i++ {
		p.workers.Add(1)
		go p.worker()
	}
}

// Submit enqueues job. It fails with ErrDuplicate while a job with the same
// key is queued, running or completing, and with ErrClosed after Shutdown.
func (p *Pool) Submit(ctx context.Context, job Job) (*Ticket, error) {
	if job.Key == "" {
		return nil, errors.New("job key is required")
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	e := &entry{job: job, ticket: &Ticket{done: make(chan struct{})}}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := p.entries[job.Key]; exists {
		p.mu.Unlock()
		return nil, ErrDuplicate
	}
	p.entries[job.Key] = e
	p.queue = append(p.queue, e)
	p.inflight.Add(1)
	queued, running := len(p.queue), p.running
	p.cond.Signal()
	p.mu.Unlock()

	metrics.SetPoolGauges(p.opts.Name, queued, running)
	p.record(ctx, job, StatusQueued, 0, nil, "")
	telemetry.Info("job.enqueued", map[string]any{
		"pool":       p.opts.Name,
		"key":        job.Key,
		"request_id": job.RequestID,
		"queued":     queued,
	})
	return e.ticket, nil
}

// Cancel withdraws the job for key. A queued job leaves the queue; a running
// job has its context canceled. Either way the callback receives a canceled
// outcome unless the job already succeeded or failed. It reports whether the
// pool held a job for key.
func (p *Pool) Cancel(key string) bool {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		p.mu.Unlock()
		return false
	}
	if e.canceled || e.state == entryCompleting {
		p.mu.Unlock()
		return true
	}
	e.canceled = true
	if e.state == entryRunning {
		e.cancel()
		p.mu.Unlock()
		return true
	}
	p.removeQueuedLocked(e)
	e.state = entryCompleting
	queued, running := len(p.queue), p.running
	p.mu.Unlock()

	metrics.SetPoolGauges(p.opts.Name, queued, running)
	go p.complete(e, Outcome{Kind: OutcomeCanceled, Err: "canceled"}, time.Now())
	return true
}

// Stats returns current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Name: p.opts.Name, Queued: len(p.queue), Running: p.running, Capacity: p.opts.MaxParallelism}
}

// Shutdown stops admission and drops queued jobs. Running jobs may finish
// until ctx is done; whatever is still in flight then is abandoned without a
// callback. Abandoned tickets resolve with ErrShutdown.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	dropped := p.queue
	p.queue = nil
	for _, e := range dropped {
		delete(p.entries, e.job.Key)
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, e := range dropped {
		p.abandon(e)
	}

	drained := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
	}
	p.cancelAll()
	<-drained
	p.workers.Wait()
	telemetry.Info("pool.shutdown", map[string]any{"pool": p.opts.Name, "dropped": len(dropped)})
	return err
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for {
		e, ctx := p.next()
		if e == nil {
			return
		}
		p.process(ctx, e)
		e.cancel()

		p.mu.Lock()
		p.running--
		queued, running := len(p.queue), p.running
		p.mu.Unlock()
		metrics.SetPoolGauges(p.opts.Name, queued, running)
	}
}

// next blocks until a job is available or the pool closes.
func (p *Pool) next() (*entry, context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return nil, nil
	}
	e := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	ctx, cancel := context.WithCancel(p.baseCtx)
	e.cancel = cancel
	e.state = entryRunning
	e.started = time.Now()
	p.running++
	metrics.SetPoolGauges(p.opts.Name, len(p.queue), p.running)
	return e, ctx
}

// process runs the attempt loop and then the completion callback. The worker
// slot stays held for both.
func (p *Pool) process(ctx context.Context, e *entry) {
	job := e.job
	maxAttempts := p.opts.Retry.MaxAttempts
	var outcome Outcome

	for attempt := 1; ; attempt++ {
		p.record(ctx, job, StatusRunning, attempt, nil, "")
		value, err := p.opts.Run(ctx, job, attempt)
		if err == nil {
			outcome = Outcome{Kind: OutcomeSuccess, Value: value, Attempts: attempt}
			break
		}
		if ctx.Err() != nil {
			if !p.wasCanceled(e) {
				p.abandon(e)
				return
			}
			outcome = Outcome{Kind: OutcomeCanceled, Err: "canceled", Attempts: attempt}
			break
		}
		if IsPermanent(err) || attempt >= maxAttempts {
			outcome = Outcome{Kind: OutcomeFailed, Err: err.Error(), Attempts: attempt}
			break
		}

		delay := p.opts.Retry.Backoff(attempt)
		next := time.Now().Add(delay).UTC()
		metrics.IncJobRetry(p.opts.Name)
		p.record(ctx, job, StatusRetrying, attempt, &next, err.Error())
		telemetry.Warn("job.retry", map[string]any{
			"pool":       p.opts.Name,
			"key":        job.Key,
			"request_id": job.RequestID,
			"attempt":    attempt,
			"backoff_ms": delay.Milliseconds(),
			"error":      err,
		})
		if err := p.opts.Sleep(ctx, delay); err != nil {
			if !p.wasCanceled(e) {
				p.abandon(e)
				return
			}
			outcome = Outcome{Kind: OutcomeCanceled, Err: "canceled", Attempts: attempt}
			break
		}
	}

	p.mu.Lock()
	e.state = entryCompleting
	p.mu.Unlock()
	p.complete(e, outcome, e.started)
}

func (p *Pool) wasCanceled(e *entry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return e.canceled
}

// complete delivers outcome to the callback, retrying it with the job retry
// policy until it succeeds or the pool is torn down.
func (p *Pool) complete(e *entry, outcome Outcome, started time.Time) {
	job := e.job
	elapsed := time.Since(started)
	metrics.ObserveJobOutcome(p.opts.Name, string(outcome.Kind), elapsed, outcome.Attempts)
	p.record(p.baseCtx, job, statusFor(outcome.Kind), outcome.Attempts, nil, outcome.Err)

	var lastErr error
	for attempt := 1; attempt <= p.opts.Retry.MaxAttempts; attempt++ {
		if p.baseCtx.Err() != nil {
			p.abandon(e)
			return
		}
		lastErr = p.opts.OnComplete(p.baseCtx, job, outcome)
		if lastErr == nil {
			break
		}
		telemetry.Warn("job.callback_failed", map[string]any{
			"pool":    p.opts.Name,
			"key":     job.Key,
			"attempt": attempt,
			"error":   lastErr,
		})
		if attempt == p.opts.Retry.MaxAttempts {
			break
		}
		if err := p.opts.Sleep(p.baseCtx, p.opts.Retry.Backoff(attempt)); err != nil {
			p.abandon(e)
			return
		}
	}

	fields := map[string]any{
		"pool":        p.opts.Name,
		"key":         job.Key,
		"request_id":  job.RequestID,
		"outcome":     string(outcome.Kind),
		"attempts":    outcome.Attempts,
		"duration_ms": elapsed.Milliseconds(),
	}
	if outcome.Err != "" {
		fields["error"] = outcome.Err
	}
	if lastErr != nil {
		fields["callback_error"] = lastErr
		telemetry.Error("job.completed", fields)
	} else {
		telemetry.Info("job.completed", fields)
	}
	e.ticket.outcome = outcome
	e.ticket.err = lastErr
	p.finish(e)
}

// abandon resolves a job without invoking the callback.
func (p *Pool) abandon(e *entry) {
	telemetry.Warn("job.abandoned", map[string]any{
		"pool":       p.opts.Name,
		"key":        e.job.Key,
		"request_id": e.job.RequestID,
	})
	e.ticket.err = ErrShutdown
	p.finish(e)
}

func (p *Pool) finish(e *entry) {
	p.mu.Lock()
	if cur, ok := p.entries[e.job.Key]; ok && cur == e {
		delete(p.entries, e.job.Key)
	}
	p.mu.Unlock()
	close(e.ticket.done)
	p.inflight.Done()
}

func (p *Pool) removeQueuedLocked(e *entry) {
	for i, q := range p.queue {
		if q == e {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return
		}
	}
}

func (p *Pool) record(ctx context.Context, job Job, status Status, attempt int, next *time.Time, lastErr string) {
	if p.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	st := State{
		Pool:          p.opts.Name,
		Key:           job.Key,
		RequestID:     job.RequestID,
		Status:        status,
		Attempt:       attempt,
		MaxAttempts:   p.opts.Retry.MaxAttempts,
		NextAttemptAt: next,
		LastError:     lastErr,
		EnqueuedAt:    job.EnqueuedAt,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := p.opts.Store.Put(ctx, st); err != nil {
		telemetry.Warn("job.state_write_failed", map[string]any{
			"pool":   p.opts.Name,
			"key":    job.Key,
			"status": string(status),
			"error":  err,
		})
	}
}

// JobState returns the recorded state for key, if a Store is configured.
func (p *Pool) JobState(ctx context.Context, key string) (State, error) {
	if p.opts.Store == nil {
		return State{}, ErrStateNotFound
	}
	return p.opts.Store.Get(ctx, p.opts.Name, key)
}

func statusFor(kind OutcomeKind) Status {
	switch kind {
	case OutcomeSuccess:
		return StatusSucceeded
	case OutcomeCanceled:
		return StatusCanceled
	default:
		return StatusFailed
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
