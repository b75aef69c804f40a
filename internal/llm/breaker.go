package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"healthrecords-backend/internal/shared/metrics"
	"healthrecords-backend/internal/shared/telemetry"
)

// BreakerOptions tunes the circuit breaker around a provider.
type BreakerOptions struct {
	Name                string
	ConsecutiveFailures uint32
	Cooldown            time.Duration
}

// Breaker guards a Provider with one circuit breaker per operation. Rejected
// requests and caller cancellations do not count as provider failures.
type Breaker struct {
	next     Provider
	classify *gobreaker.CircuitBreaker[json.RawMessage]
	chat     *gobreaker.CircuitBreaker[string]
}

// NewBreaker wraps next.
func NewBreaker(next Provider, opts BreakerOptions) *Breaker {
	if opts.Name == "" {
		opts.Name = "llm"
	}
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	return &Breaker{
		next:     next,
		classify: gobreaker.NewCircuitBreaker[json.RawMessage](breakerSettings(opts.Name+".classify", opts)),
		chat:     gobreaker.NewCircuitBreaker[string](breakerSettings(opts.Name+".chat", opts)),
	}
}

func breakerSettings(name string, opts BreakerOptions) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     opts.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsRejected(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.SetBreakerState(name, int(to))
			telemetry.Warn("llm.breaker.state", map[string]any{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
		},
	}
}

func (b *Breaker) Classify(ctx context.Context, req ClassifyRequest) (json.RawMessage, error) {
	return b.classify.Execute(func() (json.RawMessage, error) {
		return b.next.Classify(ctx, req)
	})
}

func (b *Breaker) Reply(ctx context.Context, instructions string, history []ChatMessage) (string, error) {
	return b.chat.Execute(func() (string, error) {
		return b.next.Reply(ctx, instructions, history)
	})
}

// IsCircuitOpen reports whether err came from an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

var _ Provider = (*Breaker)(nil)
