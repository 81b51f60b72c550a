// Package breaker guards a domain.Repository with a circuit breaker.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"housingcore/pkg/domain"
)

var _ domain.Repository = (*Repository)(nil)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = gobreaker.ErrOpenState

// Settings tunes the breaker. Zero values take the defaults.
type Settings struct {
	Name          string
	Timeout       time.Duration
	OnStateChange func(name string, from, to gobreaker.State)
}

// Repository forwards to an inner repository through a gobreaker.
// Three consecutive failures open the circuit.
type Repository struct {
	inner domain.Repository
	cb    *gobreaker.CircuitBreaker
}

// New wraps inner.
func New(inner domain.Repository, s Settings) *Repository {
	if s.Name == "" {
		s.Name = "housing-repository"
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	return &Repository{
		inner: inner,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        s.Name,
			MaxRequests: 3,
			Interval:    10 * time.Second,
			Timeout:     s.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			// cancellation and lost version races are not backend faults
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrVersionConflict)
			},
			OnStateChange: s.OnStateChange,
		}),
	}
}

// Get reads through the breaker.
func (r *Repository) Get(ctx context.Context, bucket domain.Bucket) ([]byte, error) {
	out, err := r.cb.Execute(func() (interface{}, error) {
		return r.inner.Get(ctx, bucket)
	})
	if err != nil {
		return nil, err
	}
	payload, _ := out.([]byte)
	return payload, nil
}

// Put writes through the breaker.
func (r *Repository) Put(ctx context.Context, payloads map[domain.Bucket][]byte) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.inner.Put(ctx, payloads)
	})
	return err
}

// Load reads a snapshot through the breaker.
func (r *Repository) Load(ctx context.Context) (domain.Snapshot, error) {
	out, err := r.cb.Execute(func() (interface{}, error) {
		return r.inner.Load(ctx)
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap, _ := out.(domain.Snapshot)
	return snap, nil
}

// PutIf writes conditionally through the breaker.
func (r *Repository) PutIf(ctx context.Context, expected uint64, payloads map[domain.Bucket][]byte) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.inner.PutIf(ctx, expected, payloads)
	})
	return err
}

// State reports the breaker state.
func (r *Repository) State() gobreaker.State { return r.cb.State() }

// Unwrap returns the guarded repository.
func (r *Repository) Unwrap() domain.Repository { return r.inner }
