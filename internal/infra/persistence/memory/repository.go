// Package memory provides an in-memory domain.Repository used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"housingcore/pkg/domain"
)

var _ domain.Repository = (*Repository)(nil)

// Repository keeps bucket payloads in process memory. Payloads are copied on
// the way in and out so callers cannot alias stored state.
type Repository struct {
	mu      sync.RWMutex
	buckets map[domain.Bucket][]byte
	version uint64
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{buckets: make(map[domain.Bucket][]byte)}
}

// Get returns a copy of the payload stored under bucket, or nil.
func (r *Repository) Get(ctx context.Context, bucket domain.Bucket) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	payload, ok := r.buckets[bucket]
	if !ok {
		return nil, nil
	}
	return clonePayload(payload), nil
}

// Put replaces every named bucket under one lock.
func (r *Repository) Put(ctx context.Context, payloads map[domain.Bucket][]byte) error {
	return r.put(ctx, nil, payloads)
}

// PutIf replaces the named buckets when the version still equals expected.
func (r *Repository) PutIf(ctx context.Context, expected uint64, payloads map[domain.Bucket][]byte) error {
	return r.put(ctx, &expected, payloads)
}

func (r *Repository) put(ctx context.Context, expected *uint64, payloads map[domain.Bucket][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	staged := make(map[domain.Bucket][]byte, len(payloads))
	for bucket, payload := range payloads {
		staged[bucket] = clonePayload(payload)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if expected != nil && *expected != r.version {
		return fmt.Errorf("memory at version %d, expected %d: %w", r.version, *expected, domain.ErrVersionConflict)
	}
	for bucket, payload := range staged {
		r.buckets[bucket] = payload
	}
	r.version++
	return nil
}

// Load copies every bucket and the current version under one read lock.
func (r *Repository) Load(ctx context.Context) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.Bucket][]byte, len(r.buckets))
	for bucket, payload := range r.buckets {
		out[bucket] = clonePayload(payload)
	}
	return domain.Snapshot{Version: r.version, Payloads: out}, nil
}

// Buckets lists the buckets written so far.
func (r *Repository) Buckets() []domain.Bucket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Bucket, 0, len(r.buckets))
	for _, b := range domain.Buckets {
		if _, ok := r.buckets[b]; ok {
			out = append(out, b)
		}
	}
	return out
}

func clonePayload(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
