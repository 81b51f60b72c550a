package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Bucket names one persisted entity collection.
type Bucket string

// Persisted collections.
const (
	BucketBuildings Bucket = "buildings"
	BucketRooms     Bucket = "rooms"
	BucketTenants   Bucket = "tenants"
)

// Buckets lists every collection in a stable order.
var Buckets = []Bucket{BucketBuildings, BucketRooms, BucketTenants}

// ErrVersionConflict is returned by PutIf when the store was written after the
// caller's Load.
var ErrVersionConflict = errors.New("repository version conflict")

// Snapshot is every bucket read at a single version. Version 0 means the
// store was never written.
type Snapshot struct {
	Version  uint64
	Payloads map[Bucket][]byte
}

// Repository is a key-value store of entity collections. Implementations hold
// no business logic. Every successful write advances the store version by one.
type Repository interface {
	// Get returns the payload stored under bucket, or nil when it was never written.
	Get(ctx context.Context, bucket Bucket) ([]byte, error)
	// Put replaces every named bucket with its payload. All buckets are written
	// or none are.
	Put(ctx context.Context, payloads map[Bucket][]byte) error
	// Load reads every bucket and the version they belong to in one consistent read.
	Load(ctx context.Context) (Snapshot, error)
	// PutIf behaves like Put but only while the store is still at version
	// expected. Otherwise it writes nothing and returns an error wrapping
	// ErrVersionConflict.
	PutIf(ctx context.Context, expected uint64, payloads map[Bucket][]byte) error
}

// GetBuildings reads the building collection.
func GetBuildings(ctx context.Context, repo Repository) ([]Building, error) {
	var out []Building
	if err := getCollection(ctx, repo, BucketBuildings, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRooms reads the room collection.
func GetRooms(ctx context.Context, repo Repository) ([]Room, error) {
	var out []Room
	if err := getCollection(ctx, repo, BucketRooms, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTenants reads the tenant collection.
func GetTenants(ctx context.Context, repo Repository) ([]Tenant, error) {
	var out []Tenant
	if err := getCollection(ctx, repo, BucketTenants, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func getCollection(ctx context.Context, repo Repository, bucket Bucket, target any) error {
	payload, err := repo.Get(ctx, bucket)
	if err != nil {
		return fmt.Errorf("get %s: %w", bucket, err)
	}
	return decodeBucket(bucket, payload, target)
}

func decodeBucket(bucket Bucket, payload []byte, target any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

// LoadState reads all three collections from one snapshot.
func LoadState(ctx context.Context, repo Repository) (State, error) {
	state, _, err := LoadVersionedState(ctx, repo)
	return state, err
}

// LoadVersionedState reads all three collections from one snapshot and
// returns the version to pass to SaveStateIf.
func LoadVersionedState(ctx context.Context, repo Repository) (State, uint64, error) {
	snap, err := repo.Load(ctx)
	if err != nil {
		return State{}, 0, fmt.Errorf("load snapshot: %w", err)
	}
	var state State
	if err := decodeBucket(BucketBuildings, snap.Payloads[BucketBuildings], &state.Buildings); err != nil {
		return State{}, 0, err
	}
	if err := decodeBucket(BucketRooms, snap.Payloads[BucketRooms], &state.Rooms); err != nil {
		return State{}, 0, err
	}
	if err := decodeBucket(BucketTenants, snap.Payloads[BucketTenants], &state.Tenants); err != nil {
		return State{}, 0, err
	}
	return state, snap.Version, nil
}

// EncodeState serializes the named buckets of state. All buckets are encoded
// when none are named.
func EncodeState(state State, buckets ...Bucket) (map[Bucket][]byte, error) {
	if len(buckets) == 0 {
		buckets = Buckets
	}
	out := make(map[Bucket][]byte, len(buckets))
	for _, bucket := range buckets {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case BucketBuildings:
			data, err = json.Marshal(nonNil(state.Buildings))
		case BucketRooms:
			data, err = json.Marshal(nonNil(state.Rooms))
		case BucketTenants:
			data, err = json.Marshal(nonNil(state.Tenants))
		default:
			return nil, fmt.Errorf("unknown bucket %s", bucket)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// SaveState encodes the named buckets and writes them with a single Put.
func SaveState(ctx context.Context, repo Repository, state State, buckets ...Bucket) error {
	payloads, err := EncodeState(state, buckets...)
	if err != nil {
		return err
	}
	return repo.Put(ctx, payloads)
}

// SaveStateIf is SaveState guarded by the version returned from
// LoadVersionedState.
func SaveStateIf(ctx context.Context, repo Repository, version uint64, state State, buckets ...Bucket) error {
	payloads, err := EncodeState(state, buckets...)
	if err != nil {
		return err
	}
	return repo.PutIf(ctx, version, payloads)
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
