// Package blobrepo persists housing collections as immutable snapshot
// generations on a blob store.
package blobrepo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"housingcore/internal/blob"
	"housingcore/pkg/domain"
)

var _ domain.Repository = (*Repository)(nil)

const (
	defaultPrefix = "housing/state/"
	defaultKeep   = 5
	seqWidth      = 20
)

// ErrConcurrentWrite reports that another writer created the same generation
// between this writer's read of the newest one and its own create.
var ErrConcurrentWrite = fmt.Errorf("blobrepo: concurrent snapshot write: %w", domain.ErrVersionConflict)

// Options configures a Repository.
type Options struct {
	Prefix string
	Keep   int
}

// Repository stores every Put as a new object <prefix><seq>.json holding all
// buckets. The sequence number is the store version. Get and Load read the
// newest generation. PutIf refuses to write unless the newest generation is
// still the one the caller loaded, and objects are create-only, so two writers
// racing for one sequence number cannot both win.
type Repository struct {
	store  blob.Store
	prefix string
	keep   int
	mu     sync.Mutex
}

// snapshot is the on-blob document.
type snapshot struct {
	Sequence uint64                     `json:"sequence"`
	Buckets  map[string]json.RawMessage `json:"buckets"`
}

// New wraps store. Missing options fall back to defaults.
func New(store blob.Store, opts Options) *Repository {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	keep := opts.Keep
	if keep < 1 {
		keep = defaultKeep
	}
	return &Repository{store: store, prefix: prefix, keep: keep}
}

// Get returns the bucket payload from the newest generation.
func (r *Repository) Get(ctx context.Context, bucket domain.Bucket) ([]byte, error) {
	snap, err := r.latest(ctx)
	if err != nil {
		return nil, err
	}
	payload, ok := snap.Buckets[string(bucket)]
	if !ok {
		return nil, nil
	}
	return []byte(payload), nil
}

// Load returns every bucket of the newest generation with its sequence.
func (r *Repository) Load(ctx context.Context) (domain.Snapshot, error) {
	snap, err := r.latest(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	out := domain.Snapshot{Version: snap.Sequence, Payloads: make(map[domain.Bucket][]byte, len(snap.Buckets))}
	for k, v := range snap.Buckets {
		out.Payloads[domain.Bucket(k)] = []byte(v)
	}
	return out, nil
}

// Put merges payloads over the newest generation and writes the next one.
func (r *Repository) Put(ctx context.Context, payloads map[domain.Bucket][]byte) error {
	return r.put(ctx, nil, payloads)
}

// PutIf is Put that fails with domain.ErrVersionConflict when the newest
// generation is no longer expected.
func (r *Repository) PutIf(ctx context.Context, expected uint64, payloads map[domain.Bucket][]byte) error {
	return r.put(ctx, &expected, payloads)
}

func (r *Repository) put(ctx context.Context, expected *uint64, payloads map[domain.Bucket][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.latest(ctx)
	if err != nil {
		return err
	}
	if expected != nil && snap.Sequence != *expected {
		return fmt.Errorf("blobrepo: newest generation is %d, expected %d: %w", snap.Sequence, *expected, domain.ErrVersionConflict)
	}
	next := snapshot{Sequence: snap.Sequence + 1, Buckets: make(map[string]json.RawMessage, len(snap.Buckets)+len(payloads))}
	for k, v := range snap.Buckets {
		next.Buckets[k] = v
	}
	for bucket, payload := range payloads {
		if !json.Valid(payload) {
			return fmt.Errorf("bucket %s payload is not valid JSON", bucket)
		}
		next.Buckets[string(bucket)] = json.RawMessage(payload)
	}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = r.store.Put(ctx, r.keyFor(next.Sequence), bytes.NewReader(data), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"sequence": strconv.FormatUint(next.Sequence, 10)},
	})
	if errors.Is(err, blob.ErrExists) {
		return fmt.Errorf("%w: generation %d", ErrConcurrentWrite, next.Sequence)
	}
	if err != nil {
		return fmt.Errorf("write generation %d: %w", next.Sequence, err)
	}
	return r.prune(ctx)
}

// Generations lists the retained snapshot keys, oldest first.
func (r *Repository) Generations(ctx context.Context) ([]string, error) {
	infos, err := r.list(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	return keys, nil
}

func (r *Repository) latest(ctx context.Context) (snapshot, error) {
	infos, err := r.list(ctx)
	if err != nil {
		return snapshot{}, err
	}
	if len(infos) == 0 {
		return snapshot{}, nil
	}
	key := infos[len(infos)-1].Key
	_, rc, err := r.store.Get(ctx, key)
	if err != nil {
		return snapshot{}, fmt.Errorf("read %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return snapshot{}, fmt.Errorf("read %s: %w", key, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return snapshot{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return snap, nil
}

// list returns generation objects ordered by sequence. Keys are zero-padded
// so lexical order is numeric order.
func (r *Repository) list(ctx context.Context) ([]blob.Info, error) {
	infos, err := r.store.List(ctx, r.prefix)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	out := infos[:0]
	for _, info := range infos {
		if _, ok := r.sequenceOf(info.Key); ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (r *Repository) prune(ctx context.Context) error {
	infos, err := r.list(ctx)
	if err != nil {
		return err
	}
	for len(infos) > r.keep {
		if _, err := r.store.Delete(ctx, infos[0].Key); err != nil {
			return fmt.Errorf("prune %s: %w", infos[0].Key, err)
		}
		infos = infos[1:]
	}
	return nil
}

func (r *Repository) keyFor(seq uint64) string {
	return fmt.Sprintf("%s%0*d.json", r.prefix, seqWidth, seq)
}

func (r *Repository) sequenceOf(key string) (uint64, bool) {
	name := strings.TrimPrefix(key, r.prefix)
	if name == key && r.prefix != "" {
		return 0, false
	}
	digits, ok := strings.CutSuffix(name, ".json")
	if !ok || len(digits) != seqWidth {
		return 0, false
	}
	seq, err := strconv.ParseUint(digits, 10, 64)
	return seq, err == nil
}
