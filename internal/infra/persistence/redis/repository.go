// Package redis stores housing collections as one redis string per bucket.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"housingcore/pkg/domain"
)

var _ domain.Repository = (*Repository)(nil)

// Client is the subset of the go-redis client used by the repository.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	MGet(ctx context.Context, keys ...string) *goredis.SliceCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
	Ping(ctx context.Context) *goredis.StatusCmd
}

// VersionKey is appended to the prefix to name the version counter.
const VersionKey = "_version"

// putScript checks the version counter in KEYS[1] against ARGV[1] (skipped
// when empty), sets KEYS[i] to ARGV[i] for the rest, and increments the
// counter. It returns the new version or -1 on a mismatch. Redis runs scripts
// atomically.
const putScript = `
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if ARGV[1] ~= '' and current ~= tonumber(ARGV[1]) then
  return -1
end
for i = 2, #KEYS do
  redis.call('SET', KEYS[i], ARGV[i])
end
return redis.call('INCR', KEYS[1])
`

// Options configures Open.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Repository is a domain.Repository backed by redis. Writes go through one
// Lua script so the version check and every bucket SET apply atomically.
type Repository struct {
	client Client
	prefix string
	closer func() error
}

// Open dials redis and verifies the connection with PING.
func Open(ctx context.Context, opts Options) (*Repository, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	repo := New(client, opts.Prefix)
	repo.closer = client.Close
	return repo, nil
}

// New wraps an existing client. Keys are prefix + bucket name.
func New(client Client, prefix string) *Repository {
	return &Repository{client: client, prefix: prefix}
}

// Get returns the payload stored under bucket, or nil when the key is absent.
func (r *Repository) Get(ctx context.Context, bucket domain.Bucket) ([]byte, error) {
	payload, err := r.client.Get(ctx, r.key(bucket)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", bucket, err)
	}
	return payload, nil
}

// Load reads the version counter and every bucket with one MGET.
func (r *Repository) Load(ctx context.Context) (domain.Snapshot, error) {
	keys := make([]string, 0, len(domain.Buckets)+1)
	keys = append(keys, r.prefix+VersionKey)
	for _, b := range domain.Buckets {
		keys = append(keys, r.key(b))
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("mget: %w", err)
	}
	if len(vals) != len(keys) {
		return domain.Snapshot{}, fmt.Errorf("mget returned %d values for %d keys", len(vals), len(keys))
	}
	snap := domain.Snapshot{Payloads: make(map[domain.Bucket][]byte)}
	if v, ok := vals[0].(string); ok {
		if snap.Version, err = strconv.ParseUint(v, 10, 64); err != nil {
			return domain.Snapshot{}, fmt.Errorf("parse version %q: %w", v, err)
		}
	}
	for i, b := range domain.Buckets {
		if v, ok := vals[i+1].(string); ok {
			snap.Payloads[b] = []byte(v)
		}
	}
	return snap, nil
}

// Put replaces every named bucket in one atomic script call.
func (r *Repository) Put(ctx context.Context, payloads map[domain.Bucket][]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	return r.put(ctx, "", payloads)
}

// PutIf replaces the named buckets when the version counter equals expected.
func (r *Repository) PutIf(ctx context.Context, expected uint64, payloads map[domain.Bucket][]byte) error {
	return r.put(ctx, strconv.FormatUint(expected, 10), payloads)
}

func (r *Repository) put(ctx context.Context, expected string, payloads map[domain.Bucket][]byte) error {
	buckets := make([]string, 0, len(payloads))
	for b := range payloads {
		buckets = append(buckets, string(b))
	}
	sort.Strings(buckets)
	keys := make([]string, 0, len(buckets)+1)
	args := make([]interface{}, 0, len(buckets)+1)
	keys = append(keys, r.prefix+VersionKey)
	args = append(args, expected)
	for _, b := range buckets {
		keys = append(keys, r.key(domain.Bucket(b)))
		args = append(args, payloads[domain.Bucket(b)])
	}
	version, err := r.client.Eval(ctx, putScript, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("eval put: %w", err)
	}
	if version < 0 {
		return fmt.Errorf("redis state moved past version %s: %w", expected, domain.ErrVersionConflict)
	}
	return nil
}

// Close closes the client when the repository opened it.
func (r *Repository) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

func (r *Repository) key(bucket domain.Bucket) string {
	return r.prefix + string(bucket)
}
