package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"housingcore/internal/infra/persistence/memory"
	"housingcore/pkg/domain"
)

type flakyRepo struct {
	domain.Repository
	fail  bool
	calls int
}

func (f *flakyRepo) Get(ctx context.Context, b domain.Bucket) ([]byte, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("connection refused")
	}
	return f.Repository.Get(ctx, b)
}

func (f *flakyRepo) Put(ctx context.Context, p map[domain.Bucket][]byte) error {
	f.calls++
	if f.fail {
		return errors.New("connection refused")
	}
	return f.Repository.Put(ctx, p)
}

func TestPassesThroughWhenHealthy(t *testing.T) {
	ctx := context.Background()
	repo := New(memory.NewRepository(), Settings{})

	require.NoError(t, repo.Put(ctx, map[domain.Bucket][]byte{domain.BucketRooms: []byte(`[]`)}))
	payload, err := repo.Get(ctx, domain.BucketRooms)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(payload))

	missing, err := repo.Get(ctx, domain.BucketTenants)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, gobreaker.StateClosed, repo.State())
}

func TestOpensAfterThreeConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	inner := &flakyRepo{Repository: memory.NewRepository(), fail: true}
	var transitions []gobreaker.State
	repo := New(inner, Settings{
		Timeout: time.Hour,
		OnStateChange: func(_ string, _, to gobreaker.State) {
			transitions = append(transitions, to)
		},
	})

	for i := 0; i < 3; i++ {
		_, err := repo.Get(ctx, domain.BucketRooms)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrOpen)
	}
	assert.Equal(t, gobreaker.StateOpen, repo.State())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	err := repo.Put(ctx, map[domain.Bucket][]byte{domain.BucketRooms: []byte(`[]`)})
	require.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 3, inner.calls, "open breaker must not reach the backend")
}

func TestVersionConflictsDoNotTrip(t *testing.T) {
	ctx := context.Background()
	repo := New(memory.NewRepository(), Settings{})
	require.NoError(t, repo.PutIf(ctx, 0, map[domain.Bucket][]byte{domain.BucketRooms: []byte(`[]`)}))

	for i := 0; i < 5; i++ {
		err := repo.PutIf(ctx, 0, map[domain.Bucket][]byte{domain.BucketRooms: []byte(`[{"id":1}]`)})
		require.ErrorIs(t, err, domain.ErrVersionConflict)
	}
	assert.Equal(t, gobreaker.StateClosed, repo.State())

	snap, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, `[]`, string(snap.Payloads[domain.BucketRooms]))
}

func TestCancellationDoesNotTrip(t *testing.T) {
	inner := &cancelRepo{}
	repo := New(inner, Settings{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		_, err := repo.Get(ctx, domain.BucketRooms)
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, repo.State())
}

type cancelRepo struct{}

func (cancelRepo) Get(ctx context.Context, _ domain.Bucket) ([]byte, error) { return nil, ctx.Err() }
func (cancelRepo) Put(ctx context.Context, _ map[domain.Bucket][]byte) error { return ctx.Err() }
func (cancelRepo) Load(ctx context.Context) (domain.Snapshot, error) { return domain.Snapshot{}, ctx.Err() }
func (cancelRepo) PutIf(ctx context.Context, _ uint64, _ map[domain.Bucket][]byte) error {
	return ctx.Err()
}
