package memory

import (
	"context"
	"errors"
	"testing"

	"housingcore/pkg/domain"
)

func TestGetMissingBucketReturnsNil(t *testing.T) {
	repo := NewRepository()
	payload, err := repo.Get(context.Background(), domain.BucketRooms)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if payload != nil {
		t.Fatalf("expected nil payload, got %q", payload)
	}
}

func TestPutCopiesPayloads(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	in := []byte(`[{"id":1}]`)
	if err := repo.Put(ctx, map[domain.Bucket][]byte{domain.BucketRooms: in}); err != nil {
		t.Fatalf("put: %v", err)
	}
	in[0] = 'X'

	out, err := repo.Get(ctx, domain.BucketRooms)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(out) != `[{"id":1}]` {
		t.Fatalf("stored payload aliased caller slice: %q", out)
	}
	out[0] = 'Y'
	again, _ := repo.Get(ctx, domain.BucketRooms)
	if string(again) != `[{"id":1}]` {
		t.Fatalf("returned payload aliased stored slice: %q", again)
	}
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	state := domain.State{
		Buildings: []domain.Building{{ID: 1, BuildingNumber: "A", HasAvailableRoom: true}},
		Rooms:     []domain.Room{{ID: 2, BuildingID: 1, RoomNumber: "101", Available: true}},
	}
	if err := domain.SaveState(ctx, repo, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := domain.LoadState(ctx, repo)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Buildings) != 1 || len(loaded.Rooms) != 1 || len(loaded.Tenants) != 0 {
		t.Fatalf("unexpected state: %+v", loaded)
	}
	if got := repo.Buckets(); len(got) != 3 {
		t.Fatalf("expected all buckets written, got %v", got)
	}
}

func TestPutIfChecksVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	rooms := map[domain.Bucket][]byte{domain.BucketRooms: []byte(`[{"id":1}]`)}

	if err := repo.PutIf(ctx, 0, rooms); err != nil {
		t.Fatalf("put at version 0: %v", err)
	}
	if err := repo.Put(ctx, map[domain.Bucket][]byte{domain.BucketTenants: []byte(`[]`)}); err != nil {
		t.Fatalf("unconditional put: %v", err)
	}
	snap, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Version != 2 || len(snap.Payloads) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	err = repo.PutIf(ctx, 1, map[domain.Bucket][]byte{domain.BucketRooms: []byte(`[]`)})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	got, _ := repo.Get(ctx, domain.BucketRooms)
	if string(got) != `[{"id":1}]` {
		t.Fatalf("conflicting write leaked: %s", got)
	}
	snap.Payloads[domain.BucketRooms][0] = 'X'
	again, _ := repo.Get(ctx, domain.BucketRooms)
	if string(again) != `[{"id":1}]` {
		t.Fatalf("snapshot aliased stored slice: %s", again)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := NewRepository()
	if err := repo.Put(ctx, map[domain.Bucket][]byte{domain.BucketRooms: []byte("[]")}); err == nil {
		t.Fatalf("expected put to fail on cancelled context")
	}
	if _, err := repo.Get(ctx, domain.BucketRooms); err == nil {
		t.Fatalf("expected get to fail on cancelled context")
	}
	if _, err := repo.Load(ctx); err == nil {
		t.Fatalf("expected load to fail on cancelled context")
	}
}
