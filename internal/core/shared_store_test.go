package core

import (
	"context"
	"errors"
	"testing"

	"housingcore/internal/blob"
	"housingcore/internal/infra/persistence/blobrepo"
	"housingcore/internal/infra/persistence/memory"
	"housingcore/pkg/domain"
)

// interleavedRepo runs between once, right after the next Load returns, to
// let another process commit while the caller is deciding.
type interleavedRepo struct {
	domain.Repository
	between func()
}

func (r *interleavedRepo) Load(ctx context.Context) (domain.Snapshot, error) {
	snap, err := r.Repository.Load(ctx)
	if fn := r.between; fn != nil {
		r.between = nil
		fn()
	}
	return snap, err
}

func TestReconcileKeepsCheckInCommittedByAnotherProcess(t *testing.T) {
	ctx := context.Background()
	shared := blobrepo.New(blob.NewMemory(), blobrepo.Options{})
	cli := NewService(shared, WithClock(steppingClock()))
	if _, err := cli.Seed(ctx, campus()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// room 2 is empty but flagged occupied, so reconcile has a repair to write
	state := loadState(t, cli)
	state.FindRoom(2).Available = false
	if err := domain.SaveState(ctx, shared, state, domain.BucketRooms); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	var ana domain.Tenant
	daemonRepo := &interleavedRepo{Repository: shared, between: func() {
		var err error
		if ana, err = cli.CheckIn(ctx, renter("Ana", 7)); err != nil {
			t.Fatalf("cli check-in: %v", err)
		}
	}}
	daemon := NewService(daemonRepo, WithClock(steppingClock()))

	_, err := daemon.Reconcile(ctx)
	var se *domain.StorageError
	if !errors.As(err, &se) || se.Op != "commit" || !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected commit StorageError wrapping a version conflict, got %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Fatalf("a lost version race should be retryable")
	}

	after := loadState(t, cli)
	got := after.FindTenant(ana.ID)
	if got == nil || !got.Active() || got.RoomID != 7 {
		t.Fatalf("committed check-in lost: %+v", after.Tenants)
	}
	if room(t, after, 7).Available {
		t.Fatalf("room 7 flag reverted by stale write")
	}

	report, err := daemon.Reconcile(ctx)
	if err != nil {
		t.Fatalf("retry reconcile: %v", err)
	}
	if len(report.RepairedRooms) != 1 || report.RepairedRooms[0] != 2 {
		t.Fatalf("expected room 2 repaired, got %+v", report)
	}
	final := loadState(t, cli)
	if final.FindTenant(ana.ID) == nil {
		t.Fatalf("tenant missing after retry")
	}
	assertConsistent(t, final)
}

func TestCheckInLosesToCheckInFromAnotherProcess(t *testing.T) {
	ctx := context.Background()
	shared := memory.NewRepository()
	cli := NewService(shared, WithClock(steppingClock()))
	if _, err := cli.Seed(ctx, campus()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	daemon := NewService(&interleavedRepo{Repository: shared, between: func() {
		if _, err := cli.CheckIn(ctx, renter("Ana", 7)); err != nil {
			t.Fatalf("cli check-in: %v", err)
		}
	}}, WithClock(steppingClock()))

	_, err := daemon.CheckIn(ctx, renter("Bo", 7))
	if !errors.Is(err, domain.ErrVersionConflict) || domain.ErrorKind(err) != "storage" {
		t.Fatalf("expected storage version conflict, got %v", err)
	}

	state := loadState(t, cli)
	if active := state.ActiveTenantsOf(7); len(active) != 1 || active[0].Name != "Ana" {
		t.Fatalf("expected only Ana in room 7, got %+v", active)
	}
	assertConsistent(t, state)

	// the loser sees the room as occupied on retry
	_, err = daemon.CheckIn(ctx, renter("Bo", 7))
	asConflict(t, err, domain.ReasonRoomOccupied)
}

func TestBatchStopsWhenAnotherProcessCommits(t *testing.T) {
	ctx := context.Background()
	shared := memory.NewRepository()
	cli := NewService(shared, WithClock(steppingClock()))
	if _, err := cli.Seed(ctx, campus()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	daemon := NewService(&interleavedRepo{Repository: shared, between: func() {
		if _, err := cli.CheckOut(ctx, 10); err != nil {
			t.Fatalf("cli check-out: %v", err)
		}
	}}, WithClock(steppingClock()))

	results, err := daemon.BatchCheckIn(ctx, []domain.TenantDraft{renter("A", 2), renter("B", 7)})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	for _, r := range results {
		if r.Status != domain.BatchError {
			t.Fatalf("entry %d should fail after the lost race: %+v", r.Index, r)
		}
	}
	state := loadState(t, cli)
	if t10 := state.FindTenant(10); t10 == nil || t10.Active() {
		t.Fatalf("other process's check-out lost: %+v", t10)
	}
	if len(state.ActiveTenantsOf(2)) != 0 {
		t.Fatalf("stale batch entry committed")
	}
	assertConsistent(t, state)
}
