package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"housingcore/internal/infra/persistence/memory"
	"housingcore/pkg/domain"
)

var errDiskFull = errors.New("disk full")

// countingRepo wraps the in-memory repository, counts writes and fails on
// demand.
type countingRepo struct {
	inner *memory.Repository

	mu        sync.Mutex
	puts      int
	failPutAt int // 1-based Put number that fails; 0 never
	failGet   error
}

func newCountingRepo() *countingRepo {
	return &countingRepo{inner: memory.NewRepository()}
}

func (r *countingRepo) Get(ctx context.Context, b domain.Bucket) ([]byte, error) {
	r.mu.Lock()
	err := r.failGet
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.inner.Get(ctx, b)
}

func (r *countingRepo) Put(ctx context.Context, p map[domain.Bucket][]byte) error {
	if err := r.countPut(); err != nil {
		return err
	}
	return r.inner.Put(ctx, p)
}

func (r *countingRepo) Load(ctx context.Context) (domain.Snapshot, error) {
	r.mu.Lock()
	err := r.failGet
	r.mu.Unlock()
	if err != nil {
		return domain.Snapshot{}, err
	}
	return r.inner.Load(ctx)
}

func (r *countingRepo) PutIf(ctx context.Context, expected uint64, p map[domain.Bucket][]byte) error {
	if err := r.countPut(); err != nil {
		return err
	}
	return r.inner.PutIf(ctx, expected, p)
}

func (r *countingRepo) countPut() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puts++
	if r.failPutAt != 0 && r.puts == r.failPutAt {
		return errDiskFull
	}
	return nil
}

func (r *countingRepo) putCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.puts
}

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (l *captureLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, level+":"+msg)
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.record("d", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.record("i", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.record("w", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.record("e", msg) }

func (l *captureLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.calls {
		if c == entry {
			return true
		}
	}
	return false
}

type capturePublisher struct {
	events []domain.OccupancyEvent
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, ev domain.OccupancyEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

type captureMetrics struct {
	ops     []string
	entries []string
}

func (m *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.ops = append(m.ops, fmt.Sprintf("%s:%t", op, success))
}

func (m *captureMetrics) ObserveBatchEntry(_ context.Context, op string, status domain.BatchStatus) {
	m.entries = append(m.entries, op+":"+string(status))
}

var baseTime = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

// steppingClock advances one minute per reading.
func steppingClock() Clock {
	var mu sync.Mutex
	now := baseTime
	return ClockFunc(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	})
}

// campus has building 1 with rooms 1, 2 and 7 and building 2 with room 3.
// Room 1 is held by tenant 10.
func campus() domain.State {
	return domain.State{
		Buildings: []domain.Building{
			{ID: 1, BuildingType: "dormitory", BuildingNumber: "B1"},
			{ID: 2, BuildingType: "apartment", BuildingNumber: "B2"},
		},
		Rooms: []domain.Room{
			{ID: 1, BuildingID: 1, RoomNumber: "101", BedroomCount: 1, TotalArea: 18},
			{ID: 2, BuildingID: 1, RoomNumber: "102", BedroomCount: 1, TotalArea: 18},
			{ID: 7, BuildingID: 1, RoomNumber: "107", BedroomCount: 2, TotalArea: 30},
			{ID: 3, BuildingID: 2, RoomNumber: "201", BedroomCount: 3, TotalArea: 55},
		},
		Tenants: []domain.Tenant{
			{ID: 10, Name: "Iva", Surname: "M", TenantType: domain.TenantFaculty, RoomID: 1, ArrivalDate: baseTime.Add(-48 * time.Hour)},
		},
	}
}

// seeded returns a service over a seeded counting repository. The Put count
// is reset after seeding.
func seeded(t *testing.T, opts ...Option) (*Service, *countingRepo) {
	t.Helper()
	repo := newCountingRepo()
	opts = append([]Option{WithClock(steppingClock())}, opts...)
	svc := NewService(repo, opts...)
	if _, err := svc.Seed(context.Background(), campus()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	repo.mu.Lock()
	repo.puts = 0
	repo.mu.Unlock()
	return svc, repo
}

func loadState(t *testing.T, svc *Service) domain.State {
	t.Helper()
	state, err := domain.LoadState(context.Background(), svc.Repository())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	return state
}

func room(t *testing.T, state domain.State, id int64) domain.Room {
	t.Helper()
	r := state.FindRoom(id)
	if r == nil {
		t.Fatalf("room %d missing", id)
	}
	return *r
}

func building(t *testing.T, state domain.State, id int64) domain.Building {
	t.Helper()
	b := state.FindBuilding(id)
	if b == nil {
		t.Fatalf("building %d missing", id)
	}
	return *b
}

// assertConsistent checks both derived flags against the tenants.
func assertConsistent(t *testing.T, state domain.State) {
	t.Helper()
	counts := activeCounts(state.Tenants)
	for _, r := range state.Rooms {
		if r.Available != (counts[r.ID] == 0) {
			t.Fatalf("room %d available=%t with %d active tenants", r.ID, r.Available, counts[r.ID])
		}
	}
	for _, b := range state.Buildings {
		want := false
		for _, r := range state.RoomsOf(b.ID) {
			want = want || r.Available
		}
		if b.HasAvailableRoom != want {
			t.Fatalf("building %d has_available_room=%t, want %t", b.ID, b.HasAvailableRoom, want)
		}
	}
}

func renter(name string, roomID int64) domain.TenantDraft {
	return domain.TenantDraft{Name: name, Surname: "K", TenantType: domain.TenantRenter, RoomID: roomID}
}

func asConflict(t *testing.T, err error, reason string) {
	t.Helper()
	var ce *domain.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %T %v", err, err)
	}
	if reason != "" && ce.Reason != reason {
		t.Fatalf("expected reason %q, got %q", reason, ce.Reason)
	}
}
