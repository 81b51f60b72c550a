package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"housingcore/internal/infra/persistence/postgres/testutil"
	"housingcore/pkg/domain"
)

func openStub(t *testing.T) (*Repository, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	var gotDriver, gotDSN string
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driverName, dsn
		return db, nil
	})
	t.Cleanup(restore)

	repo, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if gotDriver != "pgx" || gotDSN != defaultDSN {
		t.Fatalf("unexpected open args %s %s", gotDriver, gotDSN)
	}
	return repo, conn
}

func TestOpenEnsuresStateTable(t *testing.T) {
	_, conn := openStub(t)
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got execs: %v", conn.Execs)
	}
}

func TestOpenPropagatesErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("dial") })
	if _, err := Open(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := Open(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestPutThenGet(t *testing.T) {
	ctx := context.Background()
	repo, conn := openStub(t)

	state := domain.State{
		Buildings: []domain.Building{{ID: 1, BuildingNumber: "A"}},
		Rooms:     []domain.Room{{ID: 2, BuildingID: 1, Available: true}},
	}
	if err := domain.SaveState(ctx, repo, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := len(conn.Rows("state")); got != 3 {
		t.Fatalf("expected 3 bucket rows, got %d", got)
	}
	loaded, err := domain.LoadState(ctx, repo)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Rooms) != 1 || loaded.Rooms[0].ID != 2 {
		t.Fatalf("unexpected rooms: %+v", loaded.Rooms)
	}

	missing, err := repo.Get(ctx, domain.Bucket("unknown"))
	if err != nil || missing != nil {
		t.Fatalf("expected nil payload for unknown bucket, got %q %v", missing, err)
	}
}

func TestPutIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo, conn := openStub(t)
	if err := repo.Put(ctx, map[domain.Bucket][]byte{domain.BucketRooms: []byte(`[]`)}); err != nil {
		t.Fatalf("seed put: %v", err)
	}

	conn.FailBucket = string(domain.BucketTenants)
	err := repo.Put(ctx, map[domain.Bucket][]byte{
		domain.BucketRooms:   []byte(`[{"id":9}]`),
		domain.BucketTenants: []byte(`[]`),
	})
	if err == nil || !strings.Contains(err.Error(), "upsert tenants") {
		t.Fatalf("expected tenants upsert failure, got %v", err)
	}
	conn.FailBucket = ""

	rooms, err := repo.Get(ctx, domain.BucketRooms)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rooms) != `[]` {
		t.Fatalf("partial write leaked: %s", rooms)
	}
}

func TestPutCommitAndBeginFailures(t *testing.T) {
	ctx := context.Background()
	repo, conn := openStub(t)

	conn.FailCommit = true
	if err := repo.Put(ctx, map[domain.Bucket][]byte{domain.BucketRooms: []byte(`[]`)}); err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit error, got %v", err)
	}
	conn.FailCommit = false

	conn.FailBegin = true
	if err := repo.Put(ctx, map[domain.Bucket][]byte{domain.BucketRooms: []byte(`[]`)}); err == nil || !strings.Contains(err.Error(), "begin tx") {
		t.Fatalf("expected begin error, got %v", err)
	}
}

func TestPutIfRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo, conn := openStub(t)

	snap, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Version != 0 {
		t.Fatalf("fresh store at version %d", snap.Version)
	}
	if err := repo.PutIf(ctx, snap.Version, map[domain.Bucket][]byte{domain.BucketTenants: []byte(`[{"id":1}]`)}); err != nil {
		t.Fatalf("first put: %v", err)
	}

	err = repo.PutIf(ctx, snap.Version, map[domain.Bucket][]byte{domain.BucketTenants: []byte(`[]`)})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	tenants, _ := repo.Get(ctx, domain.BucketTenants)
	if string(tenants) != `[{"id":1}]` {
		t.Fatalf("stale write leaked: %s", tenants)
	}

	again, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Version != 1 || len(again.Payloads) != 1 {
		t.Fatalf("unexpected snapshot %+v", again)
	}
	if v := conn.Rows("state_version")[0]["version"]; v != int64(1) {
		t.Fatalf("version row not bumped: %v", v)
	}
}
