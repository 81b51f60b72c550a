package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"housingcore/pkg/domain"
)

func TestSeedDerivesFlags(t *testing.T) {
	repo := newCountingRepo()
	svc := NewService(repo)
	input := campus()
	// deliberately wrong flags in the input
	input.Rooms[0].Available = true
	input.Buildings[1].HasAvailableRoom = false

	out, err := svc.Seed(context.Background(), input)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if repo.putCount() != 1 {
		t.Fatalf("seed should write once, got %d", repo.putCount())
	}
	if room(t, out, 1).Available || !building(t, out, 2).HasAvailableRoom {
		t.Fatalf("flags not derived: %+v %+v", out.Rooms, out.Buildings)
	}
	if !input.Rooms[0].Available {
		t.Fatalf("seed mutated its input")
	}
	assertConsistent(t, loadState(t, svc))
}

func TestSeedRejectsInconsistentInput(t *testing.T) {
	departed := baseTime.Add(-72 * time.Hour)
	cases := []struct {
		name   string
		mutate func(*domain.State)
		kind   string
	}{
		{"duplicate building", func(s *domain.State) { s.Buildings = append(s.Buildings, s.Buildings[0]) }, "conflict"},
		{"duplicate room", func(s *domain.State) { s.Rooms = append(s.Rooms, s.Rooms[0]) }, "conflict"},
		{"duplicate tenant", func(s *domain.State) { s.Tenants = append(s.Tenants, s.Tenants[0]) }, "conflict"},
		{"room without building", func(s *domain.State) { s.Rooms[0].BuildingID = 9 }, "not_found"},
		{"tenant without room", func(s *domain.State) { s.Tenants[0].RoomID = 9 }, "not_found"},
		{"tenant without name", func(s *domain.State) { s.Tenants[0].Name = " " }, "validation"},
		{"tenant with bad type", func(s *domain.State) { s.Tenants[0].TenantType = "guest" }, "validation"},
		{"departure before arrival", func(s *domain.State) { s.Tenants[0].DepartureDate = &departed }, "conflict"},
		{"two active tenants", func(s *domain.State) {
			s.Tenants = append(s.Tenants, domain.Tenant{ID: 11, Name: "B", Surname: "C", TenantType: domain.TenantRenter, RoomID: 1, ArrivalDate: baseTime})
		}, "conflict"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newCountingRepo()
			state := campus()
			tc.mutate(&state)
			_, err := NewService(repo).Seed(context.Background(), state)
			if got := domain.ErrorKind(err); got != tc.kind {
				t.Fatalf("expected %s, got %s (%v)", tc.kind, got, err)
			}
			if repo.putCount() != 0 {
				t.Fatalf("rejected seed wrote")
			}
		})
	}
}

// corrupt writes state to the repository without deriving any flag.
func corrupt(t *testing.T, svc *Service, state domain.State) {
	t.Helper()
	if err := domain.SaveState(context.Background(), svc.Repository(), state); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestReconcileRepairsFlags(t *testing.T) {
	pub := &capturePublisher{}
	svc, repo := seeded(t, WithEventPublisher(pub))
	state := loadState(t, svc)
	state.FindRoom(1).Available = true
	state.FindRoom(3).Available = false
	state.FindBuilding(2).HasAvailableRoom = false
	corrupt(t, svc, state)
	puts := repo.putCount()

	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Repaired() || len(report.RepairedRooms) != 2 || report.RepairedRooms[0] != 1 || report.RepairedRooms[1] != 3 {
		t.Fatalf("unexpected repaired rooms %v", report.RepairedRooms)
	}
	if len(report.RepairedBuildings) != 1 || report.RepairedBuildings[0] != 2 {
		t.Fatalf("unexpected repaired buildings %v", report.RepairedBuildings)
	}
	if repo.putCount()-puts != 1 {
		t.Fatalf("reconcile should write once")
	}
	assertConsistent(t, loadState(t, svc))

	if len(pub.events) != 2 || pub.events[0].Type != domain.EventRoomAvailabilityFix || pub.events[0].Available {
		t.Fatalf("unexpected repair events %+v", pub.events)
	}

	again, err := svc.Reconcile(context.Background())
	if err != nil || again.Repaired() {
		t.Fatalf("second pass should be clean: %+v %v", again, err)
	}
	if repo.putCount()-puts != 1 {
		t.Fatalf("clean pass must not write")
	}
}

func TestReconcileReportsConflictingRooms(t *testing.T) {
	log := &captureLogger{}
	svc, _ := seeded(t, WithLogger(log))
	state := loadState(t, svc)
	state.Tenants = append(state.Tenants, domain.Tenant{ID: 11, Name: "B", Surname: "C", TenantType: domain.TenantRenter, RoomID: 1, ArrivalDate: baseTime})
	state.FindRoom(2).Available = false
	corrupt(t, svc, state)

	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(report.ConflictingRooms) != 1 || report.ConflictingRooms[0] != 1 {
		t.Fatalf("expected room 1 reported, got %v", report.ConflictingRooms)
	}
	if len(report.RepairedRooms) != 1 || report.RepairedRooms[0] != 2 {
		t.Fatalf("room 2 should still be repaired, got %v", report.RepairedRooms)
	}
	if !log.has("e:room has more than one active tenant") {
		t.Fatalf("conflict not logged: %v", log.calls)
	}
}

func TestReconcileStorageFailure(t *testing.T) {
	svc, repo := seeded(t)
	repo.failGet = errDiskFull
	_, err := svc.Reconcile(context.Background())
	if !errors.Is(err, errDiskFull) || !domain.IsRetryable(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
}
