package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"housingcore/pkg/domain"
)

// ReconcileReport summarises a reconciliation pass.
type ReconcileReport struct {
	RepairedRooms     []int64   `json:"repaired_rooms"`
	RepairedBuildings []int64   `json:"repaired_buildings"`
	ConflictingRooms  []int64   `json:"conflicting_rooms"`
	CheckedAt         time.Time `json:"checked_at"`
}

// Repaired reports whether the pass wrote anything.
func (r ReconcileReport) Repaired() bool {
	return len(r.RepairedRooms) > 0 || len(r.RepairedBuildings) > 0
}

// Seed replaces the repository contents with state after checking its
// referential integrity. Every derived availability flag is recomputed from
// the tenants before the single Put, and the stored snapshot is returned.
func (s *Service) Seed(ctx context.Context, state domain.State) (domain.State, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	seeded, err := s.seed(ctx, state)
	s.finish(ctx, OpSeed, start, err,
		"buildings", len(state.Buildings), "rooms", len(state.Rooms), "tenants", len(state.Tenants))
	return seeded, err
}

func (s *Service) seed(ctx context.Context, state domain.State) (domain.State, error) {
	work := state.Clone()
	if err := checkSeed(&work); err != nil {
		return domain.State{}, err
	}
	// seeding replaces the contents, so only the version is needed
	snap, err := s.repo.Load(ctx)
	if err != nil {
		return domain.State{}, &domain.StorageError{Op: "load", Err: err}
	}
	version := snap.Version
	for _, room := range work.Rooms {
		syncRoom(&work, room.ID)
	}
	for _, b := range work.Buildings {
		syncBuilding(&work, b.ID)
	}
	if err := s.evaluate(ctx, &work, nil); err != nil {
		return domain.State{}, err
	}
	if err := s.persist(ctx, version, work); err != nil {
		return domain.State{}, err
	}
	return work, nil
}

func checkSeed(state *domain.State) error {
	buildings := make(map[int64]struct{}, len(state.Buildings))
	for _, b := range state.Buildings {
		if _, dup := buildings[b.ID]; dup {
			return &domain.ConflictError{Entity: domain.EntityBuilding, ID: b.ID, Reason: domain.ReasonDuplicateID}
		}
		buildings[b.ID] = struct{}{}
	}

	rooms := make(map[int64]struct{}, len(state.Rooms))
	for _, r := range state.Rooms {
		if _, dup := rooms[r.ID]; dup {
			return &domain.ConflictError{Entity: domain.EntityRoom, ID: r.ID, Reason: domain.ReasonDuplicateID}
		}
		if _, ok := buildings[r.BuildingID]; !ok {
			return &domain.NotFoundError{Entity: domain.EntityBuilding, ID: r.BuildingID}
		}
		rooms[r.ID] = struct{}{}
	}

	tenants := make(map[int64]struct{}, len(state.Tenants))
	for _, t := range state.Tenants {
		if _, dup := tenants[t.ID]; dup {
			return &domain.ConflictError{Entity: domain.EntityTenant, ID: t.ID, Reason: domain.ReasonDuplicateID}
		}
		tenants[t.ID] = struct{}{}
		if strings.TrimSpace(t.Name) == "" {
			return &domain.ValidationError{Field: "name", Reason: "is required"}
		}
		if strings.TrimSpace(t.Surname) == "" {
			return &domain.ValidationError{Field: "surname", Reason: "is required"}
		}
		if t.TenantType != domain.TenantRenter && t.TenantType != domain.TenantFaculty {
			return &domain.ValidationError{Field: "tenant_type", Reason: "must be one of renter faculty"}
		}
		if _, ok := rooms[t.RoomID]; !ok {
			return &domain.NotFoundError{Entity: domain.EntityRoom, ID: t.RoomID}
		}
		if t.DepartureDate != nil && t.DepartureDate.Before(t.ArrivalDate) {
			return &domain.ConflictError{Entity: domain.EntityTenant, ID: t.ID, Reason: domain.ReasonDepartureBeforeArrival}
		}
	}

	for roomID, count := range activeCounts(state.Tenants) {
		if count > 1 {
			return &domain.ConflictError{Entity: domain.EntityRoom, ID: roomID, Reason: domain.ReasonMultipleActiveTenants}
		}
	}
	return nil
}

// Reconcile re-derives every room and building availability flag from the
// tenants and persists any repairs with a single Put. Rooms holding more than
// one active tenant cannot be repaired automatically and are only reported.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := s.reconcile(ctx)
	s.finish(ctx, OpReconcile, start, err,
		"repaired_rooms", len(report.RepairedRooms),
		"repaired_buildings", len(report.RepairedBuildings),
		"conflicting_rooms", len(report.ConflictingRooms))
	return report, err
}

func (s *Service) reconcile(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{CheckedAt: s.now()}
	state, version, err := s.load(ctx)
	if err != nil {
		return report, err
	}
	work := state.Clone()

	for roomID, count := range activeCounts(work.Tenants) {
		if count > 1 {
			report.ConflictingRooms = append(report.ConflictingRooms, roomID)
			s.logger.Error("room has more than one active tenant", "room_id", roomID, "active", count)
		}
	}

	var events []domain.OccupancyEvent
	for _, room := range work.Rooms {
		c, ok := syncRoom(&work, room.ID)
		if !ok {
			continue
		}
		after := c.After.(domain.Room)
		report.RepairedRooms = append(report.RepairedRooms, after.ID)
		events = append(events, domain.OccupancyEvent{
			ID:         s.newID(),
			Type:       domain.EventRoomAvailabilityFix,
			RoomID:     after.ID,
			BuildingID: after.BuildingID,
			Available:  after.Available,
			OccurredAt: report.CheckedAt,
		})
	}
	for _, b := range work.Buildings {
		if _, ok := syncBuilding(&work, b.ID); ok {
			report.RepairedBuildings = append(report.RepairedBuildings, b.ID)
		}
	}
	sortIDs(report.RepairedRooms)
	sortIDs(report.RepairedBuildings)
	sortIDs(report.ConflictingRooms)

	if !report.Repaired() {
		return report, nil
	}
	// tenants are read-only here; only the derived flags are written back
	if err := s.persist(ctx, version, work, domain.BucketRooms, domain.BucketBuildings); err != nil {
		return report, err
	}
	s.publish(ctx, events)
	return report, nil
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
