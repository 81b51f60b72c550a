package core

import (
	"context"
	"sort"

	"housingcore/pkg/domain"
)

// QueryFacade serves read-only occupancy projections. It never writes to the
// repository and does not take the Service lock, so results are eventually
// consistent with in-flight mutations.
type QueryFacade struct {
	repo domain.Repository
}

// NewQueryFacade wraps repo for read-only access.
func NewQueryFacade(repo domain.Repository) *QueryFacade {
	return &QueryFacade{repo: repo}
}

// CurrentTenantOf returns the active tenant of roomID, or nil when the room is
// vacant. An unknown roomID is a *domain.NotFoundError rather than nil, so a
// typo never reads as an empty room.
func (q *QueryFacade) CurrentTenantOf(ctx context.Context, roomID int64) (*domain.Tenant, error) {
	state, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	if state.FindRoom(roomID) == nil {
		return nil, &domain.NotFoundError{Entity: domain.EntityRoom, ID: roomID}
	}
	active := state.ActiveTenantsOf(roomID)
	if len(active) == 0 {
		return nil, nil
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	t := active[0]
	return &t, nil
}

// ActiveTenants lists every checked-in tenant ordered by id.
func (q *QueryFacade) ActiveTenants(ctx context.Context) ([]domain.Tenant, error) {
	tenants, err := domain.GetTenants(ctx, q.repo)
	if err != nil {
		return nil, &domain.StorageError{Op: "load", Err: err}
	}
	out := make([]domain.Tenant, 0, len(tenants))
	for _, t := range tenants {
		if t.Active() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// BuildingOccupancySummary reports room totals for a building. The rate is 0
// for a building without rooms.
func (q *QueryFacade) BuildingOccupancySummary(ctx context.Context, buildingID int64) (domain.OccupancySummary, error) {
	state, err := q.load(ctx)
	if err != nil {
		return domain.OccupancySummary{}, err
	}
	if state.FindBuilding(buildingID) == nil {
		return domain.OccupancySummary{}, &domain.NotFoundError{Entity: domain.EntityBuilding, ID: buildingID}
	}
	return summarize(&state, buildingID), nil
}

// OccupancyReport returns one summary per building ordered by building id.
func (q *QueryFacade) OccupancyReport(ctx context.Context) ([]domain.OccupancySummary, error) {
	state, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.OccupancySummary, 0, len(state.Buildings))
	for _, b := range state.Buildings {
		out = append(out, summarize(&state, b.ID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BuildingID < out[j].BuildingID })
	return out, nil
}

// AvailableRooms lists vacant rooms of buildingID ordered by id. A zero
// buildingID covers every building.
func (q *QueryFacade) AvailableRooms(ctx context.Context, buildingID int64) ([]domain.Room, error) {
	state, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	if buildingID != 0 && state.FindBuilding(buildingID) == nil {
		return nil, &domain.NotFoundError{Entity: domain.EntityBuilding, ID: buildingID}
	}
	out := []domain.Room{}
	for _, r := range state.Rooms {
		if buildingID != 0 && r.BuildingID != buildingID {
			continue
		}
		if r.Available {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// TenantHistory lists every tenant that ever occupied roomID, ordered by
// arrival then id.
func (q *QueryFacade) TenantHistory(ctx context.Context, roomID int64) ([]domain.Tenant, error) {
	state, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	if state.FindRoom(roomID) == nil {
		return nil, &domain.NotFoundError{Entity: domain.EntityRoom, ID: roomID}
	}
	out := []domain.Tenant{}
	for _, t := range state.Tenants {
		if t.RoomID == roomID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ArrivalDate.Equal(out[j].ArrivalDate) {
			return out[i].ArrivalDate.Before(out[j].ArrivalDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q *QueryFacade) load(ctx context.Context) (domain.State, error) {
	state, err := domain.LoadState(ctx, q.repo)
	if err != nil {
		return domain.State{}, &domain.StorageError{Op: "load", Err: err}
	}
	return state, nil
}

func summarize(state *domain.State, buildingID int64) domain.OccupancySummary {
	rooms := state.RoomsOf(buildingID)
	occupancy := activeCounts(state.Tenants)
	summary := domain.OccupancySummary{BuildingID: buildingID, TotalRooms: len(rooms)}
	for _, r := range rooms {
		if occupancy[r.ID] > 0 {
			summary.OccupiedRooms++
		}
	}
	if summary.TotalRooms > 0 {
		summary.OccupancyRate = float64(summary.OccupiedRooms) / float64(summary.TotalRooms)
	}
	return summary
}
