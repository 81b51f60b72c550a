package core

import (
	"housingcore/pkg/domain"
)

// syncOccupancy re-derives the availability of roomID and of its building
// from the tenants in state, returning a change per flag that moved.
func syncOccupancy(state *domain.State, roomID int64) []domain.Change {
	room := state.FindRoom(roomID)
	if room == nil {
		return nil
	}
	var changes []domain.Change
	if c, ok := syncRoom(state, roomID); ok {
		changes = append(changes, c)
	}
	if c, ok := syncBuilding(state, room.BuildingID); ok {
		changes = append(changes, c)
	}
	return changes
}

func syncRoom(state *domain.State, roomID int64) (domain.Change, bool) {
	room := state.FindRoom(roomID)
	if room == nil {
		return domain.Change{}, false
	}
	vacant := len(state.ActiveTenantsOf(roomID)) == 0
	if room.Available == vacant {
		return domain.Change{}, false
	}
	before := *room
	room.Available = vacant
	return domain.Change{Entity: domain.EntityRoom, Action: domain.ActionUpdate, Before: before, After: *room}, true
}

func syncBuilding(state *domain.State, buildingID int64) (domain.Change, bool) {
	building := state.FindBuilding(buildingID)
	if building == nil {
		return domain.Change{}, false
	}
	vacant := false
	for _, r := range state.RoomsOf(buildingID) {
		if r.Available {
			vacant = true
			break
		}
	}
	if building.HasAvailableRoom == vacant {
		return domain.Change{}, false
	}
	before := *building
	building.HasAvailableRoom = vacant
	return domain.Change{Entity: domain.EntityBuilding, Action: domain.ActionUpdate, Before: before, After: *building}, true
}
