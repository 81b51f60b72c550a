package core

import (
	"context"
	"fmt"

	"housingcore/pkg/domain"
)

const roomOccupancyRuleName = "room_occupancy"

// NewRoomOccupancyRule returns the in-transaction rule enforcing at most one
// active tenant per room and an availability flag that matches it.
func NewRoomOccupancyRule() domain.Rule {
	return roomOccupancyRule{}
}

type roomOccupancyRule struct{}

func (roomOccupancyRule) Name() string { return roomOccupancyRuleName }

func (roomOccupancyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	sc := scopeOf(view, changes)
	occupancy := activeCounts(view.ListTenants())

	res := domain.Result{}
	for _, room := range view.ListRooms() {
		if !sc.hasRoom(room.ID) {
			continue
		}
		count := occupancy[room.ID]
		if count > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     roomOccupancyRuleName,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("room %s (%d) has %d active tenants", room.RoomNumber, room.ID, count),
				Entity:   domain.EntityRoom,
				EntityID: room.ID,
			})
			continue
		}
		if room.Available != (count == 0) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     roomOccupancyRuleName,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("room %s (%d) available=%t with %d active tenants", room.RoomNumber, room.ID, room.Available, count),
				Entity:   domain.EntityRoom,
				EntityID: room.ID,
			})
		}
	}
	for roomID := range occupancy {
		if !sc.hasRoom(roomID) {
			continue
		}
		if _, ok := view.FindRoom(roomID); !ok {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     roomOccupancyRuleName,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("active tenant references missing room %d", roomID),
				Entity:   domain.EntityRoom,
				EntityID: roomID,
			})
		}
	}
	return res, nil
}
