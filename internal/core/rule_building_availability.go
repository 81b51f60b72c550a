package core

import (
	"context"
	"fmt"

	"housingcore/pkg/domain"
)

const buildingAvailabilityRuleName = "building_availability"

// NewBuildingAvailabilityRule returns the rule keeping each building's
// HasAvailableRoom flag equal to the availability of its rooms.
func NewBuildingAvailabilityRule() domain.Rule {
	return buildingAvailabilityRule{}
}

type buildingAvailabilityRule struct{}

func (buildingAvailabilityRule) Name() string { return buildingAvailabilityRuleName }

func (buildingAvailabilityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	sc := scopeOf(view, changes)
	vacant := make(map[int64]bool)
	for _, room := range view.ListRooms() {
		if room.Available {
			vacant[room.BuildingID] = true
		}
	}

	res := domain.Result{}
	for _, b := range view.ListBuildings() {
		if !sc.hasBuilding(b.ID) {
			continue
		}
		if b.HasAvailableRoom != vacant[b.ID] {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     buildingAvailabilityRuleName,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("building %s (%d) has_available_room=%t but derived %t", b.BuildingNumber, b.ID, b.HasAvailableRoom, vacant[b.ID]),
				Entity:   domain.EntityBuilding,
				EntityID: b.ID,
			})
		}
	}
	return res, nil
}
