package core

import (
	"housingcore/pkg/domain"
)

type (
	// RulesEngine evaluates invariant rules before a commit.
	RulesEngine = domain.RulesEngine
	// Rule is a single invariant check.
	Rule = domain.Rule
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in occupancy invariants.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewRoomOccupancyRule())
	engine.Register(NewBuildingAvailabilityRule())
	return engine
}

// scope is the set of rooms and buildings a change set touches. A nil scope
// covers everything.
type scope struct {
	rooms     map[int64]struct{}
	buildings map[int64]struct{}
}

func scopeOf(view domain.RuleView, changes []domain.Change) *scope {
	if len(changes) == 0 {
		return nil
	}
	sc := &scope{rooms: map[int64]struct{}{}, buildings: map[int64]struct{}{}}
	for _, c := range changes {
		for _, v := range []any{c.Before, c.After} {
			switch e := v.(type) {
			case domain.Tenant:
				sc.rooms[e.RoomID] = struct{}{}
			case domain.Room:
				sc.rooms[e.ID] = struct{}{}
				sc.buildings[e.BuildingID] = struct{}{}
			case domain.Building:
				sc.buildings[e.ID] = struct{}{}
			}
		}
	}
	for id := range sc.rooms {
		if room, ok := view.FindRoom(id); ok {
			sc.buildings[room.BuildingID] = struct{}{}
		}
	}
	return sc
}

func (s *scope) hasRoom(id int64) bool {
	if s == nil {
		return true
	}
	_, ok := s.rooms[id]
	return ok
}

func (s *scope) hasBuilding(id int64) bool {
	if s == nil {
		return true
	}
	_, ok := s.buildings[id]
	return ok
}

// activeCounts tallies active tenants per room.
func activeCounts(tenants []domain.Tenant) map[int64]int {
	counts := make(map[int64]int)
	for _, t := range tenants {
		if t.Active() {
			counts[t.RoomID]++
		}
	}
	return counts
}
