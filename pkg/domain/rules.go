package domain

import "context"

// RuleView provides read-only access to domain entities for rule evaluation.
type RuleView interface {
	ListBuildings() []Building
	ListRooms() []Room
	ListTenants() []Tenant
	FindBuilding(id int64) (Building, bool)
	FindRoom(id int64) (Room, bool)
	FindTenant(id int64) (Tenant, bool)
}

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rule names in evaluation order.
func (e *RulesEngine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name())
	}
	return names
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

// StateView adapts a State snapshot to RuleView. Returned values are copies.
type StateView struct {
	state *State
}

// NewStateView wraps the snapshot for read-only rule access.
func NewStateView(state *State) StateView {
	return StateView{state: state}
}

// ListBuildings returns all buildings in the snapshot.
func (v StateView) ListBuildings() []Building {
	out := make([]Building, 0, len(v.state.Buildings))
	for _, b := range v.state.Buildings {
		out = append(out, cloneBuilding(b))
	}
	return out
}

// ListRooms returns all rooms in the snapshot.
func (v StateView) ListRooms() []Room {
	out := make([]Room, 0, len(v.state.Rooms))
	for _, r := range v.state.Rooms {
		out = append(out, cloneRoom(r))
	}
	return out
}

// ListTenants returns all tenants in the snapshot.
func (v StateView) ListTenants() []Tenant {
	out := make([]Tenant, 0, len(v.state.Tenants))
	for _, t := range v.state.Tenants {
		out = append(out, cloneTenant(t))
	}
	return out
}

// FindBuilding retrieves a building by id.
func (v StateView) FindBuilding(id int64) (Building, bool) {
	if b := v.state.FindBuilding(id); b != nil {
		return cloneBuilding(*b), true
	}
	return Building{}, false
}

// FindRoom retrieves a room by id.
func (v StateView) FindRoom(id int64) (Room, bool) {
	if r := v.state.FindRoom(id); r != nil {
		return cloneRoom(*r), true
	}
	return Room{}, false
}

// FindTenant retrieves a tenant by id.
func (v StateView) FindTenant(id int64) (Tenant, bool) {
	if t := v.state.FindTenant(id); t != nil {
		return cloneTenant(*t), true
	}
	return Tenant{}, false
}
