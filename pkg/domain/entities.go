// Package domain defines the housing inventory entities, occupancy value types,
// typed errors and rule evaluation primitives used by housingcore.
package domain

import (
	"sort"
	"time"
)

// EntityType identifies the type of record stored in the housing domain.
type EntityType string

// Supported entity type identifiers used in Change records, errors and persistence buckets.
const (
	// EntityBuilding identifies a building record.
	EntityBuilding EntityType = "building"
	// EntityRoom identifies a room record.
	EntityRoom EntityType = "room"
	// EntityTenant identifies a tenant record.
	EntityTenant EntityType = "tenant"
)

// TenantType classifies who occupies a room.
type TenantType string

// Tenant types accepted at check-in.
const (
	TenantRenter  TenantType = "renter"
	TenantFaculty TenantType = "faculty"
)

// Building is a housing building. HasAvailableRoom is derived from its rooms.
type Building struct {
	ID               int64    `json:"id"`
	BuildingType     string   `json:"building_type"`
	BuildingNumber   string   `json:"building_number"`
	FloorCount       *int     `json:"floor_count,omitempty"`
	TotalArea        *float64 `json:"total_area,omitempty"`
	HasAvailableRoom bool     `json:"has_available_room"`
}

// Room is a rentable unit inside a building. Available is true iff no active
// tenant references the room.
type Room struct {
	ID           int64    `json:"id"`
	BuildingID   int64    `json:"building_id"`
	RoomNumber   string   `json:"room_number"`
	BedroomCount int      `json:"bedroom_count"`
	TotalArea    float64  `json:"total_area"`
	FloorNumber  *int     `json:"floor_number,omitempty"`
	Available    bool     `json:"available"`
	BaseRent     *float64 `json:"base_rent,omitempty"`
}

// Tenant is a person checked into a room. A nil DepartureDate marks the tenant
// as active; once set it is never cleared.
type Tenant struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Surname       string     `json:"surname"`
	TenantType    TenantType `json:"tenant_type"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	RoomID        int64      `json:"room_id"`
	ArrivalDate   time.Time  `json:"arrival_date"`
	DepartureDate *time.Time `json:"departure_date,omitempty"`
}

// Active reports whether the tenant is currently checked in.
func (t Tenant) Active() bool { return t.DepartureDate == nil }

// TenantDraft is the caller-supplied input for a check-in.
type TenantDraft struct {
	Name        string     `json:"name" validate:"required"`
	Surname     string     `json:"surname" validate:"required"`
	TenantType  TenantType `json:"tenant_type" validate:"required,oneof=renter faculty"`
	Email       string     `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string     `json:"phone,omitempty" validate:"omitempty,phone"`
	RoomID      int64      `json:"room_id"`
	ArrivalDate *time.Time `json:"arrival_date,omitempty"`
}

// BatchStatus tags the outcome of one batch entry.
type BatchStatus string

// Batch entry outcomes.
const (
	BatchSuccess BatchStatus = "success"
	BatchError   BatchStatus = "error"
)

// BatchResult reports the outcome of one entry of a batch check-in or check-out.
type BatchResult struct {
	Index    int         `json:"index"`
	Status   BatchStatus `json:"status"`
	Tenant   *Tenant     `json:"tenant,omitempty"`
	TenantID int64       `json:"tenant_id,omitempty"`
	Error    string      `json:"error,omitempty"`
	Err      error       `json:"-"`
}

// Succeeded reports whether the entry was committed.
func (r BatchResult) Succeeded() bool { return r.Status == BatchSuccess }

// OccupancySummary is the occupancy projection of one building.
type OccupancySummary struct {
	BuildingID    int64   `json:"building_id"`
	TotalRooms    int     `json:"total_rooms"`
	OccupiedRooms int     `json:"occupied_rooms"`
	OccupancyRate float64 `json:"occupancy_rate"`
}

// State is a complete snapshot of the three housing collections.
type State struct {
	Buildings []Building `json:"buildings"`
	Rooms     []Room     `json:"rooms"`
	Tenants   []Tenant   `json:"tenants"`
}

// Clone returns a deep copy of the snapshot.
func (s State) Clone() State {
	out := State{
		Buildings: make([]Building, len(s.Buildings)),
		Rooms:     make([]Room, len(s.Rooms)),
		Tenants:   make([]Tenant, len(s.Tenants)),
	}
	for i, b := range s.Buildings {
		out.Buildings[i] = cloneBuilding(b)
	}
	for i, r := range s.Rooms {
		out.Rooms[i] = cloneRoom(r)
	}
	for i, t := range s.Tenants {
		out.Tenants[i] = cloneTenant(t)
	}
	return out
}

// FindBuilding returns a pointer into the snapshot for in-place mutation.
func (s *State) FindBuilding(id int64) *Building {
	for i := range s.Buildings {
		if s.Buildings[i].ID == id {
			return &s.Buildings[i]
		}
	}
	return nil
}

// FindRoom returns a pointer into the snapshot for in-place mutation.
func (s *State) FindRoom(id int64) *Room {
	for i := range s.Rooms {
		if s.Rooms[i].ID == id {
			return &s.Rooms[i]
		}
	}
	return nil
}

// FindTenant returns a pointer into the snapshot for in-place mutation.
func (s *State) FindTenant(id int64) *Tenant {
	for i := range s.Tenants {
		if s.Tenants[i].ID == id {
			return &s.Tenants[i]
		}
	}
	return nil
}

// ActiveTenantsOf lists active tenants referencing roomID.
func (s *State) ActiveTenantsOf(roomID int64) []Tenant {
	var out []Tenant
	for _, t := range s.Tenants {
		if t.RoomID == roomID && t.Active() {
			out = append(out, cloneTenant(t))
		}
	}
	return out
}

// RoomsOf lists the rooms of a building ordered by id.
func (s *State) RoomsOf(buildingID int64) []Room {
	var out []Room
	for _, r := range s.Rooms {
		if r.BuildingID == buildingID {
			out = append(out, cloneRoom(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextTenantID returns an id greater than every tenant id in the snapshot.
func (s *State) NextTenantID() int64 {
	var maxID int64
	for _, t := range s.Tenants {
		if t.ID > maxID {
			maxID = t.ID
		}
	}
	return maxID + 1
}

func cloneBuilding(b Building) Building {
	cp := b
	if b.FloorCount != nil {
		v := *b.FloorCount
		cp.FloorCount = &v
	}
	if b.TotalArea != nil {
		v := *b.TotalArea
		cp.TotalArea = &v
	}
	return cp
}

func cloneRoom(r Room) Room {
	cp := r
	if r.FloorNumber != nil {
		v := *r.FloorNumber
		cp.FloorNumber = &v
	}
	if r.BaseRent != nil {
		v := *r.BaseRent
		cp.BaseRent = &v
	}
	return cp
}

func cloneTenant(t Tenant) Tenant {
	cp := t
	if t.DepartureDate != nil {
		v := *t.DepartureDate
		cp.DepartureDate = &v
	}
	return cp
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured for rule evaluation and logging.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int64
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking reports whether any violation blocks commit.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
