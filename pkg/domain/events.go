package domain

import "time"

// EventType names an occupancy event emitted after a committed change.
type EventType string

// Occupancy events.
const (
	EventTenantCheckedIn     EventType = "tenant.checked_in"
	EventTenantCheckedOut    EventType = "tenant.checked_out"
	EventRoomAvailabilityFix EventType = "room.availability_repaired"
)

// OccupancyEvent describes a committed occupancy change.
type OccupancyEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	TenantID   int64     `json:"tenant_id,omitempty"`
	RoomID     int64     `json:"room_id"`
	BuildingID int64     `json:"building_id"`
	Available  bool      `json:"available"`
	OccurredAt time.Time `json:"occurred_at"`
}
