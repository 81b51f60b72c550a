package core

import (
	"time"

	"housingcore/pkg/domain"
)

// ValidateCheckIn decides whether draft may occupy room given the tenants
// currently active there. It performs no I/O. Checks run in a fixed order and
// the first failure wins: identity fields, room existence, the room's
// availability flag, active tenants of the room, then contact fields.
//
// On success the returned tenant carries id, an arrival date defaulted to now
// and no departure date.
func ValidateCheckIn(draft domain.TenantDraft, room *domain.Room, active []domain.Tenant, now time.Time, id int64) (domain.Tenant, error) {
	draft = normalizeDraft(draft)
	if err := validateDraftIdentity(draft); err != nil {
		return domain.Tenant{}, err
	}
	if room == nil {
		return domain.Tenant{}, &domain.NotFoundError{Entity: domain.EntityRoom, ID: draft.RoomID}
	}
	if !room.Available {
		return domain.Tenant{}, &domain.ConflictError{Entity: domain.EntityRoom, ID: room.ID, Reason: domain.ReasonRoomOccupied}
	}
	for _, t := range active {
		if t.RoomID == room.ID && t.Active() {
			return domain.Tenant{}, &domain.ConflictError{Entity: domain.EntityRoom, ID: room.ID, Reason: domain.ReasonRoomOccupied}
		}
	}
	if err := validateDraftContact(draft); err != nil {
		return domain.Tenant{}, err
	}

	arrival := now
	if draft.ArrivalDate != nil && !draft.ArrivalDate.IsZero() {
		arrival = draft.ArrivalDate.UTC()
	}
	return domain.Tenant{
		ID:          id,
		Name:        draft.Name,
		Surname:     draft.Surname,
		TenantType:  draft.TenantType,
		Email:       draft.Email,
		Phone:       draft.Phone,
		RoomID:      room.ID,
		ArrivalDate: arrival,
	}, nil
}

// ValidateCheckOut decides whether the tenant identified by id may check out
// at now and returns the departure timestamp. A departure earlier than the
// arrival is rejected rather than clamped.
func ValidateCheckOut(id int64, tenant *domain.Tenant, now time.Time) (time.Time, error) {
	if tenant == nil {
		return time.Time{}, &domain.NotFoundError{Entity: domain.EntityTenant, ID: id}
	}
	if !tenant.Active() {
		return time.Time{}, &domain.ConflictError{Entity: domain.EntityTenant, ID: tenant.ID, Reason: domain.ReasonAlreadyCheckedOut}
	}
	if now.Before(tenant.ArrivalDate) {
		return time.Time{}, &domain.ConflictError{Entity: domain.EntityTenant, ID: tenant.ID, Reason: domain.ReasonDepartureBeforeArrival}
	}
	return now, nil
}
