package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"housingcore/internal/infra/persistence/memory"
	"housingcore/pkg/domain"
)

// Service operation names used for metrics and logging.
const (
	OpCheckIn       = "check_in"
	OpCheckOut      = "check_out"
	OpBatchCheckIn  = "batch_check_in"
	OpBatchCheckOut = "batch_check_out"
	OpSeed          = "seed"
	OpReconcile     = "reconcile"
)

// Service performs occupancy transactions against a Repository. Every
// mutation holds a single lock across its read, decide and write steps and
// ends in at most one Repository Put.
type Service struct {
	repo    domain.Repository
	engine  *RulesEngine
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	events  EventPublisher
	newID   func() string

	mu sync.Mutex
}

// NewService constructs a service backed by the supplied repository.
func NewService(repo domain.Repository, opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Service{
		repo:    repo,
		engine:  o.engine,
		clock:   o.clock,
		logger:  o.logger,
		metrics: o.metrics,
		events:  o.events,
		newID:   o.ids,
	}
}

// NewInMemoryService creates a service over a fresh in-memory repository.
func NewInMemoryService(opts ...Option) *Service {
	return NewService(memory.NewRepository(), opts...)
}

// Repository returns the underlying repository.
func (s *Service) Repository() domain.Repository {
	return s.repo
}

// Queries returns a read-only facade over the same repository.
func (s *Service) Queries() *QueryFacade {
	return NewQueryFacade(s.repo)
}

// mutation is a staged working copy awaiting commit.
type mutation struct {
	state   domain.State
	changes []domain.Change
	events  []domain.OccupancyEvent
	tenant  domain.Tenant
}

// CheckIn admits a new tenant into the draft's room. On success the tenant,
// the room's availability and the owning building's flag are persisted with a
// single Put. Rule rejections are returned unchanged and nothing is written.
func (s *Service) CheckIn(ctx context.Context, draft domain.TenantDraft) (domain.Tenant, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, err := s.checkIn(ctx, draft)
	s.finish(ctx, OpCheckIn, start, err, "room_id", draft.RoomID, "tenant_id", tenant.ID)
	return tenant, err
}

func (s *Service) checkIn(ctx context.Context, draft domain.TenantDraft) (domain.Tenant, error) {
	state, version, err := s.load(ctx)
	if err != nil {
		return domain.Tenant{}, err
	}
	m, err := s.stageCheckIn(state, draft)
	if err != nil {
		return domain.Tenant{}, err
	}
	if err := s.commit(ctx, version, m); err != nil {
		return domain.Tenant{}, err
	}
	s.publish(ctx, m.events)
	return m.tenant, nil
}

// CheckOut stamps the tenant's departure, frees the room and recomputes the
// building flag in a single Put. It returns the tenant as persisted.
func (s *Service) CheckOut(ctx context.Context, tenantID int64) (domain.Tenant, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, err := s.checkOut(ctx, tenantID)
	s.finish(ctx, OpCheckOut, start, err, "tenant_id", tenantID, "room_id", tenant.RoomID)
	return tenant, err
}

func (s *Service) checkOut(ctx context.Context, tenantID int64) (domain.Tenant, error) {
	state, version, err := s.load(ctx)
	if err != nil {
		return domain.Tenant{}, err
	}
	m, err := s.stageCheckOut(state, tenantID)
	if err != nil {
		return domain.Tenant{}, err
	}
	if err := s.commit(ctx, version, m); err != nil {
		return domain.Tenant{}, err
	}
	s.publish(ctx, m.events)
	return m.tenant, nil
}

// stageCheckIn applies a check-in to a copy of state. The input is untouched.
func (s *Service) stageCheckIn(state domain.State, draft domain.TenantDraft) (mutation, error) {
	work := state.Clone()
	now := s.now()

	var (
		room   *domain.Room
		active []domain.Tenant
	)
	if r := work.FindRoom(draft.RoomID); r != nil {
		cp := *r
		room = &cp
		active = work.ActiveTenantsOf(r.ID)
	}
	tenant, err := ValidateCheckIn(draft, room, active, now, work.NextTenantID())
	if err != nil {
		return mutation{}, err
	}

	work.Tenants = append(work.Tenants, tenant)
	changes := []domain.Change{{Entity: domain.EntityTenant, Action: domain.ActionCreate, After: tenant}}
	changes = append(changes, syncOccupancy(&work, tenant.RoomID)...)

	return mutation{
		state:   work,
		changes: changes,
		tenant:  tenant,
		events:  []domain.OccupancyEvent{s.occupancyEvent(&work, domain.EventTenantCheckedIn, tenant, now)},
	}, nil
}

// stageCheckOut applies a check-out to a copy of state. The input is untouched.
func (s *Service) stageCheckOut(state domain.State, tenantID int64) (mutation, error) {
	work := state.Clone()
	now := s.now()

	var current *domain.Tenant
	if t := work.FindTenant(tenantID); t != nil {
		cp := *t
		current = &cp
	}
	departure, err := ValidateCheckOut(tenantID, current, now)
	if err != nil {
		return mutation{}, err
	}

	tenant := work.FindTenant(tenantID)
	before := *tenant
	tenant.DepartureDate = &departure
	after := *tenant

	changes := []domain.Change{{Entity: domain.EntityTenant, Action: domain.ActionUpdate, Before: before, After: after}}
	changes = append(changes, syncOccupancy(&work, after.RoomID)...)

	return mutation{
		state:   work,
		changes: changes,
		tenant:  after,
		events:  []domain.OccupancyEvent{s.occupancyEvent(&work, domain.EventTenantCheckedOut, after, now)},
	}, nil
}

// load reads one consistent snapshot and the store version it came from.
func (s *Service) load(ctx context.Context) (domain.State, uint64, error) {
	state, version, err := domain.LoadVersionedState(ctx, s.repo)
	if err != nil {
		return domain.State{}, 0, &domain.StorageError{Op: "load", Err: err}
	}
	return state, version, nil
}

// commit evaluates the invariant rules over the staged state and persists it
// with one Put conditioned on version.
func (s *Service) commit(ctx context.Context, version uint64, m mutation) error {
	if err := s.evaluate(ctx, &m.state, m.changes); err != nil {
		return err
	}
	return s.persist(ctx, version, m.state)
}

func (s *Service) evaluate(ctx context.Context, state *domain.State, changes []domain.Change) error {
	if s.engine == nil {
		return nil
	}
	res, err := s.engine.Evaluate(ctx, domain.NewStateView(state), changes)
	if err != nil {
		return fmt.Errorf("evaluate rules: %w", err)
	}
	for _, v := range res.Violations {
		switch v.Severity {
		case domain.SeverityBlock:
			s.logger.Error("invariant violated", "rule", v.Rule, "entity", v.Entity, "entity_id", v.EntityID, "message", v.Message)
		case domain.SeverityWarn:
			s.logger.Warn("rule warning", "rule", v.Rule, "entity", v.Entity, "entity_id", v.EntityID, "message", v.Message)
		default:
			s.logger.Debug("rule note", "rule", v.Rule, "message", v.Message)
		}
	}
	if res.HasBlocking() {
		return domain.RuleViolationError{Result: res}
	}
	return nil
}

// persist writes the named buckets (all when none are named) only if the
// store is still at version. Another process committing since the load
// surfaces as a StorageError wrapping domain.ErrVersionConflict.
func (s *Service) persist(ctx context.Context, version uint64, state domain.State, buckets ...domain.Bucket) error {
	if err := domain.SaveStateIf(ctx, s.repo, version, state, buckets...); err != nil {
		return &domain.StorageError{Op: "commit", Err: err}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, events []domain.OccupancyEvent) {
	for _, ev := range events {
		if err := s.events.Publish(ctx, ev); err != nil {
			s.logger.Warn("publish occupancy event failed", "event", ev.Type, "event_id", ev.ID, "error", err)
		}
	}
}

func (s *Service) occupancyEvent(state *domain.State, typ domain.EventType, tenant domain.Tenant, now time.Time) domain.OccupancyEvent {
	ev := domain.OccupancyEvent{
		ID:         s.newID(),
		Type:       typ,
		TenantID:   tenant.ID,
		RoomID:     tenant.RoomID,
		OccurredAt: now,
	}
	if room := state.FindRoom(tenant.RoomID); room != nil {
		ev.BuildingID = room.BuildingID
		ev.Available = room.Available
	}
	return ev
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// finish records the outcome of a service operation.
func (s *Service) finish(ctx context.Context, op string, start time.Time, err error, kv ...any) {
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if err == nil {
		s.logger.Info(op+" committed", kv...)
		return
	}
	kind := domain.ErrorKind(err)
	kv = append(kv, "kind", kind, "error", err)
	switch kind {
	case "validation", "not_found", "conflict":
		s.logger.Warn(op+" rejected", kv...)
	default:
		s.logger.Error(op+" failed", kv...)
	}
}

func newEventID() string {
	return uuid.NewString()
}
