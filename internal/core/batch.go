package core

import (
	"context"
	"time"

	"housingcore/pkg/domain"
)

// BatchCheckIn checks in each draft in input order. Every accepted entry is
// committed on its own, and later entries see the effects of earlier ones, so
// two drafts for one room cannot both succeed. Rejections are reported per
// entry and never produce a top-level error.
//
// A storage failure aborts the batch: the failing entry and every later one
// are marked as errors, entries committed before it keep their success, and
// the *domain.StorageError is returned alongside the results.
func (s *Service) BatchCheckIn(ctx context.Context, drafts []domain.TenantDraft) ([]domain.BatchResult, error) {
	return s.runBatch(ctx, OpBatchCheckIn, len(drafts), func(state domain.State, i int) (mutation, error) {
		return s.stageCheckIn(state, drafts[i])
	})
}

// BatchCheckOut checks out each tenant id in input order with the same
// per-entry and storage-failure semantics as BatchCheckIn. An id repeated in
// the batch fails as already checked out.
func (s *Service) BatchCheckOut(ctx context.Context, tenantIDs []int64) ([]domain.BatchResult, error) {
	results, err := s.runBatch(ctx, OpBatchCheckOut, len(tenantIDs), func(state domain.State, i int) (mutation, error) {
		return s.stageCheckOut(state, tenantIDs[i])
	})
	for i := range results {
		if results[i].TenantID == 0 {
			results[i].TenantID = tenantIDs[i]
		}
	}
	return results, err
}

type stageFunc func(state domain.State, index int) (mutation, error)

func (s *Service) runBatch(ctx context.Context, op string, n int, stage stageFunc) ([]domain.BatchResult, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]domain.BatchResult, n)
	for i := range results {
		results[i].Index = i
	}

	state, version, err := s.load(ctx)
	if err != nil {
		s.abortBatch(ctx, op, results, 0, err)
		s.finish(ctx, op, start, err, "entries", n)
		return results, err
	}

	touched := make(map[int64]struct{})
	succeeded := 0
	for i := 0; i < n; i++ {
		m, err := stage(state, i)
		if err == nil {
			err = s.commit(ctx, version, m)
		}
		if err != nil {
			if domain.IsRetryable(err) {
				s.abortBatch(ctx, op, results, i, err)
				s.finish(ctx, op, start, err, "entries", n, "committed", succeeded, "failed_at", i)
				return results, err
			}
			results[i] = failedEntry(i, err)
			s.observeEntry(ctx, op, domain.BatchError)
			s.logger.Warn(op+" entry rejected", "index", i, "kind", domain.ErrorKind(err), "error", err)
			continue
		}

		state = m.state
		version++
		tenant := m.tenant
		touched[tenant.RoomID] = struct{}{}
		results[i] = domain.BatchResult{Index: i, Status: domain.BatchSuccess, Tenant: &tenant, TenantID: tenant.ID}
		succeeded++
		s.observeEntry(ctx, op, domain.BatchSuccess)
		s.publish(ctx, m.events)
	}

	if err := s.settle(ctx, version, state, touched); err != nil {
		s.finish(ctx, op, start, err, "entries", n, "committed", succeeded)
		return results, err
	}
	s.finish(ctx, op, start, nil, "entries", n, "committed", succeeded)
	return results, nil
}

// settle re-derives availability for every touched room and its building from
// the committed state and writes only when a flag drifted.
func (s *Service) settle(ctx context.Context, version uint64, state domain.State, rooms map[int64]struct{}) error {
	if len(rooms) == 0 {
		return nil
	}
	work := state.Clone()
	var changes []domain.Change
	for roomID := range rooms {
		changes = append(changes, syncOccupancy(&work, roomID)...)
	}
	if len(changes) == 0 {
		return nil
	}
	s.logger.Warn("batch recompute repaired availability", "changes", len(changes))
	if err := s.evaluate(ctx, &work, changes); err != nil {
		return err
	}
	return s.persist(ctx, version, work, domain.BucketRooms, domain.BucketBuildings)
}

// abortBatch marks entries from index onward as failed by err.
func (s *Service) abortBatch(ctx context.Context, op string, results []domain.BatchResult, from int, err error) {
	for i := from; i < len(results); i++ {
		results[i] = failedEntry(i, err)
		s.observeEntry(ctx, op, domain.BatchError)
	}
}

func (s *Service) observeEntry(ctx context.Context, op string, status domain.BatchStatus) {
	if rec, ok := s.metrics.(BatchMetricsRecorder); ok {
		rec.ObserveBatchEntry(ctx, op, status)
	}
}

func failedEntry(index int, err error) domain.BatchResult {
	return domain.BatchResult{Index: index, Status: domain.BatchError, Error: err.Error(), Err: err}
}
