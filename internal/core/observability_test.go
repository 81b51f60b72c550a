package core

import (
	"context"
	"encoding/json"
	"expvar"
	"testing"
	"time"

	"housingcore/pkg/domain"
)

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	ctx := context.Background()
	rec.Observe(ctx, OpCheckIn, true, 3*time.Millisecond)
	rec.Observe(ctx, OpCheckIn, false, time.Millisecond)
	rec.ObserveBatchEntry(ctx, OpBatchCheckIn, domain.BatchSuccess)
	rec.ObserveBatchEntry(ctx, OpBatchCheckIn, domain.BatchError)

	snap := rec.Snapshot()
	if snap.Results[OpCheckIn]["success"] != 1 || snap.Results[OpCheckIn]["error"] != 1 {
		t.Fatalf("unexpected results %+v", snap.Results)
	}
	if snap.DurationsMS[OpCheckIn] < 4 {
		t.Fatalf("durations not accumulated: %v", snap.DurationsMS)
	}
	if snap.BatchEntries[OpBatchCheckIn]["error"] != 1 {
		t.Fatalf("unexpected batch entries %+v", snap.BatchEntries)
	}

	published := expvar.Get(rec.Name())
	if published == nil {
		t.Fatalf("recorder not published as %s", rec.Name())
	}
	var decoded ExpvarMetricsSnapshot
	if err := json.Unmarshal([]byte(published.String()), &decoded); err != nil {
		t.Fatalf("decode published snapshot: %v", err)
	}
	if decoded.Results[OpCheckIn]["success"] != 1 {
		t.Fatalf("published snapshot mismatch %+v", decoded)
	}

	if other := NewExpvarMetricsRecorder(""); other.Name() == rec.Name() {
		t.Fatalf("generated names must be unique")
	}
}

func TestServiceFeedsExpvarRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	svc, _ := seeded(t, WithMetricsRecorder(rec))
	if _, err := svc.BatchCheckIn(context.Background(), []domain.TenantDraft{renter("A", 2), renter("B", 2)}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	snap := rec.Snapshot()
	if snap.BatchEntries[OpBatchCheckIn]["success"] != 1 || snap.BatchEntries[OpBatchCheckIn]["error"] != 1 {
		t.Fatalf("unexpected batch entries %+v", snap.BatchEntries)
	}
	if snap.Results[OpSeed]["success"] != 1 || snap.Results[OpBatchCheckIn]["success"] != 1 {
		t.Fatalf("unexpected results %+v", snap.Results)
	}
}
