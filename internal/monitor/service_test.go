package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/breaker"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/config"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/engine"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.Default().Database
	cfg.InMemory = true
	st, err := store.NewSQLite(cfg)
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(st, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc
}

func TestFlushObserverRecordsOnlyFailures(t *testing.T) {
	svc := newTestService(t)
	obs := svc.FlushObserver()

	obs.FlushFinished(engine.FlushInfo{Engine: "orderbook-shard-0", BatchID: "ok", Size: 5})
	obs.FlushFinished(engine.FlushInfo{
		Engine:   "orderbook-shard-0",
		BatchID:  "b-1",
		Size:     150,
		Duration: 1500 * time.Millisecond,
		Err:      errors.New("dispatch: send timed out"),
	})

	events, err := svc.ListEvents(context.Background(), Query{})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventFlushFailed || events[0].Shard != "orderbook-shard-0" {
		t.Errorf("unexpected event %+v", events[0])
	}

	var payload FlushFailedPayload
	if err := json.Unmarshal(events[0].Payload.(json.RawMessage), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.BatchID != "b-1" || payload.Size != 150 || payload.DurationMS != 1500 {
		t.Errorf("unexpected payload %+v", payload)
	}
}

func TestBreakerListenerAndFilters(t *testing.T) {
	svc := newTestService(t)

	svc.BreakerListener("s0")(breaker.StateClosed, breaker.StateOpen)
	svc.BreakerListener("s1")(breaker.StateOpen, breaker.StateHalfOpen)
	svc.RecordEngineClosed(context.Background(), "s1", nil)

	ctx := context.Background()
	all, err := svc.ListEvents(ctx, Query{})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].Type != EventEngineClosed {
		t.Errorf("expected newest event first, got %s", all[0].Type)
	}

	byShard, err := svc.ListEvents(ctx, Query{Shard: "s1"})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(byShard) != 2 {
		t.Errorf("expected 2 events for s1, got %d", len(byShard))
	}

	byType, err := svc.ListEvents(ctx, Query{Type: EventBreakerTransition, Shard: "s0"})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(byType) != 1 {
		t.Fatalf("expected 1 breaker event for s0, got %d", len(byType))
	}
	var payload BreakerTransitionPayload
	if err := json.Unmarshal(byType[0].Payload.(json.RawMessage), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.From != "closed" || payload.To != "open" {
		t.Errorf("unexpected transition %+v", payload)
	}

	limited, err := svc.ListEvents(ctx, Query{Limit: 1})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}
}

func TestNewServiceRequiresStore(t *testing.T) {
	if _, err := NewService(nil, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}
