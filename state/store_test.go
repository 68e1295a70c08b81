package state

import (
	"context"
	"errors"
	"testing"

	"github.com/pithecene-io/foreman/types"
)

func newOrder(runID, num string, status types.Status) *types.OrderRecord {
	return &types.OrderRecord{
		RunID:     runID,
		OrderNum:  num,
		TraceID:   "abcd1234",
		OrderName: "order-" + num,
		Status:    status,
	}
}

func TestOrderRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.PutOrder(ctx, newOrder("r1", "0001", types.StatusQueued)); err != nil {
		t.Fatalf("PutOrder: %v", err)
	}

	rec, err := s.GetOrder(ctx, "r1", "0001")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if rec.Status != types.StatusQueued {
		t.Errorf("status = %s", rec.Status)
	}

	if _, err := s.GetOrder(ctx, "r1", "0002"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing order should be ErrNotFound, got %v", err)
	}
}

func TestGetRunOrdersSorted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, num := range []string{"0003", "0001", "0002"} {
		if err := s.PutOrder(ctx, newOrder("r1", num, types.StatusQueued)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.PutOrder(ctx, newOrder("r2", "0001", types.StatusQueued)); err != nil {
		t.Fatal(err)
	}

	orders, err := s.GetRunOrders(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRunOrders: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("want 3 orders, got %d", len(orders))
	}
	for i, want := range []string{"0001", "0002", "0003"} {
		if orders[i].OrderNum != want {
			t.Errorf("orders[%d] = %s, want %s", i, orders[i].OrderNum, want)
		}
	}
}

func TestUpdateOrderStatusIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.PutOrder(ctx, newOrder("r1", "0001", types.StatusRunning)); err != nil {
		t.Fatal(err)
	}

	extra := map[string]any{"log": "done", "failure_reason": ""}
	for i := 0; i < 2; i++ {
		if err := s.UpdateOrderStatus(ctx, "r1", "0001", types.StatusSucceeded, extra); err != nil {
			t.Fatalf("UpdateOrderStatus pass %d: %v", i, err)
		}
	}

	rec, err := s.GetOrder(ctx, "r1", "0001")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != types.StatusSucceeded {
		t.Errorf("status = %s", rec.Status)
	}
	if rec.Log != "done" {
		t.Errorf("log = %q", rec.Log)
	}
}

func TestUpdateOrderStatusTouchesLastUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	stale := newOrder("r1", "0001", types.StatusRunning)
	stale.LastUpdate = 1000
	if err := s.PutOrder(ctx, stale); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateOrderStatus(ctx, "r1", "0001", types.StatusSucceeded, nil); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}

	rec, err := s.GetOrder(ctx, "r1", "0001")
	if err != nil {
		t.Fatal(err)
	}
	if rec.LastUpdate <= 1000 {
		t.Errorf("last_update = %d, should advance on every status write", rec.LastUpdate)
	}
}

func TestLockAcquireContention(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := &types.LockRecord{RunID: "r1", HolderID: "h1", State: types.LockActive}
	if err := s.AcquireLock(ctx, first); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	second := &types.LockRecord{RunID: "r1", HolderID: "h2", State: types.LockActive}
	if err := s.AcquireLock(ctx, second); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("contended acquire should be ErrConditionFailed, got %v", err)
	}

	lock, err := s.GetLock(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if lock.HolderID != "h1" {
		t.Errorf("holder = %s, contention must not steal the lock", lock.HolderID)
	}
}

func TestLockReleaseAllowsReacquire(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.AcquireLock(ctx, &types.LockRecord{RunID: "r1", HolderID: "h1", State: types.LockActive}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReleaseLock(ctx, "r1"); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}

	if err := s.AcquireLock(ctx, &types.LockRecord{RunID: "r1", HolderID: "h2", State: types.LockActive}); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	lock, err := s.GetLock(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if lock.HolderID != "h2" || lock.State != types.LockActive {
		t.Errorf("lock = %+v", lock)
	}
}

func TestReleaseMissingLockIsNoop(t *testing.T) {
	s := NewMemoryStore()
	if err := s.ReleaseLock(context.Background(), "absent"); err != nil {
		t.Errorf("release of absent lock: %v", err)
	}
}

func TestEventQueries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	put := func(name string, ms int64, typ string) {
		t.Helper()
		ev := &types.OrderEvent{
			TraceID:   "tr1",
			SK:        types.EventSK(name, ms),
			OrderName: name,
			EpochMS:   ms,
			EventType: typ,
		}
		if err := s.PutEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	put("order-0001", 1000, types.EventDispatched)
	put("order-0001", 2000, types.EventCompleted)
	put("order-0002", 1500, types.EventDispatched)

	all, err := s.QueryByTrace(ctx, "tr1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("want 3 events, got %d", len(all))
	}

	one, err := s.QueryByTrace(ctx, "tr1", "order-0001")
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 2 {
		t.Fatalf("prefix query want 2 events, got %d", len(one))
	}

	latest, err := s.LatestEvent(ctx, "tr1", "order-0001")
	if err != nil {
		t.Fatal(err)
	}
	if latest.EventType != types.EventCompleted {
		t.Errorf("latest = %s", latest.EventType)
	}

	if _, err := s.LatestEvent(ctx, "tr1", "order-0009"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing order events should be ErrNotFound, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	err := wrapError("get_order", "r1:0001", context.DeadlineExceeded)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("deadline should classify as timeout, got %v", err)
	}
	if !isTransient(err) {
		t.Error("timeout should be transient")
	}

	cond := &StoreError{Kind: ErrConditionFailed, Op: "acquire_lock", Err: errors.New("conditional request failed")}
	if isTransient(cond) {
		t.Error("condition failure must not be retried")
	}
}
