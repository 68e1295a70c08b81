package state

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/foreman/types"
)

// MemoryStore is an in-memory Store for tests and local runs. It honors
// the same conditional-write semantics as the DynamoDB implementation.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*types.OrderRecord
	events map[string][]*types.OrderEvent
	locks  map[string]*types.LockRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*types.OrderRecord),
		events: make(map[string][]*types.OrderEvent),
		locks:  make(map[string]*types.LockRecord),
	}
}

func (s *MemoryStore) PutOrder(_ context.Context, rec *types.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.orders[rec.PK()] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, runID, orderNum string) (*types.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk := runID + ":" + orderNum
	rec, ok := s.orders[pk]
	if !ok {
		return nil, &StoreError{Kind: ErrNotFound, Op: "get_order", Key: pk, Err: ErrNotFound}
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) GetRunOrders(_ context.Context, runID string) ([]*types.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.OrderRecord
	for _, rec := range s.orders {
		if rec.RunID == runID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNum < out[j].OrderNum })
	return out, nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, runID, orderNum string, status types.Status, extra map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk := runID + ":" + orderNum
	rec, ok := s.orders[pk]
	if !ok {
		return &StoreError{Kind: ErrNotFound, Op: "update_order_status", Key: pk, Err: ErrNotFound}
	}
	rec.Status = status
	rec.LastUpdate = time.Now().Unix()
	for k, v := range extra {
		switch k {
		case "log":
			if sv, ok := v.(string); ok {
				rec.Log = sv
			}
		case "failure_reason":
			if sv, ok := v.(string); ok {
				rec.FailureReason = sv
			}
		case "execution_url":
			if sv, ok := v.(string); ok {
				rec.ExecutionURL = sv
			}
		case "watchdog_handle":
			if sv, ok := v.(string); ok {
				rec.WatchdogHandle = sv
			}
		}
	}
	return nil
}

func (s *MemoryStore) PutEvent(_ context.Context, ev *types.OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.events[ev.TraceID] = append(s.events[ev.TraceID], &cp)
	return nil
}

func (s *MemoryStore) QueryByTrace(_ context.Context, traceID, orderNamePrefix string) ([]*types.OrderEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.OrderEvent
	for _, ev := range s.events[traceID] {
		if orderNamePrefix != "" && !strings.HasPrefix(ev.SK, orderNamePrefix+":") {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SK < out[j].SK })
	return out, nil
}

func (s *MemoryStore) LatestEvent(_ context.Context, traceID, orderName string) (*types.OrderEvent, error) {
	evs, err := s.QueryByTrace(context.Background(), traceID, orderName)
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		return nil, &StoreError{Kind: ErrNotFound, Op: "latest_event", Key: traceID + "/" + orderName, Err: ErrNotFound}
	}
	return evs[len(evs)-1], nil
}

func (s *MemoryStore) AcquireLock(_ context.Context, lock *types.LockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk := types.LockPK(lock.RunID)
	if cur, ok := s.locks[pk]; ok && cur.State != types.LockCompleted {
		return &StoreError{Kind: ErrConditionFailed, Op: "acquire_lock", Key: lock.RunID, Err: ErrConditionFailed}
	}
	cp := *lock
	s.locks[pk] = &cp
	return nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk := types.LockPK(runID)
	if cur, ok := s.locks[pk]; ok {
		cur.State = types.LockCompleted
	}
	return nil
}

func (s *MemoryStore) GetLock(_ context.Context, runID string) (*types.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[types.LockPK(runID)]
	if !ok {
		return nil, &StoreError{Kind: ErrNotFound, Op: "get_lock", Key: runID, Err: ErrNotFound}
	}
	cp := *lock
	return &cp, nil
}

var _ Store = (*MemoryStore)(nil)
