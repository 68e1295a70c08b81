package state

import (
	"context"

	"github.com/pithecene-io/foreman/types"
)

// OrderStore persists per-order rows keyed by (run_id, order_num).
type OrderStore interface {
	// PutOrder inserts an order record. Retries transient failures.
	PutOrder(ctx context.Context, rec *types.OrderRecord) error

	// GetOrder fetches one order. Returns ErrNotFound if absent.
	GetOrder(ctx context.Context, runID, orderNum string) (*types.OrderRecord, error)

	// GetRunOrders returns every order of a run, ordered by order_num.
	GetRunOrders(ctx context.Context, runID string) ([]*types.OrderRecord, error)

	// UpdateOrderStatus unconditionally sets the order status, stamps
	// last_update, and merges extra fields. Unconditional on purpose:
	// reconciliation is idempotent on terminal states.
	UpdateOrderStatus(ctx context.Context, runID, orderNum string, status types.Status, extra map[string]any) error
}

// EventStore appends and queries audit events keyed by
// (trace_id, "<order_name>:<epoch_ms>").
type EventStore interface {
	// PutEvent appends an event. Events are never rewritten.
	PutEvent(ctx context.Context, ev *types.OrderEvent) error

	// QueryByTrace returns events for a trace, optionally filtered by an
	// order-name prefix on the sort key.
	QueryByTrace(ctx context.Context, traceID, orderNamePrefix string) ([]*types.OrderEvent, error)

	// LatestEvent returns the most recent event for an order, or
	// ErrNotFound.
	LatestEvent(ctx context.Context, traceID, orderName string) (*types.OrderEvent, error)
}

// LockStore grants per-run mutual exclusion via conditional writes.
type LockStore interface {
	// AcquireLock performs the conditional put: succeeds when no lock row
	// exists or the existing row is completed. Returns ErrConditionFailed
	// on contention; contention is never retried.
	AcquireLock(ctx context.Context, lock *types.LockRecord) error

	// ReleaseLock unconditionally marks the lock completed.
	ReleaseLock(ctx context.Context, runID string) error

	// GetLock fetches the current lock row, or ErrNotFound.
	GetLock(ctx context.Context, runID string) (*types.LockRecord, error)
}

// Store is the full state-store surface the kernel depends on.
type Store interface {
	OrderStore
	EventStore
	LockStore
}
