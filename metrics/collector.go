// Package metrics provides per-invocation metrics collection.
//
// The Collector accumulates counters during a single kernel invocation.
// It is a leaf package with no internal dependencies. All increment
// methods are nil-receiver safe so call sites never guard.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of the collected counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Orchestrator passes
	PassesStarted  int64
	PassesComplete int64
	LockContention int64

	// Order transitions
	OrdersReconciled int64
	OrdersDispatched int64
	OrdersDoomed     int64
	DispatchFailures int64

	// Run lifecycle
	RunsFinalized int64

	// Admission
	JobsAdmitted int64
	JobsRejected int64

	// Dimensions (informational, set at construction)
	Component string
	RunID     string
}

// Collector accumulates metrics during one invocation.
// Thread-safe via sync.Mutex; dispatch fan-out increments concurrently.
type Collector struct {
	mu sync.Mutex

	passesStarted  int64
	passesComplete int64
	lockContention int64

	ordersReconciled int64
	ordersDispatched int64
	ordersDoomed     int64
	dispatchFailures int64

	runsFinalized int64

	jobsAdmitted int64
	jobsRejected int64

	component string
	runID     string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(component, runID string) *Collector {
	return &Collector{component: component, runID: runID}
}

// IncPassStarted records an orchestrator pass entering the lock.
func (c *Collector) IncPassStarted() { c.inc(&c.passesStarted) }

// IncPassComplete records an orchestrator pass finishing its work.
func (c *Collector) IncPassComplete() { c.inc(&c.passesComplete) }

// IncLockContention records a pass that lost the lock race and exited.
func (c *Collector) IncLockContention() { c.inc(&c.lockContention) }

// IncOrderReconciled records a running order moved to its terminal state.
func (c *Collector) IncOrderReconciled() { c.inc(&c.ordersReconciled) }

// IncOrderDispatched records an order handed to its backend.
func (c *Collector) IncOrderDispatched() { c.inc(&c.ordersDispatched) }

// IncOrderDoomed records an order failed by a blocked dependency.
func (c *Collector) IncOrderDoomed() { c.inc(&c.ordersDoomed) }

// IncDispatchFailure records a backend dispatch error.
func (c *Collector) IncDispatchFailure() { c.inc(&c.dispatchFailures) }

// IncRunFinalized records a run reaching its done marker.
func (c *Collector) IncRunFinalized() { c.inc(&c.runsFinalized) }

// IncJobAdmitted records a job accepted by admission.
func (c *Collector) IncJobAdmitted() { c.inc(&c.jobsAdmitted) }

// IncJobRejected records a job rejected by validation.
func (c *Collector) IncJobRejected() { c.inc(&c.jobsRejected) }

func (c *Collector) inc(field *int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of the counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		PassesStarted:    c.passesStarted,
		PassesComplete:   c.passesComplete,
		LockContention:   c.lockContention,
		OrdersReconciled: c.ordersReconciled,
		OrdersDispatched: c.ordersDispatched,
		OrdersDoomed:     c.ordersDoomed,
		DispatchFailures: c.dispatchFailures,
		RunsFinalized:    c.runsFinalized,
		JobsAdmitted:     c.jobsAdmitted,
		JobsRejected:     c.jobsRejected,
		Component:        c.component,
		RunID:            c.runID,
	}
}

// Fields flattens the snapshot for structured logging. Zero-valued
// dimensions are omitted; counters are always present.
func (s Snapshot) Fields() map[string]any {
	fields := map[string]any{
		"passes_started":    s.PassesStarted,
		"passes_complete":   s.PassesComplete,
		"lock_contention":   s.LockContention,
		"orders_reconciled": s.OrdersReconciled,
		"orders_dispatched": s.OrdersDispatched,
		"orders_doomed":     s.OrdersDoomed,
		"dispatch_failures": s.DispatchFailures,
		"runs_finalized":    s.RunsFinalized,
		"jobs_admitted":     s.JobsAdmitted,
		"jobs_rejected":     s.JobsRejected,
	}
	if s.Component != "" {
		fields["component"] = s.Component
	}
	if s.RunID != "" {
		fields["metrics_run_id"] = s.RunID
	}
	return fields
}
