// Package orchestrate drives runs forward. Every callback write wakes
// one pass: acquire the run lock, reconcile results, evaluate the
// dependency graph, dispatch what became ready, and finalise once every
// order is terminal. A pass that loses the lock exits with no side
// effects; the winner's eventual callbacks re-trigger the work.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/foreman/artifact"
	"github.com/pithecene-io/foreman/config"
	"github.com/pithecene-io/foreman/dispatch"
	"github.com/pithecene-io/foreman/keycrypt"
	"github.com/pithecene-io/foreman/log"
	"github.com/pithecene-io/foreman/metrics"
	"github.com/pithecene-io/foreman/state"
	"github.com/pithecene-io/foreman/types"
	"github.com/pithecene-io/foreman/vcs"
	"github.com/pithecene-io/foreman/watchdog"
)

// dispatchParallelism bounds concurrent backend dispatch within a pass.
const dispatchParallelism = 16

// lockTTL keeps an orphaned lock row from wedging a run forever: a
// crashed holder's row expires and the next notification re-enters.
const lockTTL = time.Hour

// Orchestrator runs one pass per callback notification.
type Orchestrator struct {
	store     state.Store
	artifacts artifact.Store
	backends  dispatch.Dispatcher
	watchdogs watchdog.Starter
	keys      keycrypt.KeyStore
	pr        vcs.Provider
	logger    *log.Logger
	metrics   *metrics.Collector
	cfg       config.Config
	now       func() time.Time
}

// New wires an orchestrator. pr and metrics may be nil.
func New(store state.Store, artifacts artifact.Store, backends dispatch.Dispatcher, watchdogs watchdog.Starter, keys keycrypt.KeyStore, pr vcs.Provider, logger *log.Logger, collector *metrics.Collector, cfg config.Config) *Orchestrator {
	if pr == nil {
		pr = vcs.Nop{}
	}
	return &Orchestrator{
		store:     store,
		artifacts: artifacts,
		backends:  backends,
		watchdogs: watchdogs,
		keys:      keys,
		pr:        pr,
		logger:    logger,
		metrics:   collector,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// HandleRun executes one orchestrator pass for a run. Lock contention is
// not an error: the pass exits and the winner's callbacks re-trigger.
func (o *Orchestrator) HandleRun(ctx context.Context, runID string) error {
	o.metrics.IncPassStarted()

	holderID := uuid.New().String()
	now := o.now()
	err := o.store.AcquireLock(ctx, &types.LockRecord{
		RunID:      runID,
		HolderID:   holderID,
		State:      types.LockActive,
		AcquiredAt: now.Unix(),
		TTL:        now.Add(lockTTL).Unix(),
	})
	if err != nil {
		if errors.Is(err, state.ErrConditionFailed) {
			o.metrics.IncLockContention()
			o.logger.Debug("pass skipped, lock held elsewhere", map[string]any{"run_id": runID})
			return nil
		}
		return fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := o.store.ReleaseLock(ctx, runID); err != nil {
			o.logger.Error("lock release failed", map[string]any{"run_id": runID, "error": err.Error()})
		}
	}()

	orders, err := o.store.GetRunOrders(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run orders: %w", err)
	}
	if len(orders) == 0 {
		return fmt.Errorf("run %s has no orders", runID)
	}

	logger := o.logger.WithRun(log.RunContext{
		RunID:   runID,
		TraceID: orders[0].TraceID,
		FlowID:  orders[0].FlowID,
	})

	if err := o.reconcile(ctx, logger, orders); err != nil {
		return err
	}

	// Dooming an order can doom its dependents in turn; iterate until the
	// partition is stable so a failure cascade resolves in one pass
	// instead of wedging the run waiting for callbacks that cannot come.
	var ev Evaluation
	for {
		ev = Evaluate(orders)
		if len(ev.Doomed) == 0 {
			break
		}
		if err := o.doom(ctx, logger, ev.Doomed); err != nil {
			return err
		}
	}
	o.dispatchReady(ctx, logger, ev.Ready)

	if err := o.finalize(ctx, logger, runID); err != nil {
		return err
	}

	o.metrics.IncPassComplete()
	if o.metrics != nil {
		logger.Info("pass metrics", o.metrics.Snapshot().Fields())
	}
	return nil
}

// reconcile moves running orders with a callback result to their
// terminal state. Idempotent: terminal orders are never probed, so a
// duplicate callback write cannot reopen one.
func (o *Orchestrator) reconcile(ctx context.Context, logger *log.Logger, orders []*types.OrderRecord) error {
	for _, rec := range orders {
		if rec.Status != types.StatusRunning {
			continue
		}

		res, err := o.artifacts.ReadResult(ctx, rec.RunID, rec.OrderNum)
		if errors.Is(err, artifact.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("probe result for %s: %w", rec.PK(), err)
		}

		status := res.Status
		reason := ""
		if !status.IsTerminal() {
			// A result with a non-terminal status is a broken worker;
			// the order cannot be left running on its account.
			status = types.StatusFailed
			reason = fmt.Sprintf("callback reported non-terminal status %q", res.Status)
		}

		extra := map[string]any{"log": types.TruncateLog(res.Log)}
		if reason != "" {
			extra["failure_reason"] = reason
		}
		if err := o.store.UpdateOrderStatus(ctx, rec.RunID, rec.OrderNum, status, extra); err != nil {
			return fmt.Errorf("reconcile %s: %w", rec.PK(), err)
		}
		o.appendEvent(ctx, rec, types.EventCompleted, status, map[string]any{"reason": reason})

		rec.Status = status
		rec.Log = types.TruncateLog(res.Log)
		o.metrics.IncOrderReconciled()
		logger.Info("order reconciled", map[string]any{
			"order_num":  rec.OrderNum,
			"order_name": rec.OrderName,
			"status":     string(status),
		})
	}
	return nil
}

// doom fails queued orders whose must_succeed dependencies ended badly.
func (o *Orchestrator) doom(ctx context.Context, logger *log.Logger, doomed []Doomed) error {
	for _, d := range doomed {
		rec := d.Rec
		extra := map[string]any{
			"log":            d.Reason,
			"failure_reason": d.Reason,
		}
		if err := o.store.UpdateOrderStatus(ctx, rec.RunID, rec.OrderNum, types.StatusFailed, extra); err != nil {
			return fmt.Errorf("doom %s: %w", rec.PK(), err)
		}
		o.appendEvent(ctx, rec, types.EventDependencyFailed, types.StatusFailed, map[string]any{"reason": d.Reason})

		rec.Status = types.StatusFailed
		rec.FailureReason = d.Reason
		o.metrics.IncOrderDoomed()
		logger.Info("order doomed", map[string]any{
			"order_num":  rec.OrderNum,
			"order_name": rec.OrderName,
			"reason":     d.Reason,
		})
	}
	return nil
}

// dispatchReady fans ready orders out to their backends. One order's
// dispatch failure fails that order only; the rest proceed.
func (o *Orchestrator) dispatchReady(ctx context.Context, logger *log.Logger, ready []*types.OrderRecord) {
	sem := make(chan struct{}, dispatchParallelism)
	var wg sync.WaitGroup
	for _, rec := range ready {
		wg.Add(1)
		sem <- struct{}{}
		go func(rec *types.OrderRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			o.dispatchOne(ctx, logger, rec)
		}(rec)
	}
	wg.Wait()
}

func (o *Orchestrator) dispatchOne(ctx context.Context, logger *log.Logger, rec *types.OrderRecord) {
	handle, err := o.backends.Dispatch(ctx, rec)
	if err != nil {
		o.metrics.IncDispatchFailure()
		reason := fmt.Sprintf("dispatch failed: %v", err)
		extra := map[string]any{"log": reason, "failure_reason": reason}
		if uerr := o.store.UpdateOrderStatus(ctx, rec.RunID, rec.OrderNum, types.StatusFailed, extra); uerr != nil {
			logger.Error("failed order could not be recorded", map[string]any{
				"order_num": rec.OrderNum,
				"error":     uerr.Error(),
			})
			return
		}
		o.appendEvent(ctx, rec, types.EventCompleted, types.StatusFailed, map[string]any{"reason": reason})
		rec.Status = types.StatusFailed
		logger.Warn("order dispatch failed", map[string]any{"order_num": rec.OrderNum, "error": err.Error()})
		return
	}

	wdHandle, err := o.watchdogs.Start(ctx, watchdog.Input{
		RunID:        rec.RunID,
		OrderNum:     rec.OrderNum,
		TimeoutS:     rec.TimeoutS,
		DispatchedAt: o.now().Unix(),
	})
	if err != nil {
		// The backend is already running; losing the backstop is worth a
		// loud log but not a failed order.
		logger.Error("watchdog start failed", map[string]any{"order_num": rec.OrderNum, "error": err.Error()})
	}

	extra := map[string]any{"execution_url": handle, "watchdog_handle": wdHandle}
	if err := o.store.UpdateOrderStatus(ctx, rec.RunID, rec.OrderNum, types.StatusRunning, extra); err != nil {
		logger.Error("running transition failed", map[string]any{"order_num": rec.OrderNum, "error": err.Error()})
		return
	}
	o.appendEvent(ctx, rec, types.EventDispatched, types.StatusRunning, map[string]any{"execution_url": handle})

	rec.Status = types.StatusRunning
	rec.ExecutionURL = handle
	rec.WatchdogHandle = wdHandle
	o.metrics.IncOrderDispatched()
	logger.Info("order dispatched", map[string]any{
		"order_num":  rec.OrderNum,
		"order_name": rec.OrderName,
		"target":     string(rec.ExecutionTarget),
	})
}

// finalize reloads the run and, once every order is terminal, resolves
// the job status, writes the done marker, and cleans up. A job past its
// deadline has its in-flight orders force-resolved as timed out first.
func (o *Orchestrator) finalize(ctx context.Context, logger *log.Logger, runID string) error {
	orders, err := o.store.GetRunOrders(ctx, runID)
	if err != nil {
		return fmt.Errorf("reload run orders: %w", err)
	}

	forced, err := o.enforceJobDeadline(ctx, logger, orders)
	if err != nil {
		return err
	}

	for _, rec := range orders {
		if !rec.Status.IsTerminal() {
			return nil
		}
	}

	var summary types.Summary
	allSucceeded := true
	mustFailed := false
	for _, rec := range orders {
		switch rec.Status {
		case types.StatusSucceeded:
			summary.Succeeded++
		case types.StatusFailed:
			summary.Failed++
		case types.StatusTimedOut:
			summary.TimedOut++
		}
		if rec.Status != types.StatusSucceeded {
			allSucceeded = false
			if rec.MustSucceed {
				mustFailed = true
			}
		}
	}

	var status types.Status
	switch {
	case forced > 0:
		status = types.StatusTimedOut
	case allSucceeded:
		status = types.StatusSucceeded
	case mustFailed:
		status = types.StatusFailed
	default:
		status = types.StatusSucceeded
	}

	now := o.now()
	o.putEvent(ctx, &types.OrderEvent{
		TraceID:   orders[0].TraceID,
		SK:        types.EventSK(types.JobOrderName, now.UnixMilli()),
		OrderName: types.JobOrderName,
		EpochMS:   now.UnixMilli(),
		EventType: types.EventJobCompleted,
		Status:    status,
		FlowID:    orders[0].FlowID,
		RunID:     runID,
		Data: map[string]any{
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"timed_out": summary.TimedOut,
		},
		TTL: now.Add(types.OrderEventTTL).Unix(),
	})

	if err := o.artifacts.WriteDone(ctx, runID, &types.DoneMarker{Status: status, Summary: summary}); err != nil {
		return fmt.Errorf("write done marker: %w", err)
	}

	// Cleanup and PR notification are best effort; the done marker is
	// the source of truth.
	if err := o.keys.DeleteRunKeys(ctx, runID); err != nil {
		logger.Warn("key cleanup failed", map[string]any{"error": err.Error()})
	}
	o.notifyPR(ctx, logger, runID, orders, status, summary)

	o.metrics.IncRunFinalized()
	logger.Info("run finalised", map[string]any{
		"status":    string(status),
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"timed_out": summary.TimedOut,
	})
	return nil
}

// enforceJobDeadline force-resolves in-flight orders as timed out once
// the job-level deadline has elapsed. Returns how many orders it forced.
func (o *Orchestrator) enforceJobDeadline(ctx context.Context, logger *log.Logger, orders []*types.OrderRecord) (int, error) {
	deadline := jobDeadline(orders)
	if deadline.IsZero() || !o.now().After(deadline) {
		return 0, nil
	}

	forced := 0
	for _, rec := range orders {
		if rec.Status.IsTerminal() {
			continue
		}
		reason := fmt.Sprintf("job timeout of %ds exceeded", rec.JobTimeoutS)

		// Mirror the watchdog shape so downstream consumers see one
		// termination path.
		if rec.Status == types.StatusRunning {
			synthetic := &types.CallbackResult{Status: types.StatusTimedOut, Log: reason}
			if err := o.artifacts.WriteResult(ctx, rec.RunID, rec.OrderNum, synthetic); err != nil {
				logger.Warn("synthetic result write failed", map[string]any{
					"order_num": rec.OrderNum,
					"error":     err.Error(),
				})
			}
		}

		extra := map[string]any{"log": reason, "failure_reason": reason}
		if err := o.store.UpdateOrderStatus(ctx, rec.RunID, rec.OrderNum, types.StatusTimedOut, extra); err != nil {
			return forced, fmt.Errorf("enforce deadline on %s: %w", rec.PK(), err)
		}
		o.appendEvent(ctx, rec, types.EventCompleted, types.StatusTimedOut, map[string]any{"reason": reason})
		rec.Status = types.StatusTimedOut
		forced++
		logger.Warn("order timed out with the job", map[string]any{"order_num": rec.OrderNum})
	}
	return forced, nil
}

// jobDeadline derives the job-wide deadline from the earliest admission
// timestamp.
func jobDeadline(orders []*types.OrderRecord) time.Time {
	var earliest int64
	timeoutS := 0
	for _, rec := range orders {
		if earliest == 0 || rec.CreatedAt < earliest {
			earliest = rec.CreatedAt
			timeoutS = rec.JobTimeoutS
		}
	}
	if earliest == 0 || timeoutS <= 0 {
		return time.Time{}
	}
	return time.Unix(earliest, 0).Add(time.Duration(timeoutS) * time.Second)
}

func (o *Orchestrator) notifyPR(ctx context.Context, logger *log.Logger, runID string, orders []*types.OrderRecord, status types.Status, summary types.Summary) {
	ref := orders[0].PRReference
	tag := orders[0].SearchTag
	if ref == nil || tag == "" {
		return
	}
	body := fmt.Sprintf("%s\n**Run `%s`** finished: **%s** (%d succeeded, %d failed, %d timed out). Results: `%s`",
		tag, runID, status, summary.Succeeded, summary.Failed, summary.TimedOut, o.cfg.DoneURI(runID))
	if err := o.pr.UpsertComment(ctx, ref, tag, body); err != nil {
		logger.Warn("pr notification failed", map[string]any{"error": err.Error()})
	}
}

// appendEvent records an order-level event. Event writes never fail a
// pass; the audit trail is advisory.
func (o *Orchestrator) appendEvent(ctx context.Context, rec *types.OrderRecord, eventType string, status types.Status, data map[string]any) {
	now := o.now()
	o.putEvent(ctx, &types.OrderEvent{
		TraceID:   rec.TraceID,
		SK:        types.EventSK(rec.OrderName, now.UnixMilli()),
		OrderName: rec.OrderName,
		EpochMS:   now.UnixMilli(),
		EventType: eventType,
		Status:    status,
		FlowID:    rec.FlowID,
		RunID:     rec.RunID,
		Data:      data,
		TTL:       now.Add(types.OrderEventTTL).Unix(),
	})
}

func (o *Orchestrator) putEvent(ctx context.Context, ev *types.OrderEvent) {
	if err := o.store.PutEvent(ctx, ev); err != nil {
		o.logger.Warn("event write failed", map[string]any{
			"run_id": ev.RunID,
			"sk":     ev.SK,
			"error":  err.Error(),
		})
	}
}
