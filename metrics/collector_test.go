package metrics

import (
	"sync"
	"testing"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector("orchestrator", "r1")
	c.IncPassStarted()
	c.IncOrderDispatched()
	c.IncOrderDispatched()
	c.IncRunFinalized()
	c.IncPassComplete()

	snap := c.Snapshot()
	if snap.PassesStarted != 1 || snap.PassesComplete != 1 {
		t.Errorf("passes = %d/%d", snap.PassesStarted, snap.PassesComplete)
	}
	if snap.OrdersDispatched != 2 {
		t.Errorf("dispatched = %d", snap.OrdersDispatched)
	}
	if snap.RunsFinalized != 1 {
		t.Errorf("finalized = %d", snap.RunsFinalized)
	}
	if snap.Component != "orchestrator" || snap.RunID != "r1" {
		t.Errorf("dimensions = %s/%s", snap.Component, snap.RunID)
	}
}

func TestSnapshotFields(t *testing.T) {
	c := NewCollector("orchestrator", "r1")
	c.IncPassStarted()
	c.IncOrderDoomed()

	fields := c.Snapshot().Fields()
	if fields["passes_started"] != int64(1) || fields["orders_doomed"] != int64(1) {
		t.Errorf("fields = %v", fields)
	}
	if fields["orders_dispatched"] != int64(0) {
		t.Error("zero counters should still be present")
	}
	if fields["component"] != "orchestrator" || fields["metrics_run_id"] != "r1" {
		t.Errorf("dimensions = %v/%v", fields["component"], fields["metrics_run_id"])
	}

	bare := NewCollector("", "").Snapshot().Fields()
	if _, ok := bare["component"]; ok {
		t.Error("empty component should be omitted")
	}
}

func TestCollectorNilSafe(t *testing.T) {
	var c *Collector
	c.IncPassStarted()
	c.IncJobAdmitted()
	if snap := c.Snapshot(); snap.PassesStarted != 0 {
		t.Errorf("nil snapshot = %+v", snap)
	}
}

func TestCollectorConcurrentIncrements(t *testing.T) {
	c := NewCollector("test", "")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncOrderDispatched()
		}()
	}
	wg.Wait()
	if got := c.Snapshot().OrdersDispatched; got != 50 {
		t.Errorf("dispatched = %d, want 50", got)
	}
}
