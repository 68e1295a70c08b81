package orchestrate

import (
	"encoding/json"
	"testing"

	"github.com/pithecene-io/foreman/types"
)

func rec(name string, status types.Status, mustSucceed bool, deps ...string) *types.OrderRecord {
	return &types.OrderRecord{
		RunID:        "r1",
		OrderName:    name,
		Status:       status,
		MustSucceed:  mustSucceed,
		Dependencies: deps,
	}
}

func names(recs []*types.OrderRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.OrderName
	}
	return out
}

func TestEvaluateNoDepsReady(t *testing.T) {
	ev := Evaluate([]*types.OrderRecord{rec("a", types.StatusQueued, true)})
	if len(ev.Ready) != 1 || len(ev.Doomed) != 0 || len(ev.Waiting) != 0 {
		t.Errorf("ev = %+v", ev)
	}
}

func TestEvaluateWaitingOnRunningDep(t *testing.T) {
	ev := Evaluate([]*types.OrderRecord{
		rec("a", types.StatusRunning, true),
		rec("b", types.StatusQueued, true, "a"),
	})
	if len(ev.Waiting) != 1 || ev.Waiting[0].OrderName != "b" {
		t.Errorf("waiting = %v", names(ev.Waiting))
	}
}

func TestEvaluateDoomedByMustSucceedDep(t *testing.T) {
	ev := Evaluate([]*types.OrderRecord{
		rec("a", types.StatusTimedOut, true),
		rec("b", types.StatusQueued, true, "a"),
	})
	if len(ev.Doomed) != 1 {
		t.Fatalf("doomed = %d", len(ev.Doomed))
	}
	if ev.Doomed[0].Reason != "dependency a ended as timed_out" {
		t.Errorf("reason = %q", ev.Doomed[0].Reason)
	}
}

func TestEvaluateNonMustSucceedDepPermits(t *testing.T) {
	ev := Evaluate([]*types.OrderRecord{
		rec("a", types.StatusFailed, false),
		rec("b", types.StatusQueued, true, "a"),
	})
	if len(ev.Ready) != 1 || ev.Ready[0].OrderName != "b" {
		t.Errorf("ready = %v, a failure without must_succeed permits b", names(ev.Ready))
	}
}

func TestEvaluateQueueHoldsAllButOne(t *testing.T) {
	a := rec("a", types.StatusQueued, true)
	a.QueueID = "q"
	b := rec("b", types.StatusQueued, true)
	b.QueueID = "q"
	c := rec("c", types.StatusQueued, true)

	ev := Evaluate([]*types.OrderRecord{a, b, c})
	if len(ev.Ready) != 2 {
		t.Fatalf("ready = %v", names(ev.Ready))
	}
	if len(ev.Waiting) != 1 || ev.Waiting[0].OrderName != "b" {
		t.Errorf("waiting = %v", names(ev.Waiting))
	}
}

func TestEvaluateQueueBusyWithRunning(t *testing.T) {
	running := rec("a", types.StatusRunning, true)
	running.QueueID = "q"
	queued := rec("b", types.StatusQueued, true)
	queued.QueueID = "q"

	ev := Evaluate([]*types.OrderRecord{running, queued})
	if len(ev.Ready) != 0 || len(ev.Waiting) != 1 {
		t.Errorf("ev = ready %v waiting %v", names(ev.Ready), names(ev.Waiting))
	}
}

func TestRunIDsFromEvent(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"Records": []map[string]any{
			{"s3": map[string]any{"object": map[string]any{"key": "callbacks/r1/0001/result"}}},
			{"s3": map[string]any{"object": map[string]any{"key": "callbacks/r1/0002/result"}}},
			{"s3": map[string]any{"object": map[string]any{"key": "callbacks/r2/0000/result"}}},
		},
	})

	runIDs, err := RunIDsFromEvent(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(runIDs) != 2 || runIDs[0] != "r1" || runIDs[1] != "r2" {
		t.Errorf("run ids = %v", runIDs)
	}
}

func TestRunIDsFromEventRejectsForeignKeys(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"Records": []map[string]any{
			{"s3": map[string]any{"object": map[string]any{"key": "exec/r1/0001/bundle"}}},
		},
	})
	if _, err := RunIDsFromEvent(raw); err == nil {
		t.Error("non-callback key should be rejected")
	}

	empty, _ := json.Marshal(map[string]any{"Records": []any{}})
	if _, err := RunIDsFromEvent(empty); err == nil {
		t.Error("empty batch should be rejected")
	}
}

func TestRunIDsFromEventDecodesKeys(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"Records": []map[string]any{
			{"s3": map[string]any{"object": map[string]any{"key": "callbacks%2Fr1%2F0001%2Fresult"}}},
		},
	})
	runIDs, err := RunIDsFromEvent(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(runIDs) != 1 || runIDs[0] != "r1" {
		t.Errorf("run ids = %v", runIDs)
	}
}
