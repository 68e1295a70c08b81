package orchestrate

import (
	"fmt"

	"github.com/pithecene-io/foreman/types"
)

// Doomed pairs a queued order with the dependency failure that blocks it.
type Doomed struct {
	Rec    *types.OrderRecord
	Reason string
}

// Evaluation partitions the queued orders of a run into three disjoint
// sets.
type Evaluation struct {
	// Ready orders have every dependency succeeded (or terminal without
	// must_succeed) and hold no contended queue slot.
	Ready []*types.OrderRecord
	// Doomed orders have a must_succeed dependency that ended
	// non-succeeded. They will never run.
	Doomed []Doomed
	// Waiting orders have a dependency still in flight, or are held back
	// by queue serialisation.
	Waiting []*types.OrderRecord
}

// Evaluate partitions queued orders by dependency state. Orders sharing
// a queue_id are serialised: at most one may be running at a time, and
// at most one is released per pass.
//
// A terminal non-succeeded dependency blocks its dependents only when
// the dependency itself was marked must_succeed; otherwise it counts as
// satisfied.
func Evaluate(orders []*types.OrderRecord) Evaluation {
	byName := make(map[string]*types.OrderRecord, len(orders))
	for _, rec := range orders {
		byName[rec.OrderName] = rec
	}

	// queue_id slots already consumed by running orders.
	queueBusy := make(map[string]bool)
	for _, rec := range orders {
		if rec.Status == types.StatusRunning && rec.QueueID != "" {
			queueBusy[rec.QueueID] = true
		}
	}

	var ev Evaluation
	for _, rec := range orders {
		if rec.Status != types.StatusQueued {
			continue
		}

		doomReason := ""
		inFlight := false
		for _, dep := range rec.Dependencies {
			depRec, ok := byName[dep]
			if !ok {
				// Admission validates dependency names; an unknown name
				// here means a corrupted run. Treat as blocking failure.
				doomReason = fmt.Sprintf("dependency %s does not exist", dep)
				break
			}
			switch {
			case depRec.Status.IsTerminal() && depRec.Status != types.StatusSucceeded && depRec.MustSucceed:
				doomReason = fmt.Sprintf("dependency %s ended as %s", dep, depRec.Status)
			case !depRec.Status.IsTerminal():
				inFlight = true
			}
			if doomReason != "" {
				break
			}
		}

		switch {
		case doomReason != "":
			ev.Doomed = append(ev.Doomed, Doomed{Rec: rec, Reason: doomReason})
		case inFlight:
			ev.Waiting = append(ev.Waiting, rec)
		case rec.QueueID != "" && queueBusy[rec.QueueID]:
			ev.Waiting = append(ev.Waiting, rec)
		default:
			if rec.QueueID != "" {
				queueBusy[rec.QueueID] = true
			}
			ev.Ready = append(ev.Ready, rec)
		}
	}
	return ev
}
