// Package watchdog is the per-order timeout backstop. One watchdog
// tracks one dispatched order; if the order's deadline passes without a
// callback result, it writes a synthetic timed_out result. That write
// triggers a fresh orchestrator pass, so real and synthetic terminations
// flow through the same path.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/foreman/artifact"
	"github.com/pithecene-io/foreman/log"
	"github.com/pithecene-io/foreman/types"
)

// PollInterval is how long the watchdog waits between probes.
const PollInterval = 60 * time.Second

// Input is the watchdog's entire state: one invocation input, no more.
type Input struct {
	RunID        string `json:"run_id"`
	OrderNum     string `json:"order_num"`
	TimeoutS     int    `json:"timeout_s"`
	DispatchedAt int64  `json:"dispatched_at"`
}

// Deadline returns the instant after which the order is overdue.
func (in Input) Deadline() time.Time {
	return time.Unix(in.DispatchedAt, 0).Add(time.Duration(in.TimeoutS) * time.Second)
}

// Outcome reports how a watchdog pass resolved.
type Outcome int

const (
	// OutcomeWaiting means no result yet and the deadline has not passed.
	OutcomeWaiting Outcome = iota
	// OutcomeResultPresent means the worker reported before the deadline.
	OutcomeResultPresent
	// OutcomeTimedOut means a synthetic timed_out result was written.
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWaiting:
		return "waiting"
	case OutcomeResultPresent:
		return "result_present"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Watchdog probes one order against its deadline.
type Watchdog struct {
	artifacts artifact.Store
	logger    *log.Logger
	now       func() time.Time
}

// New creates a watchdog over the artifact store.
func New(artifacts artifact.Store, logger *log.Logger) *Watchdog {
	return &Watchdog{artifacts: artifacts, logger: logger, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (w *Watchdog) WithClock(now func() time.Time) *Watchdog {
	w.now = now
	return w
}

// Check performs one probe: result present wins, an expired deadline
// writes the synthetic result, anything else keeps waiting.
func (w *Watchdog) Check(ctx context.Context, in Input) (Outcome, error) {
	present, err := w.artifacts.ResultExists(ctx, in.RunID, in.OrderNum)
	if err != nil {
		return OutcomeWaiting, fmt.Errorf("probe result for %s/%s: %w", in.RunID, in.OrderNum, err)
	}
	if present {
		return OutcomeResultPresent, nil
	}

	if !w.now().After(in.Deadline()) {
		return OutcomeWaiting, nil
	}

	synthetic := &types.CallbackResult{
		Status: types.StatusTimedOut,
		Log:    fmt.Sprintf("no callback within %ds of dispatch", in.TimeoutS),
	}
	if err := w.artifacts.WriteResult(ctx, in.RunID, in.OrderNum, synthetic); err != nil {
		return OutcomeWaiting, fmt.Errorf("write synthetic result for %s/%s: %w", in.RunID, in.OrderNum, err)
	}

	w.logger.Warn("order timed out, synthetic result written", map[string]any{
		"run_id":    in.RunID,
		"order_num": in.OrderNum,
		"timeout_s": in.TimeoutS,
	})
	return OutcomeTimedOut, nil
}

// Run polls until the order resolves or ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context, in Input) (Outcome, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		outcome, err := w.Check(ctx, in)
		if err != nil {
			return outcome, err
		}
		if outcome != OutcomeWaiting {
			return outcome, nil
		}

		select {
		case <-ctx.Done():
			return OutcomeWaiting, ctx.Err()
		case <-ticker.C:
		}
	}
}
