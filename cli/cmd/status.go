package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/foreman/artifact"
	"github.com/pithecene-io/foreman/cli/render"
	"github.com/pithecene-io/foreman/types"
)

// orderRow is the thin per-order slice status renders.
type orderRow struct {
	OrderNum      string       `json:"order_num"`
	OrderName     string       `json:"order_name"`
	Status        types.Status `json:"status"`
	QueueID       string       `json:"queue_id,omitempty"`
	Dependencies  []string     `json:"dependencies,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
}

// runStatus is the full status payload: order rows plus the done marker
// once the run has finalized.
type runStatus struct {
	RunID  string            `json:"run_id"`
	Done   *types.DoneMarker `json:"done,omitempty"`
	Orders []orderRow        `json:"orders"`
}

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the current state of a run",
		ArgsUsage: "<run-id>",
		Flags:     ReadOnlyFlags(),
		Action:    statusAction,
	}
}

func statusAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: foreman status <run-id>", 2)
	}
	runID := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	kc, err := newKernelClients(c.Context, c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	status, err := fetchRunStatus(c.Context, kc, runID)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(status)
}

// fetchRunStatus reads order rows and, when present, the done marker.
func fetchRunStatus(ctx context.Context, kc *kernelClients, runID string) (*runStatus, error) {
	orders, err := kc.store.GetRunOrders(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("run %s not found", runID)
	}

	status := &runStatus{RunID: runID, Orders: make([]orderRow, 0, len(orders))}
	for _, rec := range orders {
		status.Orders = append(status.Orders, orderRow{
			OrderNum:      rec.OrderNum,
			OrderName:     rec.OrderName,
			Status:        rec.Status,
			QueueID:       rec.QueueID,
			Dependencies:  rec.Dependencies,
			FailureReason: rec.FailureReason,
		})
	}

	done, err := kc.artifacts.ReadDone(ctx, runID)
	switch {
	case err == nil:
		status.Done = done
	case errors.Is(err, artifact.ErrNotFound):
		// Run still in flight.
	default:
		return nil, fmt.Errorf("read done marker: %w", err)
	}
	return status, nil
}
