package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/foreman/cli/render"
	"github.com/pithecene-io/foreman/types"
)

// eventRow is the thin per-event slice the events command renders.
type eventRow struct {
	Time      string       `json:"time"`
	OrderName string       `json:"order_name"`
	EventType string       `json:"event_type"`
	Status    types.Status `json:"status"`
	RunID     string       `json:"run_id,omitempty"`
}

// EventsCommand returns the events command.
func EventsCommand() *cli.Command {
	return &cli.Command{
		Name:      "events",
		Usage:     "Show the audit trail for a trace",
		ArgsUsage: "<trace-id>",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "order",
				Usage: "Filter events by order name",
			},
		),
		Action: eventsAction,
	}
}

func eventsAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: foreman events <trace-id>", 2)
	}
	traceID := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	kc, err := newKernelClients(c.Context, c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	events, err := kc.store.QueryByTrace(c.Context, traceID, c.String("order"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("read trace %s: %v", traceID, err), 1)
	}

	rows := make([]eventRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, eventRow{
			Time:      time.UnixMilli(ev.EpochMS).UTC().Format(time.RFC3339),
			OrderName: ev.OrderName,
			EventType: ev.EventType,
			Status:    ev.Status,
			RunID:     ev.RunID,
		})
	}
	return r.Render(rows)
}
