package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/foreman/artifact"
	"github.com/pithecene-io/foreman/cli/tui"
)

// WatchCommand returns the watch command: a live TUI view of a run that
// exits when the done marker appears.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Watch a run until it finalizes",
		ArgsUsage: "<run-id>",
		Flags:     []cli.Flag{ConfigFlag},
		Action:    watchAction,
	}
}

func watchAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: foreman watch <run-id>", 2)
	}
	runID := c.Args().First()

	kc, err := newKernelClients(c.Context, c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	fetch := func(ctx context.Context) (*tui.RunView, error) {
		orders, err := kc.store.GetRunOrders(ctx, runID)
		if err != nil {
			return nil, err
		}
		if len(orders) == 0 {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		view := &tui.RunView{RunID: runID, Orders: orders}

		done, err := kc.artifacts.ReadDone(ctx, runID)
		switch {
		case err == nil:
			view.Done = done
		case errors.Is(err, artifact.ErrNotFound):
			// Still in flight.
		default:
			return nil, err
		}
		return view, nil
	}

	if err := tui.RunWatchTUI(fetch); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}
