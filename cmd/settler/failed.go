package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/data/bolt/cursor"
)

func openFailedStore(c *cli.Context) (*cursor.Repository, error) {
	store, err := cursor.Open(c.String("db-path"), c.String("pipeline-id"), zap.NewNop().Sugar())
	if err != nil {
		return nil, fmt.Errorf("failed to open cursor store: %w", err)
	}
	return store, nil
}

// failedList prints the failed-blocks list of a pipeline.
func failedList(c *cli.Context) error {
	store, err := openFailedStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	blocks, err := store.FailedBlocks(c.Context, c.Bool("all"))
	if err != nil {
		return fmt.Errorf("failed to read failed blocks: %w", err)
	}
	if len(blocks) == 0 {
		fmt.Fprintln(c.App.Writer, "no failed blocks")
		return nil
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BLOCK\tSTAGE\tATTEMPTS\tFAILED AT\tHANDLED\tREASON")
	for _, fb := range blocks {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%t\t%s\n",
			fb.BlockNumber, fb.Stage, fb.Attempts, fb.FailedAt.UTC().Format(time.RFC3339), fb.Handled, fb.Reason)
	}
	return tw.Flush()
}

// failedAck marks failed blocks as handled by an operator.
func failedAck(c *cli.Context) error {
	all := c.Bool("all")
	if all == c.IsSet("block") {
		return errors.New("exactly one of --block or --all is required")
	}

	store, err := openFailedStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	targets := []uint64{c.Uint64("block")}
	if all {
		blocks, err := store.FailedBlocks(c.Context, false)
		if err != nil {
			return fmt.Errorf("failed to read failed blocks: %w", err)
		}
		targets = targets[:0]
		for _, fb := range blocks {
			targets = append(targets, fb.BlockNumber)
		}
	}

	for _, n := range targets {
		if err := store.MarkFailedHandled(c.Context, n); err != nil {
			return fmt.Errorf("failed to acknowledge block %d: %w", n, err)
		}
		fmt.Fprintf(c.App.Writer, "acknowledged block %d\n", n)
	}
	return nil
}
