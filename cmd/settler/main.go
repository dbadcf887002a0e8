package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "settler",
		Usage: "Prove rollup blocks and settle them in order",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the settlement pipeline",
				Flags:  runFlags(),
				Action: run,
			},
			{
				Name:   "remove",
				Usage:  "Remove the persisted cursor of a pipeline",
				Flags:  removeFlags(),
				Action: remove,
			},
			{
				Name:  "failed",
				Usage: "Inspect and acknowledge blocks that stopped the pipeline",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List failed blocks (--all includes acknowledged ones)",
						Flags:  failedFlags(),
						Action: failedList,
					},
					{
						Name:   "ack",
						Usage:  "Acknowledge a failed block (--block n) or every unhandled one (--all)",
						Flags:  failedFlags(),
						Action: failedAck,
					},
				},
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
