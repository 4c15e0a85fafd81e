package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-table-reservations/internal/app"
	"github.com/imrishuroy/go-table-reservations/internal/tasks"
)

func newSweepCmd() *cobra.Command {
	var enqueue bool

	c := &cobra.Command{
		Use:   "sweep",
		Short: "Expire pending reservations whose hold has lapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logs, err := setup()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := app.New(ctx, cfg, logs)
			if err != nil {
				return err
			}
			defer a.Close()

			if enqueue {
				id, err := a.Queue.Enqueue(ctx, tasks.KindSweep, "", time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sweep task %s enqueued\n", id)
				return nil
			}

			n, err := a.Sweeper.Execute(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d reservation(s)\n", n)
			return nil
		},
	}
	c.Flags().BoolVar(&enqueue, "enqueue", false, "enqueue a sweep task for the worker instead of running inline")
	return c
}
