package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-table-reservations/internal/aws"
	"github.com/imrishuroy/go-table-reservations/internal/lock"
	"github.com/imrishuroy/go-table-reservations/internal/slot"
)

type slotFlags struct {
	table    string
	date     string
	clock    string
	timezone string
}

func (f *slotFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&f.table, "table", "", "table id")
	c.Flags().StringVar(&f.date, "date", "", "restaurant-local date (YYYY-MM-DD)")
	c.Flags().StringVar(&f.clock, "time", "", "restaurant-local time (HH:MM)")
	c.Flags().StringVar(&f.timezone, "timezone", "UTC", "restaurant timezone")
}

// key returns the lock key from a positional argument or the slot flags.
func (f *slotFlags) key(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	loc, err := time.LoadLocation(f.timezone)
	if err != nil {
		return "", errors.Wrap(err, "invalid --timezone")
	}
	s, err := slot.New(f.table, f.date, f.clock, loc)
	if err != nil {
		return "", errors.Wrap(err, "give a lock key or --table, --date and --time")
	}
	return s.LockKey(), nil
}

func newLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or break slot locks",
	}
	cmd.AddCommand(newLockInspectCmd())
	cmd.AddCommand(newLockReleaseCmd())
	return cmd
}

func lockService(ctx context.Context) (*lock.Service, error) {
	cfg, logs, err := setup()
	if err != nil {
		return nil, err
	}
	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		return nil, err
	}
	return lock.NewService(clients.DynamoDB, cfg.LocksTable, cfg.LockMaxBackoff, logs), nil
}

func newLockInspectCmd() *cobra.Command {
	var f slotFlags
	c := &cobra.Command{
		Use:   "inspect [lock-key]",
		Short: "Show the holder of a slot lock",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := f.key(args)
			if err != nil {
				return err
			}
			ctx := context.Background()
			svc, err := lockService(ctx)
			if err != nil {
				return err
			}
			l, err := svc.Inspect(ctx, key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if l == nil {
				fmt.Fprintf(out, "%s: free\n", key)
				return nil
			}
			state := "held"
			if l.Expired(time.Now()) {
				state = "expired"
			}
			fmt.Fprintf(out, "%s: %s by %s until %s\n", key, state, l.Owner,
				time.UnixMilli(l.ExpiresAt).UTC().Format(time.RFC3339Nano))
			return nil
		},
	}
	f.register(c)
	return c
}

func newLockReleaseCmd() *cobra.Command {
	var f slotFlags
	c := &cobra.Command{
		Use:   "release [lock-key]",
		Short: "Delete a slot lock regardless of owner",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := f.key(args)
			if err != nil {
				return err
			}
			ctx := context.Background()
			svc, err := lockService(ctx)
			if err != nil {
				return err
			}
			if err := svc.ForceRelease(ctx, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: released\n", key)
			return nil
		},
	}
	f.register(c)
	return c
}
