package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-table-reservations/internal/app"
	"github.com/imrishuroy/go-table-reservations/internal/config"
	"github.com/imrishuroy/go-table-reservations/internal/db"
	"github.com/imrishuroy/go-table-reservations/internal/migrate"
	"github.com/imrishuroy/go-table-reservations/internal/reservations"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logs, err := setup()
			if err != nil {
				return err
			}
			ctx := context.Background()
			d, err := openPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			n, err := migrate.Up(ctx, d, logs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo restaurant and tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			ctx := context.Background()
			d, err := openPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := app.SeedDemo(ctx, reservations.NewPostgresRepository(d)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded restaurant %s with %d tables\n", app.DemoRestaurant.ID, len(app.DemoTables))
			return nil
		},
	}
}

func openPostgres(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	if cfg.StoreDriver != config.DriverPostgres {
		return nil, errors.Errorf("command needs RESV_STORE_DRIVER=%s", config.DriverPostgres)
	}
	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, errors.Wrap(err, "database unreachable")
	}
	return d, nil
}
