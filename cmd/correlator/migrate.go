package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harborgrid-justin/black-cross-sub000/internal/infrastructure/database"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.App.Storage != "postgres" {
				return fmt.Errorf("migrate needs app.storage=postgres, got %q", c.cfg.App.Storage)
			}
			ctx := cmd.Context()

			db, err := database.NewPostgres(ctx, c.cfg.Database, c.log)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.Migrate(ctx, db.Pool())
			if err != nil {
				return err
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			c.log.Info().Int("applied", len(applied)).Msg("migrations complete")
			return nil
		},
	}
}
