package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, st, err := openStore(cmd.Context(), a.cfg, a.log)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.log.Info("Schema migrated")
			return nil
		},
	}
}
