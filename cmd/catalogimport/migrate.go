package main

import (
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalogimport/internal/catalog/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the catalog and import tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
