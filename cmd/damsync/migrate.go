package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dams-sync/internal/repository"
)

var migrateDirection string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or drop the dam_observations schema on the source database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := bootstrap(ctx, "damsync-migrate")
		if err != nil {
			return err
		}
		defer a.close()

		if err := repository.Migrate(ctx, a.db, migrateDirection, a.logger); err != nil {
			return err
		}

		fmt.Printf("Migration %s completed successfully\n", migrateDirection)
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDirection, "direction", repository.DirectionUp, "Migration direction: up or down")
	rootCmd.AddCommand(migrateCmd)
}
