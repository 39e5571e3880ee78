package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/langchou/truckpark/internal/repository"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := repository.New(cmd.Context(), cfg.DatabaseURL, cfg.DBConnectRetries)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			logger.Info("Database migrated successfully")
			return nil
		},
	}
}
