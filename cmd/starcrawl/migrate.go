// cmd/starcrawl/migrate.go
package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			m, err := migrate.New("file://migrations", cfg.DBURL)
			if err != nil {
				return fmt.Errorf("failed to open migrations: %w", err)
			}

			if down {
				err = m.Down()
			} else {
				err = m.Up()
			}
			if err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("failed to run database migrations: %w", err)
			}

			logger.Info("Database migrations applied", "down", down)
			return nil
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "roll the schema back instead of applying it")
	return cmd
}
