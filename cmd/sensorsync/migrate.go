package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/sensorsync/config"
)

// migrateCmd applies the reading schema to a Postgres store.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply pending schema migrations to the configured Postgres store.

The schema is compiled into the binary, so no migration files need to be
shipped alongside it. Running migrate on an up-to-date database is a no-op.

Example:
  sensorsync migrate -c config.yaml`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = migrateCmd.MarkFlagRequired("config")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	st, err := config.OpenPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	fmt.Printf("Migrations applied.\n")
	return nil
}
