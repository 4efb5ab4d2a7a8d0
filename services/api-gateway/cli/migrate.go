package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AlxanderArt/HumanOS/internal/cliconfig"
	"github.com/AlxanderArt/HumanOS/internal/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Connect to PostgreSQL and apply pending schema migrations.

Applied files are recorded in schema_migrations, so running migrate twice is safe.
Reads the DSN from --postgres-dsn, HUMANOS_POSTGRES_DSN, or the config file.`,
	RunE: runMigrate,
}

func runMigrate(_ *cobra.Command, _ []string) error {
	logger := cliconfig.NewLogger(os.Stdout, viper.GetString("log_level"), "api-gateway")
	dsn := viper.GetString("postgres_dsn")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	applied, err := postgres.Migrate(ctx, pool, logger)
	if err != nil {
		return err
	}
	for _, f := range applied {
		fmt.Printf("applied %s\n", f)
	}
	fmt.Printf("migrations complete (%d applied)\n", len(applied))
	return nil
}
