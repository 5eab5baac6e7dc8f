// Command catalogimport runs catalog imports and exports from the shell.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalogimport/internal/catalog/postgres"
	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/logging"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "catalogimport",
	Short:         "Import and export the product catalog",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Overload()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		// stdout is reserved for command output
		logger = logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
		slog.SetDefault(logger)
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// openStore connects to the configured database.
func openStore(ctx context.Context) (*pgxpool.Pool, *postgres.Store, error) {
	pool, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return pool, postgres.New(pool), nil
}
