package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/partsmarket/backend/internal/config"
	"github.com/partsmarket/backend/internal/db"
	"github.com/partsmarket/backend/internal/handlers"
	"github.com/partsmarket/backend/internal/httpserver"
	"github.com/partsmarket/backend/internal/logging"
	"github.com/partsmarket/backend/internal/metrics"
	"github.com/partsmarket/backend/internal/middleware"
	"github.com/partsmarket/backend/internal/repositories"
)

// Run bootstraps the PartsMarket backend application.
func Run(ctx context.Context, args []string) error {
	root := newRootCommand(config.Load)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

type loadFunc func() (config.Config, error)

func newRootCommand(load loadFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "partsmarket",
		Short:         "PartsMarket backend service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return serve(cmd.Context(), cfg)
			},
		},
		newMigrateCommand(load),
		&cobra.Command{
			Use:   "seed <name>",
			Short: "Apply a seed file such as dev or dev_seed.sql",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return withPool(cmd.Context(), cfg, func(pool Database) error {
					if err := db.ApplySeed(cmd.Context(), pool, absPath(cfg.SeedDir), args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "applied seed %s\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "prune-sessions",
			Short: "Delete expired refresh sessions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return withPool(cmd.Context(), cfg, func(pool Database) error {
					return pruneSessions(cmd.Context(), cmd.OutOrStdout(), repositories.NewPostgresSessionStore(pool), time.Now().UTC())
				})
			},
		},
	)
	return root
}

func newMigrateCommand(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|status]",
		Short:     "Apply or list schema migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			command := "up"
			if len(args) > 0 {
				command = args[0]
			}
			return withPool(cmd.Context(), cfg, func(pool Database) error {
				migrator := &db.Migrator{Pool: pool, Dir: absPath(cfg.MigrationDir)}
				return runMigrations(cmd.Context(), cmd.OutOrStdout(), migrator, command)
			})
		},
	}
}

func runMigrations(ctx context.Context, out io.Writer, migrator *db.Migrator, command string) error {
	switch command {
	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			return err
		}
		db.WriteStatus(out, statuses)
		return nil
	case "up", "":
		applied, err := migrator.Up(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(out, "no migrations to apply")
		}
		for _, name := range applied {
			fmt.Fprintf(out, "applied migration %s\n", name)
		}
		return nil
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}

type expiredSessionPruner interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

func pruneSessions(ctx context.Context, out io.Writer, store expiredSessionPruner, now time.Time) error {
	n, err := store.DeleteExpired(ctx, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %d expired sessions\n", n)
	return nil
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.New(os.Stdout, cfg.LogLevel)
	ctx = logging.WithLogger(ctx, logger)

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.DB.MaxConns, MinConns: cfg.DB.MinConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	m := metrics.New()

	deps, cleanup, err := buildDependencies(ctx, pool, cfg, logger, m)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			logger.Warn("image workers did not drain", "error", err)
		}
	}()

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, deps)

	handler := middleware.RequestLogger(logger, m)(mux)
	srv := httpserver.New(cfg.AppPort, handler, cfg.HTTP)

	logger.Info("starting http server", "port", cfg.AppPort, "telegram", deps.Telegram != nil)
	return httpserver.Run(ctx, srv, logger)
}

func withPool(ctx context.Context, cfg config.Config, fn func(Database) error) error {
	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.DB.MaxConns, MinConns: cfg.DB.MinConns})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(pool)
}

func absPath(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}
