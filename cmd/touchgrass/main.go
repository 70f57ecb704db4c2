// Package main provides the entry point for the touchgrass server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	gomigrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/spf13/cobra"

	_ "github.com/owenisas/please-touch-grass/internal/apidocs" // register swagger docs
	"github.com/owenisas/please-touch-grass/internal/server"
	"github.com/owenisas/please-touch-grass/pkg/database/migrate"
	"github.com/owenisas/please-touch-grass/pkg/platform"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliOptions holds flags shared by all commands.
type cliOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "touchgrass",
		Short:         "Sign in with Reddit and find out whether you should touch grass",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newMigrateCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "touchgrass version %s\n", server.Version)
		},
	}
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.configPath, cmd.ErrOrStderr())
		},
	}
}

func serve(ctx context.Context, configPath string, logOut io.Writer) error {
	cfg, err := platform.LoadConfig(configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(platform.NewLogger(cfg.Log, logOut))

	p, err := platform.New(platform.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("creating platform: %w", err)
	}
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting platform: %w", err)
	}

	srv := server.New(server.Config{
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, p.Handler())
	runErr := srv.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		slog.Warn("platform stop failed", "error", err)
	}
	return runErr
}

func newMigrateCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the audit database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withDatabase(opts.configPath, migrate.Run)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withDatabase(opts.configPath, migrate.Down)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "steps N",
		Short: "Apply N migrations (negative rolls back)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid step count %q: %w", args[0], err)
			}
			return withDatabase(opts.configPath, func(db *sql.DB) error { return migrate.Steps(db, n) })
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withDatabase(opts.configPath, func(db *sql.DB) error {
				version, dirty, err := migrate.Version(db)
				if errors.Is(err, gomigrate.ErrNilVersion) {
					fmt.Fprintln(c.OutOrStdout(), "no migrations applied")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	})
	return cmd
}

// withDatabase opens the configured database for the duration of fn.
func withDatabase(configPath string, fn func(*sql.DB) error) error {
	cfg, err := platform.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn (or %s) is required", platform.EnvDatabaseDSN)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	return fn(db)
}
