package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"lendingapi/internal/config"
	"lendingapi/internal/platform/logging"
	"lendingapi/internal/platform/postgres"
)

var errUsage = errors.New("usage")

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, status, create")
		name    = flag.String("name", "", "Name for 'create' command")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *command, *name, os.Stdout); err != nil {
		slog.Error("migrate failed", slog.String("command", *command), slog.Any("error", err))
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, command, name string, out io.Writer) error {
	dir := migrationsDir()

	// create needs no database
	switch command {
	case "create":
		if name == "" {
			return fmt.Errorf("%w: -name is required for 'create'", errUsage)
		}
		if err := goose.Create(nil, dir, name, "sql"); err != nil {
			return fmt.Errorf("create migration: %w", err)
		}
		fmt.Fprintf(out, "Migration created: %s\n", name)
		return nil
	case "up", "down", "status":
	default:
		return fmt.Errorf("%w: unknown command %q, use up, down, status or create", errUsage, command)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log)

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	logger.Info("running migrations",
		slog.String("command", command),
		slog.String("dir", dir),
		slog.String("dsn", postgres.RedactDSN(cfg.Database.DSN)),
	)
	return migrate(ctx, db, dir, command, out)
}

func migrate(ctx context.Context, db *sql.DB, dir, command string, out io.Writer) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(dir))
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}

	switch command {
	case "up":
		results, err := provider.Up(ctx)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		for _, r := range results {
			fmt.Fprintf(out, "OK   %s (%s)\n", r.Source.Path, r.Duration)
		}
		fmt.Fprintln(out, "Migrations applied successfully")
	case "down":
		result, err := provider.Down(ctx)
		if err != nil {
			return fmt.Errorf("roll back migration: %w", err)
		}
		fmt.Fprintf(out, "Rolled back %s\n", result.Source.Path)
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		for _, s := range statuses {
			fmt.Fprintf(out, "%-8s %s\n", s.State, s.Source.Path)
		}
	}
	return nil
}
