package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/featurebot/core/logger"
	"github.com/m3rciful/featurebot/migrations"
)

// Migrate applies the embedded up migrations. Postgres is migrated through
// golang-migrate; SQLite runs the idempotent up files in order on db.
func Migrate(ctx context.Context, cfg Config, db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: nil db")
	}
	files := upFiles(migrations.FS)
	logger.MIG.LogAttrs(ctx, slog.LevelDebug, "resolve",
		slog.String("driver", cfg.Driver),
		slog.Int("count", len(files)),
		slog.String("files", logger.SummarizeStrings(files, 6)),
	)
	start := time.Now()
	var (
		applied []string
		err     error
	)
	if cfg.Driver == DriverSQLite {
		applied, err = execFiles(ctx, db, files)
	} else {
		applied, err = migratePostgres(cfg, files)
	}
	if err != nil {
		logger.MIG.LogAttrs(ctx, slog.LevelError, "apply",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return err
	}
	logger.MIG.LogAttrs(ctx, slog.LevelInfo, "summary",
		slog.String("driver", cfg.Driver),
		slog.Int("count", len(applied)),
		slog.String("files", logger.SummarizeStrings(applied, 6)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func migratePostgres(cfg Config, files []string) ([]string, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, PostgresURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	from, _, _ := m.Version()
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil, nil
		}
		return nil, fmt.Errorf("migrate up: %w", err)
	}
	to, _, _ := m.Version()
	return between(files, uint64(from), uint64(to)), nil
}

func execFiles(ctx context.Context, db *sqlx.DB, files []string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, name := range files {
		body, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return nil, fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return files, nil
}

// upFiles lists *.up.sql at the root of fsys in name order.
func upFiles(fsys fs.FS) []string {
	names, _ := fs.Glob(fsys, "*.up.sql")
	slices.Sort(names)
	return names
}

// version reads the numeric prefix of "0002_name.up.sql".
func version(name string) uint64 {
	head, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(head, 10, 64)
	return v
}

// between keeps the files with from < version <= to.
func between(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		if v := version(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
