package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/m3rciful/featurebot/core/logger"
)

const (
	connectTimeout = 5 * time.Second
	readyTimeout   = 30 * time.Second
)

// Connect opens and pings the database described by cfg and sizes the pool.
// Postgres is given readyTimeout to come up. SQLite gets a single connection
// since it allows one writer at a time.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	driver, dsn, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	attrs := []slog.Attr{
		slog.String("driver", driver),
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
		slog.String("db", target(cfg)),
	}

	start := time.Now()
	db, err := sqlx.Open(driver, dsn)
	if err == nil {
		wait := connectTimeout
		if driver == DriverPostgres {
			wait = readyTimeout
		}
		if err = waitReady(ctx, db, wait); err != nil {
			_ = db.Close()
		}
	}
	attrs = append(attrs, slog.Duration("duration", time.Since(start)))
	if err != nil {
		logger.DB.LogAttrs(ctx, slog.LevelError, "db.connect",
			append(attrs, slog.String("status", "fail"), slog.String("err", err.Error()))...)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	pool := cfg.MaxConnections
	if driver == DriverSQLite || pool <= 0 {
		pool = 1
	}
	db.SetMaxOpenConns(pool)
	db.SetMaxIdleConns(pool)

	logger.DB.LogAttrs(ctx, slog.LevelInfo, "db.connect",
		append(attrs, slog.String("status", "ok"), slog.Int("pool_open", pool))...)
	return db, nil
}

func resolve(cfg Config) (driver, dsn string, err error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		return DriverPostgres, PostgresDSN(cfg), nil
	case DriverSQLite:
		if cfg.Path == "" {
			return "", "", fmt.Errorf("db connect: sqlite path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return "", "", fmt.Errorf("db connect: create sqlite dir: %w", err)
		}
		return DriverSQLite, SQLiteDSN(cfg), nil
	}
	return "", "", fmt.Errorf("db connect: unsupported driver %q", cfg.Driver)
}

func target(cfg Config) string {
	if cfg.Driver == DriverSQLite {
		return cfg.Path
	}
	return cfg.Name
}

// waitReady pings db until it answers or timeout elapses. Postgres in
// docker-compose often accepts connections a few seconds after the bot starts.
func waitReady(ctx context.Context, db *sqlx.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		err := db.PingContext(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("database not ready: %w", err)
		case <-tick.C:
		}
	}
}
