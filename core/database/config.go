package database

import coreconfig "github.com/m3rciful/featurebot/core/config"

// Config holds database connection settings for the sql storage backends.
type Config = coreconfig.DatabaseConfig

const (
	// DriverPostgres selects lib/pq.
	DriverPostgres = "postgres"
	// DriverSQLite selects modernc.org/sqlite.
	DriverSQLite = "sqlite"
)

// PostgresDSN renders the key/value DSN accepted by lib/pq.
func PostgresDSN(cfg Config) string {
	return "user=" + cfg.User + " password=" + cfg.Password + " host=" + cfg.Host +
		" port=" + cfg.Port + " dbname=" + cfg.Name + " sslmode=" + cfg.SSLMode
}

// PostgresURL renders the URL form used by golang-migrate.
func PostgresURL(cfg Config) string {
	return "postgres://" + cfg.User + ":" + cfg.Password + "@" + cfg.Host + ":" + cfg.Port +
		"/" + cfg.Name + "?sslmode=" + cfg.SSLMode
}

// SQLiteDSN renders the modernc.org/sqlite DSN with busy timeout and WAL enabled.
func SQLiteDSN(cfg Config) string {
	return cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
