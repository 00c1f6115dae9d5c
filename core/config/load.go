package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// CoreConfig satisfies the runner's ConfigCarrier.
func (c *Config) CoreConfig() *Config {
	return c
}

// IsAdmin reports whether id is listed in telegram.admin_ids.
func (c *Config) IsAdmin(id int64) bool {
	return c != nil && slices.Contains(c.Telegram.AdminIDs, id)
}

// Load reads file (skipped when empty), overlays .env and the process
// environment, then applies Normalize.
func Load(file string) (*Config, error) {
	cfg := &Config{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}
	if err := Normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize fills defaults and validates cfg. Every problem found is
// reported in the returned error.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	tg := &cfg.Telegram
	check(tg.Token != "", "telegram token is required")
	tg.RunMode = lower(tg.RunMode)
	if tg.RunMode == "" || tg.RunMode == "polling" {
		tg.RunMode = RunModeLongpoll
	}
	switch tg.RunMode {
	case RunModeWebhook:
		check(strings.TrimSpace(cfg.Webhook.URL) != "", "webhook.url is required in webhook mode")
		check(strings.TrimSpace(cfg.Webhook.Listen) != "", "webhook.listen is required in webhook mode")
		check(cfg.Webhook.Port > 0, "webhook.port must be > 0 in webhook mode")
	case RunModeLongpoll:
		check(tg.LongPollTimeoutSeconds >= 0, "telegram.longpoll_timeout_seconds must be >= 0")
	default:
		check(false, "invalid telegram.run_mode %q; allowed: webhook, longpoll", tg.RunMode)
	}
	setDefault(&tg.BotName, DefaultBotName)
	positive(&tg.SendRatePerSecond, 30)

	rl := &cfg.RateLimit
	check(rl.WindowMS >= 0 && rl.Limit >= 0 && rl.BlockTimeoutMS >= 0, "rate_limit values must be >= 0")
	positive(&rl.WindowMS, 1000)
	positive(&rl.Limit, 5)
	positive(&rl.BlockTimeoutMS, 60000)
	kinds := []string{UpdateCallback, UpdateMessage, UpdateInlineQuery}
	for i, v := range rl.ExcludeUpdates {
		rl.ExcludeUpdates[i] = lower(v)
		check(rl.ExcludeUpdates[i] == "" || slices.Contains(kinds, rl.ExcludeUpdates[i]),
			"invalid rate_limit.exclude_updates value %q; allowed: %s", v, strings.Join(kinds, ", "))
	}

	errs = append(errs, normalizeStorage(&cfg.Storage)...)

	positive(&cfg.AI.TimeoutMS, 30000)
	setDefault(&cfg.AI.Model, "gemini-2.0-flash")
	check(!cfg.AI.Enabled || strings.TrimSpace(cfg.AI.APIKey) != "", "ai.api_key is required when ai.enabled is true")
	setDefault(&cfg.Tracing.ServiceName, "featurebot")

	return errors.Join(errs...)
}

func normalizeStorage(st *StorageConfig) []error {
	var errs []error
	st.Backend = lower(st.Backend)
	setDefault(&st.Backend, StorageFile)
	setDefault(&st.Dir, "./data")
	setDefault(&st.HandlersDir, strings.TrimRight(st.Dir, "/")+"/features")
	positive(&st.Database.MaxConnections, 5)

	db := &st.Database
	switch st.Backend {
	case StorageFile:
	case StoragePostgres:
		if strings.TrimSpace(db.Host) == "" || strings.TrimSpace(db.Name) == "" {
			errs = append(errs, errors.New("storage.database.host and name are required for the postgres backend"))
		}
		setDefault(&db.Port, "5432")
		setDefault(&db.SSLMode, "disable")
		db.Driver = StoragePostgres
	case StorageSQLite:
		setDefault(&db.Path, strings.TrimRight(st.Dir, "/")+"/featurebot.db")
		db.Driver = StorageSQLite
	case StorageRedis:
		if strings.TrimSpace(st.Redis.Addr) == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for the redis backend"))
		}
		setDefault(&st.Redis.Prefix, "featurebot:")
	default:
		errs = append(errs, fmt.Errorf("invalid storage.backend %q; allowed: file, postgres, sqlite, redis", st.Backend))
	}
	return errs
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func setDefault(s *string, def string) {
	if strings.TrimSpace(*s) == "" {
		*s = def
	}
}

func positive(n *int, def int) {
	if *n <= 0 {
		*n = def
	}
}
