// Package config loads the bot configuration from YAML, an optional .env file
// and environment variables, in that order of precedence from lowest to highest.
package config

// TelegramConfig is the bot identity and how updates are received.
type TelegramConfig struct {
	Token    string  `yaml:"token" envconfig:"BOT_TOKEN"`
	BotName  string  `yaml:"bot_name" envconfig:"BOT_NAME"`
	AdminIDs []int64 `yaml:"admin_ids" envconfig:"ADMIN_IDS"`
	RunMode  string  `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds is the getUpdates timeout; 0 means 10s.
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
	// SendRatePerSecond caps outbound API calls across all chats; 0 means 30.
	SendRatePerSecond int `yaml:"send_rate_per_second" envconfig:"TELEGRAM_SEND_RATE"`
}

// WebhookConfig is used when RunMode is webhook.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig shapes the structured log output and its rotating files.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Stacks      string `yaml:"stacks"`
	Dir         string `yaml:"dir" envconfig:"LOG_DIR"`
	BotFile     string `yaml:"bot_file"`
	ErrorsFile  string `yaml:"errors_file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	// Profile "debug" or "dev" switches the default format to key=value.
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// DefaultBotName is shown in greetings when telegram.bot_name is empty.
const DefaultBotName = "Feature Bot"

const (
	RunModeWebhook  = "webhook"
	RunModeLongpoll = "longpoll"
)

// Update kinds accepted by RateLimitConfig.ExcludeUpdates.
const (
	UpdateCallback    = "callback"
	UpdateMessage     = "message"
	UpdateInlineQuery = "inline_query"
)

// RateLimitConfig configures the admission gate: Limit requests per WindowMS,
// and the request after that blocks the user for BlockTimeoutMS. Update kinds
// listed in ExcludeUpdates bypass the gate.
type RateLimitConfig struct {
	WindowMS       int      `yaml:"window_ms" envconfig:"RATE_LIMIT_WINDOW_MS"`
	Limit          int      `yaml:"limit" envconfig:"RATE_LIMIT_LIMIT"`
	BlockTimeoutMS int      `yaml:"block_timeout_ms" envconfig:"RATE_LIMIT_BLOCK_TIMEOUT_MS"`
	Disabled       bool     `yaml:"disabled" envconfig:"RATE_LIMIT_DISABLED"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// DatabaseConfig holds SQL connection settings used by the sql storage backends.
type DatabaseConfig struct {
	Driver         string `yaml:"driver" envconfig:"DB_DRIVER"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	Path           string `yaml:"path" envconfig:"DB_PATH"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// RedisConfig configures the redis storage backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	Prefix   string `yaml:"prefix" envconfig:"REDIS_PREFIX"`
}

const (
	// StorageFile keeps documents as JSON files under Storage.Dir.
	StorageFile = "file"
	// StoragePostgres keeps documents in a Postgres table.
	StoragePostgres = "postgres"
	// StorageSQLite keeps documents in an SQLite database file.
	StorageSQLite = "sqlite"
	// StorageRedis keeps documents as redis string keys.
	StorageRedis = "redis"
)

// StorageConfig selects the document store backend and the handler module directory.
type StorageConfig struct {
	Backend     string         `yaml:"backend" envconfig:"STORAGE_BACKEND"`
	Dir         string         `yaml:"dir" envconfig:"STORAGE_DIR"`
	HandlersDir string         `yaml:"handlers_dir" envconfig:"HANDLERS_DIR"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
}

// AIConfig configures AI-assisted feature generation.
type AIConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"AI_ENABLED"`
	APIKey    string `yaml:"api_key" envconfig:"GEMINI_API_KEY"`
	Model     string `yaml:"model" envconfig:"AI_MODEL"`
	TimeoutMS int    `yaml:"timeout_ms" envconfig:"AI_TIMEOUT"`
}

// MetricsConfig exposes Prometheus metrics over HTTP when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint" envconfig:"OTEL_ENDPOINT"`
	ServiceName string `yaml:"service_name" envconfig:"OTEL_SERVICE_NAME"`
}

// Config aggregates the configuration of the bot.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	AI        AIConfig        `yaml:"ai"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	// Debug lets admins see raw error text in chat.
	Debug bool `yaml:"debug" envconfig:"DEBUG_MODE"`
}

