package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName                       string   `mapstructure:"APP_NAME"`
	Port                          int      `mapstructure:"PORT"`
	LogLevel                      string   `mapstructure:"LOG_LEVEL"`
	PrettyLogs                    bool     `mapstructure:"PRETTY_LOGS"`
	HttpServerWriteTimeoutSeconds int      `mapstructure:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS"`
	HttpServerReadTimeoutSeconds  int      `mapstructure:"HTTP_SERVER_READ_TIMEOUT_SECONDS"`
	HttpServerIdleTimeoutSeconds  int      `mapstructure:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS"`
	AllowOrigins                  []string `mapstructure:"HTTP_SERVER_ALLOW_ORIGINS"`
	StartupMaxAttempts            int      `mapstructure:"STARTUP_MAX_ATTEMPTS"`

	// Database host
	DatabaseHost string `mapstructure:"DB_HOST"`
	// Database port
	DatabasePort string `mapstructure:"DB_PORT"`
	// Database user
	DatabaseUserName string `mapstructure:"DB_USER_NAME"`
	// Database user password
	DatabasePassword string `mapstructure:"DB_PASSWORD"`
	// Database name
	DatabaseName string `mapstructure:"DB_NAME"`
	// Database SSL mode
	DatabaseSSLMode string `mapstructure:"DB_SSL_MODE"`
	// Max Open Conns
	DatabaseMaxOpenConns int `mapstructure:"DB_MAX_OPEN_CONNS"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `mapstructure:"DB_MAX_IDLE_CONNS"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `mapstructure:"DB_MIGRATION_FOLDER_PATH"`
	// Database Migration Version
	DatabaseMigrationVersion int `mapstructure:"DB_MIGRATION_VERSION"`
	// Database Migration Force
	DatabaseMigrationForce int `mapstructure:"DB_MIGRATION_FORCE"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `mapstructure:"DB_MIGRATION_AUTO_ROLLBACK"`

	// Auth Enabled - when false, the bearer token is taken as the user id (local development only)
	AuthEnabled   bool   `mapstructure:"AUTH_ENABLED"`
	AuthIssuerURL string `mapstructure:"AUTH_ISSUER_URL"`
	AuthClientID  string `mapstructure:"AUTH_CLIENT_ID"`

	RedisHost     string `mapstructure:"REDIS_HOST"`
	RedisPort     int    `mapstructure:"REDIS_PORT"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Kafka brokers (comma-separated)
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// Topic for match and conversation lifecycle events
	KafkaEventsTopic string `mapstructure:"KAFKA_EVENTS_TOPIC"`

	// LLM provider
	GeminiAPIKey       string  `mapstructure:"GEMINI_API_KEY"`
	GeminiModel        string  `mapstructure:"GEMINI_MODEL"`
	LLMTemperature     float64 `mapstructure:"LLM_TEMPERATURE"`
	LLMMaxOutputTokens int     `mapstructure:"LLM_MAX_OUTPUT_TOKENS"`
	// Calls per minute shared by every instance, 0 disables the shared limit
	LLMRequestsPerMinute int `mapstructure:"LLM_REQUESTS_PER_MINUTE"`
	// How long every instance pauses after the provider answers 429
	LLMRateLimitCooldown time.Duration `mapstructure:"LLM_RATE_LIMIT_COOLDOWN"`

	// Conversation settings
	ConversationTotalRounds        int           `mapstructure:"CONVERSATION_TOTAL_ROUNDS"`
	ConversationMaxRetries         int           `mapstructure:"CONVERSATION_MAX_RETRIES"`
	ConversationMaxReplyChars      int           `mapstructure:"CONVERSATION_MAX_REPLY_CHARS"`
	ConversationRoundDelay         time.Duration `mapstructure:"CONVERSATION_ROUND_DELAY"`
	ConversationRoundJitter        time.Duration `mapstructure:"CONVERSATION_ROUND_JITTER"`
	ConversationRetryBaseDelay     time.Duration `mapstructure:"CONVERSATION_RETRY_BASE_DELAY"`
	ConversationRateLimitBaseDelay time.Duration `mapstructure:"CONVERSATION_RATE_LIMIT_BASE_DELAY"`
	ConversationLockTTL            time.Duration `mapstructure:"CONVERSATION_LOCK_TTL"`

	// Matching settings
	MatchMaxPerUser     int           `mapstructure:"MATCH_MAX_PER_USER"`
	MatchStaggerStep    time.Duration `mapstructure:"MATCH_STAGGER_STEP"`
	MatchScoringWorkers int           `mapstructure:"MATCH_SCORING_WORKERS"`

	// Scheduler settings
	// Wake-up timer poll interval
	SchedulerPollInterval time.Duration `mapstructure:"SCHEDULER_POLL_INTERVAL"`
	// Enable/disable the scheduler
	SchedulerEnabled bool `mapstructure:"SCHEDULER_ENABLED"`
	// Conversations in progress longer than this are force-failed
	SweepStaleAfter time.Duration `mapstructure:"SWEEP_STALE_AFTER"`
	SweepInterval   time.Duration `mapstructure:"SWEEP_INTERVAL"`

	// Redis Streams settings
	RedisStreamsWakeQueue     string `mapstructure:"REDIS_STREAMS_WAKE_QUEUE"`
	RedisStreamsConsumerGroup string `mapstructure:"REDIS_STREAMS_CONSUMER_GROUP"`
	// Consumer name (defaults to hostname if empty)
	RedisStreamsConsumerName string `mapstructure:"REDIS_STREAMS_CONSUMER_NAME"`
	WorkerCount              int    `mapstructure:"WORKER_COUNT"`

	// Tracing settings
	OTLPEnabled  bool   `mapstructure:"OTLP_ENABLED"`
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `mapstructure:"OTLP_PROTOCOL"`
	OTLPInsecure bool   `mapstructure:"OTLP_INSECURE"`
}

var defaults = map[string]any{
	"APP_NAME":                          "wingfox-api",
	"PORT":                              3000,
	"LOG_LEVEL":                         "info",
	"PRETTY_LOGS":                       false,
	"HTTP_SERVER_WRITE_TIMEOUT_SECONDS": 10,
	"HTTP_SERVER_READ_TIMEOUT_SECONDS":  10,
	"HTTP_SERVER_IDLE_TIMEOUT_SECONDS":  60,
	"HTTP_SERVER_ALLOW_ORIGINS":         []string{"*"},
	"STARTUP_MAX_ATTEMPTS":              5,

	"DB_HOST":                    "localhost",
	"DB_PORT":                    "5432",
	"DB_USER_NAME":               "",
	"DB_PASSWORD":                "",
	"DB_NAME":                    "wingfox",
	"DB_SSL_MODE":                "disable",
	"DB_MAX_OPEN_CONNS":          25,
	"DB_MAX_IDLE_CONNS":          10,
	"DB_CONN_MAX_LIFETIME":       "5m",
	"DB_MIGRATION_FOLDER_PATH":   "db/pg",
	"DB_MIGRATION_VERSION":       0,
	"DB_MIGRATION_FORCE":         0,
	"DB_MIGRATION_AUTO_ROLLBACK": true,

	"AUTH_ENABLED":    false,
	"AUTH_ISSUER_URL": "",
	"AUTH_CLIENT_ID":  "",

	"REDIS_HOST":     "localhost",
	"REDIS_PORT":     6379,
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,

	"KAFKA_BROKERS":      "localhost:9092",
	"KAFKA_EVENTS_TOPIC": "wingfox.match-events",

	"GEMINI_API_KEY":          "",
	"GEMINI_MODEL":            "gemini-2.5-flash",
	"LLM_TEMPERATURE":         0.9,
	"LLM_MAX_OUTPUT_TOKENS":   256,
	"LLM_REQUESTS_PER_MINUTE": 60,
	"LLM_RATE_LIMIT_COOLDOWN": "10s",

	"CONVERSATION_TOTAL_ROUNDS":          5,
	"CONVERSATION_MAX_RETRIES":           3,
	"CONVERSATION_MAX_REPLY_CHARS":       200,
	"CONVERSATION_ROUND_DELAY":           "3s",
	"CONVERSATION_ROUND_JITTER":          "2s",
	"CONVERSATION_RETRY_BASE_DELAY":      "2s",
	"CONVERSATION_RATE_LIMIT_BASE_DELAY": "10s",
	"CONVERSATION_LOCK_TTL":              "2m",

	"MATCH_MAX_PER_USER":      3,
	"MATCH_STAGGER_STEP":      "5s",
	"MATCH_SCORING_WORKERS":   8,
	"SCHEDULER_POLL_INTERVAL": "1s",
	"SCHEDULER_ENABLED":       true,
	"SWEEP_STALE_AFTER":       "30m",
	"SWEEP_INTERVAL":          "5m",

	"REDIS_STREAMS_WAKE_QUEUE":     "wingfox:wakeups",
	"REDIS_STREAMS_CONSUMER_GROUP": "wingfox-actors",
	"REDIS_STREAMS_CONSUMER_NAME":  "",
	"WORKER_COUNT":                 4,

	"OTLP_ENABLED":  false,
	"OTLP_ENDPOINT": "localhost:4317",
	"OTLP_PROTOCOL": "grpc",
	"OTLP_INSECURE": true,
}

// Load reads an optional .env file followed by the process environment.
func Load(envFiles ...string) (*Config, error) {
	return LoadInto(viper.New(), envFiles...)
}

// LoadInto is Load on a caller-owned viper, so flags bound to v win over the environment.
func LoadInto(v *viper.Viper, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return FromViper(v)
}

// FromViper applies defaults and environment bindings to v and decodes the result.
func FromViper(v *viper.Viper) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.ConversationTotalRounds < 2 {
		return fmt.Errorf("CONVERSATION_TOTAL_ROUNDS must be at least 2, got %d", c.ConversationTotalRounds)
	}
	if c.ConversationMaxRetries < 1 {
		return fmt.Errorf("CONVERSATION_MAX_RETRIES must be positive, got %d", c.ConversationMaxRetries)
	}
	if c.MatchMaxPerUser < 1 {
		return fmt.Errorf("MATCH_MAX_PER_USER must be positive, got %d", c.MatchMaxPerUser)
	}
	if c.AuthEnabled && (c.AuthIssuerURL == "" || c.AuthClientID == "") {
		return errors.New("AUTH_ISSUER_URL and AUTH_CLIENT_ID are required when AUTH_ENABLED is true")
	}
	return nil
}

// DatabaseDSN returns the lib/pq connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUserName, c.DatabasePassword, c.DatabaseName, c.DatabaseSSLMode)
}
