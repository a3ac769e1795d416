package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv        string
	LogLevel      string
	LogFormat     string
	EncryptionKey string

	// Database
	DatabaseDriver string
	DatabaseURL    string
	SQLitePath     string

	// Redis
	RedisURL     string
	CacheEnabled bool
	CacheTTL     time.Duration

	// Events
	RabbitMQURL        string
	RabbitMQExchange   string
	RabbitMQDeadLetter string
	EventsEnabled      bool
	OutboxPollInterval time.Duration
	OutboxMaxAttempts  int
	OutboxRetention    time.Duration

	// HTTP
	APIAddr            string
	APIMaxWindow       time.Duration
	APIMinSlotDuration time.Duration

	// Worker
	WorkerHealthAddr string
	WarmupSchedule   string
	WarmupWindow     time.Duration

	// Scheduling rules, see scheduling.go
	Scheduling Scheduling

	// External calendars
	ProviderTimeout    time.Duration
	FetchConcurrency   int
	CredentialTTL      time.Duration
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
	GoogleClientID     string
	GoogleClientSecret string
	GoogleBaseURL      string
	MicrosoftClientID  string
	MicrosoftSecret    string
	MicrosoftTenantID  string
	MicrosoftBaseURL   string
	ICSRequestTimeout  time.Duration
}

// Load loads configuration from a .env file, the optional scheduling TOML
// file and environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		EncryptionKey: getEnv("PANDA_ENCRYPTION_KEY", ""),

		DatabaseDriver: getEnv("DATABASE_DRIVER", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SQLitePath:     getEnv("SQLITE_PATH", defaultSQLitePath()),

		RedisURL:     getEnv("REDIS_URL", ""),
		CacheEnabled: getBoolEnv("FREEBUSY_CACHE_ENABLED", true),
		CacheTTL:     getDurationEnv("FREEBUSY_CACHE_TTL", 5*time.Minute),

		RabbitMQURL:        getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:   getEnv("RABBITMQ_EXCHANGE", "panda.availability.events"),
		RabbitMQDeadLetter: getEnv("RABBITMQ_DEAD_LETTER_EXCHANGE", ""),
		EventsEnabled:      getBoolEnv("EVENTS_ENABLED", true),
		OutboxPollInterval: getDurationEnv("OUTBOX_POLL_INTERVAL", time.Second),
		OutboxMaxAttempts:  getIntEnv("OUTBOX_MAX_ATTEMPTS", 5),
		OutboxRetention:    getDurationEnv("OUTBOX_RETENTION", 7*24*time.Hour),

		APIAddr:            getEnv("API_ADDR", "0.0.0.0:8080"),
		APIMaxWindow:       getDurationEnv("API_MAX_WINDOW", 366*24*time.Hour),
		APIMinSlotDuration: getDurationEnv("API_MIN_SLOT_DURATION", 5*time.Minute),

		WorkerHealthAddr: getEnv("WORKER_HEALTH_ADDR", "0.0.0.0:8081"),
		WarmupSchedule:   getEnv("WARMUP_SCHEDULE", "*/10 * * * *"),
		WarmupWindow:     getDurationEnv("WARMUP_WINDOW", 14*24*time.Hour),

		ProviderTimeout:    getDurationEnv("PROVIDER_TIMEOUT", 10*time.Second),
		FetchConcurrency:   getIntEnv("FETCH_CONCURRENCY", 8),
		CredentialTTL:      getDurationEnv("CREDENTIAL_TTL", 30*time.Minute),
		BreakerMaxFailures: uint32(getIntEnv("BREAKER_MAX_FAILURES", 5)),
		BreakerOpenTimeout: getDurationEnv("BREAKER_OPEN_TIMEOUT", time.Minute),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleBaseURL:      getEnv("GOOGLE_CALENDAR_BASE_URL", "https://www.googleapis.com/calendar/v3"),
		MicrosoftClientID:  getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftSecret:    getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftTenantID:  getEnv("MICROSOFT_TENANT_ID", "common"),
		MicrosoftBaseURL:   getEnv("MICROSOFT_GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),
		ICSRequestTimeout:  getDurationEnv("ICS_REQUEST_TIMEOUT", 15*time.Second),
	}

	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "sqlite"
		if cfg.DatabaseURL != "" {
			cfg.DatabaseDriver = "postgres"
		}
	}

	sched := DefaultScheduling()
	path := getEnv("SCHEDULING_CONFIG", "scheduling.toml")
	if err := sched.LoadFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load scheduling config: %w", err)
	}
	if err := sched.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Scheduling = sched

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// LocalMode reports whether the service runs on SQLite without external brokers.
func (c *Config) LocalMode() bool {
	return c.DatabaseDriver == "sqlite"
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "panda-availability.db"
	}
	return home + "/.panda/availability.db"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
