package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Environment string `validate:"required"`
	Server      ServerConfig
	Database    DatabaseConfig
	Sync        SyncConfig
	Aggregator  AggregatorConfig
	Encryption  EncryptionConfig
	API         APIConfig
	Log         LogConfig
	Telemetry   TelemetryConfig
}

type ServerConfig struct {
	Port string `validate:"required,numeric"`
	Host string
}

type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	User     string `validate:"required"`
	Password string
	DBName   string `validate:"required"`
	SSLMode  string `validate:"oneof=disable require verify-ca verify-full"`
}

// SyncConfig drives the scheduler and the sync engine.
type SyncConfig struct {
	Enabled           bool
	Interval          time.Duration `validate:"gt=0"`
	ScheduleTimes     []string      `validate:"dive,datetime=15:04"`
	Workers           int           `validate:"min=1"`
	ConnectionTimeout time.Duration `validate:"gt=0"`
	LookbackDays      int           `validate:"min=1"`
	QueueSize         int           `validate:"min=1"`
	JobDelay          time.Duration `validate:"gte=0"`
	ReadyRetries      int           `validate:"min=1"`
	ReadyDelay        time.Duration `validate:"gt=0"`
}

type AggregatorConfig struct {
	ClientID     string
	Secret       string
	Environment  string        `validate:"oneof=sandbox development production"`
	Timeout      time.Duration `validate:"gt=0"`
	RateLimit    float64       `validate:"gt=0"`
	CountryCodes []string      `validate:"min=1,dive,len=2"`
}

// UseMemoryClient reports whether the in-memory aggregator should stand in
// for the real API.
func (c AggregatorConfig) UseMemoryClient(environment string) bool {
	return (c.ClientID == "" || c.Secret == "") && environment != "production"
}

type EncryptionConfig struct {
	Key string `validate:"required,len=32"`
}

type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=console json"`
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	MetricsPort  string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Load() (*Config, error) {
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	syncInterval, err := time.ParseDuration(getEnv("SYNC_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}
	syncWorkers, err := strconv.Atoi(getEnv("SYNC_WORKERS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_WORKERS: %w", err)
	}
	connectionTimeout, err := time.ParseDuration(getEnv("SYNC_CONNECTION_TIMEOUT", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_CONNECTION_TIMEOUT: %w", err)
	}
	lookbackDays, err := strconv.Atoi(getEnv("SYNC_LOOKBACK_DAYS", "90"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_LOOKBACK_DAYS: %w", err)
	}
	queueSize, err := strconv.Atoi(getEnv("SYNC_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_QUEUE_SIZE: %w", err)
	}
	jobDelay, err := time.ParseDuration(getEnv("SYNC_JOB_DELAY", "0s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_JOB_DELAY: %w", err)
	}
	readyRetries, err := strconv.Atoi(getEnv("STORAGE_READY_RETRIES", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid STORAGE_READY_RETRIES: %w", err)
	}
	readyDelay, err := time.ParseDuration(getEnv("STORAGE_READY_DELAY", "2s"))
	if err != nil {
		return nil, fmt.Errorf("invalid STORAGE_READY_DELAY: %w", err)
	}

	aggTimeout, err := time.ParseDuration(getEnv("AGGREGATOR_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid AGGREGATOR_TIMEOUT: %w", err)
	}
	aggRateLimit, err := strconv.ParseFloat(getEnv("AGGREGATOR_RATE_LIMIT", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid AGGREGATOR_RATE_LIMIT: %w", err)
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "flowly"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "flowly"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Sync: SyncConfig{
			Enabled:           getBoolEnv("SYNC_ENABLED", true),
			Interval:          syncInterval,
			ScheduleTimes:     getListEnv("SYNC_TIMES"),
			Workers:           syncWorkers,
			ConnectionTimeout: connectionTimeout,
			LookbackDays:      lookbackDays,
			QueueSize:         queueSize,
			JobDelay:          jobDelay,
			ReadyRetries:      readyRetries,
			ReadyDelay:        readyDelay,
		},
		Aggregator: AggregatorConfig{
			ClientID:     getEnv("AGGREGATOR_CLIENT_ID", ""),
			Secret:       getEnv("AGGREGATOR_SECRET", ""),
			Environment:  getEnv("AGGREGATOR_ENV", "sandbox"),
			Timeout:      aggTimeout,
			RateLimit:    aggRateLimit,
			CountryCodes: getListEnv("AGGREGATOR_COUNTRY_CODES", "US", "CA"),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		API: APIConfig{
			Token: getEnv("SYNC_API_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "console")),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "flowly-sync"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9464"),
		},
	}

	if cfg.Encryption.Key == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(cfg.Encryption.Key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes")
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", describe(err))
	}

	if cfg.Environment == "production" && (cfg.Aggregator.ClientID == "" || cfg.Aggregator.Secret == "") {
		return nil, fmt.Errorf("AGGREGATOR_CLIENT_ID and AGGREGATOR_SECRET are required in production")
	}
	if cfg.Environment == "production" && cfg.API.Token == "" {
		return nil, fmt.Errorf("SYNC_API_TOKEN is required in production")
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// describe flattens validator errors into "Field: tag" pairs.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

// getListEnv splits a comma-separated variable, dropping blanks.
func getListEnv(key string, defaults ...string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaults
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
