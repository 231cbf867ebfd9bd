package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("ENCRYPTION_KEY", "01234567890123456789012345678901") // 32 bytes
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, time.Hour, cfg.Sync.Interval)
	assert.Empty(t, cfg.Sync.ScheduleTimes)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 90, cfg.Sync.LookbackDays)
	assert.Equal(t, 5, cfg.Sync.ReadyRetries)
	assert.Equal(t, 2*time.Second, cfg.Sync.ReadyDelay)
	assert.Equal(t, []string{"US", "CA"}, cfg.Aggregator.CountryCodes)
	assert.Equal(t, "sandbox", cfg.Aggregator.Environment)
	assert.True(t, cfg.Aggregator.UseMemoryClient(cfg.Environment))
}

func TestLoad_SyncDisabled(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SYNC_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Sync.Enabled)
}

func TestLoad_ScheduleTimes(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SYNC_TIMES", "05:00, 14:30,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"05:00", "14:30"}, cfg.Sync.ScheduleTimes)
}

func TestLoad_InvalidScheduleTime(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SYNC_TIMES", "25:00")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_MissingEncryptionKey(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")
	os.Unsetenv("ENCRYPTION_KEY")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidEncryptionKeyLength(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "too-short")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"db port not a number", "DB_PORT", "not-a-number"},
		{"interval not a duration", "SYNC_INTERVAL", "hourly"},
		{"zero workers", "SYNC_WORKERS", "0"},
		{"zero ready retries", "STORAGE_READY_RETRIES", "0"},
		{"unknown log level", "LOG_LEVEL", "chatty"},
		{"unknown aggregator env", "AGGREGATOR_ENV", "staging"},
		{"bad country code", "AGGREGATOR_COUNTRY_CODES", "USA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnvVars(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_ProductionRequiresAggregatorCredentials(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("ENVIRONMENT", "production")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("AGGREGATOR_CLIENT_ID", "client")
	t.Setenv("AGGREGATOR_SECRET", "secret")

	_, err = Load()
	require.Error(t, err, "production also needs an API token")

	t.Setenv("SYNC_API_TOKEN", "service-token")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Aggregator.UseMemoryClient(cfg.Environment))
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "flowly", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=flowly sslmode=disable", db.ConnectionString())
}

func TestGetBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"0", true, false},
		{"FALSE", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("FLOWLY_TEST_BOOL", tt.value)
		assert.Equal(t, tt.want, getBoolEnv("FLOWLY_TEST_BOOL", tt.def), "value %q", tt.value)
	}
}
