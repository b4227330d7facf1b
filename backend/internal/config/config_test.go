package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"HTTP_ADDR", "LEDGER_DRIVER", "DATABASE_URL", "SQLITE_PATH",
	"JWT_SECRET", "JWT_ISSUER", "JWT_TTL", "KAFKA_BROKERS", "KAFKA_TOPIC",
	"LOG_LEVEL", "LOG_FILE", "LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS", "LOG_MAX_AGE_DAYS",
}

// clearEnv blanks every key for the test; getEnv treats blank as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	c, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, DriverSQLite, c.Driver)
	assert.Equal(t, "papertrade.db", c.SQLitePath)
	assert.True(t, c.InsecureSecret())
	assert.Equal(t, 24*time.Hour, c.JWTTTL)
	assert.False(t, c.KafkaEnabled())
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 100, c.Log.MaxSizeMB)
}

func TestOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEDGER_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/ledger")
	t.Setenv("JWT_SECRET", "a-real-secret-of-some-length")
	t.Setenv("JWT_TTL", "90m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_MAX_BACKUPS", "0")

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, c.Driver)
	assert.False(t, c.InsecureSecret())
	assert.Equal(t, 90*time.Minute, c.JWTTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.True(t, c.KafkaEnabled())
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 0, c.Log.MaxBackups)
}

func TestInvalid(t *testing.T) {
	for name, env := range map[string]map[string]string{
		"unknown driver":       {"LEDGER_DRIVER": "mongo"},
		"postgres without url": {"LEDGER_DRIVER": "postgres"},
		"short secret":         {"JWT_SECRET": "short"},
		"bad level":            {"LOG_LEVEL": "loud"},
		"bad int":              {"LOG_MAX_SIZE_MB": "lots"},
		"zero log size":        {"LOG_MAX_SIZE_MB": "0"},
		"bad duration":         {"JWT_TTL": "tomorrow"},
	} {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsEnvFileWithoutOverriding(t *testing.T) {
	clearEnv(t)
	// godotenv only fills variables that are absent, not blank.
	require.NoError(t, os.Unsetenv("LEDGER_DRIVER"))
	require.NoError(t, os.Unsetenv("HTTP_ADDR"))
	t.Setenv("SQLITE_PATH", "from-process.db")

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_DRIVER=memory\nHTTP_ADDR=:9999\nSQLITE_PATH=from-file.db\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LEDGER_DRIVER")
		os.Unsetenv("HTTP_ADDR")
	})

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, c.Driver)
	assert.Equal(t, ":9999", c.HTTPAddr)
	assert.Equal(t, "from-process.db", c.SQLitePath)
}

func TestLoadToleratesMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}
