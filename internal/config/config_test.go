package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/backend/internal/config"
)

// clearEnv unsets every variable Load reads so tests do not see the host's.
// t.Setenv registers the restore; the variable is then removed outright so a
// .env file may fill it.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "LOG_LEVEL", "LOG_FORMAT", "CORS_ORIGINS", "STORE_DRIVER", "DATABASE_URL",
		"SQLITE_PATH", "FIREBASE_PROJECT_ID", "FIREBASE_CREDENTIALS_JSON", "AUTH_JWT_SECRET",
		"POLL_INTERVAL", "MAX_BODY_BYTES", "CONFIG_FILE",
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
}

// TestLoad_defaults verifies that optional settings fall back to their
// defaults when only a verifier is configured.
func TestLoad_defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_JWT_SECRET", "dev-secret")

	cfg, err := config.Load()

	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, config.DriverMemory, cfg.StoreDriver)
	require.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
	require.Equal(t, 10*time.Second, cfg.PollInterval)
	require.EqualValues(t, 1<<20, cfg.MaxBodyBytes)
	require.Equal(t, "dev-secret", cfg.JWTSecret)
}

// TestLoad_overrides verifies that all values can be overridden via env vars.
func TestLoad_overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://user:pass@db:5432/tripsync")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("FIREBASE_PROJECT_ID", "trips-prod")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("MAX_BODY_BYTES", "2048")

	cfg, err := config.Load()

	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "console", cfg.LogFormat)
	require.Equal(t, config.DriverPostgres, cfg.StoreDriver)
	require.Equal(t, "postgres://user:pass@db:5432/tripsync", cfg.DatabaseURL)
	require.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
	require.Equal(t, "trips-prod", cfg.FirebaseProjectID)
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	require.EqualValues(t, 2048, cfg.MaxBodyBytes)
}

// TestLoad_missingRequired verifies that every missing required variable is
// named in one error.
func TestLoad_missingRequired(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "postgres")

	_, err := config.Load()

	require.Error(t, err)
	require.ErrorContains(t, err, "DATABASE_URL")
	require.ErrorContains(t, err, "AUTH_JWT_SECRET or FIREBASE_PROJECT_ID")
}

func TestLoad_unknownDriver(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_JWT_SECRET", "s")
	t.Setenv("STORE_DRIVER", "mongo")

	_, err := config.Load()
	require.ErrorContains(t, err, "mongo")
}

// TestLoad_configFile verifies YAML values apply and env vars still win.
func TestLoad_configFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "tripsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7070\"\nstore_driver: sqlite\nsqlite_path: /tmp/trips.db\nauth_jwt_secret: from-file\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7171")

	cfg, err := config.Load()

	require.NoError(t, err)
	require.Equal(t, "7171", cfg.Port)
	require.Equal(t, config.DriverSQLite, cfg.StoreDriver)
	require.Equal(t, "/tmp/trips.db", cfg.SQLitePath)
	require.Equal(t, "from-file", cfg.JWTSecret)
}

// TestLoad_dotEnv verifies a .env file fills variables that are not set.
func TestLoad_dotEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("AUTH_JWT_SECRET=from-dotenv\nLOG_LEVEL=warn\n"), 0o600))
	t.Setenv("ENV_FILE", path)

	cfg, err := config.Load()

	require.NoError(t, err)
	require.Equal(t, "from-dotenv", cfg.JWTSecret)
	require.Equal(t, "warn", cfg.LogLevel)
}
