// Package config loads and validates application configuration from
// environment variables, an optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Store drivers.
const (
	DriverMemory    = "memory"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverFirestore = "firestore"
)

// Config holds all configuration values for the API server.
// Values are populated by Load.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Defaults to "8080".
	Port string `mapstructure:"port"`

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is "json" (default) or "console".
	LogFormat string `mapstructure:"log_format"`

	// CORSOrigins is the list of allowed cross-origin request origins.
	// Defaults to ["http://localhost:5173"] (Vite dev server).
	// Set CORS_ORIGINS to a comma-separated list to override.
	CORSOrigins []string `mapstructure:"-"`

	// StoreDriver selects the document store: memory, sqlite, postgres or
	// firestore. Defaults to memory.
	StoreDriver string `mapstructure:"store_driver"`

	// DatabaseURL is the Postgres connection string. Required for postgres.
	DatabaseURL string `mapstructure:"database_url"`

	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string `mapstructure:"sqlite_path"`

	// FirebaseProjectID enables Firebase token verification and is required
	// for the firestore driver. FirebaseCredentialsJSON is a service account
	// key; when empty, application default credentials are used.
	FirebaseProjectID       string `mapstructure:"firebase_project_id"`
	FirebaseCredentialsJSON string `mapstructure:"firebase_credentials_json"`

	// JWTSecret enables HS256 bearer tokens, for development and tests.
	JWTSecret string `mapstructure:"auth_jwt_secret"`

	// PollInterval is how often the selected trip is re-fetched. Defaults to 10s.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// MaxBodyBytes caps request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

var keys = []string{
	"port", "log_level", "log_format", "cors_origins", "store_driver",
	"database_url", "sqlite_path", "firebase_project_id", "firebase_credentials_json",
	"auth_jwt_secret", "poll_interval", "max_body_bytes",
}

// Load reads configuration and returns a Config. Environment variables win
// over CONFIG_FILE (YAML, same snake_case keys), which wins over defaults. A
// .env file (or the file named by ENV_FILE) is loaded into the environment
// first without overriding variables that are already set.
// Returns an error listing every required setting that is missing.
func Load() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("cors_origins", "http://localhost:5173")
	v.SetDefault("store_driver", DriverMemory)
	v.SetDefault("sqlite_path", "tripsync.db")
	v.SetDefault("poll_interval", "10s")
	v.SetDefault("max_body_bytes", 1<<20)
	for _, k := range keys {
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", k, err)
		}
	}

	v.SetConfigType("yaml")
	v.MustBindEnv("config_file", "CONFIG_FILE")
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.CORSOrigins = splitCSV(v.GetString("cors_origins"))
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case DriverFirestore:
		if c.FirebaseProjectID == "" {
			missing = append(missing, "FIREBASE_PROJECT_ID")
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.JWTSecret == "" && c.FirebaseProjectID == "" {
		missing = append(missing, "AUTH_JWT_SECRET or FIREBASE_PROJECT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: POLL_INTERVAL must be positive")
	}
	return nil
}

func loadDotEnv() error {
	name := os.Getenv("ENV_FILE")
	if name == "" {
		name = ".env"
	}
	if err := gotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load %s: %w", name, err)
	}
	return nil
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
