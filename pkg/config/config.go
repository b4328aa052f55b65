// Package config loads clearinghouse settings from the environment, an
// optional .env file and an optional YAML file. Environment variables win
// over YAML, which wins over defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds service configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Drift     DriftConfig     `yaml:"drift"`
	Log       LogConfig       `yaml:"log"`
}

type DatabaseConfig struct {
	Driver      string `yaml:"driver"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Name        string `yaml:"name"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	SSLMode     string `yaml:"sslmode"`
	SQLitePath  string `yaml:"sqlite_path"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type StorageConfig struct {
	Type     string `yaml:"type"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
	FSRoot   string `yaml:"fs_root"`
}

type IngestConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	Throttle        time.Duration `yaml:"throttle"`
	PayloadSuffixes []string      `yaml:"payload_suffixes"`
}

type ServerConfig struct {
	HealthAddr string `yaml:"health_addr"`
}

type RedisConfig struct {
	Addr    string        `yaml:"addr"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

type DriftConfig struct {
	VersionConstraint string `yaml:"version_constraint"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MissingError lists every required setting that was not provided.
type MissingError struct {
	Vars []string
}

func (e *MissingError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Vars, ", ")
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:     DriverPostgres,
			Port:       5432,
			Name:       "clearinghouse",
			SSLMode:    "disable",
			SQLitePath: "data/clearinghouse.db",
		},
		Storage: StorageConfig{
			Type:   "s3",
			Region: "us-west-2",
			FSRoot: "data",
		},
		Ingest: IngestConfig{
			PollInterval:    30 * time.Second,
			Throttle:        time.Second,
			PayloadSuffixes: []string{".json"},
		},
		Server: ServerConfig{HealthAddr: ":8080"},
		Redis:  RedisConfig{LockTTL: 5 * time.Minute},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4317",
		},
		Log: LogConfig{Level: "INFO", Format: "text"},
	}
}

// Load reads the optional .env file (CLEARINGHOUSE_ENV_FILE, default ".env"),
// the optional YAML file named by CLEARINGHOUSE_CONFIG, then the process
// environment, and validates the result.
func Load() (*Config, error) {
	envFile := os.Getenv("CLEARINGHOUSE_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}
	return LoadFrom(os.Getenv)
}

// LoadFrom builds a Config using getenv as the environment.
func LoadFrom(getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path := getenv("CLEARINGHOUSE_CONFIG"); path != "" {
		if err := cfg.mergeYAML(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeYAML(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	seconds := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := parseSeconds(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("DB_DRIVER", &c.Database.Driver)
	str("DB_HOST", &c.Database.Host)
	if v := strings.TrimSpace(getenv("DB_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DB_PORT: %w", err))
		} else {
			c.Database.Port = port
		}
	}
	str("DB_NAME", &c.Database.Name)
	str("DB_USER", &c.Database.User)
	// Passwords are taken verbatim.
	if v := getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	str("DB_SSLMODE", &c.Database.SSLMode)
	str("SQLITE_PATH", &c.Database.SQLitePath)
	boolean("AUTO_MIGRATE", &c.Database.AutoMigrate)

	str("STORAGE_TYPE", &c.Storage.Type)
	str("S3_BUCKET", &c.Storage.Bucket)
	str("AWS_REGION", &c.Storage.Region)
	str("S3_ENDPOINT", &c.Storage.Endpoint)
	str("S3_PREFIX", &c.Storage.Prefix)
	str("FS_ROOT", &c.Storage.FSRoot)

	seconds("POLL_INTERVAL", &c.Ingest.PollInterval)
	seconds("THROTTLE", &c.Ingest.Throttle)
	if v := strings.TrimSpace(getenv("PAYLOAD_SUFFIXES")); v != "" {
		c.Ingest.PayloadSuffixes = splitList(v)
	}

	str("HEALTH_ADDR", &c.Server.HealthAddr)
	str("REDIS_ADDR", &c.Redis.Addr)
	seconds("REDIS_LOCK_TTL", &c.Redis.LockTTL)

	boolean("OTEL_ENABLED", &c.Telemetry.Enabled)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	boolean("OTEL_EXPORTER_OTLP_INSECURE", &c.Telemetry.Insecure)

	str("DRIFT_VERSION_CONSTRAINT", &c.Drift.VersionConstraint)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

// Validate checks required settings and value ranges. Missing settings are
// reported together as a *MissingError.
func (c *Config) Validate() error {
	var missing []string
	if c.Storage.Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if c.Database.Driver == DriverPostgres {
		if c.Database.Host == "" {
			missing = append(missing, "DB_HOST")
		}
		if c.Database.User == "" {
			missing = append(missing, "DB_USER")
		}
		if c.Database.Password == "" {
			missing = append(missing, "DB_PASSWORD")
		}
	}
	if len(missing) > 0 {
		return &MissingError{Vars: missing}
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Storage.Type {
	case "s3", "gcs", "fs":
	default:
		return fmt.Errorf("config: unsupported STORAGE_TYPE %q", c.Storage.Type)
	}
	if c.Ingest.PollInterval <= 0 {
		return fmt.Errorf("config: POLL_INTERVAL must be positive, got %s", c.Ingest.PollInterval)
	}
	if c.Ingest.Throttle < 0 {
		return fmt.Errorf("config: THROTTLE must not be negative, got %s", c.Ingest.Throttle)
	}
	if len(c.Ingest.PayloadSuffixes) == 0 {
		return fmt.Errorf("config: PAYLOAD_SUFFIXES must not be empty")
	}
	return nil
}

// DSN returns the database/sql data source name for the configured driver.
func (c *Config) DSN() string {
	if c.Database.Driver == DriverSQLite {
		return c.Database.SQLitePath
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     net.JoinHostPort(c.Database.Host, strconv.Itoa(c.Database.Port)),
		Path:     "/" + c.Database.Name,
		RawQuery: url.Values{"sslmode": {c.Database.SSLMode}}.Encode(),
	}
	return u.String()
}

// LogValue reports the effective configuration without secrets.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("db_driver", c.Database.Driver),
		slog.String("db_host", c.Database.Host),
		slog.Int("db_port", c.Database.Port),
		slog.String("db_name", c.Database.Name),
		slog.String("storage", c.Storage.Type),
		slog.String("s3_bucket", c.Storage.Bucket),
		slog.String("aws_region", c.Storage.Region),
		slog.Duration("poll_interval", c.Ingest.PollInterval),
		slog.Duration("throttle", c.Ingest.Throttle),
		slog.String("health_addr", c.Server.HealthAddr),
		slog.Bool("redis_lock", c.Redis.Addr != ""),
		slog.Bool("otel", c.Telemetry.Enabled),
	)
}

// parseSeconds accepts a bare number of seconds ("30", "0.5") or a Go
// duration ("30s", "1m").
func parseSeconds(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
