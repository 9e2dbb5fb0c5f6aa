package main

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "DEVICE_GRANT"

// Store drivers
const (
	driverMemory   = "memory"
	driverRedis    = "redis"
	driverPostgres = "postgres"
)

// Config holds server configuration loaded from DEVICE_GRANT_* environment variables
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	BaseURL     string `envconfig:"BASE_URL" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver string        `envconfig:"STORE_DRIVER" default:"memory"`
	RedisURL    string        `envconfig:"REDIS_URL"`
	PostgresDSN string        `envconfig:"POSTGRES_DSN"`
	Retention   time.Duration `envconfig:"RETENTION" default:"24h"`

	CodeExpiry     time.Duration `envconfig:"CODE_EXPIRY" default:"15m"`
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	UserCodeLength int           `envconfig:"USER_CODE_LENGTH" default:"8"`

	CSRFSecret      string        `envconfig:"CSRF_SECRET" required:"true"`
	CSRFTokenExpiry time.Duration `envconfig:"CSRF_TOKEN_EXPIRY" default:"10m"`

	KeycloakURL          string `envconfig:"KEYCLOAK_URL" required:"true"`
	KeycloakRealm        string `envconfig:"KEYCLOAK_REALM" required:"true"`
	KeycloakClientID     string `envconfig:"KEYCLOAK_CLIENT_ID" required:"true"`
	KeycloakClientSecret string `envconfig:"KEYCLOAK_CLIENT_SECRET"`

	AdminAPIKey     string        `envconfig:"ADMIN_API_KEY"`
	ClientsFile     string        `envconfig:"CLIENTS_FILE"`
	ClientsCacheTTL time.Duration `envconfig:"CLIENTS_CACHE_TTL" default:"1m"`

	VerifyRateLimit  int           `envconfig:"VERIFY_RATE_LIMIT" default:"10"`
	VerifyRateWindow time.Duration `envconfig:"VERIFY_RATE_WINDOW" default:"1m"`

	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// loadEnvFile sets variables from a dotenv file. A missing file is not an error.
// Variables already in the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// loadConfig reads the server configuration from the environment
func loadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case driverMemory:
	case driverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%s_REDIS_URL is required for the redis store", envPrefix)
		}
	case driverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%s_POSTGRES_DSN is required for the postgres store", envPrefix)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if len(c.CSRFSecret) < 32 {
		return fmt.Errorf("%s_CSRF_SECRET must be at least 32 bytes", envPrefix)
	}
	return nil
}
