// Package config loads agent and emulator configuration from the environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Token store backends.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Agent is the configuration of the dishly-session agent (prefix DISHLY_).
type Agent struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	APIBaseURL     string        `envconfig:"API_BASE_URL" default:"http://localhost:8080"`
	APIServiceName string        `envconfig:"API_SERVICE_NAME"`
	ConsulAddr     string        `envconfig:"CONSUL_ADDR" default:"localhost:8500"`
	ConsulToken    string        `envconfig:"CONSUL_TOKEN"`
	HTTPTimeout    time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`

	TokenBackend  string `envconfig:"TOKEN_BACKEND" default:"file"`
	TokenFile     string `envconfig:"TOKEN_FILE"`
	TokenKey      string `envconfig:"TOKEN_KEY" default:"dishly:token"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	WarningWindowSeconds int           `envconfig:"WARNING_WINDOW_SECONDS" default:"300"`
	PollInterval         time.Duration `envconfig:"POLL_INTERVAL" default:"60s"`
}

// Emulator is the configuration of the local API emulator (prefix FAKEAPI_).
type Emulator struct {
	Host        string        `envconfig:"HOST" default:"localhost"`
	Port        int           `envconfig:"PORT" default:"8080"`
	JWTSecret   string        `envconfig:"JWT_SECRET"`
	TokenTTL    time.Duration `envconfig:"TOKEN_TTL" default:"1h"`
	CORSOrigins []string      `envconfig:"CORS_ORIGINS" default:"http://localhost:5173"`
	SeedUsers   []string      `envconfig:"SEED_USERS" default:"alice:alice,bob:bob"`
	ServiceName string        `envconfig:"SERVICE_NAME" default:"dishly-api"`
	ConsulAddr  string        `envconfig:"CONSUL_ADDR"`
	ConsulToken string        `envconfig:"CONSUL_TOKEN"`
}

// LoadAgent reads the agent configuration. A .env file in the working
// directory is loaded first if present.
func LoadAgent() (*Agent, error) {
	_ = godotenv.Load()

	cfg := new(Agent)
	if err := envconfig.Process("dishly", cfg); err != nil {
		return nil, fmt.Errorf("process agent config: %w", err)
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = DefaultTokenFile()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Agent) Validate() error {
	var problems []string

	switch c.TokenBackend {
	case BackendFile:
		if c.TokenFile == "" {
			problems = append(problems, "DISHLY_TOKEN_FILE is required for the file backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			problems = append(problems, "DISHLY_REDIS_ADDR is required for the redis backend")
		}
		if c.TokenKey == "" {
			problems = append(problems, "DISHLY_TOKEN_KEY must not be empty")
		}
	case BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown DISHLY_TOKEN_BACKEND %q", c.TokenBackend))
	}

	if c.APIServiceName == "" && c.APIBaseURL == "" {
		problems = append(problems, "one of DISHLY_API_BASE_URL or DISHLY_API_SERVICE_NAME is required")
	}
	if c.WarningWindowSeconds <= 0 {
		problems = append(problems, "DISHLY_WARNING_WINDOW_SECONDS must be positive")
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "DISHLY_POLL_INTERVAL must be positive")
	}
	if c.HTTPTimeout <= 0 {
		problems = append(problems, "DISHLY_HTTP_TIMEOUT must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// WarningWindow returns the warning window as a duration.
func (c *Agent) WarningWindow() time.Duration {
	return time.Duration(c.WarningWindowSeconds) * time.Second
}

// LoadEmulator reads the emulator configuration.
func LoadEmulator() (*Emulator, error) {
	_ = godotenv.Load()

	cfg := new(Emulator)
	if err := envconfig.Process("fakeapi", cfg); err != nil {
		return nil, fmt.Errorf("process emulator config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("FAKEAPI_JWT_SECRET is required")
	}
	if cfg.TokenTTL <= 0 {
		return nil, errors.New("FAKEAPI_TOKEN_TTL must be positive")
	}
	return cfg, nil
}

// DefaultTokenFile returns the per-user token path, falling back to the
// working directory when no config dir is known.
func DefaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".dishly", "token")
	}
	return filepath.Join(dir, "dishly", "token")
}
