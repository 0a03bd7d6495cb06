package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all service configuration, read from the environment.
type Config struct {
	Service      ServiceConfig
	Server       ServerConfig
	Database     DatabaseConfig
	NATS         NATSConfig
	Redis        RedisConfig
	Directory    DirectoryConfig
	MasterData   MasterDataConfig
	Notification NotificationConfig
	Tracing      TracingConfig
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

type ServiceConfig struct {
	Name        string `env:"SERVICE_NAME" envDefault:"be-ar-carf"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

type ServerConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8086"`
	GRPCPort        int           `env:"GRPC_PORT" envDefault:"9086"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

type DatabaseConfig struct {
	Host           string        `env:"DB_HOST" envDefault:"localhost"`
	Port           int           `env:"DB_PORT" envDefault:"5432"`
	User           string        `env:"DB_USER" envDefault:"postgres"`
	Password       string        `env:"DB_PASSWORD" envDefault:"postgres"`
	Database       string        `env:"DB_NAME" envDefault:"carf"`
	SSLMode        string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns       int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns       int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	MaxConnTime    time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE" envDefault:"30m"`
	HealthCheck    time.Duration `env:"DB_HEALTH_CHECK" envDefault:"1m"`
	MigrateOnStart bool          `env:"DB_MIGRATE_ON_START" envDefault:"true"`
}

// DSN renders the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

type NATSConfig struct {
	URL           string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"notifications.carf"`
}

type RedisConfig struct {
	Addr          string        `env:"REDIS_ADDR"`
	Password      string        `env:"REDIS_PASSWORD"`
	DB            int           `env:"REDIS_DB" envDefault:"0"`
	ActorCacheTTL time.Duration `env:"ACTOR_CACHE_TTL" envDefault:"5m"`
}

type DirectoryConfig struct {
	GRPCAddr string `env:"DIRECTORY_GRPC_URL" envDefault:"localhost:9081"`
}

type MasterDataConfig struct {
	GRPCAddr    string        `env:"MASTERDATA_GRPC_URL" envDefault:"localhost:9090"`
	CallTimeout time.Duration `env:"MASTERDATA_CALL_TIMEOUT" envDefault:"20s"`
}

type NotificationConfig struct {
	Concurrency int `env:"NOTIFY_CONCURRENCY" envDefault:"8"`
}

type TracingConfig struct {
	Enabled    bool   `env:"TRACING_ENABLED" envDefault:"false"`
	OutputFile string `env:"TRACING_OUTPUT_FILE"`
}

// Load reads optional .env files and parses the environment.
func Load() (*Config, error) {
	if err := loadEnvFiles(".env", ".env.local"); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadEnvFiles(files ...string) error {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Validate checks values the service cannot start without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.Server.Port)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("GRPC_PORT out of range: %d", c.Server.GRPCPort)
	}
	if c.Server.Port == c.Server.GRPCPort {
		return fmt.Errorf("HTTP_PORT and GRPC_PORT must differ")
	}
	if c.Database.Host == "" || c.Database.Database == "" {
		return fmt.Errorf("DB_HOST and DB_NAME are required")
	}
	if c.MasterData.GRPCAddr == "" {
		return fmt.Errorf("MASTERDATA_GRPC_URL is required")
	}
	if c.Directory.GRPCAddr == "" {
		return fmt.Errorf("DIRECTORY_GRPC_URL is required")
	}
	if c.Notification.Concurrency < 1 {
		return fmt.Errorf("NOTIFY_CONCURRENCY must be at least 1")
	}
	return nil
}
