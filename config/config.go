package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Feed backends accepted by FEED_BACKEND.
const (
	FeedMemory   = "memory"
	FeedPostgres = "postgres"
	FeedRedis    = "redis"
	FeedKafka    = "kafka"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Feed      FeedConfig
	Kafka     KafkaConfig
	Tracking  TrackingConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
	CORSOrigins  []string      `mapstructure:"SERVER_CORS_ORIGINS"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host        string        `mapstructure:"REDIS_HOST"`
	Port        int           `mapstructure:"REDIS_PORT"`
	Password    string        `mapstructure:"REDIS_PASSWORD"`
	DB          int           `mapstructure:"REDIS_DB"`
	PoolSize    int           `mapstructure:"REDIS_POOL_SIZE"`
	SnapshotTTL time.Duration `mapstructure:"CACHE_SNAPSHOT_TTL"`
}

// FeedConfig selects the change feed transport.
type FeedConfig struct {
	Backend   string `mapstructure:"FEED_BACKEND"`
	PGChannel string `mapstructure:"FEED_PG_CHANNEL"`
}

// KafkaConfig is only read when FEED_BACKEND=kafka.
type KafkaConfig struct {
	Brokers []string `mapstructure:"KAFKA_BROKERS"`
	Topic   string   `mapstructure:"KAFKA_TOPIC"`
}

// TrackingConfig tunes tracking sessions.
type TrackingConfig struct {
	TickInterval         time.Duration `mapstructure:"TRACKING_TICK_INTERVAL"`
	DefaultETAMinutes    float64       `mapstructure:"TRACKING_DEFAULT_ETA_MINUTES"`
	ReconnectMaxInterval time.Duration `mapstructure:"TRACKING_RECONNECT_MAX_INTERVAL"`
}

// TelemetryConfig configures OTLP trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	ServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// ── Defaults ────────────────────────────────────────
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("SERVER_READ_TIMEOUT", "5s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	viper.SetDefault("SERVER_IDLE_TIMEOUT", "120s")
	viper.SetDefault("SERVER_CORS_ORIGINS", "*")

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "fastcare")
	viper.SetDefault("POSTGRES_PASSWORD", "fastcare_secret")
	viper.SetDefault("POSTGRES_DB", "fastcare_db")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 20)
	viper.SetDefault("POSTGRES_MIN_CONNS", 2)

	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 50)
	viper.SetDefault("CACHE_SNAPSHOT_TTL", "30s")

	viper.SetDefault("FEED_BACKEND", FeedPostgres)
	viper.SetDefault("FEED_PG_CHANNEL", "fastcare_changes")

	viper.SetDefault("KAFKA_BROKERS", "localhost:9092")
	viper.SetDefault("KAFKA_TOPIC", "fastcare.changes")

	viper.SetDefault("TRACKING_TICK_INTERVAL", "1s")
	viper.SetDefault("TRACKING_DEFAULT_ETA_MINUTES", 10)
	viper.SetDefault("TRACKING_RECONNECT_MAX_INTERVAL", "30s")

	viper.SetDefault("OTEL_SERVICE_NAME", "fastcare")
	viper.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	viper.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	// A missing .env is fine: docker-compose injects plain env vars.
	_ = viper.ReadInConfig()

	cfg := &Config{}

	// ── Server ──────────────────────────────────────────
	cfg.Server = ServerConfig{
		Host:         viper.GetString("SERVER_HOST"),
		Port:         viper.GetInt("SERVER_PORT"),
		ReadTimeout:  viper.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout: viper.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:  viper.GetDuration("SERVER_IDLE_TIMEOUT"),
		CORSOrigins:  splitList(viper.GetString("SERVER_CORS_ORIGINS")),
	}

	// ── Postgres ────────────────────────────────────────
	cfg.Postgres = PostgresConfig{
		Host:     viper.GetString("POSTGRES_HOST"),
		Port:     viper.GetInt("POSTGRES_PORT"),
		User:     viper.GetString("POSTGRES_USER"),
		Password: viper.GetString("POSTGRES_PASSWORD"),
		DBName:   viper.GetString("POSTGRES_DB"),
		SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		MaxConns: viper.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns: viper.GetInt32("POSTGRES_MIN_CONNS"),
	}

	// ── Redis ───────────────────────────────────────────
	cfg.Redis = RedisConfig{
		Host:        viper.GetString("REDIS_HOST"),
		Port:        viper.GetInt("REDIS_PORT"),
		Password:    viper.GetString("REDIS_PASSWORD"),
		DB:          viper.GetInt("REDIS_DB"),
		PoolSize:    viper.GetInt("REDIS_POOL_SIZE"),
		SnapshotTTL: viper.GetDuration("CACHE_SNAPSHOT_TTL"),
	}

	// ── Change feed ─────────────────────────────────────
	cfg.Feed = FeedConfig{
		Backend:   strings.ToLower(strings.TrimSpace(viper.GetString("FEED_BACKEND"))),
		PGChannel: viper.GetString("FEED_PG_CHANNEL"),
	}
	cfg.Kafka = KafkaConfig{
		Brokers: splitList(viper.GetString("KAFKA_BROKERS")),
		Topic:   viper.GetString("KAFKA_TOPIC"),
	}

	// ── Tracking ────────────────────────────────────────
	cfg.Tracking = TrackingConfig{
		TickInterval:         viper.GetDuration("TRACKING_TICK_INTERVAL"),
		DefaultETAMinutes:    viper.GetFloat64("TRACKING_DEFAULT_ETA_MINUTES"),
		ReconnectMaxInterval: viper.GetDuration("TRACKING_RECONNECT_MAX_INTERVAL"),
	}

	// ── Telemetry ───────────────────────────────────────
	cfg.Telemetry = TelemetryConfig{
		ServiceName:  viper.GetString("OTEL_SERVICE_NAME"),
		OTLPEndpoint: viper.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure: viper.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Feed.Backend {
	case FeedMemory, FeedPostgres, FeedRedis:
	case FeedKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("config: kafka feed needs KAFKA_BROKERS and KAFKA_TOPIC")
		}
	default:
		return fmt.Errorf("config: unknown FEED_BACKEND %q", c.Feed.Backend)
	}
	if c.Tracking.TickInterval <= 0 {
		return fmt.Errorf("config: TRACKING_TICK_INTERVAL must be positive, got %s", c.Tracking.TickInterval)
	}
	if c.Tracking.DefaultETAMinutes < 0 {
		return fmt.Errorf("config: TRACKING_DEFAULT_ETA_MINUTES must not be negative")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
