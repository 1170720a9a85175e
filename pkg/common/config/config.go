package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	IdempotencyBackendPostgres = "postgres"
	IdempotencyBackendRedis    = "redis"
)

type Config struct {
	// Server
	ServerHost     string        `yaml:"server_host"`
	ServerPort     string        `yaml:"server_port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxRequestBody int64         `yaml:"max_request_body_bytes"`

	// Database
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`

	// Redis
	RedisEnabled  bool   `yaml:"redis_enabled"`
	RedisHost     string `yaml:"redis_host"`
	RedisPort     string `yaml:"redis_port"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Kafka
	KafkaEnabled     bool     `yaml:"kafka_enabled"`
	KafkaBrokers     []string `yaml:"kafka_brokers"`
	KafkaVitalsTopic string   `yaml:"kafka_vitals_topic"`

	// Ingestion
	DeviceMasterKey    string        `yaml:"device_master_key"`
	IdempotencyBackend string        `yaml:"idempotency_backend"`
	IdempotencyTTL     time.Duration `yaml:"idempotency_ttl"`
	LatestCacheTTL     time.Duration `yaml:"latest_cache_ttl"`

	LogLevel string `yaml:"log_level"`
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Defaults() *Config {
	return &Config{
		ServerHost:     "0.0.0.0",
		ServerPort:     "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxRequestBody: 1 << 20,

		PostgresHost:    "localhost",
		PostgresPort:    "5432",
		PostgresUser:    "vitals",
		PostgresDB:      "vitals",
		PostgresSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: "6379",

		KafkaBrokers:     []string{"localhost:9092"},
		KafkaVitalsTopic: "vitals.events",

		IdempotencyBackend: IdempotencyBackendPostgres,
		IdempotencyTTL:     24 * time.Hour,
		LatestCacheTTL:     5 * time.Minute,

		LogLevel: "info",
	}
}

func LoadFile(path string, cfg *Config) error {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.IdempotencyBackend {
	case IdempotencyBackendPostgres:
	case IdempotencyBackendRedis:
		if !c.RedisEnabled {
			return fmt.Errorf("idempotency backend %q requires REDIS_ENABLED", c.IdempotencyBackend)
		}
	default:
		return fmt.Errorf("unknown idempotency backend %q", c.IdempotencyBackend)
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("max request body must be positive, got %d", c.MaxRequestBody)
	}
	return nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.PostgresHost,
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresDB,
		c.PostgresPort,
		c.PostgresSSLMode,
	)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func applyEnv(c *Config) {
	c.ServerHost = getEnv("SERVER_HOST", c.ServerHost)
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.ReadTimeout = getDuration("READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getDuration("WRITE_TIMEOUT", c.WriteTimeout)
	c.MaxRequestBody = int64(getIntEnv("MAX_REQUEST_BODY_BYTES", int(c.MaxRequestBody)))

	c.PostgresHost = getEnv("POSTGRES_HOST", c.PostgresHost)
	c.PostgresPort = getEnv("POSTGRES_PORT", c.PostgresPort)
	c.PostgresUser = getEnv("POSTGRES_USER", c.PostgresUser)
	c.PostgresPassword = getEnv("POSTGRES_PASSWORD", c.PostgresPassword)
	c.PostgresDB = getEnv("POSTGRES_DB", c.PostgresDB)
	c.PostgresSSLMode = getEnv("POSTGRES_SSLMODE", c.PostgresSSLMode)

	c.RedisEnabled = getBoolEnv("REDIS_ENABLED", c.RedisEnabled)
	c.RedisHost = getEnv("REDIS_HOST", c.RedisHost)
	c.RedisPort = getEnv("REDIS_PORT", c.RedisPort)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getIntEnv("REDIS_DB", c.RedisDB)

	c.KafkaEnabled = getBoolEnv("KAFKA_ENABLED", c.KafkaEnabled)
	c.KafkaBrokers = getStringSliceEnv("KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaVitalsTopic = getEnv("KAFKA_VITALS_TOPIC", c.KafkaVitalsTopic)

	c.DeviceMasterKey = getEnv("DEVICE_MASTER_KEY", c.DeviceMasterKey)
	c.IdempotencyBackend = strings.ToLower(getEnv("IDEMPOTENCY_BACKEND", c.IdempotencyBackend))
	c.IdempotencyTTL = getDuration("IDEMPOTENCY_TTL", c.IdempotencyTTL)
	c.LatestCacheTTL = getDuration("LATEST_CACHE_TTL", c.LatestCacheTTL)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
