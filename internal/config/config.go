// Package config loads lifpow service configuration from environment
// variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/bardlex/lifpow/internal/database"
	"github.com/bardlex/lifpow/internal/database/influx"
	"github.com/bardlex/lifpow/internal/database/postgres"
	"github.com/bardlex/lifpow/internal/database/redis"
	"github.com/bardlex/lifpow/internal/network"
	"github.com/bardlex/lifpow/pkg/errors"
)

// Config holds the global configuration for lifpow services
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Proof-of-work network selection
	Network               string
	EnableExperimentalPoW bool

	// Search tuning
	MiningWorkers    int
	MiningBatchSize  int
	MiningJobTimeout time.Duration
	PayoutAddress    string

	// Node connection
	BitcoinRPCHost     string
	BitcoinRPCPort     int
	BitcoinRPCUser     string
	BitcoinRPCPassword string
	BitcoinZMQAddr     string

	// Kafka configuration
	KafkaBrokers []string
	KafkaGroupID string

	// Database connections
	PostgresHost     string
	PostgresPort     int
	PostgresDatabase string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	InfluxURL        string
	InfluxToken      string
	InfluxOrg        string
	InfluxBucket     string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "lifpow"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "development"),

		Network:               getEnv("NETWORK", network.Main),
		EnableExperimentalPoW: getEnvBool("ENABLE_EXPERIMENTAL_POW", false),

		MiningWorkers:    getEnvInt("MINING_WORKERS", runtime.NumCPU()),
		MiningBatchSize:  getEnvInt("MINING_BATCH_SIZE", 1<<16),
		MiningJobTimeout: getEnvDuration("MINING_JOB_TIMEOUT", 30*time.Second),
		PayoutAddress:    getEnv("PAYOUT_ADDRESS", ""),

		BitcoinRPCHost:     getEnv("BITCOIN_RPC_HOST", "localhost"),
		BitcoinRPCPort:     getEnvInt("BITCOIN_RPC_PORT", 8332),
		BitcoinRPCUser:     getEnv("BITCOIN_RPC_USER", ""),
		BitcoinRPCPassword: getEnv("BITCOIN_RPC_PASSWORD", ""),
		BitcoinZMQAddr:     getEnv("BITCOIN_ZMQ_ADDR", "tcp://localhost:28332"),

		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "lifpow"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnvInt("POSTGRES_PORT", 5432),
		PostgresDatabase: getEnv("POSTGRES_DB", "lifpow"),
		PostgresUser:     getEnv("POSTGRES_USER", "lifpow"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "lifpow"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		InfluxURL:        getEnv("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:      getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:        getEnv("INFLUX_ORG", "lifpow"),
		InfluxBucket:     getEnv("INFLUX_BUCKET", "mining"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Profile returns the proof-of-work profile of the configured network.
func (c *Config) Profile() (network.Profile, error) {
	return network.Lookup(c.Network)
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return invalid("SERVICE_NAME cannot be empty")
	}

	profile, err := network.Lookup(c.Network)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfiguration, "load_config", "NETWORK is not a known network").
			WithContext("network", c.Network)
	}
	if profile.Experimental && !c.EnableExperimentalPoW {
		return invalid("network uses an experimental proof of work; set ENABLE_EXPERIMENTAL_POW=true").
			WithContext("network", c.Network)
	}

	if c.MiningWorkers <= 0 {
		return invalid("MINING_WORKERS must be positive")
	}

	if c.MiningBatchSize <= 0 {
		return invalid("MINING_BATCH_SIZE must be positive")
	}

	if c.MiningJobTimeout <= 0 {
		return invalid("MINING_JOB_TIMEOUT must be positive")
	}

	if c.BitcoinRPCPort <= 0 || c.BitcoinRPCPort > 65535 {
		return invalid("BITCOIN_RPC_PORT must be between 1 and 65535")
	}

	return nil
}

func invalid(msg string) *errors.ServiceError {
	return errors.New(errors.ErrorTypeConfiguration, "load_config", msg)
}

// RPCAddr returns host:port of the node's RPC endpoint.
func (c *Config) RPCAddr() string {
	return fmt.Sprintf("%s:%d", c.BitcoinRPCHost, c.BitcoinRPCPort)
}

// RedisConfig returns the Redis connection settings.
func (c *Config) RedisConfig() *redis.Config {
	return &redis.Config{
		Addr:         c.RedisAddr,
		Password:     c.RedisPassword,
		DB:           c.RedisDB,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// DatabaseConfig returns the settings of every store the database manager
// opens.
func (c *Config) DatabaseConfig() *database.Config {
	return &database.Config{
		Postgres: &postgres.Config{
			Host:         c.PostgresHost,
			Port:         c.PostgresPort,
			Database:     c.PostgresDatabase,
			User:         c.PostgresUser,
			Password:     c.PostgresPassword,
			SSLMode:      c.PostgresSSLMode,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			MaxLifetime:  30 * time.Minute,
		},
		Redis: c.RedisConfig(),
		Influx: &influx.Config{
			URL:    c.InfluxURL,
			Token:  c.InfluxToken,
			Org:    c.InfluxOrg,
			Bucket: c.InfluxBucket,
		},
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
