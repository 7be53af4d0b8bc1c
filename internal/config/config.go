// Package config provides configuration management for the gospv relayer.
// It handles loading configuration from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

// Config holds the global configuration for gospv services
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Bitcoin Core connection
	BitcoinNetwork     string
	BitcoinRPCHost     string
	BitcoinRPCPort     int
	BitcoinRPCUser     string
	BitcoinRPCPassword string
	BitcoinZMQAddr     string

	// Kafka configuration
	KafkaBrokers []string
	KafkaGroupID string

	// PostgreSQL
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// InfluxDB
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Proof verification
	RequiredConfirmations int
	VerifyTimeout         time.Duration
	ResultCacheTTL        time.Duration
	PendingLimit          int
	PendingMaxAge         time.Duration
	LedgerRetention       time.Duration

	// Performance tuning
	WorkerPoolSize int

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		// Service defaults
		ServiceName: getEnv("SERVICE_NAME", "spvrelay"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Bitcoin Core defaults
		BitcoinNetwork:     getEnv("BITCOIN_NETWORK", "mainnet"),
		BitcoinRPCHost:     getEnv("BITCOIN_RPC_HOST", "localhost"),
		BitcoinRPCPort:     getEnvInt("BITCOIN_RPC_PORT", 8332),
		BitcoinRPCUser:     getEnv("BITCOIN_RPC_USER", ""),
		BitcoinRPCPassword: getEnv("BITCOIN_RPC_PASSWORD", ""),
		BitcoinZMQAddr:     getEnv("BITCOIN_ZMQ_ADDR", "tcp://localhost:28332"),

		// Kafka defaults
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "gospv"),

		// Database defaults
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnvInt("POSTGRES_PORT", 5432),
		PostgresDB:       getEnv("POSTGRES_DB", "gospv"),
		PostgresUser:     getEnv("POSTGRES_USER", "gospv"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "gospv"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		InfluxURL:    getEnv("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "gospv"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "spv"),

		// Verification defaults
		RequiredConfirmations: getEnvInt("SPV_REQUIRED_CONFIRMATIONS", 6),
		VerifyTimeout:         getEnvDuration("SPV_VERIFY_TIMEOUT", 30*time.Second),
		ResultCacheTTL:        getEnvDuration("SPV_RESULT_CACHE_TTL", 10*time.Minute),
		PendingLimit:          getEnvInt("SPV_PENDING_LIMIT", 10000),
		PendingMaxAge:         getEnvDuration("SPV_PENDING_MAX_AGE", 24*time.Hour),
		LedgerRetention:       getEnvDuration("SPV_LEDGER_RETENTION", 90*24*time.Hour),

		// Performance defaults
		WorkerPoolSize: getEnvInt("WORKER_POOL_SIZE", 16),

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ChainParams returns the btcd parameters for the configured network.
func (c *Config) ChainParams() (*chaincfg.Params, error) {
	switch strings.ToLower(c.BitcoinNetwork) {
	case "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet3", "testnet", "test":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown BITCOIN_NETWORK %q", c.BitcoinNetwork)
	}
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if _, err := c.ChainParams(); err != nil {
		return err
	}

	if c.BitcoinRPCPort <= 0 || c.BitcoinRPCPort > 65535 {
		return fmt.Errorf("BITCOIN_RPC_PORT must be between 1 and 65535")
	}

	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS cannot be empty")
	}

	if c.RequiredConfirmations < 1 {
		return fmt.Errorf("SPV_REQUIRED_CONFIRMATIONS must be at least 1")
	}

	if c.VerifyTimeout <= 0 {
		return fmt.Errorf("SPV_VERIFY_TIMEOUT must be positive")
	}

	if c.PendingLimit < 0 {
		return fmt.Errorf("SPV_PENDING_LIMIT cannot be negative")
	}

	if c.PendingMaxAge <= 0 {
		return fmt.Errorf("SPV_PENDING_MAX_AGE must be positive")
	}

	if c.LedgerRetention < 0 {
		return fmt.Errorf("SPV_LEDGER_RETENTION cannot be negative")
	}

	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("WORKER_POOL_SIZE must be positive")
	}

	return nil
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvSlice splits a comma-separated value, dropping empty entries.
func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
