package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the POS core
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Redis      RedisConfig      `yaml:"redis"`
	Log        LogConfig        `yaml:"log"`
	Auth       AuthConfig       `yaml:"auth"`
	Billing    BillingConfig    `yaml:"billing"`
	PrintAgent PrintAgentConfig `yaml:"print_agent"`
	Plan       PlanConfig       `yaml:"plan"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Environment     string        `yaml:"environment"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// RabbitMQConfig holds RabbitMQ connection configuration
type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// BillingConfig drives prefactura tax and settlement limits
type BillingConfig struct {
	TaxName            string        `yaml:"tax_name"`
	TaxRateBP          int64         `yaml:"tax_rate_bp"`
	TaxInclusive       bool          `yaml:"tax_inclusive"`
	SettleTimeout      time.Duration `yaml:"settle_timeout"`
	AddItemsMaxRetries int           `yaml:"add_items_max_retries"`
}

type PrintAgentConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

type PlanConfig struct {
	Enforce   bool   `yaml:"enforce"`
	FailOpen  bool   `yaml:"fail_open"`
	KeyPrefix string `yaml:"key_prefix"`
}

type NotifyConfig struct {
	Workers int `yaml:"workers"`
	Buffer  int `yaml:"buffer"`
}

// Default returns the configuration used when a key is absent from the file
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Environment:     "development",
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			SSLMode:  "disable",
			MaxConns: 25,
			MinConns: 5,
		},
		RabbitMQ: RabbitMQConfig{Host: "localhost", Port: 5672, VHost: "/"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Auth:     AuthConfig{Issuer: "restaurant-pos"},
		Billing: BillingConfig{
			TaxName:            "IVA",
			TaxRateBP:          1300,
			TaxInclusive:       true,
			SettleTimeout:      15 * time.Second,
			AddItemsMaxRetries: 3,
		},
		PrintAgent: PrintAgentConfig{Timeout: 5 * time.Second, Retries: 2},
		Plan:       PlanConfig{Enforce: true, FailOpen: true, KeyPrefix: "plan:restaurante:"},
		Notify:     NotifyConfig{Workers: 4, Buffer: 256},
	}
}

// Load reads configuration from a YAML file, then applies .env and POS_* overrides
func Load(filename string) (*Config, error) {
	cfg := Default()

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvAsInt("POS_SERVER_PORT", c.Server.Port)
	c.Server.Environment = getEnv("POS_ENV", c.Server.Environment)

	c.Database.Host = getEnv("POS_DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("POS_DB_PORT", c.Database.Port)
	c.Database.User = getEnv("POS_DB_USER", c.Database.User)
	c.Database.Password = getEnv("POS_DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("POS_DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("POS_DB_SSLMODE", c.Database.SSLMode)

	c.RabbitMQ.Host = getEnv("POS_RABBITMQ_HOST", c.RabbitMQ.Host)
	c.RabbitMQ.Port = getEnvAsInt("POS_RABBITMQ_PORT", c.RabbitMQ.Port)
	c.RabbitMQ.User = getEnv("POS_RABBITMQ_USER", c.RabbitMQ.User)
	c.RabbitMQ.Password = getEnv("POS_RABBITMQ_PASSWORD", c.RabbitMQ.Password)

	c.Redis.Addr = getEnv("POS_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("POS_REDIS_PASSWORD", c.Redis.Password)

	c.Log.Level = getEnv("POS_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("POS_LOG_FORMAT", c.Log.Format)

	c.Auth.JWTSecret = getEnv("POS_JWT_SECRET", c.Auth.JWTSecret)

	c.Billing.TaxRateBP = int64(getEnvAsInt("POS_TAX_RATE_BP", int(c.Billing.TaxRateBP)))
	c.Billing.SettleTimeout = getEnvAsDuration("POS_SETTLE_TIMEOUT", c.Billing.SettleTimeout)

	c.PrintAgent.URL = getEnv("POS_PRINT_AGENT_URL", c.PrintAgent.URL)
}

// Validate rejects values the services cannot run with
func (c *Config) Validate() error {
	if c.Billing.TaxRateBP < 0 || c.Billing.TaxRateBP > 10000 {
		return fmt.Errorf("billing.tax_rate_bp must be between 0 and 10000, got %d", c.Billing.TaxRateBP)
	}
	if c.Billing.SettleTimeout <= 0 {
		return fmt.Errorf("billing.settle_timeout must be positive")
	}
	if c.Billing.AddItemsMaxRetries < 0 {
		return fmt.Errorf("billing.add_items_max_retries must not be negative")
	}
	if c.Notify.Workers <= 0 {
		return fmt.Errorf("notify.workers must be positive")
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Database, c.Database.SSLMode)
}

// RabbitMQURL returns an AMQP connection URL
func (c *Config) RabbitMQURL() string {
	vhost := c.RabbitMQ.VHost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		c.RabbitMQ.User, c.RabbitMQ.Password, c.RabbitMQ.Host, c.RabbitMQ.Port, vhost)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
