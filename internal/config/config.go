package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// MinSecretBytes is the minimum decoded length of the token signing secret.
const MinSecretBytes = 32

// Config holds application level configuration.
type Config struct {
	ServerPort  string `yaml:"server_port"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`

	DBDriver    string `yaml:"db_driver"`
	DatabaseDSN string `yaml:"database_dsn"`

	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	RedisPass string `yaml:"redis_password"`

	JWTSecret     string        `yaml:"jwt_secret"`
	TokenLifetime time.Duration `yaml:"token_lifetime"`

	GeminiAPIKey    string        `yaml:"gemini_api_key"`
	GeminiBaseURL   string        `yaml:"gemini_base_url"`
	GeminiModel     string        `yaml:"gemini_model"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	HistoryLimit       int      `yaml:"history_limit"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	CORSAllowOrigins   []string `yaml:"cors_allow_origins"`
	SwaggerHost        string   `yaml:"swagger_host"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		ServerPort:         "8080",
		Environment:        "dev",
		LogLevel:           "info",
		DBDriver:           "mysql",
		DatabaseDSN:        "user:password@tcp(localhost:3306)/chatbot?charset=utf8mb4&parseTime=True&loc=UTC",
		RedisAddr:          "localhost:6379",
		TokenLifetime:      2 * time.Hour,
		GeminiBaseURL:      "https://generativelanguage.googleapis.com",
		GeminiModel:        "gemini-2.5-flash",
		UpstreamTimeout:    30 * time.Second,
		HistoryLimit:       20,
		RateLimitPerMinute: 30,
		CORSAllowOrigins:   []string{"*"},
	}
}

// Load builds Config from defaults, then the YAML file named by CONFIG_FILE
// (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.DBDriver = getEnv("DB_DRIVER", c.DBDriver)
	c.DatabaseDSN = getEnv("DATABASE_DSN", c.DatabaseDSN)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RedisPass = getEnv("REDIS_PASSWORD", c.RedisPass)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.TokenLifetime = getEnvDuration("TOKEN_LIFETIME", c.TokenLifetime)
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GeminiBaseURL = getEnv("GEMINI_BASE_URL", c.GeminiBaseURL)
	c.GeminiModel = getEnv("GEMINI_MODEL", c.GeminiModel)
	c.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", c.UpstreamTimeout)
	c.HistoryLimit = getEnvInt("HISTORY_LIMIT", c.HistoryLimit)
	c.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute)
	c.SwaggerHost = getEnv("SWAGGER_HOST", c.SwaggerHost)
	if v := os.Getenv("CORS_ALLOW_ORIGINS"); v != "" {
		c.CORSAllowOrigins = strings.Split(v, ",")
	}
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.JWTSecret)
	if err != nil {
		return fmt.Errorf("JWT_SECRET must be base64 encoded: %w", err)
	}
	if len(key) < MinSecretBytes {
		return fmt.Errorf("JWT_SECRET must decode to at least %d bytes, got %d", MinSecretBytes, len(key))
	}
	switch c.DBDriver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.TokenLifetime <= 0 {
		return fmt.Errorf("TOKEN_LIFETIME must be positive")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
