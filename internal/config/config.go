// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port        string `yaml:"port"`
	GRPCPort    string `yaml:"grpc_port"`
	FrontendURL string `yaml:"frontend_url"`
	DBPath      string `yaml:"db_path"`
	CatalogPath string `yaml:"catalog_path"`

	LocalModelURL   string  `yaml:"local_model_url"`
	LocalMaxTokens  int     `yaml:"local_max_tokens"`
	Temperature     float64 `yaml:"temperature"`
	CloudBaseURL    string  `yaml:"cloud_base_url"`
	CloudAPIKey     string  `yaml:"-"`
	CloudHealthAddr string  `yaml:"cloud_health_addr"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`

	MaxSuggestions       int           `yaml:"max_suggestions"`
	FocusMinSize         int           `yaml:"focus_min_size"`
	DeviceRequestTimeout time.Duration `yaml:"device_request_timeout"`
	DownloadClearAfter   time.Duration `yaml:"download_clear_after"`
	ChatRateLimit        int           `yaml:"chat_rate_limit"`

	Retention              time.Duration `yaml:"retention"`
	RetentionSchedule      string        `yaml:"retention_schedule"`
	CatalogRefreshSchedule string        `yaml:"catalog_refresh_schedule"`

	ConversationLog ConversationLogConfig `yaml:"conversation_log"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	GlobalEnabled bool   `yaml:"global_enabled"`
	GlobalPath    string `yaml:"global_path"`
	QueueSize     int    `yaml:"queue_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                   "8080",
		GRPCPort:               "9090",
		DBPath:                 "./data/screenpilot.db",
		CatalogPath:            "./configs/models.yaml",
		LocalModelURL:          "http://localhost:12434/engines/v1/",
		LocalMaxTokens:         1024,
		MaxSuggestions:         5,
		FocusMinSize:           50,
		DeviceRequestTimeout:   10 * time.Second,
		DownloadClearAfter:     5 * time.Second,
		ChatRateLimit:          30,
		Retention:              30 * 24 * time.Hour,
		RetentionSchedule:      "@daily",
		CatalogRefreshSchedule: "*/30 * * * *",
		ConversationLog: ConversationLogConfig{
			Enabled:    true,
			Dir:        "./data/logs/conversations",
			GlobalPath: "./data/logs/conversations/all.ndjson",
			QueueSize:  1000,
		},
	}
}

// Load starts from Default, overlays the YAML file named by
// SCREENPILOT_CONFIG if set, then applies environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("SCREENPILOT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := cfg.Overlay(data); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Overlay decodes YAML on top of the current values.
func (c *Config) Overlay(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.GRPCPort = getEnv("GRPC_PORT", c.GRPCPort)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.CatalogPath = getEnv("CATALOG_PATH", c.CatalogPath)

	c.LocalModelURL = getEnv("LOCAL_MODEL_URL", c.LocalModelURL)
	c.LocalMaxTokens = getEnvInt("LOCAL_MAX_TOKENS", c.LocalMaxTokens)
	c.Temperature = getEnvFloat("MODEL_TEMPERATURE", c.Temperature)
	c.CloudBaseURL = getEnv("CLOUD_BASE_URL", c.CloudBaseURL)
	c.CloudAPIKey = getEnv("OPENAI_API_KEY", c.CloudAPIKey)
	c.CloudHealthAddr = getEnv("CLOUD_HEALTH_ADDR", c.CloudHealthAddr)

	c.RedisAddr = getEnv("REDIS_HOST", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)

	c.MaxSuggestions = getEnvInt("MAX_SUGGESTIONS", c.MaxSuggestions)
	c.FocusMinSize = getEnvInt("FOCUS_MIN_SIZE", c.FocusMinSize)
	c.DeviceRequestTimeout = getEnvDuration("DEVICE_REQUEST_TIMEOUT", c.DeviceRequestTimeout)
	c.DownloadClearAfter = getEnvDuration("DOWNLOAD_CLEAR_AFTER", c.DownloadClearAfter)
	c.ChatRateLimit = getEnvInt("CHAT_RATE_LIMIT", c.ChatRateLimit)

	c.Retention = getEnvDuration("MESSAGE_RETENTION", c.Retention)
	c.RetentionSchedule = getEnv("RETENTION_SCHEDULE", c.RetentionSchedule)
	c.CatalogRefreshSchedule = getEnv("CATALOG_REFRESH_SCHEDULE", c.CatalogRefreshSchedule)

	c.ConversationLog.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", c.ConversationLog.Enabled)
	c.ConversationLog.Dir = getEnv("CONVERSATION_LOG_DIR", c.ConversationLog.Dir)
	c.ConversationLog.GlobalEnabled = getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", c.ConversationLog.GlobalEnabled)
	c.ConversationLog.GlobalPath = getEnv("CONVERSATION_LOG_GLOBAL_PATH", c.ConversationLog.GlobalPath)
	c.ConversationLog.QueueSize = getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", c.ConversationLog.QueueSize)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []string
	if c.Port == "" {
		errs = append(errs, "PORT cannot be empty")
	}
	if c.DBPath == "" {
		errs = append(errs, "DB_PATH cannot be empty")
	}
	if c.CatalogPath == "" {
		errs = append(errs, "CATALOG_PATH cannot be empty")
	}
	if c.MaxSuggestions <= 0 {
		errs = append(errs, "MAX_SUGGESTIONS must be > 0")
	}
	if c.FocusMinSize <= 0 {
		errs = append(errs, "FOCUS_MIN_SIZE must be > 0")
	}
	if c.DeviceRequestTimeout <= 0 {
		errs = append(errs, "DEVICE_REQUEST_TIMEOUT must be > 0")
	}
	if c.ChatRateLimit <= 0 {
		errs = append(errs, "CHAT_RATE_LIMIT must be > 0")
	}
	if c.Retention < 0 {
		errs = append(errs, "MESSAGE_RETENTION cannot be negative")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		errs = append(errs, "CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		errs = append(errs, "CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		errs = append(errs, "CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
