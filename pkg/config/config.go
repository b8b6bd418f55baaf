// Package config loads proxy settings from the environment and an optional
// dotenv file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the proxy reads at startup.
type Config struct {
	APIKey        string `mapstructure:"api_key" yaml:"api_key"`
	ModelProvider string `mapstructure:"model_provider" yaml:"model_provider"`
	ModelAPIKey   string `mapstructure:"model_api_key" yaml:"model_api_key"`
	ModelName     string `mapstructure:"model_name" yaml:"model_name,omitempty"`
	ModelBaseURL  string `mapstructure:"model_base_url" yaml:"model_base_url,omitempty"`
	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	Environment   string `mapstructure:"environment" yaml:"environment"`
	Host          string `mapstructure:"host" yaml:"host"`
	Port          int    `mapstructure:"port" yaml:"port"`
	MetricsPort   int    `mapstructure:"metrics_port" yaml:"metrics_port"`
	GRPCPort      int    `mapstructure:"grpc_port" yaml:"grpc_port"`
	RateLimit     int    `mapstructure:"rate_limit_requests" yaml:"rate_limit_requests"`
	MaxMessageLen int    `mapstructure:"max_message_length" yaml:"max_message_length"`
	MaxHistoryLen int    `mapstructure:"max_history_length" yaml:"max_history_length"`
	MaxRetries    int    `mapstructure:"max_retries" yaml:"max_retries"`

	AllowedOrigins []string      `mapstructure:"-" yaml:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"-" yaml:"request_timeout"`
}

var defaults = map[string]any{
	"api_key":             "test-api-key",
	"model_provider":      "gemini",
	"model_api_key":       "test-model-key",
	"model_name":          "",
	"model_base_url":      "",
	"allowed_origins":     "*",
	"log_level":           "INFO",
	"log_format":          "text",
	"environment":         "production",
	"host":                "0.0.0.0",
	"port":                8000,
	"metrics_port":        9090,
	"grpc_port":           50051,
	"rate_limit_requests": 100,
	"max_message_length":  10000,
	"max_history_length":  50,
	"max_retries":         3,
	"request_timeout":     "60s",
}

// Load reads configuration from envFile (dotenv format, skipped when empty
// or missing) and the process environment. Environment variables win.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", envFile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.AllowedOrigins = parseOrigins(v.GetString("allowed_origins"))

	timeout, err := parseTimeout(v.GetString("request_timeout"))
	if err != nil {
		return nil, fmt.Errorf("config: REQUEST_TIMEOUT: %w", err)
	}
	cfg.RequestTimeout = timeout

	cfg.ModelProvider = strings.ToLower(strings.TrimSpace(cfg.ModelProvider))
	return &cfg, nil
}

// Validate rejects settings the servers cannot start with.
func (c *Config) Validate() error {
	var errs []error
	for name, val := range map[string]int{
		"PORT":                c.Port,
		"METRICS_PORT":        c.MetricsPort,
		"GRPC_PORT":           c.GRPCPort,
		"MAX_MESSAGE_LENGTH":  c.MaxMessageLen,
		"MAX_HISTORY_LENGTH":  c.MaxHistoryLen,
		"RATE_LIMIT_REQUESTS": c.RateLimit,
	} {
		if val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, val))
		}
	}
	for name, val := range map[string]int{"PORT": c.Port, "METRICS_PORT": c.MetricsPort, "GRPC_PORT": c.GRPCPort} {
		if val > 65535 {
			errs = append(errs, fmt.Errorf("%s out of range: %d", name, val))
		}
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}
	if len(c.APIKeys()) == 0 {
		errs = append(errs, errors.New("API_KEY must not be empty"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if c.ModelProvider == "" {
		errs = append(errs, errors.New("MODEL_PROVIDER must not be empty"))
	}
	return errors.Join(errs...)
}

// APIKeys returns the accepted shared secrets.
func (c *Config) APIKeys() []string {
	return splitList(c.APIKey)
}

// IsDevelopment reports whether internal error details may be exposed.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Addr is the HTTP API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Masked returns a copy with secrets redacted, for display.
func (c *Config) Masked() Config {
	out := *c
	out.APIKey = mask(c.APIKey)
	out.ModelAPIKey = mask(c.ModelAPIKey)
	out.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return out
}

func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// parseOrigins accepts a JSON array or a comma-separated list. Empty input
// means any origin.
func parseOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{"*"}
	}
	if strings.HasPrefix(raw, "[") {
		var origins []string
		if err := json.Unmarshal([]byte(raw), &origins); err == nil {
			return origins
		}
	}
	origins := splitList(raw)
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// parseTimeout accepts a Go duration ("90s") or a bare number of seconds.
func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(raw)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
