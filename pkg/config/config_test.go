package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every key Load reads. Empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for k := range defaults {
		t.Setenv(strings.ToUpper(k), "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "test-api-key" || cfg.ModelProvider != "gemini" || cfg.ModelAPIKey != "test-model-key" {
		t.Errorf("unexpected credentials defaults: %+v", cfg)
	}
	if cfg.Port != 8000 || cfg.MetricsPort != 9090 || cfg.GRPCPort != 50051 {
		t.Errorf("unexpected port defaults: %d %d %d", cfg.Port, cfg.MetricsPort, cfg.GRPCPort)
	}
	if cfg.MaxMessageLen != 10000 || cfg.MaxHistoryLen != 50 || cfg.RateLimit != 100 || cfg.MaxRetries != 3 {
		t.Errorf("unexpected limits: %+v", cfg)
	}
	if cfg.RequestTimeout != 60*time.Second {
		t.Errorf("RequestTimeout = %s", cfg.RequestTimeout)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"*"}) {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.IsDevelopment() {
		t.Error("default environment must not be development")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_KEY", "one, two")
	t.Setenv("MODEL_PROVIDER", " OpenAI ")
	t.Setenv("PORT", "8080")
	t.Setenv("ALLOWED_ORIGINS", `["https://a.example","https://b.example"]`)
	t.Setenv("REQUEST_TIMEOUT", "15")
	t.Setenv("ENVIRONMENT", "Development")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.APIKeys(); !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Errorf("APIKeys() = %v", got)
	}
	if cfg.ModelProvider != "openai" {
		t.Errorf("ModelProvider = %q", cfg.ModelProvider)
	}
	if cfg.Port != 8080 || cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Port = %d, Addr = %q", cfg.Port, cfg.Addr())
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"https://a.example", "https://b.example"}) {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout = %s", cfg.RequestTimeout)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development environment")
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	content := "MODEL_API_KEY=from-file\nLOG_LEVEL=DEBUG\nALLOWED_ORIGINS=https://x.example,https://y.example\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_LEVEL", "ERROR")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ModelAPIKey != "from-file" {
		t.Errorf("ModelAPIKey = %q", cfg.ModelAPIKey)
	}
	if cfg.LogLevel != "ERROR" {
		t.Errorf("environment should win over the file, LogLevel = %q", cfg.LogLevel)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"https://x.example", "https://y.example"}) {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing env file must be ignored: %v", err)
	}
}

func TestLoad_BadTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("REQUEST_TIMEOUT", "soon")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unparseable timeout")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Config{
		APIKey:         " , ",
		ModelProvider:  "gemini",
		LogFormat:      "xml",
		Port:           0,
		MetricsPort:    70000,
		GRPCPort:       50051,
		RateLimit:      100,
		MaxMessageLen:  10,
		MaxHistoryLen:  -1,
		RequestTimeout: time.Second,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"PORT must be positive", "METRICS_PORT out of range", "MAX_HISTORY_LENGTH", "API_KEY", "LOG_FORMAT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %q", want, err.Error())
		}
	}
}

func TestMasked(t *testing.T) {
	t.Parallel()

	cfg := Config{APIKey: "supersecret", ModelAPIKey: "abc", AllowedOrigins: []string{"*"}}
	m := cfg.Masked()
	if m.APIKey != "su*******et" {
		t.Errorf("APIKey masked as %q", m.APIKey)
	}
	if m.ModelAPIKey != "***" {
		t.Errorf("ModelAPIKey masked as %q", m.ModelAPIKey)
	}
	if cfg.APIKey != "supersecret" {
		t.Error("Masked must not modify the receiver")
	}
}
