package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderGemini    = "gemini"
	ProviderSynthetic = "synthetic"
)

type Config struct {
	HTTPPort int    `yaml:"http_port"`
	AppEnv   string `yaml:"app_env"`
	LogLevel string `yaml:"log_level"`

	DataDir   string `yaml:"data_dir"`
	ExportDir string `yaml:"export_dir"`

	Provider         string `yaml:"provider"`
	GeminiAPIKey     string `yaml:"gemini_api_key"`
	GeminiImageModel string `yaml:"gemini_image_model"`
	GeminiEditModel  string `yaml:"gemini_edit_model"`

	ProcessInterval           time.Duration `yaml:"process_interval"`
	ProviderRequestsPerMinute int           `yaml:"provider_requests_per_minute"`
	UpscaleCacheTTL           time.Duration `yaml:"upscale_cache_ttl"`
}

// Load reads configuration from the environment (plus an optional .env file),
// then overlays the YAML file named by STUDIO_CONFIG if one is set.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:                  getEnvInt("HTTP_PORT", 8000),
		AppEnv:                    getEnv("APP_ENV", "production"),
		LogLevel:                  getEnv("LOG_LEVEL", "info"),
		DataDir:                   getEnv("DATA_DIR", "./data"),
		ExportDir:                 getEnv("EXPORT_DIR", "./exports"),
		Provider:                  getEnv("PROVIDER", ""),
		GeminiAPIKey:              strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiImageModel:          getEnv("GEMINI_IMAGE_MODEL", "imagen-3.0-generate-002"),
		GeminiEditModel:           getEnv("GEMINI_EDIT_MODEL", "gemini-2.5-flash-image"),
		ProcessInterval:           time.Duration(getEnvInt("PROCESS_INTERVAL_SECONDS", 1)) * time.Second,
		ProviderRequestsPerMinute: getEnvInt("PROVIDER_REQUESTS_PER_MINUTE", 10),
		UpscaleCacheTTL:           time.Duration(getEnvInt("UPSCALE_CACHE_TTL_SECONDS", 600)) * time.Second,
	}

	if path := os.Getenv("STUDIO_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if cfg.Provider == "" {
		cfg.Provider = ProviderGemini
		if cfg.GeminiAPIKey == "" {
			cfg.Provider = ProviderSynthetic
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays non-zero values from a YAML file onto cfg.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTPPort)
	}
	if c.ProcessInterval <= 0 {
		return fmt.Errorf("process interval must be positive, got %s", c.ProcessInterval)
	}
	if c.ProviderRequestsPerMinute < 0 {
		return fmt.Errorf("provider requests per minute must not be negative, got %d", c.ProviderRequestsPerMinute)
	}
	switch c.Provider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the %s provider", ProviderGemini)
		}
	case ProviderSynthetic:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
