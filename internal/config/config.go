// Package config loads service configuration from the environment with an
// optional YAML overlay. Every knob has a documented default so the service
// runs with zero configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration.
type Config struct {
	// HTTP
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	APIPrefix      string        `yaml:"api_prefix"`
	APIKey         string        `yaml:"api_key"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`

	// Storage
	DatasetsPath  string `yaml:"datasets_path"`
	MaxFileSizeMB int64  `yaml:"max_file_size_mb"`

	// Analysis
	DefaultThresholds     []int `yaml:"default_thresholds"`
	LargeDatasetThreshold int   `yaml:"large_dataset_threshold"`

	// Rate limiting
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// Advisory layer
	UseLLM             bool          `yaml:"use_llm"`
	LLMProvider        string        `yaml:"llm_provider"`
	LLMModel           string        `yaml:"llm_model"`
	OpenAIAPIKey       string        `yaml:"-"`
	AnthropicAPIKey    string        `yaml:"-"`
	LLMTimeout         time.Duration `yaml:"llm_timeout"`
	LLMMaxCallsPerDataset int        `yaml:"llm_max_calls_per_dataset"`
	LLMTemperature     float32       `yaml:"llm_temperature"`
	LLMMaxTokens       int           `yaml:"llm_max_tokens"`
}

// Default returns the baseline configuration before env/file overrides.
func Default() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		APIPrefix:      "/api/v1",
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173", "http://localhost:8000"},
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,

		DatasetsPath:  "storage/datasets",
		MaxFileSizeMB: 25,

		DefaultThresholds:     []int{10, 20, 50},
		LargeDatasetThreshold: 10000,

		RateLimitPerMinute: 60,

		UseLLM:                true,
		LLMProvider:           "openai",
		LLMModel:              "gpt-4o-mini",
		LLMTimeout:            30 * time.Second,
		LLMMaxCallsPerDataset: 10,
		LLMTemperature:        0.3,
		LLMMaxTokens:          2000,
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONCENTRA_CONFIG, then environment variables (highest precedence).
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONCENTRA_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HTTP_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("DATASETS_PATH"); v != "" {
		cfg.DatasetsPath = v
	}
	if v := os.Getenv("MAX_FILE_SIZE_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxFileSizeMB = n
		}
	}
	if v := os.Getenv("DEFAULT_THRESHOLDS"); v != "" {
		if ts := parseThresholds(v); len(ts) > 0 {
			cfg.DefaultThresholds = ts
		}
	}
	if v := os.Getenv("LARGE_DATASET_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LargeDatasetThreshold = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("USE_LLM"); v != "" {
		cfg.UseLLM = parseBool(v, cfg.UseLLM)
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = strings.ToLower(v)
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.AnthropicAPIKey = v
	}
	if v := os.Getenv("LLM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LLMTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("LLM_MAX_CALLS_PER_DATASET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LLMMaxCallsPerDataset = n
		}
	}
}

func (c Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max_file_size_mb must be positive")
	}
	for _, t := range c.DefaultThresholds {
		if t < 1 || t > 100 {
			return fmt.Errorf("default threshold %d out of range [1,100]", t)
		}
	}
	return nil
}

// MaxFileSizeBytes returns the upload byte limit.
func (c Config) MaxFileSizeBytes() int64 { return c.MaxFileSizeMB << 20 }

// Addr returns the host:port the server binds to.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseThresholds(s string) []int {
	var out []int
	for _, p := range splitCSV(s) {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 100 {
			return nil
		}
		out = append(out, n)
	}
	return out
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
