package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the scenarist server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AI       AIConfig
	Jobs     JobsConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	LogLevel           slog.Level
	RateLimitPerMinute int
	// APIKeyHash is an optional bcrypt hash. When set, every /api/v1 route
	// except health requires a matching bearer token.
	APIKeyHash string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider          string
	HTTPTimeout       time.Duration
	RequestsPerMinute int
	OpenRouter        OpenRouterConfig
	Ollama            OllamaConfig
	VLLM              VLLMConfig
}

type OpenRouterConfig struct {
	APIKey        string
	BaseURL       string
	ChatModel     string
	VideoModel    string
	ScenarioModel string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// JobsConfig controls the job lifecycle.
type JobsConfig struct {
	Timeout         time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	ResumeOnStart   bool
	ResumeOlderThan time.Duration
}

// ClientConfig is read by the watcher CLI.
type ClientConfig struct {
	ServerURL    string
	APIKey       string
	PollInterval time.Duration
}

var validProviders = map[string]bool{
	"openrouter": true,
	"ollama":     true,
	"vllm":       true,
	"mock":       true,
}

const defaultModel = "google/gemini-2.5-flash"

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is applied first when present; variables
// already set in the environment take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("SCENARIST_PORT", 8080),
			Env:                envString("SCENARIST_ENV", "development"),
			LogLevel:           envLevel("LOG_LEVEL", slog.LevelInfo),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 120),
			APIKeyHash:         os.Getenv("API_KEY_HASH"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:          envString("AI_PROVIDER", "openrouter"),
			HTTPTimeout:       envDuration("AI_HTTP_TIMEOUT", 120*time.Second),
			RequestsPerMinute: envInt("AI_REQUESTS_PER_MINUTE", 0),
			OpenRouter: OpenRouterConfig{
				APIKey:        os.Getenv("OPENROUTER_API_KEY"),
				BaseURL:       envString("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
				ChatModel:     envString("OPENROUTER_MODEL_CHAT", defaultModel),
				VideoModel:    envString("OPENROUTER_MODEL_VIDEO", defaultModel),
				ScenarioModel: envString("OPENROUTER_MODEL_SCENARIO", defaultModel),
			},
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000/v1"),
				APIKey:  os.Getenv("VLLM_API_KEY"),
				Model:   os.Getenv("VLLM_MODEL"),
			},
		},
		Jobs: JobsConfig{
			Timeout:         envDuration("JOB_TIMEOUT", 5*time.Minute),
			MaxRetries:      envInt("JOBS_MAX_RETRIES", 3),
			BackoffBase:     envDuration("JOBS_BACKOFF_BASE", time.Second),
			BackoffMax:      envDuration("JOBS_BACKOFF_MAX", 30*time.Second),
			ResumeOnStart:   envBool("JOBS_RESUME_ON_START", false),
			ResumeOlderThan: envDuration("JOBS_RESUME_OLDER_THAN", time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadClient reads only the settings the watcher CLI needs.
func LoadClient() (*ClientConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := &ClientConfig{
		ServerURL:    strings.TrimRight(envString("SCENARIST_SERVER_URL", "http://localhost:8080"), "/"),
		APIKey:       os.Getenv("SCENARIST_API_KEY"),
		PollInterval: envDuration("POLL_INTERVAL", 2*time.Second),
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of openrouter, ollama, vllm, mock; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}
	if c.AI.Provider == "openrouter" && c.AI.OpenRouter.APIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is required when AI_PROVIDER is openrouter")
	}
	if !strings.HasPrefix(c.AI.OpenRouter.BaseURL, "http://") && !strings.HasPrefix(c.AI.OpenRouter.BaseURL, "https://") {
		return fmt.Errorf("OPENROUTER_BASE_URL must start with http:// or https://, got %q", c.AI.OpenRouter.BaseURL)
	}

	if c.Jobs.Timeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT must be positive, got %s", c.Jobs.Timeout)
	}
	if c.Jobs.MaxRetries < 0 {
		return fmt.Errorf("JOBS_MAX_RETRIES must not be negative, got %d", c.Jobs.MaxRetries)
	}
	if c.Jobs.BackoffBase <= 0 || c.Jobs.BackoffMax < c.Jobs.BackoffBase {
		return fmt.Errorf("JOBS_BACKOFF_BASE must be positive and not exceed JOBS_BACKOFF_MAX")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return lvl
}
