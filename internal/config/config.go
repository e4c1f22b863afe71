package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Result store backends
const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
)

// Completion providers
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderYandex = "yandex"
)

// Config represents service configuration
type Config struct {
	// Telegram settings
	TelegramToken   string        `env:"TELEGRAM_BOT_TOKEN"`
	DeliveryChatID  int64         `env:"DELIVERY_CHAT_ID"` // 0 sends each result back to its own chat
	TelegramTimeout time.Duration `env:"TELEGRAM_TIMEOUT" envDefault:"30s"`

	// Supabase settings
	SupabaseURL     string        `env:"SUPABASE_URL"`
	SupabaseKey     string        `env:"SUPABASE_KEY"`
	SupabaseTimeout time.Duration `env:"SUPABASE_TIMEOUT" envDefault:"10s"`

	// Result store settings
	ResultsBackend   string `env:"RESULTS_BACKEND" envDefault:"supabase"`
	DatabaseURL      string `env:"DATABASE_URL"`
	ResultsChatIndex bool   `env:"RESULTS_CHAT_INDEX" envDefault:"true"`

	// Completion settings
	LLMProvider    string        `env:"LLM_PROVIDER" envDefault:"openai"`
	LLMTimeout     time.Duration `env:"LLM_TIMEOUT" envDefault:"300s"`
	LLMMaxRetries  int           `env:"LLM_MAX_RETRIES" envDefault:"2"`
	LLMTemperature float32       `env:"LLM_TEMPERATURE" envDefault:"0.6"`
	LLMMaxTokens   int           `env:"LLM_MAX_TOKENS" envDefault:"2000"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`

	YandexAPIURL   string `env:"YANDEX_GPT_API_URL" envDefault:"https://llm.api.cloud.yandex.net/foundationModels/v1/completion"`
	YandexAPIKey   string `env:"YANDEX_API_KEY"`
	YandexFolderID string `env:"YANDEX_FOLDER_ID"`
	YandexModel    string `env:"YANDEX_MODEL" envDefault:"yandexgpt-lite"`

	// Scheduler settings
	Timezone         string `env:"TIMEZONE" envDefault:"Asia/Novosibirsk"`
	SchedulerWorkers int    `env:"SCHEDULER_WORKERS" envDefault:"10"`

	// Job ledger settings (optional, in-memory when empty)
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// App settings
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"production"`
}

// Load loads configuration from environment variables
// It first attempts to load from .env file, then reads environment variables
func Load() (*Config, error) {
	// Try to load .env file (optional, ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if all required configuration values are set
func validate(cfg *Config) error {
	if cfg.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseKey == "" {
		return fmt.Errorf("SUPABASE_KEY is required")
	}

	switch cfg.ResultsBackend {
	case BackendSupabase:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when RESULTS_BACKEND=%s", BackendPostgres)
		}
	default:
		return fmt.Errorf("RESULTS_BACKEND must be one of: supabase, postgres; got %s", cfg.ResultsBackend)
	}

	switch cfg.LLMProvider {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required")
		}
	case ProviderYandex:
		if cfg.YandexAPIKey == "" || cfg.YandexFolderID == "" {
			return fmt.Errorf("YANDEX_API_KEY and YANDEX_FOLDER_ID are required")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of: openai, gemini, yandex; got %s", cfg.LLMProvider)
	}

	// Validate positive values
	if cfg.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive, got %s", cfg.LLMTimeout)
	}
	if cfg.LLMMaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must not be negative, got %d", cfg.LLMMaxRetries)
	}
	if cfg.LLMMaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be positive, got %d", cfg.LLMMaxTokens)
	}
	if cfg.SupabaseTimeout <= 0 {
		return fmt.Errorf("SUPABASE_TIMEOUT must be positive, got %s", cfg.SupabaseTimeout)
	}
	if cfg.TelegramTimeout <= 0 {
		return fmt.Errorf("TELEGRAM_TIMEOUT must be positive, got %s", cfg.TelegramTimeout)
	}
	if cfg.SchedulerWorkers <= 0 {
		return fmt.Errorf("SCHEDULER_WORKERS must be positive, got %d", cfg.SchedulerWorkers)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error; got %s", cfg.LogLevel)
	}

	return nil
}
