package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_KEY", "service-key")
	t.Setenv("OPENAI_API_KEY", "sk-test")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Timezone != "Asia/Novosibirsk" {
		t.Errorf("Timezone = %q, want Asia/Novosibirsk", cfg.Timezone)
	}
	if cfg.SchedulerWorkers != 10 {
		t.Errorf("SchedulerWorkers = %d, want 10", cfg.SchedulerWorkers)
	}
	if cfg.LLMTimeout != 300*time.Second {
		t.Errorf("LLMTimeout = %s, want 5m", cfg.LLMTimeout)
	}
	if cfg.LLMProvider != ProviderOpenAI || cfg.OpenAIModel != "gpt-4o" {
		t.Errorf("provider/model = %s/%s, want openai/gpt-4o", cfg.LLMProvider, cfg.OpenAIModel)
	}
	if cfg.ResultsBackend != BackendSupabase || !cfg.ResultsChatIndex {
		t.Errorf("results backend = %s index=%v", cfg.ResultsBackend, cfg.ResultsChatIndex)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"postgres needs url", map[string]string{"RESULTS_BACKEND": "postgres"}, "DATABASE_URL"},
		{"unknown backend", map[string]string{"RESULTS_BACKEND": "sqlite"}, "RESULTS_BACKEND"},
		{"gemini needs key", map[string]string{"LLM_PROVIDER": "gemini"}, "GEMINI_API_KEY"},
		{"yandex needs folder", map[string]string{"LLM_PROVIDER": "yandex", "YANDEX_API_KEY": "k"}, "YANDEX_FOLDER_ID"},
		{"unknown provider", map[string]string{"LLM_PROVIDER": "llama"}, "LLM_PROVIDER"},
		{"workers", map[string]string{"SCHEDULER_WORKERS": "0"}, "SCHEDULER_WORKERS"},
		{"log level", map[string]string{"LOG_LEVEL": "trace"}, "LOG_LEVEL"},
		{"missing token", map[string]string{"TELEGRAM_BOT_TOKEN": ""}, "TELEGRAM_BOT_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadPostgresBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("RESULTS_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/analyzer")
	t.Setenv("LLM_TIMEOUT", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LLMTimeout != 2*time.Minute {
		t.Errorf("LLMTimeout = %s, want 2m", cfg.LLMTimeout)
	}
}
