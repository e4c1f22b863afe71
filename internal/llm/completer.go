package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Completer is a text-completion provider
type Completer interface {
	// Complete sends a system prompt and user content and returns the model answer
	Complete(ctx context.Context, systemPrompt, userContent string) (*Completion, error)
	// Name identifies the provider in logs and errors
	Name() string
}

// Completion is a provider answer; token counts are nil when the provider does not report them
type Completion struct {
	Text         string
	TokensInput  *int
	TokensOutput *int
}

// Options are shared generation parameters
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Settings selects and configures a provider
type Settings struct {
	Provider string
	Options  Options

	OpenAIAPIKey  string
	OpenAIBaseURL string

	GeminiAPIKey string

	YandexAPIURL   string
	YandexAPIKey   string
	YandexFolderID string
}

// New builds the configured provider
func New(settings Settings, logger zerolog.Logger) (Completer, error) {
	switch settings.Provider {
	case "openai":
		return NewOpenAICompleter(settings.OpenAIAPIKey, settings.OpenAIBaseURL, settings.Options, logger), nil
	case "gemini":
		return NewGeminiCompleter(settings.GeminiAPIKey, settings.Options, logger), nil
	case "yandex":
		return NewYandexCompleter(settings.YandexAPIURL, settings.YandexAPIKey, settings.YandexFolderID, settings.Options, nil, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", settings.Provider)
	}
}

func intPtr(v int) *int {
	return &v
}
