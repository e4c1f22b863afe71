package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/chat-analyzer-bot/internal/models"
)

// chatCompletionClient is the part of the go-openai client we use
type chatCompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAICompleter runs completions against the OpenAI chat API (or a compatible endpoint)
type OpenAICompleter struct {
	client  chatCompletionClient
	options Options
	logger  zerolog.Logger
}

// NewOpenAICompleter creates an OpenAI completer; baseURL may be empty
func NewOpenAICompleter(apiKey, baseURL string, options Options, logger zerolog.Logger) *OpenAICompleter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if options.Model == "" {
		options.Model = openai.GPT4o
	}

	return &OpenAICompleter{
		client:  openai.NewClientWithConfig(cfg),
		options: options,
		logger:  logger.With().Str("component", "llm").Str("provider", "openai").Logger(),
	}
}

// Name returns the provider name
func (c *OpenAICompleter) Name() string {
	return "openai"
}

// Complete sends a system + user chat completion request
func (c *OpenAICompleter) Complete(ctx context.Context, systemPrompt, userContent string) (*Completion, error) {
	startTime := time.Now()

	if c.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.Timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:       c.options.Model,
		Temperature: c.options.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
	}
	// Reasoning models take MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(c.options.Model) {
		req.MaxCompletionTokens = c.options.MaxTokens
		req.Temperature = 0
	} else {
		req.MaxTokens = c.options.MaxTokens
	}

	c.logger.Debug().
		Str("model", c.options.Model).
		Int("content_length", len(userContent)).
		Msg("Sending request to LLM")

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, &models.AnalysisServiceError{Provider: c.Name(), Err: fmt.Errorf("failed to create chat completion: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return nil, &models.AnalysisServiceError{Provider: c.Name(), Err: fmt.Errorf("no choices in response")}
	}

	completion := &Completion{
		Text:         resp.Choices[0].Message.Content,
		TokensInput:  intPtr(resp.Usage.PromptTokens),
		TokensOutput: intPtr(resp.Usage.CompletionTokens),
	}

	c.logger.Info().
		Str("model", c.options.Model).
		Int("tokens_input", resp.Usage.PromptTokens).
		Int("tokens_output", resp.Usage.CompletionTokens).
		Dur("duration", time.Since(startTime)).
		Msg("LLM response generated successfully")

	return completion, nil
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}
