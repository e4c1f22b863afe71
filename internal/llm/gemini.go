package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/chat-analyzer-bot/internal/models"
)

// GeminiCompleter runs completions against Google Gemini
type GeminiCompleter struct {
	apiKey      string
	options     Options
	logger      zerolog.Logger
	genaiClient *genai.Client
	mu          sync.Mutex
}

// NewGeminiCompleter creates a Gemini completer; the SDK client is created on first use
func NewGeminiCompleter(apiKey string, options Options, logger zerolog.Logger) *GeminiCompleter {
	return &GeminiCompleter{
		apiKey:  apiKey,
		options: options,
		logger:  logger.With().Str("component", "llm").Str("provider", "gemini").Logger(),
	}
}

// Name returns the provider name
func (c *GeminiCompleter) Name() string {
	return "gemini"
}

// getClient returns or creates a genai client (thread-safe)
func (c *GeminiCompleter) getClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.genaiClient != nil {
		return c.genaiClient, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	c.genaiClient = client
	c.logger.Info().Msg("Gemini client created and cached")
	return c.genaiClient, nil
}

// Close closes the SDK client and releases resources
func (c *GeminiCompleter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.genaiClient != nil {
		err := c.genaiClient.Close()
		c.genaiClient = nil
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to close Gemini client")
			return err
		}
		c.logger.Info().Msg("Gemini client closed")
	}
	return nil
}

// Complete sends the system prompt as system instruction and the content as the user turn
func (c *GeminiCompleter) Complete(ctx context.Context, systemPrompt, userContent string) (*Completion, error) {
	startTime := time.Now()

	if c.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.Timeout)
		defer cancel()
	}

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, &models.AnalysisServiceError{Provider: c.Name(), Err: err}
	}

	model := client.GenerativeModel(c.options.Model)
	model.SetTemperature(c.options.Temperature)
	if c.options.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(c.options.MaxTokens))
	}
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}

	c.logger.Debug().
		Str("model", c.options.Model).
		Int("content_length", len(userContent)).
		Msg("Sending request to LLM")

	resp, err := model.GenerateContent(ctx, genai.Text(userContent))
	if err != nil {
		return nil, &models.AnalysisServiceError{Provider: c.Name(), Err: fmt.Errorf("failed to generate content: %w", err)}
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &models.AnalysisServiceError{Provider: c.Name(), Err: fmt.Errorf("no response candidates from LLM")}
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, &models.AnalysisServiceError{Provider: c.Name(), Err: fmt.Errorf("no content parts in response")}
	}

	// Extract text from all parts
	var responseText strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	completion := &Completion{Text: responseText.String()}
	if resp.UsageMetadata != nil {
		completion.TokensInput = intPtr(int(resp.UsageMetadata.PromptTokenCount))
		completion.TokensOutput = intPtr(int(resp.UsageMetadata.CandidatesTokenCount))
	}

	c.logger.Info().
		Str("model", c.options.Model).
		Int("response_length", len([]rune(completion.Text))).
		Dur("duration", time.Since(startTime)).
		Msg("LLM response generated successfully")

	return completion, nil
}
