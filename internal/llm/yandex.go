package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/chat-analyzer-bot/internal/models"
)

type yandexMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type yandexCompletionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float32 `json:"temperature"`
	MaxTokens   string  `json:"maxTokens"`
}

type yandexRequest struct {
	ModelURI          string                  `json:"modelUri"`
	CompletionOptions yandexCompletionOptions `json:"completionOptions"`
	Messages          []yandexMessage         `json:"messages"`
}

type yandexResponse struct {
	Result *struct {
		Alternatives []struct {
			Message yandexMessage `json:"message"`
			Status  string        `json:"status"`
		} `json:"alternatives"`
		Usage *struct {
			InputTextTokens  string `json:"inputTextTokens"`
			CompletionTokens string `json:"completionTokens"`
		} `json:"usage"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// YandexCompleter runs completions against the YandexGPT foundation models API
type YandexCompleter struct {
	apiURL     string
	apiKey     string
	folderID   string
	options    Options
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewYandexCompleter creates a YandexGPT completer; httpClient may be nil
func NewYandexCompleter(apiURL, apiKey, folderID string, options Options, httpClient *http.Client, logger zerolog.Logger) *YandexCompleter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: options.Timeout}
	}
	if options.Model == "" {
		options.Model = "yandexgpt-lite"
	}
	return &YandexCompleter{
		apiURL:     apiURL,
		apiKey:     apiKey,
		folderID:   folderID,
		options:    options,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "llm").Str("provider", "yandex").Logger(),
	}
}

// Name returns the provider name
func (c *YandexCompleter) Name() string {
	return "yandex"
}

// Complete posts a synchronous completion request
func (c *YandexCompleter) Complete(ctx context.Context, systemPrompt, userContent string) (*Completion, error) {
	startTime := time.Now()

	reqBody := yandexRequest{
		ModelURI: fmt.Sprintf("gpt://%s/%s", c.folderID, c.options.Model),
		CompletionOptions: yandexCompletionOptions{
			Stream:      false,
			Temperature: c.options.Temperature,
			MaxTokens:   strconv.Itoa(c.options.MaxTokens),
		},
		Messages: []yandexMessage{
			{Role: "system", Text: systemPrompt},
			{Role: "user", Text: userContent},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &models.AnalysisServiceError{Provider: c.Name(), Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, &models.AnalysisServiceError{Provider: c.Name(), Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.AnalysisServiceError{Provider: c.Name(), Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.AnalysisServiceError{Provider: c.Name(), Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &models.AnalysisServiceError{
			Provider: c.Name(),
			Err:      fmt.Errorf("api returned status %d: %s", resp.StatusCode, truncateBody(body, 500)),
		}
	}

	var parsed yandexResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &models.AnalysisServiceError{Provider: c.Name(), Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if parsed.Result == nil || len(parsed.Result.Alternatives) == 0 {
		msg := "no alternatives in response"
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, &models.AnalysisServiceError{Provider: c.Name(), Err: fmt.Errorf("%s", msg)}
	}

	completion := &Completion{Text: parsed.Result.Alternatives[0].Message.Text}
	if usage := parsed.Result.Usage; usage != nil {
		completion.TokensInput = parseTokenCount(usage.InputTextTokens)
		completion.TokensOutput = parseTokenCount(usage.CompletionTokens)
	}

	c.logger.Info().
		Str("model", c.options.Model).
		Int("response_length", len([]rune(completion.Text))).
		Dur("duration", time.Since(startTime)).
		Msg("LLM response generated successfully")

	return completion, nil
}

// parseTokenCount converts the API's string counters, nil when absent
func parseTokenCount(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func truncateBody(body []byte, max int) string {
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
