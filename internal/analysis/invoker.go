// Package analysis runs one LLM analysis over a chat's messages for a 24h window.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chat-analyzer-bot/internal/llm"
	"github.com/chat-analyzer-bot/internal/metrics"
	"github.com/chat-analyzer-bot/internal/models"
	"github.com/chat-analyzer-bot/internal/window"
)

// filterTimeLayout matches the ISO form stored in existing filters blobs
const filterTimeLayout = "2006-01-02T15:04:05.999999-07:00"

// ChatRegistry looks up chat configuration
type ChatRegistry interface {
	ListChats(ctx context.Context) ([]models.Chat, error)
	GetChat(ctx context.Context, chatID int64) (*models.Chat, error)
}

// MessageStore returns a chat's messages in [start, end)
type MessageStore interface {
	QueryMessages(ctx context.Context, chatID int64, start, end time.Time) ([]models.Message, error)
}

// PromptLookup resolves prompts by id
type PromptLookup interface {
	GetPrompt(ctx context.Context, promptID int64) (*models.Prompt, error)
}

// Directory resolves display names; an empty name means unknown
type Directory interface {
	UserDisplayName(ctx context.Context, userID int64) (string, error)
	ChatDisplayName(ctx context.Context, chatID int64) (string, error)
}

// Invoker runs analyses
type Invoker struct {
	chats     ChatRegistry
	messages  MessageStore
	prompts   PromptLookup
	directory Directory
	completer llm.Completer
	loc       *time.Location
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewInvoker creates an invoker that computes windows in loc
func NewInvoker(
	chats ChatRegistry,
	messages MessageStore,
	prompts PromptLookup,
	directory Directory,
	completer llm.Completer,
	loc *time.Location,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Invoker {
	return &Invoker{
		chats:     chats,
		messages:  messages,
		prompts:   prompts,
		directory: directory,
		completer: completer,
		loc:       loc,
		now:       time.Now,
		metrics:   m,
		logger:    logger.With().Str("component", "analysis").Logger(),
	}
}

// record is one message as presented to the model
type record struct {
	User      *string `json:"user"`
	Chat      *string `json:"chat"`
	Timestamp string  `json:"timestamp"`
	Text      string  `json:"text"`
}

// Analyze analyzes the 24h window ending at tod on today's local date
// An empty window yields an outcome with nil Text and zero tokens
func (i *Invoker) Analyze(ctx context.Context, chatID int64, tod models.TimeOfDay) (*models.AnalysisOutcome, error) {
	started := time.Now()

	outcome, err := i.analyze(ctx, chatID, tod)
	switch {
	case err != nil:
		i.metrics.RecordAnalysis("error", time.Since(started), nil, nil)
	case !outcome.HasText():
		i.metrics.RecordAnalysis("empty", time.Since(started), nil, nil)
	default:
		i.metrics.RecordAnalysis("ok", time.Since(started), outcome.TokensInput, outcome.TokensOutput)
	}
	return outcome, err
}

func (i *Invoker) analyze(ctx context.Context, chatID int64, tod models.TimeOfDay) (*models.AnalysisOutcome, error) {
	logger := i.logger.With().Int64("chat_id", chatID).Logger()
	logger.Info().Str("analysis_time", tod.String()).Msg("Starting analysis")

	chat, err := i.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat %d: %w", chatID, err)
	}
	if chat == nil {
		return nil, fmt.Errorf("%w: %d", models.ErrChatNotFound, chatID)
	}

	w := window.ForTimeOfDay(i.now(), tod, i.loc)
	logger.Info().
		Time("start", w.Start).
		Time("end", w.End).
		Msg("Analysis window computed")

	messages, err := i.messages.QueryMessages(ctx, chatID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	outcome := &models.AnalysisOutcome{
		ChatID: chatID,
		Filters: models.Filters{
			ChatID:    models.NewFilterChatID(chatID),
			StartDate: w.Start.Format(filterTimeLayout),
			EndDate:   w.End.Format(filterTimeLayout),
		},
	}
	if chat.DefaultPromptID != nil {
		outcome.PromptID = *chat.DefaultPromptID
	}

	if len(messages) == 0 {
		logger.Warn().Msg("No messages to analyze in window")
		zero := 0
		outcome.TokensInput = &zero
		outcome.TokensOutput = &zero
		return outcome, nil
	}

	logger.Info().Int("message_count", len(messages)).Msg("Messages found for analysis")

	if chat.DefaultPromptID == nil {
		return nil, fmt.Errorf("%w: chat %d has no default prompt", models.ErrPromptNotFound, chatID)
	}
	prompt, err := i.prompts.GetPrompt(ctx, *chat.DefaultPromptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get prompt %d: %w", *chat.DefaultPromptID, err)
	}
	if prompt == nil || prompt.Text == "" {
		return nil, fmt.Errorf("%w: %d", models.ErrPromptNotFound, *chat.DefaultPromptID)
	}

	payload, err := i.buildPayload(ctx, messages)
	if err != nil {
		return nil, err
	}

	completion, err := i.completer.Complete(ctx, prompt.Text, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze chat %d: %w", chatID, err)
	}

	text := completion.Text
	outcome.Text = &text
	outcome.TokensInput = completion.TokensInput
	outcome.TokensOutput = completion.TokensOutput

	logger.Info().
		Int("result_length", len(text)).
		Msg("Analysis completed")

	return outcome, nil
}

// buildPayload serializes messages with text into the model's user content
func (i *Invoker) buildPayload(ctx context.Context, messages []models.Message) (string, error) {
	names := newNameCache(i.directory)
	records := make([]record, 0, len(messages))

	for _, msg := range messages {
		if msg.Text == "" {
			continue
		}

		user, err := names.user(ctx, msg.UserID)
		if err != nil {
			return "", err
		}
		chat, err := names.chat(ctx, msg.ChatID)
		if err != nil {
			return "", err
		}

		records = append(records, record{
			User:      user,
			Chat:      chat,
			Timestamp: msg.Timestamp.UTC().Format(time.RFC3339),
			Text:      msg.Text,
		})
	}

	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("failed to encode messages: %w", err)
	}
	return string(data), nil
}

// nameCache memoizes directory lookups for one invocation
type nameCache struct {
	directory Directory
	users     map[int64]*string
	chats     map[int64]*string
}

func newNameCache(directory Directory) *nameCache {
	return &nameCache{
		directory: directory,
		users:     make(map[int64]*string),
		chats:     make(map[int64]*string),
	}
}

func (c *nameCache) user(ctx context.Context, userID int64) (*string, error) {
	if name, ok := c.users[userID]; ok {
		return name, nil
	}
	name, err := c.directory.UserDisplayName(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user %d: %w", userID, err)
	}
	c.users[userID] = optional(name)
	return c.users[userID], nil
}

func (c *nameCache) chat(ctx context.Context, chatID int64) (*string, error) {
	if name, ok := c.chats[chatID]; ok {
		return name, nil
	}
	name, err := c.directory.ChatDisplayName(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chat %d: %w", chatID, err)
	}
	c.chats[chatID] = optional(name)
	return c.chats[chatID], nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
