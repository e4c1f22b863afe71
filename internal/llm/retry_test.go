package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/chat-analyzer-bot/internal/models"
)

type scriptedCompleter struct {
	errs  []error
	calls int
}

func (s *scriptedCompleter) Name() string { return "scripted" }

func (s *scriptedCompleter) Complete(ctx context.Context, systemPrompt, userContent string) (*Completion, error) {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return nil, s.errs[s.calls-1]
	}
	return &Completion{Text: "done"}, nil
}

func TestRetryingRecovers(t *testing.T) {
	next := &scriptedCompleter{errs: []error{errors.New("timeout"), errors.New("502")}}
	r := NewRetrying(next, 2, time.Millisecond, zerolog.Nop())

	completion, err := r.Complete(context.Background(), "p", "c")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if completion.Text != "done" || next.calls != 3 {
		t.Errorf("text=%q calls=%d, want done/3", completion.Text, next.calls)
	}
}

func TestRetryingGivesUp(t *testing.T) {
	cause := errors.New("boom")
	next := &scriptedCompleter{errs: []error{cause, cause, cause}}
	r := NewRetrying(next, 1, time.Millisecond, zerolog.Nop())

	_, err := r.Complete(context.Background(), "p", "c")
	if !errors.Is(err, models.ErrAnalysisService) {
		t.Fatalf("error = %v, want ErrAnalysisService", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error = %v should wrap cause", err)
	}
	if next.calls != 2 {
		t.Errorf("calls = %d, want 2", next.calls)
	}
}

func TestRetryingStopsOnCancelledContext(t *testing.T) {
	next := &scriptedCompleter{errs: []error{errors.New("fail"), errors.New("fail")}}
	r := NewRetrying(next, 5, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Complete(ctx, "p", "c")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if next.calls != 1 {
		t.Errorf("calls = %d, want 1", next.calls)
	}
}

type fakeChatClient struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestOpenAICompleter(t *testing.T) {
	fake := &fakeChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "report"}}},
		Usage:   openai.Usage{PromptTokens: 300, CompletionTokens: 40},
	}}
	c := NewOpenAICompleter("sk", "", Options{Model: "gpt-4o", MaxTokens: 100}, zerolog.Nop())
	c.client = fake

	completion, err := c.Complete(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if completion.Text != "report" || *completion.TokensInput != 300 || *completion.TokensOutput != 40 {
		t.Errorf("unexpected completion %+v", completion)
	}
	if fake.req.MaxTokens != 100 || fake.req.MaxCompletionTokens != 0 {
		t.Errorf("token limits = %d/%d", fake.req.MaxTokens, fake.req.MaxCompletionTokens)
	}
	if fake.req.Messages[0].Role != openai.ChatMessageRoleSystem || fake.req.Messages[0].Content != "system" {
		t.Errorf("first message = %+v", fake.req.Messages[0])
	}

	c.options.Model = "o3-mini"
	if _, err := c.Complete(context.Background(), "system", "user"); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if fake.req.MaxCompletionTokens != 100 || fake.req.MaxTokens != 0 {
		t.Errorf("reasoning model token limits = %d/%d", fake.req.MaxTokens, fake.req.MaxCompletionTokens)
	}
}

func TestOpenAICompleterErrors(t *testing.T) {
	c := NewOpenAICompleter("sk", "", Options{}, zerolog.Nop())

	c.client = &fakeChatClient{err: errors.New("401")}
	if _, err := c.Complete(context.Background(), "s", "u"); !errors.Is(err, models.ErrAnalysisService) {
		t.Errorf("error = %v, want ErrAnalysisService", err)
	}

	c.client = &fakeChatClient{}
	if _, err := c.Complete(context.Background(), "s", "u"); !errors.Is(err, models.ErrAnalysisService) {
		t.Errorf("empty choices error = %v, want ErrAnalysisService", err)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(Settings{Provider: "llama"}, zerolog.Nop()); err == nil {
		t.Error("expected error for unknown provider")
	}
	c, err := New(Settings{Provider: "yandex", YandexAPIURL: "http://localhost"}, zerolog.Nop())
	if err != nil || c.Name() != "yandex" {
		t.Errorf("New(yandex) = %v, %v", c, err)
	}
}
