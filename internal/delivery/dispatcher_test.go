package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

type chatNames map[int64]string

func (c chatNames) ChatDisplayName(ctx context.Context, chatID int64) (string, error) {
	return c[chatID], nil
}

func TestDeliverToConfiguredDestination(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, chatNames{42: "Team"}, 1000, nil, zerolog.Nop())

	if err := d.Deliver(context.Background(), 42, "all good"); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	if sender.sent[0].chatID != 1000 || sender.sent[0].text != "Analysis result for chat Team:\n\nall good" {
		t.Errorf("sent = %+v", sender.sent[0])
	}
}

func TestDeliverFallsBackToAnalyzedChat(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, chatNames{}, 0, nil, zerolog.Nop())

	if err := d.Deliver(context.Background(), 42, "text"); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if sender.sent[0].chatID != 42 || !strings.HasPrefix(sender.sent[0].text, "Analysis result for chat 42:") {
		t.Errorf("sent = %+v", sender.sent[0])
	}
}

func TestDeliverFailureIsSingleAttempt(t *testing.T) {
	sender := &fakeSender{err: errors.New("403 forbidden")}
	d := NewDispatcher(sender, chatNames{42: "Team"}, 1000, nil, zerolog.Nop())

	if err := d.Deliver(context.Background(), 42, "text"); err == nil {
		t.Error("expected error")
	}
}

func TestSplitMessage(t *testing.T) {
	if parts := SplitMessage("short", 10); len(parts) != 1 || parts[0] != "short" {
		t.Errorf("short = %q", parts)
	}

	long := strings.Repeat("я", 9000)
	parts := SplitMessage(long, MaxMessageLength)
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	total := 0
	for _, p := range parts {
		n := utf8.RuneCountInString(p)
		if n > MaxMessageLength {
			t.Errorf("part of %d characters exceeds limit", n)
		}
		total += n
	}
	if total != 9000 {
		t.Errorf("characters lost: %d", total)
	}

	lines := strings.Repeat("line of text\n", 10)
	parts = SplitMessage(lines, 30)
	for _, p := range parts {
		if strings.HasPrefix(p, "ine") || strings.HasSuffix(p, "\n") {
			t.Errorf("part not split at a line break: %q", p)
		}
	}
}

func TestTelegramSender(t *testing.T) {
	var sentChat, sentText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		values, _ := url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Analyzer","username":"analyzer_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			sentChat, sentText = values.Get("chat_id"), values.Get("text")
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":1000,"type":"group"}}}`)
		default:
			fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	}))
	defer server.Close()

	sender, err := newTelegramSender("token", server.URL+"/bot%s/%s", 5*time.Second, false, zerolog.Nop())
	if err != nil {
		t.Fatalf("newTelegramSender error: %v", err)
	}
	if sender.Username() != "analyzer_bot" {
		t.Errorf("username = %q", sender.Username())
	}

	if err := sender.Send(context.Background(), 1000, "hello"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if sentChat != "1000" || sentText != "hello" {
		t.Errorf("sent chat=%q text=%q", sentChat, sentText)
	}
}
