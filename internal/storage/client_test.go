package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chat-analyzer-bot/internal/models"
)

// restStub answers PostgREST requests per table and records their query strings
type restStub struct {
	mu       sync.Mutex
	queries  map[string][]url.Values
	inserted int
	delay    time.Duration
	bodies   map[string]string
	status   map[string]int
	total    string
}

func newRestStub() *restStub {
	return &restStub{
		queries: map[string][]url.Values{},
		bodies:  map[string]string{},
		status:  map[string]int{},
	}
}

func (s *restStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Path[len("/rest/v1/"):]

	s.mu.Lock()
	s.queries[table] = append(s.queries[table], r.URL.Query())
	body, status, delay, total := s.bodies[table], s.status[table], s.delay, s.total
	s.mu.Unlock()

	if r.Method == http.MethodPost {
		time.Sleep(delay)
		s.mu.Lock()
		s.inserted++
		s.mu.Unlock()
	}

	w.Header().Set("Content-Type", "application/json")
	if total != "" {
		w.Header().Set("Content-Range", "*/"+total)
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	if status != 0 && r.URL.Query().Get("offset") != "" {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"code":"PGRST103","message":"Requested range not satisfiable","details":null,"hint":null}`))
		return
	}
	if body == "" {
		body = "[]"
	}
	_, _ = w.Write([]byte(body))
}

func (s *restStub) lastQuery(table string) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queries[table]
	if len(q) == 0 {
		return nil
	}
	return q[len(q)-1]
}

func (s *restStub) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserted
}

func resultForInsert() models.AnalysisResult {
	tokens := 120
	return models.AnalysisResult{
		PromptID:    1,
		ResultText:  "report",
		Filters:     `{"chat_id": "42"}`,
		TokensInput: &tokens,
	}
}

func newStubClient(t *testing.T, stub *restStub, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "service-key", timeout, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return c
}

var (
	windowStart = time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2024, 5, 2, 2, 0, 0, 0, time.UTC)
	bothBounds  = `(and(timestamp.gte."2024-05-01T02:00:00Z",timestamp.lt."2024-05-02T02:00:00Z"))`
)

func TestQueryMessagesSendsBothBounds(t *testing.T) {
	stub := newRestStub()
	stub.bodies["messages"] = `[{"id": 1, "chat_id": 42, "user_id": 5, "text": "hi", "timestamp": "2024-05-01T03:00:00Z"}]`
	c := newStubClient(t, stub, time.Second)

	messages, err := c.QueryMessages(context.Background(), 42, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("QueryMessages error: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}

	q := stub.lastQuery("messages")
	if got := q.Get("or"); got != bothBounds {
		t.Errorf("or = %q, want %q", got, bothBounds)
	}
	if got := q.Get("chat_id"); got != "eq.42" {
		t.Errorf("chat_id = %q, want eq.42", got)
	}
	if q.Get("timestamp") != "" {
		t.Errorf("single-bound timestamp filter sent: %q", q.Get("timestamp"))
	}
}

func TestResultsBetweenSendsBothBounds(t *testing.T) {
	stub := newRestStub()
	c := newStubClient(t, stub, time.Second)

	if _, err := c.ResultsBetween(context.Background(), windowStart, windowEnd); err != nil {
		t.Fatalf("ResultsBetween error: %v", err)
	}
	if got := stub.lastQuery("analysis_results").Get("or"); got != bothBounds {
		t.Errorf("or = %q, want %q", got, bothBounds)
	}

	if _, err := c.ResultsForChatBetween(context.Background(), "42", windowStart, windowEnd); err != nil {
		t.Fatalf("ResultsForChatBetween error: %v", err)
	}
	q := stub.lastQuery("analysis_results")
	if q.Get("or") != bothBounds || q.Get("chat_id") != "eq.42" {
		t.Errorf("query = %v", q)
	}
}

func TestListChatsToleratesUnscheduledRows(t *testing.T) {
	stub := newRestStub()
	stub.bodies["chats"] = `[
		{"chat_id": 1, "chat_name": "Ops", "schedule_analysis": true, "analysis_time": "09:00:00", "send_time": "10:00:00", "default_prompt_id": 3},
		{"chat_id": 2, "chat_name": "Idle", "schedule_analysis": false, "analysis_time": null, "send_time": null, "default_prompt_id": null}
	]`
	c := newStubClient(t, stub, time.Second)

	chats, err := c.ListChats(context.Background())
	if err != nil {
		t.Fatalf("ListChats error: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("chats = %d, want 2", len(chats))
	}
	if chats[1].AnalysisTime != nil || chats[1].AnalysisDue(9) {
		t.Errorf("unscheduled chat decoded as %+v", chats[1])
	}
}

func TestInsertResultOutlivesDeadline(t *testing.T) {
	stub := newRestStub()
	stub.delay = 300 * time.Millisecond
	stub.bodies["analysis_results"] = `[{"analysis_id": 9, "prompt_id": 1, "result_text": "r", "filters": "{}", "timestamp": "2024-05-01T03:00:00Z"}]`
	c := newStubClient(t, stub, 100*time.Millisecond)

	id, err := c.InsertResult(context.Background(), resultForInsert())
	if err != nil {
		t.Fatalf("InsertResult error: %v", err)
	}
	if id != 9 || stub.insertCount() != 1 {
		t.Errorf("id=%d inserted=%d, want 9/1", id, stub.insertCount())
	}
}

func TestInsertResultOutcomeUnknown(t *testing.T) {
	stub := newRestStub()
	stub.delay = 300 * time.Millisecond
	c := newStubClient(t, stub, 50*time.Millisecond)
	c.writeGrace = 50 * time.Millisecond

	_, err := c.InsertResult(context.Background(), resultForInsert())
	if !errors.Is(err, ErrWriteOutcomeUnknown) {
		t.Errorf("error = %v, want ErrWriteOutcomeUnknown", err)
	}
}

func TestListResultsPastTheEnd(t *testing.T) {
	stub := newRestStub()
	stub.status["analysis_results"] = http.StatusRequestedRangeNotSatisfiable
	stub.total = "25"
	c := newStubClient(t, stub, time.Second)

	results, total, err := c.ListResults(context.Background(), 40, 10)
	if err != nil {
		t.Fatalf("ListResults error: %v", err)
	}
	if len(results) != 0 || total != 25 {
		t.Errorf("results=%d total=%d, want 0/25", len(results), total)
	}
}
