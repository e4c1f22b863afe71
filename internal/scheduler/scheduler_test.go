package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chat-analyzer-bot/internal/jobstore"
	"github.com/chat-analyzer-bot/internal/models"
)

type fakeChats struct {
	chats []models.Chat
	err   error
}

func (f *fakeChats) ListChats(ctx context.Context) ([]models.Chat, error) {
	return f.chats, f.err
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	calls    []int64
	outcomes map[int64]*models.AnalysisOutcome
	errs     map[int64]error
	panics   map[int64]bool
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, chatID int64, tod models.TimeOfDay) (*models.AnalysisOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, chatID)
	f.mu.Unlock()

	if f.panics[chatID] {
		panic("analyzer exploded")
	}
	if err := f.errs[chatID]; err != nil {
		return nil, err
	}
	return f.outcomes[chatID], nil
}

type fakeResults struct {
	mu     sync.Mutex
	saved  []*models.AnalysisOutcome
	latest map[int64]*models.AnalysisResult
}

func (f *fakeResults) SaveOutcome(ctx context.Context, outcome *models.AnalysisOutcome) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, outcome)
	return int64(len(f.saved)), nil
}

func (f *fakeResults) LatestForChat(ctx context.Context, chatID int64) (*models.AnalysisResult, error) {
	return f.latest[chatID], nil
}

type fakeDelivery struct {
	mu   sync.Mutex
	sent map[int64]string
	err  error
}

func (f *fakeDelivery) Deliver(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent[chatID] = text
	return nil
}

func strPtr(s string) *string { return &s }

func novosibirsk(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Novosibirsk")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func chat(id int64, scheduled bool, analysisHour, sendHour int) models.Chat {
	return models.Chat{
		ChatID:           id,
		ScheduleAnalysis: scheduled,
		AnalysisTime:     &models.TimeOfDay{Hour: analysisHour},
		SendTime:         &models.TimeOfDay{Hour: sendHour},
	}
}

func TestRunAnalysisTick(t *testing.T) {
	loc := novosibirsk(t)
	chats := &fakeChats{chats: []models.Chat{
		chat(1, true, 9, 10),
		chat(2, true, 9, 10),
		chat(3, true, 8, 10),
		chat(4, false, 9, 10),
		chat(5, true, 9, 10),
		chat(6, true, 9, 10),
		{ChatID: 7, ScheduleAnalysis: true},
	}}
	analyzer := &fakeAnalyzer{
		outcomes: map[int64]*models.AnalysisOutcome{
			1: {ChatID: 1, Text: strPtr("report")},
			2: {ChatID: 2},
			6: {ChatID: 6, Text: strPtr("another")},
		},
		errs:   map[int64]error{5: errors.New("completion timeout")},
		panics: map[int64]bool{6: false},
	}
	results := &fakeResults{}
	s := New(chats, analyzer, results, &fakeDelivery{sent: map[int64]string{}}, nil, loc, 2, nil, zerolog.Nop())

	// 02:00 UTC is 09:00 in Novosibirsk
	now := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	report, err := s.RunAnalysisTick(context.Background(), now)
	if err != nil {
		t.Fatalf("RunAnalysisTick error: %v", err)
	}

	if report.Hour != 9 || report.Chats != 4 {
		t.Errorf("hour=%d chats=%d, want 9/4", report.Hour, report.Chats)
	}
	if report.Succeeded != 2 || report.Skipped != 1 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(results.saved) != 2 {
		t.Errorf("saved %d outcomes, want 2 (empty outcome must not be saved)", len(results.saved))
	}
	for _, id := range analyzer.calls {
		if id == 3 || id == 4 || id == 7 {
			t.Errorf("chat %d analyzed outside its schedule", id)
		}
	}
	if report.RunID == "" {
		t.Error("run id not set")
	}
}

func TestRunAnalysisTickIsolatesPanics(t *testing.T) {
	chats := &fakeChats{chats: []models.Chat{chat(1, true, 9, 10), chat(2, true, 9, 10)}}
	analyzer := &fakeAnalyzer{
		outcomes: map[int64]*models.AnalysisOutcome{2: {ChatID: 2, Text: strPtr("ok")}},
		panics:   map[int64]bool{1: true},
	}
	results := &fakeResults{}
	s := New(chats, analyzer, results, nil, nil, time.UTC, 0, nil, zerolog.Nop())

	report, err := s.RunAnalysisTick(context.Background(), time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RunAnalysisTick error: %v", err)
	}
	if report.Failed != 1 || report.Succeeded != 1 || len(results.saved) != 1 {
		t.Errorf("report = %+v saved = %d", report, len(results.saved))
	}
}

func TestRunAnalysisTickProviderFailure(t *testing.T) {
	chats := &fakeChats{chats: []models.Chat{chat(1, true, 9, 10), chat(2, true, 9, 10), chat(3, true, 9, 10)}}
	providerErr := &models.AnalysisServiceError{Provider: "openai", Err: errors.New("429 too many requests")}
	analyzer := &fakeAnalyzer{
		outcomes: map[int64]*models.AnalysisOutcome{
			1: {ChatID: 1, Text: strPtr("first")},
			3: {ChatID: 3, Text: strPtr("third")},
		},
		errs: map[int64]error{2: fmt.Errorf("failed to analyze chat: %w", providerErr)},
	}
	results := &fakeResults{}
	s := New(chats, analyzer, results, nil, nil, time.UTC, 1, nil, zerolog.Nop())

	report, err := s.RunAnalysisTick(context.Background(), time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RunAnalysisTick error: %v", err)
	}
	if report.Succeeded != 2 || report.Failed != 1 || report.Skipped != 0 {
		t.Errorf("report = %+v", report)
	}
	for _, saved := range results.saved {
		if saved.ChatID == 2 {
			t.Error("failed chat must not be saved")
		}
	}
	if len(analyzer.calls) != 3 {
		t.Errorf("analyzed %d chats, want 3", len(analyzer.calls))
	}
}

func TestRunAnalysisTickListFailure(t *testing.T) {
	s := New(&fakeChats{err: errors.New("db down")}, &fakeAnalyzer{}, &fakeResults{}, nil, nil, time.UTC, 0, nil, zerolog.Nop())

	if _, err := s.RunAnalysisTick(context.Background(), time.Now()); err == nil {
		t.Error("expected error when chats cannot be listed")
	}
}

func TestRunSendTick(t *testing.T) {
	chats := &fakeChats{chats: []models.Chat{
		chat(1, true, 9, 10),
		chat(2, true, 9, 10),
		chat(3, true, 9, 11),
	}}
	results := &fakeResults{latest: map[int64]*models.AnalysisResult{
		1: {AnalysisID: 7, ResultText: "report one"},
		3: {AnalysisID: 8, ResultText: "report three"},
	}}
	delivery := &fakeDelivery{sent: map[int64]string{}}
	s := New(chats, &fakeAnalyzer{}, results, delivery, nil, time.UTC, 0, nil, zerolog.Nop())

	report, err := s.RunSendTick(context.Background(), time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RunSendTick error: %v", err)
	}
	if report.Chats != 2 || report.Succeeded != 1 || report.Skipped != 1 {
		t.Errorf("report = %+v", report)
	}
	if delivery.sent[1] != "report one" || len(delivery.sent) != 1 {
		t.Errorf("sent = %v", delivery.sent)
	}
}

func TestRunSendTickDeliveryFailure(t *testing.T) {
	chats := &fakeChats{chats: []models.Chat{chat(1, true, 9, 10)}}
	results := &fakeResults{latest: map[int64]*models.AnalysisResult{1: {ResultText: "x"}}}
	s := New(chats, &fakeAnalyzer{}, results, &fakeDelivery{err: errors.New("forbidden")}, nil, time.UTC, 0, nil, zerolog.Nop())

	report, err := s.RunSendTick(context.Background(), time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RunSendTick error: %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestFireClaimsHourSlotOnce(t *testing.T) {
	ledger := jobstore.NewMemoryLedger()
	s := New(&fakeChats{}, &fakeAnalyzer{}, &fakeResults{}, nil, ledger, time.UTC, 0, nil, zerolog.Nop())

	runs := 0
	run := func(ctx context.Context, now time.Time) (TickReport, error) {
		runs++
		return TickReport{}, nil
	}

	s.fire(context.Background(), AnalysisJobID, run)
	s.fire(context.Background(), AnalysisJobID, run)
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
	s.fire(context.Background(), SendJobID, run)
	if runs != 2 {
		t.Errorf("runs = %d after other job fired, want 2", runs)
	}
}

type failingLedger struct{}

func (failingLedger) Claim(ctx context.Context, jobID string, slot time.Time) (bool, error) {
	return false, errors.New("redis unavailable")
}

func TestFireFailsOpen(t *testing.T) {
	s := New(&fakeChats{}, &fakeAnalyzer{}, &fakeResults{}, nil, failingLedger{}, time.UTC, 0, nil, zerolog.Nop())

	runs := 0
	s.fire(context.Background(), AnalysisJobID, func(ctx context.Context, now time.Time) (TickReport, error) {
		runs++
		return TickReport{}, nil
	})
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
}

func TestStartRegistersJobs(t *testing.T) {
	loc := novosibirsk(t)
	s := New(&fakeChats{}, &fakeAnalyzer{}, &fakeResults{}, nil, nil, loc, 0, nil, zerolog.Nop())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	jobs := s.Jobs()
	if len(jobs) != 2 || jobs[0].ID != AnalysisJobID || jobs[1].ID != SendJobID {
		t.Fatalf("jobs = %+v", jobs)
	}
	for _, job := range jobs {
		next := job.Next.In(loc)
		if job.Spec != HourlySpec || next.Minute() != 0 || next.Second() != 0 {
			t.Errorf("job %s next run %s is not on the hour", job.ID, next)
		}
	}
}
