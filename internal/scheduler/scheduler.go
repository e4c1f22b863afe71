// Package scheduler fires the hourly analysis and send jobs and fans each tick out over a bounded worker pool.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chat-analyzer-bot/internal/jobstore"
	"github.com/chat-analyzer-bot/internal/metrics"
	"github.com/chat-analyzer-bot/internal/models"
)

// Job ids and their shared cron spec
const (
	AnalysisJobID = "Analysis_schedule"
	SendJobID     = "Send_schedule"
	HourlySpec    = "0 * * * *"
)

// DefaultWorkers bounds concurrent per-chat tasks within one tick
const DefaultWorkers = 10

// ChatLister lists registered chats
type ChatLister interface {
	ListChats(ctx context.Context) ([]models.Chat, error)
}

// Analyzer runs one chat analysis
type Analyzer interface {
	Analyze(ctx context.Context, chatID int64, tod models.TimeOfDay) (*models.AnalysisOutcome, error)
}

// ResultStore saves outcomes and finds the latest result for a chat
type ResultStore interface {
	SaveOutcome(ctx context.Context, outcome *models.AnalysisOutcome) (int64, error)
	LatestForChat(ctx context.Context, chatID int64) (*models.AnalysisResult, error)
}

// Deliverer sends a result text for a chat
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, text string) error
}

// TickReport summarizes one tick
type TickReport struct {
	RunID     string        `json:"run_id"`
	Job       string        `json:"job"`
	Hour      int           `json:"hour"`
	Chats     int           `json:"chats"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// JobInfo describes a registered cron job
type JobInfo struct {
	ID   string    `json:"id"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// Scheduler owns the cron trigger and the per-tick worker pool
type Scheduler struct {
	chats    ChatLister
	analyzer Analyzer
	results  ResultStore
	delivery Deliverer
	ledger   jobstore.Ledger
	loc      *time.Location
	workers  int
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// New creates a scheduler; a nil ledger runs every firing
func New(
	chats ChatLister,
	analyzer Analyzer,
	results ResultStore,
	delivery Deliverer,
	ledger jobstore.Ledger,
	loc *time.Location,
	workers int,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Scheduler{
		chats:    chats,
		analyzer: analyzer,
		results:  results,
		delivery: delivery,
		ledger:   ledger,
		loc:      loc,
		workers:  workers,
		metrics:  m,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		entries:  make(map[string]cron.EntryID),
	}
}

// Start registers both hourly jobs and starts the trigger; ticks run with ctx
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)

	jobs := []struct {
		id  string
		run func(context.Context, time.Time) (TickReport, error)
	}{
		{AnalysisJobID, s.RunAnalysisTick},
		{SendJobID, s.RunSendTick},
	}
	for _, job := range jobs {
		job := job
		id, err := c.AddFunc(HourlySpec, func() {
			s.fire(ctx, job.id, job.run)
		})
		if err != nil {
			return fmt.Errorf("failed to register job %s: %w", job.id, err)
		}
		s.entries[job.id] = id
	}

	c.Start()
	s.cron = c

	for _, info := range s.jobsLocked() {
		s.logger.Info().
			Str("job_id", info.ID).
			Str("spec", info.Spec).
			Time("next_run", info.Next).
			Msg("Scheduled job")
	}
	s.logger.Info().Str("timezone", s.loc.String()).Int("workers", s.workers).Msg("Scheduler started")

	return nil
}

// Stop stops the trigger and waits up to a minute for running ticks
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.entries = make(map[string]cron.EntryID)
	s.mu.Unlock()

	if c == nil {
		return
	}

	s.logger.Info().Msg("Stopping scheduler...")
	select {
	case <-c.Stop().Done():
		s.logger.Info().Msg("Scheduler stopped")
	case <-time.After(time.Minute):
		s.logger.Warn().Msg("Scheduler stop timed out waiting for running ticks")
	}
}

// Jobs lists registered jobs with their next and previous run times
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobsLocked()
}

func (s *Scheduler) jobsLocked() []JobInfo {
	if s.cron == nil {
		return nil
	}

	infos := make([]JobInfo, 0, len(s.entries))
	for id, entryID := range s.entries {
		entry := s.cron.Entry(entryID)
		infos = append(infos, JobInfo{ID: id, Spec: HourlySpec, Next: entry.Next, Prev: entry.Prev})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// fire claims the hour slot for jobID and runs the tick once per hour
func (s *Scheduler) fire(ctx context.Context, jobID string, run func(context.Context, time.Time) (TickReport, error)) {
	now := time.Now().In(s.loc)
	logger := s.logger.With().Str("job_id", jobID).Logger()

	if s.ledger != nil {
		claimed, err := s.ledger.Claim(ctx, jobID, now)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("Job ledger unavailable, running tick anyway")
		case !claimed:
			s.metrics.RecordSkippedTick(jobID)
			logger.Info().Time("slot", now).Msg("Tick already ran in this hour, skipping")
			return
		}
	}

	report, err := run(ctx, now)
	if err != nil {
		logger.Error().Err(err).Str("run_id", report.RunID).Msg("Tick failed")
	}
}

// RunAnalysisTick analyzes every scheduled chat whose analysis hour matches now
func (s *Scheduler) RunAnalysisTick(ctx context.Context, now time.Time) (TickReport, error) {
	return s.runTick(ctx, AnalysisJobID, now,
		models.Chat.AnalysisDue,
		s.analyzeChat,
	)
}

// RunSendTick delivers the latest result of every scheduled chat whose send hour matches now
func (s *Scheduler) RunSendTick(ctx context.Context, now time.Time) (TickReport, error) {
	return s.runTick(ctx, SendJobID, now,
		models.Chat.SendDue,
		s.sendChat,
	)
}

// taskStatus is the result of one per-chat task
type taskStatus string

const (
	statusSucceeded taskStatus = "succeeded"
	statusSkipped   taskStatus = "skipped"
	statusFailed    taskStatus = "failed"
)

func (s *Scheduler) runTick(
	ctx context.Context,
	jobID string,
	now time.Time,
	eligible func(models.Chat, int) bool,
	task func(context.Context, models.Chat, zerolog.Logger) (taskStatus, error),
) (TickReport, error) {
	started := time.Now()
	hour := now.In(s.loc).Hour()
	report := TickReport{RunID: uuid.NewString(), Job: jobID, Hour: hour}
	logger := s.logger.With().Str("job_id", jobID).Str("run_id", report.RunID).Logger()

	chats, err := s.chats.ListChats(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list chats: %w", err)
	}

	var due []models.Chat
	for _, chat := range chats {
		if eligible(chat, hour) {
			due = append(due, chat)
		}
	}
	report.Chats = len(due)

	logger.Info().
		Int("hour", hour).
		Int("chat_count", len(due)).
		Msg("Tick started")

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, chat := range due {
		chat := chat
		g.Go(func() error {
			chatLogger := logger.With().Int64("chat_id", chat.ChatID).Str("chat_name", chat.ChatName).Logger()
			status := s.safeRun(ctx, jobID, chat, chatLogger, task)

			mu.Lock()
			defer mu.Unlock()
			switch status {
			case statusSucceeded:
				report.Succeeded++
			case statusSkipped:
				report.Skipped++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(started)
	s.metrics.RecordTick(jobID, report.Duration)

	logger.Info().
		Int("succeeded", report.Succeeded).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("Tick completed")

	return report, nil
}

// safeRun runs one per-chat task and turns errors and panics into a failed status
func (s *Scheduler) safeRun(
	ctx context.Context,
	jobID string,
	chat models.Chat,
	logger zerolog.Logger,
	task func(context.Context, models.Chat, zerolog.Logger) (taskStatus, error),
) (status taskStatus) {
	done := s.metrics.TaskStarted()
	defer done()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Panic recovered in chat task")
			status = statusFailed
		}
		s.metrics.RecordChatTask(jobID, string(status))
	}()

	status, err := task(ctx, chat, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Chat task failed")
		return statusFailed
	}
	return status
}

func (s *Scheduler) analyzeChat(ctx context.Context, chat models.Chat, logger zerolog.Logger) (taskStatus, error) {
	outcome, err := s.analyzer.Analyze(ctx, chat.ChatID, *chat.AnalysisTime)
	if err != nil {
		return statusFailed, err
	}

	if !outcome.HasText() {
		logger.Info().Msg("No analysis to save")
		return statusSkipped, nil
	}

	id, err := s.results.SaveOutcome(ctx, outcome)
	if err != nil {
		return statusFailed, err
	}

	logger.Info().Int64("analysis_id", id).Msg("Analysis saved")
	return statusSucceeded, nil
}

func (s *Scheduler) sendChat(ctx context.Context, chat models.Chat, logger zerolog.Logger) (taskStatus, error) {
	result, err := s.results.LatestForChat(ctx, chat.ChatID)
	if err != nil {
		return statusFailed, err
	}

	if result == nil {
		logger.Info().Msg("No analysis result in the last 24 hours, nothing to send")
		return statusSkipped, nil
	}

	if err := s.delivery.Deliver(ctx, chat.ChatID, result.ResultText); err != nil {
		return statusFailed, err
	}
	return statusSucceeded, nil
}
