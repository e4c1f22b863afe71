package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chat-analyzer-bot/internal/analysis"
	"github.com/chat-analyzer-bot/internal/config"
	"github.com/chat-analyzer-bot/internal/delivery"
	"github.com/chat-analyzer-bot/internal/jobstore"
	"github.com/chat-analyzer-bot/internal/llm"
	"github.com/chat-analyzer-bot/internal/metrics"
	"github.com/chat-analyzer-bot/internal/results"
	"github.com/chat-analyzer-bot/internal/scheduler"
	"github.com/chat-analyzer-bot/internal/storage"
	"github.com/chat-analyzer-bot/internal/storage/postgres"
	"github.com/chat-analyzer-bot/internal/window"
)

// app holds the wired components shared by all commands
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	loc      *time.Location
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	storage *storage.Client
	results *results.Store

	closers []func()
}

// newApp loads configuration and wires storage and the result store
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := setupLogger(cfg.LogLevel, cfg.Environment)

	loc, err := window.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{
		cfg:      cfg,
		logger:   logger,
		loc:      loc,
		registry: registry,
		metrics:  metrics.New(registry),
	}

	// Initialize storage client
	logger.Info().Msg("Initializing Supabase client...")
	a.storage, err = storage.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseTimeout, logger)
	if err != nil {
		return nil, err
	}
	if err := a.storage.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Supabase: %w", err)
	}

	repo, err := a.resultRepository(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.results = results.NewStore(repo, a.storage, loc, cfg.ResultsChatIndex, logger)

	return a, nil
}

// resultRepository picks the configured result backend
func (a *app) resultRepository(ctx context.Context) (results.Repository, error) {
	if a.cfg.ResultsBackend != config.BackendPostgres {
		return a.storage, nil
	}

	a.logger.Info().Msg("Initializing Postgres result repository...")
	pool, err := postgres.NewPool(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)

	repo := postgres.NewResultRepository(pool, a.logger)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// completer builds the configured provider wrapped in bounded retries
func (a *app) completer() (llm.Completer, error) {
	base, err := llm.New(llmSettings(a.cfg), a.logger)
	if err != nil {
		return nil, err
	}
	if closer, ok := base.(io.Closer); ok {
		a.closers = append(a.closers, func() {
			if err := closer.Close(); err != nil {
				a.logger.Error().Err(err).Msg("Failed to close LLM client")
			}
		})
	}

	a.logger.Info().Str("provider", base.Name()).Msg("LLM provider initialized")
	return llm.NewRetrying(base, a.cfg.LLMMaxRetries, time.Second, a.logger), nil
}

// invoker wires the analysis invoker
func (a *app) invoker() (*analysis.Invoker, error) {
	completer, err := a.completer()
	if err != nil {
		return nil, err
	}
	return analysis.NewInvoker(a.storage, a.storage, a.storage, a.storage, completer, a.loc, a.metrics, a.logger), nil
}

// dispatcher authorizes the Telegram bot and wires delivery
func (a *app) dispatcher() (*delivery.Dispatcher, error) {
	a.logger.Info().Msg("Initializing Telegram bot...")
	sender, err := delivery.NewTelegramSender(a.cfg.TelegramToken, a.cfg.TelegramTimeout, a.cfg.LogLevel == "debug", a.logger)
	if err != nil {
		return nil, err
	}
	return delivery.NewDispatcher(sender, a.storage, a.cfg.DeliveryChatID, a.metrics, a.logger), nil
}

// ledger returns a Redis ledger when configured, otherwise an in-memory one
func (a *app) ledger(ctx context.Context) jobstore.Ledger {
	if a.cfg.RedisAddr == "" {
		a.logger.Info().Msg("REDIS_ADDR not set, job ledger kept in memory")
		return jobstore.NewMemoryLedger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	a.closers = append(a.closers, func() { _ = client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.logger.Warn().Err(err).Msg("Redis ping failed, claims will fail open until it recovers")
	}

	return jobstore.NewRedisLedger(client, a.logger)
}

// scheduler wires the full analysis and delivery pipeline
func (a *app) scheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	invoker, err := a.invoker()
	if err != nil {
		return nil, err
	}
	dispatcher, err := a.dispatcher()
	if err != nil {
		return nil, err
	}

	return scheduler.New(
		a.storage,
		invoker,
		a.results,
		dispatcher,
		a.ledger(ctx),
		a.loc,
		a.cfg.SchedulerWorkers,
		a.metrics,
		a.logger,
	), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func llmSettings(cfg *config.Config) llm.Settings {
	options := llm.Options{
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
		Timeout:     cfg.LLMTimeout,
	}
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		options.Model = cfg.OpenAIModel
	case config.ProviderGemini:
		options.Model = cfg.GeminiModel
	case config.ProviderYandex:
		options.Model = cfg.YandexModel
	}

	return llm.Settings{
		Provider:       cfg.LLMProvider,
		Options:        options,
		OpenAIAPIKey:   cfg.OpenAIAPIKey,
		OpenAIBaseURL:  cfg.OpenAIBaseURL,
		GeminiAPIKey:   cfg.GeminiAPIKey,
		YandexAPIURL:   cfg.YandexAPIURL,
		YandexAPIKey:   cfg.YandexAPIKey,
		YandexFolderID: cfg.YandexFolderID,
	}
}

// setupLogger configures and returns a zerolog logger
func setupLogger(level, environment string) zerolog.Logger {
	// Parse log level
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	// Configure output format
	var logger zerolog.Logger
	if environment == "development" {
		// Pretty console output for development
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Caller().Logger()
	} else {
		// JSON output for production
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	return logger
}
