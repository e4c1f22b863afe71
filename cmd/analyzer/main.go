package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chat-analyzer-bot/internal/httpapi"
	"github.com/chat-analyzer-bot/internal/models"
)

var rootCmd = &cobra.Command{
	Use:           "analyzer",
	Short:         "Scheduled LLM analysis of Telegram chats",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hourly scheduler and the HTTP API",
	RunE:  runServe,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <chat_id>",
	Short: "Analyze one chat now and print the outcome",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var sendCmd = &cobra.Command{
	Use:   "send <chat_id>",
	Short: "Deliver the latest result of the last 24 hours for one chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

var tickCmd = &cobra.Command{
	Use:       "tick <analysis|send>",
	Short:     "Run one scheduler tick for the current hour",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"analysis", "send"},
	RunE:      runTick,
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Inspect stored analysis results",
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List results, newest first",
	RunE:  runResultsList,
}

var resultsShowCmd = &cobra.Command{
	Use:   "show <analysis_id>",
	Short: "Show one result",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultsShow,
}

var (
	analyzeTime string
	analyzeSave bool
	tickAt      string
	listOffset  int
	listLimit   int
)

func init() {
	analyzeCmd.Flags().StringVar(&analyzeTime, "time", "", "window end as HH:MM[:SS] (default: the chat's analysis time)")
	analyzeCmd.Flags().BoolVar(&analyzeSave, "save", false, "persist the result")
	tickCmd.Flags().StringVar(&tickAt, "at", "", "RFC3339 time to run the tick for (default: now)")
	resultsListCmd.Flags().IntVar(&listOffset, "offset", 0, "number of results to skip")
	resultsListCmd.Flags().IntVar(&listLimit, "limit", 10, "page size")

	resultsCmd.AddCommand(resultsListCmd, resultsShowCmd)
	rootCmd.AddCommand(serveCmd, analyzeCmd, sendCmd, tickCmd, resultsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	// Create context that listens for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info().
		Str("environment", a.cfg.Environment).
		Str("timezone", a.loc.String()).
		Str("llm_provider", a.cfg.LLMProvider).
		Str("results_backend", a.cfg.ResultsBackend).
		Msg("Starting chat analyzer")

	sched, err := a.scheduler(ctx)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(a.results, a.storage, sched, a.registry, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", srv.Addr).Msg("HTTP API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for termination signal or server error
	select {
	case <-ctx.Done():
		a.logger.Info().Msg("Received termination signal")
	case err := <-serverErr:
		a.logger.Error().Err(err).Msg("HTTP server stopped with error")
	}

	// Graceful shutdown
	a.logger.Info().Msg("Initiating graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	sched.Stop()

	a.logger.Info().Msg("Chat analyzer stopped")
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	chatID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", args[0], err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	tod, err := resolveTimeOfDay(ctx, a, chatID)
	if err != nil {
		return err
	}

	invoker, err := a.invoker()
	if err != nil {
		return err
	}
	outcome, err := invoker.Analyze(ctx, chatID, tod)
	if err != nil {
		return err
	}

	if analyzeSave && outcome.HasText() {
		id, err := a.results.SaveOutcome(ctx, outcome)
		if err != nil {
			return err
		}
		a.logger.Info().Int64("analysis_id", id).Msg("Analysis saved")
	}

	return printJSON(outcome)
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	chatID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", args[0], err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.results.LatestForChat(ctx, chatID)
	if err != nil {
		return err
	}
	if result == nil {
		a.logger.Info().Int64("chat_id", chatID).Msg("No analysis result in the last 24 hours, nothing to send")
		return nil
	}

	dispatcher, err := a.dispatcher()
	if err != nil {
		return err
	}
	return dispatcher.Deliver(ctx, chatID, result.ResultText)
}

func runTick(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	now := time.Now()
	if tickAt != "" {
		parsed, err := time.Parse(time.RFC3339, tickAt)
		if err != nil {
			return fmt.Errorf("invalid --at value: %w", err)
		}
		now = parsed
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	sched, err := a.scheduler(ctx)
	if err != nil {
		return err
	}

	run := sched.RunAnalysisTick
	if args[0] == "send" {
		run = sched.RunSendTick
	}
	report, err := run(ctx, now)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runResultsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	return printJSON(a.results.List(ctx, listOffset, listLimit))
}

func runResultsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid analysis id %q: %w", args[0], err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	detail, err := a.results.Get(ctx, id)
	if err != nil {
		return err
	}
	if detail == nil {
		return fmt.Errorf("analysis %d not found", id)
	}
	return printJSON(detail)
}

// resolveTimeOfDay uses --time when given, otherwise the chat's configured analysis time
func resolveTimeOfDay(ctx context.Context, a *app, chatID int64) (models.TimeOfDay, error) {
	if analyzeTime != "" {
		return models.ParseTimeOfDay(analyzeTime)
	}

	chat, err := a.storage.GetChat(ctx, chatID)
	if err != nil {
		return models.TimeOfDay{}, err
	}
	if chat == nil {
		return models.TimeOfDay{}, fmt.Errorf("%w: %d", models.ErrChatNotFound, chatID)
	}
	if chat.AnalysisTime == nil {
		return models.TimeOfDay{}, fmt.Errorf("chat %d has no analysis time, pass --time", chatID)
	}
	return *chat.AnalysisTime, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
