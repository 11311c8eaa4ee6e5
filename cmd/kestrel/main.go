// Kestrel - Batch fraud analytics for card transaction corpora.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Local overrides from .env, if present
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to configuration file")
	dataDir := flag.String("data", "", "directory of corpus CSV files to import before analyzing")
	outDir := flag.String("out", "", "report output directory (overrides configuration)")
	serve := flag.Bool("serve", false, "run the HTTP API instead of a one-shot analysis")
	flag.Parse()

	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *outDir != "" {
		cfg.Report.OutputDir = *outDir
	}

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"custom_rules", len(cfg.Analysis.CustomRules),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			slog.Error("failed to close repository", "error", err)
		}
	}()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cacheImpl.Close(); err != nil {
			slog.Error("failed to close cache", "error", err)
		}
	}()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := busImpl.Close(); err != nil {
			slog.Error("failed to close event bus", "error", err)
		}
	}()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Compile custom rules
	ruleEngine, err := rules.NewEngine(cfg.Analysis.CustomRules, 10)
	if err != nil {
		slog.Error("failed to compile custom rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", ruleEngine.RulesCount())

	// Initialize Analysis Engine
	eng := engine.New(repo, busImpl, ruleEngine, cfg)
	slog.Info("analysis engine initialized", "engine_version", engine.Version)

	// Optional corpus import before the run
	if *dataDir != "" {
		loader := ingest.NewLoader(repo, busImpl)
		summary, err := loader.LoadDir(ctx, *dataDir)
		if err != nil {
			slog.Error("corpus import failed", "error", err)
			os.Exit(1)
		}
		slog.Info("corpus imported",
			"transactions", summary.Transactions,
			"cards", summary.Cards,
			"merchants", summary.Merchants,
			"duration_ms", summary.DurationMs,
		)
	}

	if *serve {
		runServer(ctx, cfg, repo, cacheImpl, busImpl, eng)
		return
	}

	if err := runOnce(ctx, cfg, eng); err != nil {
		slog.Error("analysis failed", "error", err)
		os.Exit(1)
	}
}

// runServer hosts the HTTP API until a shutdown signal arrives.
func runServer(ctx context.Context, cfg *domain.Config, repo domain.Repository, cacheImpl domain.Cache, busImpl domain.EventBus, eng *engine.Engine) {
	subscribeRunEvents(ctx, busImpl)

	// Re-analyze automatically when a new corpus lands
	analysisWorker := worker.New(busImpl, eng, risk.NewScorer(cfg.Analysis))
	if err := analysisWorker.Start(); err != nil {
		slog.Error("failed to start analysis worker", "error", err)
		os.Exit(1)
	}

	srv := api.NewServer(cfg, repo, cacheImpl, eng, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the analysis worker first
	if err := analysisWorker.Stop(); err != nil {
		slog.Error("failed to stop analysis worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// subscribeRunEvents mirrors run lifecycle events into the server log so
// operators can follow API-triggered analyses without a bus client.
func subscribeRunEvents(ctx context.Context, busImpl domain.EventBus) {
	for _, topic := range []string{domain.TopicRunCompleted, domain.TopicRunFailed} {
		if _, err := busImpl.Subscribe(ctx, topic, logRunEvent); err != nil {
			slog.Warn("failed to subscribe to run events", "topic", topic, "error", err)
		}
	}
}

func logRunEvent(_ context.Context, msg *domain.Message) error {
	var event domain.RunEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("failed to decode run event: %w", err)
	}

	switch msg.Topic {
	case domain.TopicRunCompleted:
		slog.Info("analysis run completed",
			"run_id", event.RunID,
			"transactions", event.Transactions,
			"critical", event.Critical,
			"duration_ms", event.DurationMs,
		)
	case domain.TopicRunFailed:
		slog.Warn("analysis run failed",
			"run_id", event.RunID,
			"error", event.Error,
		)
	}
	return nil
}

// runOnce analyzes the whole corpus and writes the report bundle.
func runOnce(ctx context.Context, cfg *domain.Config, eng *engine.Engine) error {
	start := time.Now()

	filter := domain.Filter{}
	rep, err := eng.Run(ctx, filter)
	if err != nil {
		return err
	}

	env := report.NewEnvelope(rep, filter, engine.Version)

	outDir := cfg.Report.OutputDir
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	jsonPath := filepath.Join(outDir, "report.json")
	f, err := os.Create(jsonPath)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := report.WriteJSON(f, env); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}

	if err := report.WriteCSV(outDir, rep); err != nil {
		return err
	}

	printSummary(rep, env, outDir, time.Since(start))
	return nil
}

func printSummary(rep *domain.Report, env *domain.ReportEnvelope, outDir string, elapsed time.Duration) {
	fmt.Println()
	fmt.Println("  Analysis complete")
	fmt.Println("  ------------------------------------------")
	fmt.Printf("  Report ID:           %s\n", env.ID)
	fmt.Printf("  Transactions:        %d\n", rep.Corpus.Transactions)
	fmt.Printf("  Card holders:        %d\n", rep.Corpus.UniqueCardHolders)
	fmt.Printf("  Merchants:           %d\n", rep.Corpus.UniqueMerchants)
	fmt.Println()
	fmt.Printf("  Outliers:            %d\n", len(rep.TopOutliers))
	fmt.Printf("  Rapid sequences:     %d\n", len(rep.RapidSequences))
	fmt.Printf("  Bursts:              %d\n", len(rep.Bursts))
	fmt.Printf("  Early morning:       %d\n", len(rep.EarlyMorning))
	fmt.Printf("  Card testing:        %d suspect cards\n", len(rep.CardTestingSuspects))
	fmt.Println()
	fmt.Printf("  Critical severity:   %d\n", rep.Severities.Critical)
	fmt.Printf("  High severity:       %d\n", rep.Severities.High)
	fmt.Printf("  Immediate attention: %d\n", rep.Assessment.ImmediateAttention)
	fmt.Println()
	fmt.Printf("  Report written to %s in %s\n", outDir, elapsed.Round(time.Millisecond))
	fmt.Println()
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║              🦅 KESTREL                   ║")
	fmt.Println("  ║       Fraud Analytics Engine              ║")
	fmt.Println("  ║     Small movements, sharp eyes.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /v1/analyses       - Run an analysis")
	fmt.Println("    GET  /v1/analyses/{id}  - Get a rendered report")
	fmt.Println("    GET  /v1/config         - Effective configuration")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /ready             - Readiness check")
	fmt.Println()
}
