package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/resourcewise/resourcewise/internal/api"
	"github.com/resourcewise/resourcewise/internal/chat"
	"github.com/resourcewise/resourcewise/internal/config"
	"github.com/resourcewise/resourcewise/internal/dbexec"
	"github.com/resourcewise/resourcewise/internal/format"
	"github.com/resourcewise/resourcewise/internal/intent"
	"github.com/resourcewise/resourcewise/internal/llm"
	"github.com/resourcewise/resourcewise/internal/observability"
	"github.com/resourcewise/resourcewise/internal/schema"
	"github.com/resourcewise/resourcewise/internal/sqlgen"
	"github.com/resourcewise/resourcewise/internal/sqlguard"
)

func main() {
	cfg, err := config.LoadFromEnv("resourcewise-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	db, err := dbexec.Open(context.Background(), dbexec.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	schemaProvider := schema.NewProvider(db)
	if err := schemaProvider.Refresh(context.Background()); err != nil {
		// The curated schema still works; live column types are a refinement.
		logger.Warn("schema refresh failed, using curated definitions", slog.Any("error", err))
	}

	modelClient, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:       cfg.AI.BaseURL,
		APIKey:        cfg.AI.APIKey,
		Model:         cfg.AI.Model,
		Timeout:       cfg.AI.Timeout,
		MaxConcurrent: cfg.AI.MaxConcurrent,
	})
	if err != nil {
		logger.Error("failed to initialize model client", slog.Any("error", err))
		os.Exit(1)
	}

	sessions := chat.NewSessionStore(cfg.Chat.HistoryTurns)

	orchestrator := chat.NewOrchestrator(chat.Dependencies{
		Classifier: intent.NewClassifier(modelClient, intent.Config{
			ConfidenceThreshold: cfg.Chat.ConfidenceThreshold,
			Temperature:         cfg.AI.ClassifyTemperature,
		}, logger),
		Generator: sqlgen.NewGenerator(modelClient, schemaProvider, sqlgen.Config{
			Attempts:    cfg.Chat.GenerationAttempts,
			Temperature: cfg.AI.GenerateTemperature,
		}, logger),
		Executor: dbexec.NewExecutor(db, dbexec.Options{
			QueryTimeout: cfg.Chat.QueryTimeout,
			MaxRows:      cfg.Chat.MaxRows,
		}, logger),
		Sessions: sessions,
		Guard: sqlguard.Limits{
			MaxLength:       cfg.Chat.MaxSQLLength,
			MaxNestingDepth: cfg.Chat.MaxNestingDepth,
		},
		Format: format.Options{
			MaxDisplayRows: cfg.Chat.MaxDisplayRows,
			MaxListItems:   cfg.Chat.MaxListItems,
		},
		Logger: logger,
	})

	deps := api.Dependencies{
		Logger:       logger,
		Orchestrator: orchestrator,
		Schema:       schemaProvider,
		Readiness: api.CombineReadinessChecks(
			api.CheckModelConfig(cfg),
			func(ctx context.Context) error { return db.PingContext(ctx) },
		),
		DependencyTimeout: time.Second,
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sessions.PruneLoop(ctx, cfg.Chat.SessionPruneEvery, cfg.Chat.SessionMaxIdle)

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
