package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/joho/godotenv"
	"github.com/triage-ai/cloak/internal/api"
	"github.com/triage-ai/cloak/internal/deepsub"
	"github.com/triage-ai/cloak/internal/guard"
	"github.com/triage-ai/cloak/internal/mint"
	"github.com/triage-ai/cloak/internal/recognizer"
	"github.com/triage-ai/cloak/internal/recognizer/recognizers"
	"github.com/triage-ai/cloak/internal/scrub"
	"github.com/triage-ai/cloak/internal/storage"
	"github.com/triage-ai/cloak/internal/vault"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Best-effort .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	// Logger
	logger := mustBuildLogger(envOrDefault("CLOAK_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("CLOAK_HTTP_PORT", "8080")
	scanTimeoutMs := envOrDefaultInt("CLOAK_SCAN_TIMEOUT_MS", 100)
	sweepIntervalS := envOrDefaultInt("CLOAK_SWEEP_INTERVAL_S", 60)
	mintKey := os.Getenv("CLOAK_MINT_KEY")
	vaultDSN := os.Getenv("CLOAK_VAULT_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	apiKeyHash := os.Getenv("CLOAK_API_KEY_HASH")

	if mintKey == "" {
		logger.Fatal("CLOAK_MINT_KEY is required")
	}
	if apiKeyHash == "" {
		logger.Warn("CLOAK_API_KEY_HASH not set, API auth disabled")
	}

	retention := retentionFromEnv()
	policy := guard.CallPolicy{
		MaxInFlight: int64(envOrDefaultInt("CLOAK_MAX_INFLIGHT_CALLS", 4)),
		CallTimeout: time.Duration(envOrDefaultInt("CLOAK_CALL_TIMEOUT_MS", 10_000)) * time.Millisecond,
		MaxRetries:  envOrDefaultInt("CLOAK_CALL_RETRIES", 1),
		StepCap:     envOrDefaultInt("CLOAK_STEP_CAP", 32),
		WallBudget:  time.Duration(envOrDefaultInt("CLOAK_WALL_BUDGET_S", 120)) * time.Second,
	}

	logger.Info("starting cloak server",
		zap.String("http_port", httpPort),
		zap.Int("scan_timeout_ms", scanTimeoutMs),
		zap.Int("sweep_interval_s", sweepIntervalS),
		zap.Int64("max_inflight_calls", policy.MaxInFlight),
	)

	// Vault — Postgres or in-memory. The tool schema registry shares the
	// same pool when one is configured.
	var store vault.Store
	var db *sql.DB
	if vaultDSN != "" {
		var err error
		db, err = sql.Open("pgx", vaultDSN)
		if err != nil {
			logger.Fatal("failed to open vault postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping vault postgres", zap.Error(err))
		}
		pgStore := vault.NewPostgresStore(db, retention)
		if err := pgStore.EnsureSchema(context.Background()); err != nil {
			logger.Fatal("failed to ensure vault schema", zap.Error(err))
		}
		store = pgStore
		logger.Info("postgres vault connected")
	} else {
		store = vault.NewMemoryStore(retention)
		logger.Info("no CLOAK_VAULT_DSN set, using in-memory vault")
	}
	defer store.Close()

	// Retention sweep — the durable cleanup guarantee
	sweeper := vault.NewSweeper(store, time.Duration(sweepIntervalS)*time.Second, logger)
	sweeper.Start()
	defer sweeper.Close()

	// Scrubber + recognizers — wired up here to avoid import cycles
	scrubber := scrub.New(nil)
	recs := []recognizer.Recognizer{
		recognizers.NewSecretRecognizer(scrubber),
		recognizers.NewTicketRecognizer(),
		recognizers.NewHostRecognizer(),
		recognizers.NewPersonalRecognizer(),
	}

	// Remote NER recognizer — external recognition backend, optional.
	if endpoint := os.Getenv("CLOAK_NER_ENDPOINT"); endpoint != "" {
		recs = append(recs, recognizers.NewRemoteNERRecognizer(endpoint, logger))
		logger.Info("remote ner recognizer enabled", zap.String("endpoint", endpoint))
	}

	scanEngine := recognizer.NewEngine(recs, time.Duration(scanTimeoutMs)*time.Millisecond, logger)

	// Mint — keyed derivation, key injected from config
	placeMint, err := mint.New([]byte(mintKey), store)
	if err != nil {
		logger.Fatal("failed to create mint", zap.Error(err))
	}

	deep := deepsub.NewEngine(scanEngine, placeMint, store, scrubber, logger)

	// Tool schema registry — Postgres-backed with a TTL cache when a DSN
	// is configured, in-memory otherwise.
	var schemaStore guard.SchemaStore
	if db != nil {
		pgSchemas := guard.NewPostgresSchemaStore(db)
		if err := pgSchemas.EnsureSchema(context.Background()); err != nil {
			logger.Fatal("failed to ensure tool schema table", zap.Error(err))
		}
		schemaStore = pgSchemas
	} else {
		schemaStore = guard.NewMemorySchemaStore()
	}
	cacheTTL := time.Duration(envOrDefaultInt("CLOAK_TOOL_CACHE_TTL_S", 60)) * time.Second
	registry := guard.NewRegistry(schemaStore, cacheTTL, logger)
	orchestrator := guard.NewOrchestrator(deep, store, registry, policy, logger)

	// Audit events — ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	deps := &api.Dependencies{
		Guard:      orchestrator,
		Registry:   registry,
		Invoker:    guard.NewHTTPInvoker(logger),
		Writer:     writer,
		Logger:     logger,
		APIKeyHash: apiKeyHash,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("cloak server stopped")
}

// retentionFromEnv builds per-namespace retention windows. The exact
// windows are deployment configuration, never hard-coded policy.
func retentionFromEnv() vault.RetentionConfig {
	def := envOrDefaultInt("CLOAK_RETENTION_S", 900)
	return vault.RetentionConfig{
		vault.NamespaceInput:       time.Duration(envOrDefaultInt("CLOAK_RETENTION_INPUT_S", def)) * time.Second,
		vault.NamespaceToolArgs:    time.Duration(envOrDefaultInt("CLOAK_RETENTION_TOOL_ARGS_S", def)) * time.Second,
		vault.NamespaceToolResults: time.Duration(envOrDefaultInt("CLOAK_RETENTION_TOOL_RESULTS_S", def)) * time.Second,
		vault.NamespaceOutput:      time.Duration(envOrDefaultInt("CLOAK_RETENTION_OUTPUT_S", def)) * time.Second,
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
