package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/phucgpt/ragchat/internal/api"
	"github.com/phucgpt/ragchat/internal/auth"
	"github.com/phucgpt/ragchat/internal/config"
	"github.com/phucgpt/ragchat/internal/core"
	"github.com/phucgpt/ragchat/internal/events"
	"github.com/phucgpt/ragchat/internal/ingest"
	"github.com/phucgpt/ragchat/internal/llm"
	"github.com/phucgpt/ragchat/internal/store"
)

func main() {
	ingestFlag := flag.Bool("ingest", false, "Run the ingestion job and exit")
	sourcesFlag := flag.String("sources", "", "YAML file listing the pages to ingest (defaults to INGEST_SOURCES)")
	resetFlag := flag.Bool("reset", false, "Clear the vector collection before ingesting")
	tokenFlag := flag.String("token", "", "Print a signed JWT for the given user ID and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := setupLogging(cfg)
	slog.SetDefault(logger)

	if *tokenFlag != "" {
		if err := printToken(cfg, *tokenFlag); err != nil {
			logger.Error("failed to issue token", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger, *ingestFlag, *sourcesFlag, *resetFlag)
	stop()
	if err != nil {
		logger.Error("ragchat stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, ingestMode bool, sources string, reset bool) error {
	provider, providerCloser, err := llm.New(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "initialize llm provider")
	}
	defer providerCloser.Close()

	vectorStore, closeStore, err := openVectorStore(ctx, cfg)
	if err != nil {
		return errors.Wrapf(err, "initialize %s vector store", cfg.VectorStore)
	}
	defer closeStore()

	if ingestMode {
		if sources == "" {
			sources = cfg.IngestSources
		}
		return errors.Wrap(runIngest(ctx, cfg, provider, vectorStore, sources, reset, logger), "data ingestion")
	}
	return serve(ctx, cfg, provider, vectorStore, logger)
}

func setupLogging(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", "ragchat")
}

func printToken(cfg *config.Config, userID string) error {
	validator, err := auth.NewValidator(cfg.JWTSecret)
	if err != nil {
		return err
	}
	token, err := validator.GenerateJWT(userID, auth.DefaultTokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// openVectorStore builds the backend selected by VECTOR_STORE and returns its closer.
func openVectorStore(ctx context.Context, cfg *config.Config) (store.VectorStore, func(), error) {
	switch cfg.VectorStore {
	case config.StoreAstra:
		s, err := store.NewAstraStore(store.AstraConfig{
			Endpoint:   cfg.AstraEndpoint,
			Token:      cfg.AstraToken,
			Keyspace:   cfg.AstraKeyspace,
			Collection: cfg.AstraCollection,
			Metric:     cfg.AstraMetric,
			Dimension:  cfg.EmbeddingDimension,
			Timeout:    cfg.StepTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case config.StorePGVector:
		s, err := store.NewPGVectorStore(ctx, cfg.DatabaseURL, cfg.PGVectorTable, cfg.EmbeddingDimension)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StoreSQLite:
		s, err := store.NewSQLiteStore(cfg.SQLitePath, cfg.EmbeddingDimension)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return nil, nil, errors.Newf("unknown vector store %q", cfg.VectorStore)
}

func runIngest(ctx context.Context, cfg *config.Config, embedder core.Embedder, writer store.ChunkWriter, sources string, reset bool, logger *slog.Logger) error {
	urls, err := ingest.LoadSources(sources)
	if err != nil {
		return err
	}
	logger.Info("starting data ingestion", "sources", sources, "pages", len(urls), "reset", reset)

	job := ingest.NewJob(ingest.NewScraper(nil), embedder, writer, ingest.Options{
		Splitter:      ingest.NewSplitter(cfg.IngestChunkSize, cfg.IngestChunkOverlap, cfg.IngestMinChunkLength),
		RatePerSecond: cfg.IngestRatePerSecond,
		Concurrency:   cfg.IngestFetchConcurrency,
		Reset:         reset,
	}, logger.With("component", "ingest"))

	report, err := job.Run(ctx, urls)
	if err != nil {
		return err
	}
	if report.Inserted == 0 {
		return errors.Newf("no chunks were inserted from %d pages", report.Pages)
	}
	if counter, ok := writer.(interface {
		Count(ctx context.Context) (int, error)
	}); ok {
		if total, err := counter.Count(ctx); err == nil {
			logger.Info("collection size after ingestion", "chunks", total)
		}
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, provider llm.Provider, vectorStore store.VectorStore, logger *slog.Logger) error {
	persona, err := cfg.Persona()
	if err != nil {
		return err
	}
	pipeline := core.NewPipeline(provider, vectorStore, provider, cfg.PipelineOptions(persona), logger.With("component", "pipeline"))

	var history core.HistoryStore
	if cfg.HistoryEnabled {
		if sqliteStore, ok := vectorStore.(*store.SQLiteStore); ok {
			history = sqliteStore
		} else {
			historyStore, err := store.NewSQLiteStore(cfg.SQLitePath, 0)
			if err != nil {
				return errors.Wrap(err, "open history database")
			}
			defer historyStore.Close()
			history = historyStore
		}
	}

	var publisher core.Publisher
	if cfg.NatsURL != "" {
		client, err := events.NewClient(cfg.NatsURL, cfg.NatsToken, logger.With("component", "events"))
		if err != nil {
			return err
		}
		defer client.Close()
		publisher = client
	}

	var validator api.TokenValidator
	if cfg.JWTSecret != "" {
		v, err := auth.NewValidator(cfg.JWTSecret)
		if err != nil {
			return err
		}
		validator = v
	}

	chatService := core.NewChatService(pipeline, history, publisher, logger.With("component", "chat"))
	apiHandler := api.NewAPIHandler(chatService, validator, logger.With("component", "api"))
	router := api.NewRouter(apiHandler, cfg.CORSAllowedOrigins)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", serverAddr,
			"provider", cfg.LLMProvider,
			"vector_store", cfg.VectorStore,
			"history", history != nil,
			"auth", validator != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "listen on %s", serverAddr)
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}

	logger.Info("server exiting gracefully")
	return nil
}
