package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"ragdex/internal/config"
	"ragdex/internal/db"
	dbRedis "ragdex/internal/db/redis"
	"ragdex/internal/domain"
	"ragdex/internal/extract"
	logpkg "ragdex/internal/logger"
	"ragdex/internal/metrics"
	"ragdex/internal/repository/embcache"
	indexrepo "ragdex/internal/repository/index"
	"ragdex/internal/repository/querycache"
	"ragdex/internal/repository/threads"
	chiTransport "ragdex/internal/transport/chi"
	openaiTransport "ragdex/internal/transport/openai"
	askuc "ragdex/internal/usecase/ask"
	chatuc "ragdex/internal/usecase/chat"
	embeddinguc "ragdex/internal/usecase/embedding"
	healthuc "ragdex/internal/usecase/health"
	ingestuc "ragdex/internal/usecase/ingest"
	"ragdex/internal/version"
)

func main() {
	// .env is optional, real deployments use the environment directly
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragdex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register domain metrics explicitly (no init())
	metrics.Register()

	idxRepo := indexrepo.New(store,
		cfg.Embedding.Dimensions, cfg.Retrieval.HNSWM, cfg.Retrieval.HNSWEFConstruct)
	if err := idxRepo.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to create vector index", zap.Error(err))
	}
	logger.Info("Vector index ready",
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Int("hnsw_m", cfg.Retrieval.HNSWM),
		zap.Int("hnsw_ef_construction", cfg.Retrieval.HNSWEFConstruct))

	embedder := buildEmbedder(cfg, store, logger)
	logger.Info("Embedder created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions))

	// Generation falls back to the embedding credentials when not set
	// separately (the common single-provider setup).
	genAPIKey := cfg.Generation.APIKey
	if genAPIKey == "" {
		genAPIKey = cfg.Embedding.APIKey
	}
	generator := openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
		APIKey:  genAPIKey,
		BaseURL: cfg.Generation.BaseURL,
		Model:   cfg.Generation.Model,
		Logger:  logger,
	})

	tokens, err := askuc.NewTokenCounter()
	if err != nil {
		logger.Fatal("Failed to load tokenizer", zap.Error(err))
	}

	queryCache := querycache.New(
		time.Duration(cfg.Cache.QueryTTLSec)*time.Second, metrics.QueryCacheTotal)

	askSvc := askuc.New(embedder, idxRepo, queryCache, generator, tokens,
		cfg.Retrieval.TopK, cfg.Generation.MaxContextTokens, logger)
	chatSvc := chatuc.New(askStreamer{askSvc}, threads.New(), logger)
	ingestSvc := ingestuc.New(extract.New(), embedder, idxRepo,
		cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap,
		metrics.IngestFilesTotal, metrics.IngestChunksTotal, logger)
	healthSvc := healthuc.New(store, newEmbeddingHealthChecker(embedder), idxRepo)

	server := chiTransport.NewServer(chatSvc, ingestSvc, healthSvc, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(cfg.Auth.APIKeys),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// askStreamer adapts the ask service to the chat contract.
type askStreamer struct {
	svc *askuc.Service
}

func (a askStreamer) Ask(ctx context.Context, query string) (domain.GenerationStream, error) {
	stream, err := a.svc.Ask(ctx, query)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented.
func buildEmbedder(cfg config.Config, store db.Store, logger *zap.Logger) domain.Embedder {
	base := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})

	var embedder domain.Embedder = base
	if store != nil {
		ttl := time.Duration(cfg.Embedding.CacheTTLH) * time.Hour
		embedder = embcache.New(base, store, cfg.Embedding.Model, ttl,
			metrics.EmbeddingCacheTotal, logger)
	}

	return embeddinguc.NewInstrumentedEmbedder(embedder, "openai", cfg.Embedding.Model, logger)
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}
