package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/atenea-labs/atenea/internal/config"
	dbRedis "github.com/atenea-labs/atenea/internal/db/redis"
	"github.com/atenea-labs/atenea/internal/domain"
	logpkg "github.com/atenea-labs/atenea/internal/logger"
	"github.com/atenea-labs/atenea/internal/metrics"
	chunkrepo "github.com/atenea-labs/atenea/internal/repository/chunk"
	documentrepo "github.com/atenea-labs/atenea/internal/repository/document"
	"github.com/atenea-labs/atenea/internal/repository/embcache"
	taskrepo "github.com/atenea-labs/atenea/internal/repository/task"
	chiTransport "github.com/atenea-labs/atenea/internal/transport/chi"
	openaiT "github.com/atenea-labs/atenea/internal/transport/openai"
	assembleuc "github.com/atenea-labs/atenea/internal/usecase/assemble"
	chatuc "github.com/atenea-labs/atenea/internal/usecase/chat"
	classifyuc "github.com/atenea-labs/atenea/internal/usecase/classify"
	dispatchuc "github.com/atenea-labs/atenea/internal/usecase/dispatch"
	retrievaluc "github.com/atenea-labs/atenea/internal/usecase/retrieval"
	"github.com/atenea-labs/atenea/internal/version"
	"github.com/atenea-labs/atenea/internal/worker"
)

func main() {
	// Local development keeps secrets in a .env file; absence is fine.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting atenea API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
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
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	// Query-side embedder chain, assembled at the composition root
	queryEmbedder := buildQueryEmbedder(cfg.Embedding, logger)
	logger.Info("Query embedder created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Int("cache_size", cfg.Embedding.CacheSize),
	)

	generator := openaiT.NewGenerator(&openaiT.GeneratorConfig{
		APIKey:      cfg.Generation.APIKey,
		BaseURL:     cfg.Generation.BaseURL,
		Model:       cfg.Generation.Model,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		Logger:      logger,
	})

	// Repositories
	taskRepo := taskrepo.New(store)
	docRepo := documentrepo.New(store)
	chunkRepo := chunkrepo.New(store, logger)

	// Embedding worker subprocess
	invoker := worker.NewInvoker(&worker.Config{
		Bin:        cfg.Worker.PythonBin,
		ScriptPath: cfg.Worker.ScriptPath,
		TempDir:    cfg.Worker.TempDir,
		Timeout:    time.Duration(cfg.Worker.TimeoutSec) * time.Second,
		Env:        flattenEnv(cfg.Worker.Env),
		Logger:     logger,
	})

	// Use case services
	dispatchSvc := dispatchuc.New(taskRepo, docRepo, chunkRepo, invoker, dispatchuc.Config{
		StuckAfter:  time.Duration(cfg.Dispatch.StuckAfterSec) * time.Second,
		MaxErrorLen: cfg.Dispatch.MaxErrorLen,
	}, logger)

	classifier := classifyuc.New(cfg.Retrieval.Classifier)
	retriever := retrievaluc.New(chunkRepo, cfg.Retrieval, logger)
	assembler := assembleuc.New(cfg.Context)
	chatSvc := chatuc.New(classifier, queryEmbedder, retriever, assembler, generator, logger)

	server := chiTransport.NewServer(dispatchSvc, chatSvc, store, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Routes(r, cfg.Auth.DispatchSecret)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildQueryEmbedder assembles the decorator chain: OpenAI -> LRU cache -> Instruction
func buildQueryEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) domain.Embedder {
	base := openaiT.NewEmbedder(&openaiT.EmbedderConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Logger:     logger,
	})

	var embedder domain.Embedder = embcache.New(base, cfg.CacheSize, metrics.EmbeddingCacheTotal)

	// Instruction prefix goes outermost so cache keys include it
	if cfg.QueryInstruction != "" {
		embedder = domain.NewInstructionEmbedder(embedder, cfg.QueryInstruction)
	}
	return embedder
}

// flattenEnv turns the config env map into exec-style KEY=VALUE pairs,
// sorted for a stable subprocess environment.
func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
