// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/framestudio/agency-assistant/internal/config"
	"github.com/framestudio/agency-assistant/internal/handler"
	"github.com/framestudio/agency-assistant/internal/llm"
	"github.com/framestudio/agency-assistant/internal/middleware"
	natsclient "github.com/framestudio/agency-assistant/internal/nats"
	"github.com/framestudio/agency-assistant/internal/prompt"
	"github.com/framestudio/agency-assistant/internal/ratelimit"
	"github.com/framestudio/agency-assistant/internal/service"
	"github.com/framestudio/agency-assistant/internal/store"
	"github.com/framestudio/agency-assistant/pkg/logger"
	"github.com/framestudio/agency-assistant/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "agency-assistant", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Storage
	db, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	checks := map[string]handler.Pinger{"database": db}

	// Session rate limiter
	var windows ratelimit.Store = db
	if cfg.RateLimitBackend == "redis" {
		redisClient, err := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		redisStore := ratelimit.NewRedisStore(redisClient)
		windows = redisStore
		checks["redis"] = redisStore
	}
	limiter := ratelimit.New(windows, ratelimit.Limit{
		Max:    cfg.RateLimitMax,
		Window: cfg.RateLimitWindow,
	}, log.Named("ratelimit"), ratelimit.WithFailOpen(cfg.RateLimitFailOpen))
	log.Info("session rate limit configured",
		zap.String("backend", cfg.RateLimitBackend),
		zap.Int("max", limiter.Limit().Max),
		zap.Duration("window", limiter.Limit().Window),
		zap.Bool("fail_open", cfg.RateLimitFailOpen),
	)

	// Event feed
	var (
		publisher service.EventPublisher
		feed      handler.MessageFeed
	)
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return err
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			return err
		}
		publisher = streamManager
		feed = streamManager
		checks["nats"] = streamManager
	}

	// LLM providers
	keys := llm.Keys{
		OpenAI:    cfg.OpenAIAPIKey,
		Anthropic: cfg.AnthropicAPIKey,
		Gemini:    cfg.GeminiAPIKey,
	}

	completer, err := llm.NewClient(ctx, llm.Provider(cfg.LLMProvider), keys)
	if err != nil {
		return fmt.Errorf("failed to create completion client: %w", err)
	}
	if c, ok := completer.(io.Closer); ok {
		defer c.Close()
	}

	var embedder llm.Embedder
	if e, err := llm.NewEmbedder(ctx, llm.Provider(cfg.EmbeddingProvider), keys, cfg.EmbeddingModel); err != nil {
		log.Warn("embedding provider unavailable, chat will run without retrieval", zap.Error(err))
	} else {
		embedder = e
	}

	// Knowledge index
	var (
		index  store.KnowledgeIndex
		syncer store.IndexSyncer
	)
	if db.IsPostgres() {
		pg, err := store.NewPgvectorIndex(db)
		if err != nil {
			return err
		}
		index = pg
	} else {
		mem, err := store.NewMemoryIndex()
		if err != nil {
			return err
		}
		entries, err := db.ListKnowledge(ctx)
		if err != nil {
			return err
		}
		if err := mem.Load(ctx, entries); err != nil {
			return err
		}
		log.Info("knowledge loaded into memory index", zap.Int("entries", mem.Count()))
		index, syncer = mem, mem
	}

	// Services
	prompts := prompt.NewBuilder(prompt.Facts{
		Name:       cfg.BusinessName,
		Location:   cfg.BusinessLocation,
		Email:      cfg.ContactEmail,
		Phone:      cfg.ContactPhone,
		BookingURL: cfg.BookingURL,
	})

	conversationSvc := service.NewConversationService(db, publisher, log)
	knowledgeSvc := service.NewKnowledgeService(db, embedder, syncer, log)
	chatSvc := service.NewChatService(limiter, conversationSvc, embedder, index, completer, prompts, service.ChatConfig{
		Model:              cfg.ChatModel,
		MaxTokens:          cfg.ChatMaxTokens,
		Temperature:        cfg.ChatTemperature,
		Timeout:            cfg.ChatTimeout,
		ContextTurns:       cfg.ChatContextTurns,
		RetrievalThreshold: cfg.RetrievalThreshold,
		RetrievalLimit:     cfg.RetrievalLimit,
	}, log)

	// Handlers
	healthHandler := handler.NewHealthHandler(checks)
	chatHandler := handler.NewChatHandler(chatSvc, log)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	streamHandler := handler.NewStreamHandler(conversationSvc, feed, log)
	knowledgeHandler := handler.NewKnowledgeHandler(knowledgeSvc, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.With(middleware.IPRateLimit(cfg.IPRateLimitRequests, cfg.IPRateLimitWindow)).
		Post("/chat", chatHandler.Chat)

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RequireScope(middleware.ScopeAdmin))

		r.Route("/knowledge", func(r chi.Router) {
			r.Get("/", knowledgeHandler.List)
			r.Put("/", knowledgeHandler.Upsert)
			r.Post("/reindex", knowledgeHandler.Reindex)
			r.Delete("/{id}", knowledgeHandler.Delete)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)
				r.Get("/messages", conversationHandler.Messages)
				r.Get("/stream", streamHandler.Stream)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
