package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vocagent/vocagent/agent/chat"
	"github.com/vocagent/vocagent/agent/memwrite"
	"github.com/vocagent/vocagent/agent/orchestrator"
	"github.com/vocagent/vocagent/agent/plan"
	"github.com/vocagent/vocagent/agent/search"
	"github.com/vocagent/vocagent/agent/stream"
	"github.com/vocagent/vocagent/agent/summary"
	"github.com/vocagent/vocagent/agent/tools"
	"github.com/vocagent/vocagent/api/auth"
	"github.com/vocagent/vocagent/api/cache"
	"github.com/vocagent/vocagent/api/memory"
	"github.com/vocagent/vocagent/api/server"
	"github.com/vocagent/vocagent/api/store"
	"github.com/vocagent/vocagent/api/vector"
	"github.com/vocagent/vocagent/music"
	"github.com/vocagent/vocagent/pkg/otel"
	"github.com/vocagent/vocagent/shared/llm"
	"github.com/vocagent/vocagent/tts"
	"github.com/vocagent/vocagent/vision"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		Long: `Start the HTTP server: account endpoints, the streaming chat
endpoints, history, image fetch, health and metrics.

Required configuration:
  - SQLite path (VOCAGENT_SQLITE_PATH)
  - Postgres with pgvector (VOCAGENT_VECTOR_URL)
  - Redis (VOCAGENT_REDIS_ADDR)
  - LLM endpoint (VOCAGENT_LLM_BASE_URL, VOCAGENT_LLM_API_KEY)
  - Message-token secret (VOCAGENT_MESSAGE_SECRET)

Optional:
  - Speech synthesis (VOCAGENT_TTS_URL)
  - OTLP export (VOCAGENT_OTEL_ENDPOINT)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	if cfg.Server.MessageSecret == "" {
		return fmt.Errorf("VOCAGENT_MESSAGE_SECRET is required")
	}

	if cfg.Otel.Endpoint != "" {
		res, err := otel.Init(otel.Config{
			ServiceName:  "vocagent-api",
			Environment:  cfg.Otel.Environment,
			OTLPEndpoint: cfg.Otel.Endpoint,
		})
		if err != nil {
			slog.Warn("otel init failed, continuing without export", "error", err)
		} else {
			slog.SetDefault(res.Logger)
			defer func() { _ = res.Shutdown(context.Background()) }()
		}
	}

	// Two durable handles: the request path and the background writer never
	// share a connection.
	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open durable log: %w", err)
	}
	defer s.Close()
	bgStore, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open background handle: %w", err)
	}
	defer bgStore.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	userCache := cache.New(rdb)

	pool, err := pgxpool.New(ctx, cfg.Database.VectorURL)
	if err != nil {
		return fmt.Errorf("connect vector index: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping vector index: %w", err)
	}

	llmClient := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey,
		llm.WithModel(cfg.LLM.Model),
		llm.WithVisionModel(cfg.LLM.VisionModel),
		llm.WithEmbeddingModel(cfg.LLM.EmbeddingModel),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithTimeout(cfg.LLM.Timeout),
	)

	index := vector.New(pool, llmClient)
	if err := index.EnsureSchema(ctx, cfg.LLM.EmbeddingDim); err != nil {
		return err
	}

	mem := memory.New(s, userCache, index)
	bgMem := mem.WithStore(bgStore)

	catalog, err := music.Load(cfg.Agent.ResourceRoot)
	if err != nil {
		return fmt.Errorf("load song catalog: %w", err)
	}
	slog.Info("song catalog loaded", "songs", len(catalog.Titles()))

	registry := tools.StandardRegistry(mem, catalog, cfg.Agent.SimilarityCutoff, cfg.Agent.SearchK)
	ttsClient := tts.New(tts.Config{URL: cfg.TTS.URL, Character: cfg.TTS.Character})
	images := vision.NewService(cfg.Agent.DataRoot, llmClient)

	orch := orchestrator.New(orchestrator.Config{
		Mem:           mem,
		BackgroundMem: bgMem,
		Retriever:     search.New(llmClient, registry, mem),
		Planner:       plan.New(llmClient, catalog),
		Generator:     chat.New(llmClient, cfg.Agent.Expressions, cfg.Agent.Tones),
		Streamer:      stream.New(ttsClient, catalog),
		Writer:        memwrite.New(llmClient, bgMem),
		Summarizer:    summary.New(llmClient, bgMem, cfg.Agent.RawContextLimit, cfg.Agent.NotZipCount),
		Images:        images,
	})

	authSvc := auth.NewService(s, mem, auth.NewTokenSigner(cfg.Server.MessageSecret))

	srv := server.NewServer(cfg, server.Deps{
		Store:     s,
		Auth:      authSvc,
		Orch:      orch,
		Images:    images,
		CachePing: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
		serverErrors <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		slog.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	}
}
