package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EliteScore/chat-server/internal/auth"
	"github.com/EliteScore/chat-server/internal/config"
	"github.com/EliteScore/chat-server/internal/model"
	"github.com/EliteScore/chat-server/internal/natsx"
	"github.com/EliteScore/chat-server/internal/presence"
	"github.com/EliteScore/chat-server/internal/redisx"
	"github.com/EliteScore/chat-server/internal/router"
	"github.com/EliteScore/chat-server/internal/server"
	"github.com/EliteScore/chat-server/internal/snowflake"
	"github.com/EliteScore/chat-server/internal/social"
	"github.com/EliteScore/chat-server/internal/store"
	"github.com/EliteScore/chat-server/internal/webhook"
	"github.com/EliteScore/chat-server/internal/workerpool"
)

// purgeInterval 软删除群组的后台清扫间隔
const purgeInterval = time.Hour

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = config.Default()
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	secret := cfg.Auth.TokenSecret
	if secret == "" {
		secret = os.Getenv("CHAT_TOKEN_SECRET")
	}
	if secret == "" {
		logger.Error("No token secret configured, set auth.token_secret or CHAT_TOKEN_SECRET")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node := snowflake.NewNode(cfg.Server.WorkerID)

	// 存储后端
	var (
		conversations store.ConversationStore
		groups        store.GroupStore
		graph         interface {
			social.Graph
			social.Directory
		}
	)
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			logger.Error("Failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := store.NewPostgres(pool, node, cfg.Server.MaxGroupCap)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("Failed to ensure schema", "error", err)
			os.Exit(1)
		}
		conversations = pg
		groups = pg
		graph = social.NewPostgresGraph(pool)
		logger.Info("Using Postgres storage")
	case "memory":
		memory := store.NewMemory(node, cfg.Server.MaxGroupCap)
		conversations = memory
		groups = memory
		graph = social.NewMemoryGraph()
		logger.Info("Using in-memory storage, data is not persisted")
	default:
		logger.Error("Unknown storage backend", "backend", cfg.Storage.Backend)
		os.Exit(1)
	}

	// 可选的 Redis：在线位置登记与 token 有效性校验
	var (
		checker auth.TokenChecker
		locator router.Locator
	)
	if cfg.Redis.Enabled {
		redisClient := redisx.NewClient(cfg.Redis, cfg.Server.NodeID)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		checker = redisClient
		locator = redisClient
		logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)
	}

	// 可选的 NATS：跨节点广播
	var relay router.Relay
	var natsClient *natsx.Client
	if cfg.NATS.Enabled {
		natsClient, err = natsx.NewClient(cfg.NATS, cfg.Server.NodeID)
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		relay = natsClient
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	}

	pool := workerpool.New(cfg.Server.Workers, cfg.Server.WorkerQueueSize, logger)
	defer pool.Shutdown()

	registry := presence.NewRegistry()
	r := router.New(router.Config{
		Authenticator: auth.New(secret, cfg.Auth.Issuer, checker),
		Gate:          social.NewGate(graph),
		Directory:     graph,
		Conversations: conversations,
		Groups:        groups,
		Registry:      registry,
		Pool:          pool,
		Relay:         relay,
		Locator:       locator,
		Logger:        logger,
	})

	if natsClient != nil {
		if err := natsClient.SubscribeBroadcast(r.DeliverRemote); err != nil {
			logger.Error("Failed to subscribe to broadcast", "error", err)
			os.Exit(1)
		}
	}

	// 过了保留期的软删除群组后台清扫
	go runPurgeLoop(ctx, groups, logger)

	// WebTransport 接入
	srv := server.New(cfg, r, registry, logger)
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// HTTP 旁路：健康检查与 webhook
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: webhook.SetupRouter(cfg, r, registry, logger),
	}
	go func() {
		logger.Info("HTTP server started", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	logger.Info("Chat server started",
		"addr", cfg.Server.Addr,
		"node_id", cfg.Server.NodeID,
		"storage", cfg.Storage.Backend)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	srv.Shutdown()
	logger.Info("Server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func runPurgeLoop(ctx context.Context, groups store.GroupStore, logger *slog.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-model.GroupRetention)
			purged, err := groups.PurgeExpired(ctx, cutoff)
			if err != nil {
				logger.Error("Failed to purge expired groups", "error", err)
				continue
			}
			if purged > 0 {
				logger.Info("Purged expired groups", "count", purged)
			}
		}
	}
}
